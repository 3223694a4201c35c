// Package server exposes the read-only inspection API over gin.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/feedsync/internal/auth"
	"github.com/MarcoPoloResearchLab/feedsync/internal/feeds"
	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"github.com/MarcoPoloResearchLab/feedsync/internal/pagination"
	"github.com/MarcoPoloResearchLab/feedsync/internal/relation"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	subjectContextKey      = "feedsync_subject"
	defaultHeartbeatPeriod = 25 * time.Second
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingFeedRegistry   = errors.New("feed registry dependency required")
	errMissingNoteResolver   = errors.New("note resolver dependency required")
	errMissingRealtimeHub    = errors.New("realtime hub dependency required")
)

// TokenValidator authenticates inspection requests.
type TokenValidator interface {
	ValidateRequest(r *http.Request) (auth.InspectionClaims, error)
}

// NoteResolver resolves one note into its relation graph.
type NoteResolver interface {
	Resolve(ctx context.Context, id model.NoteID, opts ...relation.Option) (model.NoteRelation, bool)
}

// UserPurger drops everything cached for a user's notes.
type UserPurger interface {
	RemoveByUserID(userID model.UserID) int
}

// Dependencies wire the inspection handler. Purger is optional.
type Dependencies struct {
	Tokens          TokenValidator
	Feeds           *feeds.Registry
	Resolver        NoteResolver
	Purger          UserPurger
	Realtime        *RealtimeHub
	Account         model.AccountID
	HeartbeatPeriod time.Duration
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin engine.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Feeds == nil {
		return nil, errMissingFeedRegistry
	}
	if deps.Resolver == nil {
		return nil, errMissingNoteResolver
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtimeHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatPeriod
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatPeriod
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:    deps.Tokens,
		feeds:     deps.Feeds,
		resolver:  deps.Resolver,
		purger:    deps.Purger,
		realtime:  deps.Realtime,
		account:   deps.Account,
		heartbeat: heartbeat,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/feeds", handler.handleListFeeds)
	protected.GET("/feeds/:name", handler.handleGetFeed)
	protected.POST("/feeds/:name/next", handler.handleFeedAction(feedNext))
	protected.POST("/feeds/:name/newer", handler.handleFeedAction(feedNewer))
	protected.POST("/feeds/:name/refresh", handler.handleFeedAction(feedRefresh))
	protected.GET("/notes/:id", handler.handleGetNote)
	protected.POST("/users/:id/purge", handler.handlePurgeUser)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:          12 * time.Hour,
	})
}

type httpHandler struct {
	tokens    TokenValidator
	feeds     *feeds.Registry
	resolver  NoteResolver
	purger    UserPurger
	realtime  *RealtimeHub
	account   model.AccountID
	heartbeat time.Duration
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type feedSummaryPayload struct {
	Name  string               `json:"name"`
	State pagination.StateKind `json:"state"`
	Count int                  `json:"count"`
	Error string               `json:"error,omitempty"`
}

func (h *httpHandler) handleListFeeds(c *gin.Context) {
	names := h.feeds.Names()
	summaries := make([]feedSummaryPayload, 0, len(names))
	for _, name := range names {
		feed, err := h.feeds.Get(name)
		if err != nil {
			continue
		}
		snapshot := feed.Snapshot()
		summaries = append(summaries, feedSummaryPayload{
			Name:  snapshot.Name,
			State: snapshot.State,
			Count: snapshot.Count,
			Error: snapshot.Error,
		})
	}
	c.JSON(http.StatusOK, gin.H{"feeds": summaries})
}

func (h *httpHandler) lookupFeed(c *gin.Context) (feeds.Feed, bool) {
	feed, err := h.feeds.Get(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "feed_not_found"})
		return nil, false
	}
	return feed, true
}

func (h *httpHandler) handleGetFeed(c *gin.Context) {
	feed, ok := h.lookupFeed(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, feed.Snapshot())
}

type feedAction func(ctx context.Context, feed feeds.Feed) error

func feedNext(ctx context.Context, feed feeds.Feed) error    { return feed.Next(ctx) }
func feedNewer(ctx context.Context, feed feeds.Feed) error   { return feed.Newer(ctx) }
func feedRefresh(ctx context.Context, feed feeds.Feed) error { return feed.Refresh(ctx) }

func (h *httpHandler) handleFeedAction(action feedAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		feed, ok := h.lookupFeed(c)
		if !ok {
			return
		}
		err := action(c.Request.Context(), feed)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, feed.Snapshot())
		case errors.Is(err, pagination.ErrNoFutureLoader):
			c.JSON(http.StatusConflict, gin.H{"error": "feed_not_bidirectional"})
		case errors.Is(err, model.ErrUnauthorized):
			h.logger.Warn("remote rejected credentials", zap.String("feed", feed.Name()), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "remote_unauthorized", "feed": feed.Snapshot()})
		case errors.Is(err, context.Canceled):
			c.Status(http.StatusRequestTimeout)
		default:
			h.logger.Warn("feed load failed", zap.String("feed", feed.Name()), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "feed_load_failed", "feed": feed.Snapshot()})
		}
	}
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	noteID, err := model.NewNoteID(h.account, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}
	var options []relation.Option
	if strings.EqualFold(c.Query("shallow"), "true") {
		options = append(options, relation.Shallow())
	}
	resolved, ok := h.resolver.Resolve(c.Request.Context(), noteID, options...)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
		return
	}
	c.JSON(http.StatusOK, resolved)
}

func (h *httpHandler) handlePurgeUser(c *gin.Context) {
	if h.purger == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "purge_unavailable"})
		return
	}
	userID, err := model.NewUserID(h.account, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	removed := h.purger.RemoveByUserID(userID)
	h.logger.Info("purged cached notes", zap.String("user_id", userID.Remote), zap.Int("count", removed))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	var kinds []string
	if raw := strings.TrimSpace(c.Query("kinds")); raw != "" {
		for _, kind := range strings.Split(raw, ",") {
			kinds = append(kinds, strings.TrimSpace(kind))
		}
	}
	ctx := c.Request.Context()
	subscriberID, stream, cleanup := h.realtime.Subscribe(ctx, kinds...)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.Debug("event stream opened",
		zap.String("subscriber_id", subscriberID),
		zap.String("subject", c.GetString(subjectContextKey)))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeServerEvent(c.Writer, realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend}); err != nil {
				return
			}
		case message := <-stream:
			if err := writeServerEvent(c.Writer, message.Kind, message); err != nil {
				h.logger.Debug("event stream closed", zap.String("subscriber_id", subscriberID), zap.Error(err))
				return
			}
		}
	}
}

func writeServerEvent(writer gin.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	writer.Flush()
	return nil
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.tokens.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrMissingToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, claims.Subject)
	c.Next()
}
