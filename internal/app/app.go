// Package app assembles one synced account: remote client, entity stores, optional SQLite
// mirror, resolver, feeds, push dispatcher and the realtime hub.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/feedsync/internal/api"
	"github.com/MarcoPoloResearchLab/feedsync/internal/config"
	"github.com/MarcoPoloResearchLab/feedsync/internal/database"
	"github.com/MarcoPoloResearchLab/feedsync/internal/feeds"
	"github.com/MarcoPoloResearchLab/feedsync/internal/ingest"
	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"github.com/MarcoPoloResearchLab/feedsync/internal/relation"
	"github.com/MarcoPoloResearchLab/feedsync/internal/server"
	"github.com/MarcoPoloResearchLab/feedsync/internal/store"
	"github.com/MarcoPoloResearchLab/feedsync/internal/streaming"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	opFetchNote = "app.fetch_note"
	opFetchUser = "app.fetch_user"

	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
)

// Option customizes New.
type Option func(*options)

type options struct {
	httpClient api.Doer
	feeds      []FeedFactory
}

// FeedFactory builds an extra feed from the session dependencies.
type FeedFactory func(feeds.Dependencies) (feeds.Feed, error)

// WithHTTPClient routes remote API calls through client.
func WithHTTPClient(client api.Doer) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithFeed registers the feed built by factory next to the default feeds.
func WithFeed(factory FeedFactory) Option {
	return func(o *options) {
		o.feeds = append(o.feeds, factory)
	}
}

// App owns every component of one account session.
type App struct {
	cfg    config.AppConfig
	logger *zap.Logger

	Client        *api.Client
	Notes         *store.NoteStore
	Users         *store.UserStore
	Files         *store.FileStore
	Notifications *store.NotificationStore
	Ingestor      *ingest.Ingestor
	Resolver      *relation.Resolver
	Feeds         *feeds.Registry
	Dispatcher    *streaming.Dispatcher
	Realtime      *server.RealtimeHub
	Deps          feeds.Dependencies

	sqlDB      *sql.DB
	noteRepo   *database.NoteRepository
	noteMirror *store.Mirror[model.NoteID, model.Note]
	userMirror *store.Mirror[model.UserID, model.User]
	detachHub  []func()
}

// New wires a session from cfg. An empty database path keeps the session memory-only. On
// error the database, if opened, is closed again.
func New(cfg config.AppConfig, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := options{}
	for _, opt := range opts {
		opt(&settings)
	}
	account, err := model.NewAccountID(cfg.AccountID)
	if err != nil {
		return nil, err
	}

	client, err := api.NewClient(api.Config{
		BaseURL:           cfg.InstanceURL,
		Token:             cfg.InstanceToken,
		HTTPClient:        settings.httpClient,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		DefaultPageLimit:  cfg.PageLimit,
		Logger:            logger.Named("api"),
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:           cfg,
		logger:        logger,
		Client:        client,
		Notes:         store.NewNoteStore(logger),
		Users:         store.NewUserStore(logger),
		Files:         store.NewFileStore(logger),
		Notifications: store.NewNotificationStore(logger),
		Realtime:      server.NewRealtimeHub(),
	}

	defer func() {
		if err != nil && a.sqlDB != nil {
			_ = a.sqlDB.Close()
		}
	}()

	var noteSecondary store.Secondary[model.NoteID, model.Note]
	var userSecondary store.Secondary[model.UserID, model.User]
	if cfg.DatabasePath != "" {
		db, err := database.OpenSQLite(cfg.DatabasePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		a.sqlDB = sqlDB
		noteRepo, err := database.NewNoteRepository(db)
		if err != nil {
			return nil, err
		}
		userRepo, err := database.NewUserRepository(db)
		if err != nil {
			return nil, err
		}
		a.noteRepo = noteRepo
		noteSecondary, userSecondary = noteRepo, userRepo
		a.noteMirror = store.NewMirror(a.Notes.Store, noteSecondary, logger)
		a.userMirror = store.NewMirror(a.Users.Store, userSecondary, logger)
	}

	a.Ingestor, err = ingest.New(ingest.Config{
		Account:       account,
		InstanceHost:  client.BaseURL().Host,
		Notes:         a.Notes,
		Users:         a.Users,
		Files:         a.Files,
		Notifications: a.Notifications,
		Logger:        logger.Named("ingest"),
	})
	if err != nil {
		return nil, err
	}

	fetcher := &remoteFetcher{client: client, ingestor: a.Ingestor}
	a.Resolver, err = relation.NewResolver(relation.Config{
		Notes:            store.NewMediator(a.Notes.Store, noteSecondary, logger),
		Users:            store.NewMediator(a.Users.Store, userSecondary, logger),
		Files:            a.Files,
		NoteFetcher:      fetcher,
		UserFetcher:      fetcher,
		FetchConcurrency: cfg.FetchConcurrency,
		Logger:           logger.Named("relation"),
	})
	if err != nil {
		return nil, err
	}

	a.Deps = feeds.Dependencies{
		Client:    client,
		Ingestor:  a.Ingestor,
		Resolver:  a.Resolver,
		PageLimit: cfg.PageLimit,
		Logger:    logger.Named("feeds"),
	}
	if a.Feeds, err = a.defaultFeeds(); err != nil {
		return nil, err
	}
	for _, factory := range settings.feeds {
		feed, err := factory(a.Deps)
		if err != nil {
			return nil, fmt.Errorf("build feed: %w", err)
		}
		if err := a.Feeds.Register(feed); err != nil {
			return nil, err
		}
	}

	a.Dispatcher, err = streaming.NewDispatcher(streaming.Config{
		Ingestor: a.Ingestor,
		Notes:    a.Notes,
		ViewerID: cfg.ViewerID,
		Logger:   logger.Named("streaming"),
	})
	if err != nil {
		return nil, err
	}

	a.detachHub = []func(){
		server.AttachStore(a.Realtime, a.Notes.Store),
		server.AttachStore(a.Realtime, a.Users.Store),
		server.AttachStore(a.Realtime, a.Files.Store),
		server.AttachStore(a.Realtime, a.Notifications.Store),
	}
	return a, nil
}

func (a *App) defaultFeeds() (*feeds.Registry, error) {
	registry := feeds.NewRegistry()
	for _, kind := range []api.TimelineKind{api.TimelineHome, api.TimelineLocal, api.TimelineHybrid, api.TimelineGlobal} {
		timeline, err := feeds.NewTimeline(a.Deps, kind)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(feeds.Erase(timeline)); err != nil {
			return nil, err
		}
	}
	featured, err := feeds.NewFeatured(a.Deps)
	if err != nil {
		return nil, err
	}
	notifications, err := feeds.NewNotifications(a.Deps)
	if err != nil {
		return nil, err
	}
	for _, feed := range []feeds.Feed{feeds.Erase(featured), feeds.Erase(notifications)} {
		if err := registry.Register(feed); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Account returns the account scope of the session.
func (a *App) Account() model.AccountID {
	return a.Ingestor.Account()
}

// Handler builds the inspection API for this session.
func (a *App) Handler(tokens server.TokenValidator) (http.Handler, error) {
	return server.NewHTTPHandler(server.Dependencies{
		Tokens:   tokens,
		Feeds:    a.Feeds,
		Resolver: a.Resolver,
		Purger:   a.Notes,
		Realtime: a.Realtime,
		Account:  a.Account(),
		Logger:   a.logger.Named("server"),
	})
}

// CachedNotesByUser reads persisted notes by userID, newest first. A memory-only session
// returns live notes from the store in no particular order.
func (a *App) CachedNotesByUser(ctx context.Context, userID model.UserID, limit int) ([]model.Note, error) {
	if a.noteRepo != nil {
		return a.noteRepo.QueryByUser(ctx, userID, limit)
	}
	var notes []model.Note
	for _, note := range a.Notes.Snapshot() {
		if note.UserID == userID {
			notes = append(notes, note)
		}
		if limit > 0 && len(notes) == limit {
			break
		}
	}
	return notes, nil
}

// RefreshUsers fetches detailed profiles for remote ids in one request and ingests them.
func (a *App) RefreshUsers(ctx context.Context, remoteIDs []string) ([]model.User, error) {
	dtos, err := a.Client.ShowUsers(ctx, remoteIDs)
	if err != nil {
		return nil, err
	}
	return a.Ingestor.Users(dtos), nil
}

// Run keeps the write-behind mirrors and the push stream alive until ctx ends.
func (a *App) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	if a.noteMirror != nil {
		group.Go(func() error { return a.noteMirror.Run(groupCtx) })
		group.Go(func() error { return a.userMirror.Run(groupCtx) })
	}
	if a.cfg.StreamEnabled {
		group.Go(func() error { return a.stream(groupCtx) })
	}
	return group.Wait()
}

func (a *App) stream(ctx context.Context) error {
	delay := initialReconnectDelay
	for {
		source, err := streaming.DialWebSocket(ctx, streaming.WebSocketConfig{
			BaseURL:  a.cfg.InstanceURL,
			Token:    a.cfg.InstanceToken,
			Channels: a.cfg.StreamChannels,
		})
		if err == nil {
			delay = initialReconnectDelay
			a.logger.Info("push stream connected", zap.Strings("channels", a.cfg.StreamChannels))
			err = a.Dispatcher.Run(ctx, source)
			_ = source.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			a.logger.Warn("push stream interrupted", zap.Error(err), zap.Duration("retry_in", delay))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// Close flushes pending writes and releases the database.
func (a *App) Close() error {
	for _, detach := range a.detachHub {
		detach()
	}
	a.detachHub = nil
	if a.noteMirror != nil {
		a.noteMirror.Flush(context.Background())
		a.userMirror.Flush(context.Background())
	}
	if a.sqlDB != nil {
		return a.sqlDB.Close()
	}
	return nil
}

// remoteFetcher satisfies the resolver fetchers by reading through the remote API and the
// ingest path.
type remoteFetcher struct {
	client   *api.Client
	ingestor *ingest.Ingestor
}

func (f *remoteFetcher) FetchNote(ctx context.Context, id model.NoteID) (model.Note, error) {
	dto, err := f.client.ShowNote(ctx, id.Remote)
	if err != nil {
		return model.Note{}, notFoundOr(err, "note", id.String(), opFetchNote)
	}
	return f.ingestor.Note(dto, ingest.SkipDeleted)
}

func (f *remoteFetcher) FetchUser(ctx context.Context, id model.UserID) (model.User, error) {
	dto, err := f.client.ShowUser(ctx, id.Remote)
	if err != nil {
		return model.User{}, notFoundOr(err, "user", id.String(), opFetchUser)
	}
	return f.ingestor.User(dto)
}

// The remote answers unknown ids with 400 or 404.
func notFoundOr(err error, kind, id, operation string) error {
	var networkErr *model.NetworkError
	if errors.As(err, &networkErr) && (networkErr.StatusCode == http.StatusNotFound || networkErr.StatusCode == http.StatusBadRequest) {
		return &model.NotFoundError{Kind: kind, ID: id}
	}
	return fmt.Errorf("%s: %w", operation, err)
}
