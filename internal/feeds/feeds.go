// Package feeds builds the concrete paginated feeds on top of the pagination engine.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/feedsync/internal/api"
	"github.com/MarcoPoloResearchLab/feedsync/internal/ingest"
	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"github.com/MarcoPoloResearchLab/feedsync/internal/pagination"
	"github.com/MarcoPoloResearchLab/feedsync/internal/relation"
	"go.uber.org/zap"
)

// Client is the slice of the remote API used by feeds; *api.Client satisfies it.
type Client interface {
	Timeline(ctx context.Context, kind api.TimelineKind, page api.Page) ([]api.NoteDTO, error)
	UserNotes(ctx context.Context, userID string, options api.UserNotesOptions, page api.Page) ([]api.NoteDTO, error)
	SearchNotes(ctx context.Context, query string, page api.Page) ([]api.NoteDTO, error)
	Renotes(ctx context.Context, noteID string, page api.Page) ([]api.NoteDTO, error)
	FeaturedNotes(ctx context.Context, page api.Page) ([]api.NoteDTO, error)
	Notifications(ctx context.Context, page api.Page) ([]api.NotificationDTO, error)
}

// Dependencies are shared by every feed of one account.
type Dependencies struct {
	Client    Client
	Ingestor  *ingest.Ingestor
	Resolver  *relation.Resolver
	PageLimit int
	Logger    *zap.Logger
}

var (
	errMissingDependencies = errors.New("feeds: client, ingestor and resolver are required")
	errEmptyQuery          = errors.New("feeds: search query required")
	errEmptyUserID         = errors.New("feeds: user id required")
)

func (d Dependencies) validate() error {
	if d.Client == nil || d.Ingestor == nil || d.Resolver == nil {
		return errMissingDependencies
	}
	return nil
}

func (d Dependencies) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// NoteFeed pages notes and resolves each page into relations.
type NoteFeed = pagination.Paginator[api.NoteDTO, model.NoteRelation, string]

// RenoteFeed pages the renotes of one note.
type RenoteFeed = pagination.Paginator[api.NoteDTO, Renote, string]

// NotificationFeed pages account notifications.
type NotificationFeed = pagination.Paginator[api.NotificationDTO, model.Notification, string]

// Renote is one entry of a renote list. Quote renotes carry content of their own.
type Renote struct {
	NoteID model.NoteID `json:"note_id"`
	Quote  bool         `json:"quote"`
}

type pageFetcher[DTO any] func(ctx context.Context, page api.Page) ([]DTO, error)

// previousLoader pages backward only.
type previousLoader[DTO any] struct {
	fetch pageFetcher[DTO]
	limit int
}

func (l previousLoader[DTO]) LoadPrevious(ctx context.Context, untilID *string) ([]DTO, error) {
	page := api.Page{Limit: l.limit}
	if untilID != nil {
		page.UntilID = *untilID
	}
	return l.fetch(ctx, page)
}

// bidirectionalLoader also pages forward.
type bidirectionalLoader[DTO any] struct {
	previousLoader[DTO]
}

func (l bidirectionalLoader[DTO]) LoadFuture(ctx context.Context, sinceID *string) ([]DTO, error) {
	page := api.Page{Limit: l.limit}
	if sinceID != nil {
		page.SinceID = *sinceID
	}
	return l.fetch(ctx, page)
}

// relationConverter ingests a note page and resolves it, keeping provenance tokens.
type relationConverter struct {
	ingestor *ingest.Ingestor
	resolver *relation.Resolver
}

func (c relationConverter) Convert(ctx context.Context, dtos []api.NoteDTO) ([]model.NoteRelation, error) {
	tokens := make(map[string]api.NoteDTO, len(dtos))
	for _, dto := range dtos {
		tokens[dto.ID] = dto
	}
	notes := c.ingestor.Notes(dtos)
	items := make([]relation.Item, 0, len(notes))
	for _, note := range notes {
		dto := tokens[note.ID.Remote]
		items = append(items, relation.Item{
			NoteID:      note.ID,
			FeaturedID:  dto.FeaturedID,
			PromotionID: dto.PromotionID,
		})
	}
	return c.resolver.ResolveBatch(ctx, items), nil
}

func noteCursor(dto api.NoteDTO) string {
	return dto.ID
}

func relationIdentity(value model.NoteRelation) string {
	return value.Note.ID.Remote
}

func newNoteFeed(deps Dependencies, name string, loader pagination.Loader[api.NoteDTO, string]) (*NoteFeed, error) {
	return pagination.New(pagination.Config[api.NoteDTO, model.NoteRelation, string]{
		Name:      name,
		Loader:    loader,
		Converter: relationConverter{ingestor: deps.Ingestor, resolver: deps.Resolver},
		Identity:  relationIdentity,
		Cursor:    noteCursor,
		Logger:    deps.logger(),
	})
}

// Registry names of the account-wide feeds.
const (
	FeaturedName      = "featured"
	NotificationsName = "notifications"
)

// TimelineName is the registry name of a timeline feed.
func TimelineName(kind api.TimelineKind) string {
	return "timeline:" + string(kind)
}

// NewTimeline builds the feed of one timeline kind.
func NewTimeline(deps Dependencies, kind api.TimelineKind) (*NoteFeed, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context, page api.Page) ([]api.NoteDTO, error) {
		return deps.Client.Timeline(ctx, kind, page)
	}
	return newNoteFeed(deps, TimelineName(kind), bidirectionalLoader[api.NoteDTO]{previousLoader[api.NoteDTO]{fetch: fetch, limit: deps.PageLimit}})
}

// NewUserNotes builds the feed of notes authored by userID.
func NewUserNotes(deps Dependencies, userID string, options api.UserNotesOptions) (*NoteFeed, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errEmptyUserID
	}
	fetch := func(ctx context.Context, page api.Page) ([]api.NoteDTO, error) {
		return deps.Client.UserNotes(ctx, userID, options, page)
	}
	return newNoteFeed(deps, "user:"+userID, bidirectionalLoader[api.NoteDTO]{previousLoader[api.NoteDTO]{fetch: fetch, limit: deps.PageLimit}})
}

// NewSearch builds the feed of notes matching query.
func NewSearch(deps Dependencies, query string) (*NoteFeed, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errEmptyQuery
	}
	fetch := func(ctx context.Context, page api.Page) ([]api.NoteDTO, error) {
		return deps.Client.SearchNotes(ctx, query, page)
	}
	return newNoteFeed(deps, "search:"+query, previousLoader[api.NoteDTO]{fetch: fetch, limit: deps.PageLimit})
}

// NewFeatured builds the featured notes feed. Relations carry the featured token.
func NewFeatured(deps Dependencies) (*NoteFeed, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return newNoteFeed(deps, FeaturedName, previousLoader[api.NoteDTO]{fetch: deps.Client.FeaturedNotes, limit: deps.PageLimit})
}

type renoteConverter struct {
	ingestor *ingest.Ingestor
}

func (c renoteConverter) Convert(_ context.Context, dtos []api.NoteDTO) ([]Renote, error) {
	notes := c.ingestor.Notes(dtos)
	renotes := make([]Renote, 0, len(notes))
	for _, note := range notes {
		renotes = append(renotes, Renote{NoteID: note.ID, Quote: note.IsQuote()})
	}
	return renotes, nil
}

// NewRenotes builds the renote list of target.
func NewRenotes(deps Dependencies, target model.NoteID) (*RenoteFeed, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if target.IsZero() {
		return nil, fmt.Errorf("feeds: renote target: %w", model.ErrInvalidNoteID)
	}
	fetch := func(ctx context.Context, page api.Page) ([]api.NoteDTO, error) {
		return deps.Client.Renotes(ctx, target.Remote, page)
	}
	return pagination.New(pagination.Config[api.NoteDTO, Renote, string]{
		Name:      "renotes:" + target.Remote,
		Loader:    previousLoader[api.NoteDTO]{fetch: fetch, limit: deps.PageLimit},
		Converter: renoteConverter{ingestor: deps.Ingestor},
		Identity:  func(value Renote) string { return value.NoteID.Remote },
		Cursor:    noteCursor,
		Logger:    deps.logger(),
	})
}

// NewNotifications builds the notification feed.
func NewNotifications(deps Dependencies) (*NotificationFeed, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	convert := pagination.ConverterFunc[api.NotificationDTO, model.Notification](func(_ context.Context, dtos []api.NotificationDTO) ([]model.Notification, error) {
		return deps.Ingestor.Notifications(dtos), nil
	})
	return pagination.New(pagination.Config[api.NotificationDTO, model.Notification, string]{
		Name:      NotificationsName,
		Loader:    bidirectionalLoader[api.NotificationDTO]{previousLoader[api.NotificationDTO]{fetch: deps.Client.Notifications, limit: deps.PageLimit}},
		Converter: convert,
		Identity:  func(value model.Notification) string { return value.ID.Remote },
		Cursor:    func(dto api.NotificationDTO) string { return dto.ID },
		Logger:    deps.logger(),
	})
}
