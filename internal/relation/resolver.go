// Package relation assembles read-only note graphs from the entity stores.
package relation

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultFetchConcurrency = 4

	opResolve      = "relation.resolve"
	opResolveBatch = "relation.resolve_batch"
)

// NoteSource reads notes; *store.Mediator satisfies it.
type NoteSource interface {
	Get(ctx context.Context, id model.NoteID) (model.Note, error)
	GetIn(ctx context.Context, ids []model.NoteID) []model.Note
	IsDeleted(id model.NoteID) bool
}

// UserSource reads users; *store.Mediator satisfies it.
type UserSource interface {
	Get(ctx context.Context, id model.UserID) (model.User, error)
	GetIn(ctx context.Context, ids []model.UserID) []model.User
}

// FileSource reads attachments; *store.FileStore satisfies it.
type FileSource interface {
	GetIn(ids []model.FileID) []model.FileProperty
}

// NoteFetcher fetches a note missing from the stores and writes it into them.
type NoteFetcher interface {
	FetchNote(ctx context.Context, id model.NoteID) (model.Note, error)
}

// UserFetcher fetches a user missing from the stores and writes it into them.
type UserFetcher interface {
	FetchUser(ctx context.Context, id model.UserID) (model.User, error)
}

// Config wires a Resolver. Fetchers are optional.
type Config struct {
	Notes            NoteSource
	Users            UserSource
	Files            FileSource
	NoteFetcher      NoteFetcher
	UserFetcher      UserFetcher
	FetchConcurrency int
	Logger           *zap.Logger
}

var errMissingSources = errors.New("relation: note, user and file sources are required")

// Resolver builds NoteRelation values. It never writes to the stores directly.
type Resolver struct {
	notes       NoteSource
	users       UserSource
	files       FileSource
	noteFetcher NoteFetcher
	userFetcher UserFetcher
	concurrency int
	logger      *zap.Logger
	flight      singleflight.Group
}

// NewResolver validates cfg.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Notes == nil || cfg.Users == nil || cfg.Files == nil {
		return nil, errMissingSources
	}
	concurrency := cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		notes:       cfg.Notes,
		users:       cfg.Users,
		files:       cfg.Files,
		noteFetcher: cfg.NoteFetcher,
		userFetcher: cfg.UserFetcher,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

type resolveOptions struct {
	featuredID  string
	promotionID string
	shallow     bool
}

// Option customizes a single Resolve call.
type Option func(*resolveOptions)

// WithFeaturedID tags the relation as featured with an opaque rank token.
func WithFeaturedID(token string) Option {
	return func(options *resolveOptions) { options.featuredID = token }
}

// WithPromotionID tags the relation as a promotion with an opaque token.
func WithPromotionID(token string) Option {
	return func(options *resolveOptions) { options.promotionID = token }
}

// Shallow skips the renote and reply edges.
func Shallow() Option {
	return func(options *resolveOptions) { options.shallow = true }
}

// Item is one entry of a batch resolve.
type Item struct {
	NoteID      model.NoteID
	FeaturedID  string
	PromotionID string
}

// batch holds entities read ahead for one resolve call. Once complete, an id missing from
// the maps is known to be unavailable.
type batch struct {
	notes    map[model.NoteID]model.Note
	users    map[model.UserID]model.User
	complete bool
}

func newBatch() *batch {
	return &batch{
		notes: make(map[model.NoteID]model.Note),
		users: make(map[model.UserID]model.User),
	}
}

// Resolve builds the relation of id. Renote and reply are resolved one level deep and carry
// no edges of their own, which bounds cyclic graphs. It reports false when the note or its
// author cannot be resolved; deleted notes are absent without being logged.
func (r *Resolver) Resolve(ctx context.Context, id model.NoteID, opts ...Option) (model.NoteRelation, bool) {
	options := resolveOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return r.resolve(ctx, id, options, newBatch())
}

func (r *Resolver) resolve(ctx context.Context, id model.NoteID, options resolveOptions, read *batch) (model.NoteRelation, bool) {
	note, ok := read.notes[id]
	if !ok {
		if read.complete {
			return model.NoteRelation{}, false
		}
		var err error
		note, err = r.findNote(ctx, id)
		if err != nil {
			r.reportMissing(opResolve, err, zap.String("note_id", id.String()))
			return model.NoteRelation{}, false
		}
	}
	return r.build(ctx, note, options, read)
}

func (r *Resolver) build(ctx context.Context, note model.Note, options resolveOptions, read *batch) (model.NoteRelation, bool) {
	user, ok := read.users[note.UserID]
	if !ok {
		if read.complete {
			return model.NoteRelation{}, false
		}
		var err error
		user, err = r.findUser(ctx, note.UserID)
		if err != nil {
			r.reportMissing(opResolve, err,
				zap.String("note_id", note.ID.String()),
				zap.String("user_id", note.UserID.String()))
			return model.NoteRelation{}, false
		}
	}

	relation := model.NoteRelation{
		Kind: model.RelationNormal,
		Note: note,
		User: user,
	}
	switch {
	case options.featuredID != "":
		relation.Kind = model.RelationFeatured
		relation.FeaturedID = options.featuredID
	case options.promotionID != "":
		relation.Kind = model.RelationPromotion
		relation.PromotionID = options.promotionID
	}
	if len(note.FileIDs) > 0 {
		relation.Files = r.files.GetIn(note.FileIDs)
	}
	if options.shallow {
		return relation, true
	}

	edge := resolveOptions{shallow: true}
	if note.RenoteID != nil {
		if renote, ok := r.resolve(ctx, *note.RenoteID, edge, read); ok {
			relation.Renote = &renote
		}
	}
	if note.ReplyID != nil {
		if reply, ok := r.resolve(ctx, *note.ReplyID, edge, read); ok {
			relation.Reply = &reply
		}
	}
	return relation, true
}

// ResolveBatch resolves items in order with a fixed number of bulk store reads: requested
// notes, their missing edges and then every distinct author. Misses are fetched
// concurrently. Items that cannot be resolved are omitted.
func (r *Resolver) ResolveBatch(ctx context.Context, items []Item) []model.NoteRelation {
	if len(items) == 0 {
		return nil
	}
	read := newBatch()

	requested := make([]model.NoteID, 0, len(items))
	for _, item := range items {
		requested = append(requested, item.NoteID)
	}
	r.readNotes(ctx, read, requested)

	edges := make([]model.NoteID, 0)
	for _, id := range requested {
		note, ok := read.notes[id]
		if !ok {
			continue
		}
		for _, edge := range []*model.NoteID{note.RenoteID, note.ReplyID} {
			if edge == nil {
				continue
			}
			if _, ok := read.notes[*edge]; !ok {
				edges = append(edges, *edge)
			}
		}
	}
	r.readNotes(ctx, read, edges)

	authors := make([]model.UserID, 0, len(read.notes))
	seen := make(map[model.UserID]struct{}, len(read.notes))
	for _, note := range read.notes {
		if _, ok := seen[note.UserID]; ok {
			continue
		}
		seen[note.UserID] = struct{}{}
		authors = append(authors, note.UserID)
	}
	r.readUsers(ctx, read, authors)
	read.complete = true

	relations := make([]model.NoteRelation, 0, len(items))
	for _, item := range items {
		note, ok := read.notes[item.NoteID]
		if !ok {
			continue
		}
		relation, ok := r.build(ctx, note, resolveOptions{featuredID: item.FeaturedID, promotionID: item.PromotionID}, read)
		if !ok {
			continue
		}
		relations = append(relations, relation)
	}
	return relations
}

// ResolveIDs is ResolveBatch for plain note ids.
func (r *Resolver) ResolveIDs(ctx context.Context, ids []model.NoteID) []model.NoteRelation {
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, Item{NoteID: id})
	}
	return r.ResolveBatch(ctx, items)
}

func (r *Resolver) readNotes(ctx context.Context, read *batch, ids []model.NoteID) {
	if len(ids) == 0 {
		return
	}
	for _, note := range r.notes.GetIn(ctx, ids) {
		read.notes[note.ID] = note
	}
	missing := make([]model.NoteID, 0)
	for _, id := range ids {
		if _, ok := read.notes[id]; ok || r.notes.IsDeleted(id) {
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 || r.noteFetcher == nil {
		return
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.concurrency)
	for _, id := range unique(missing) {
		group.Go(func() error {
			note, err := r.fetchNote(groupCtx, id)
			if err != nil {
				r.reportMissing(opResolveBatch, err, zap.String("note_id", id.String()))
				return nil
			}
			mu.Lock()
			read.notes[id] = note
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
}

func (r *Resolver) readUsers(ctx context.Context, read *batch, ids []model.UserID) {
	if len(ids) == 0 {
		return
	}
	for _, user := range r.users.GetIn(ctx, ids) {
		read.users[user.ID] = user
	}
	missing := make([]model.UserID, 0)
	for _, id := range ids {
		if _, ok := read.users[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 || r.userFetcher == nil {
		return
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.concurrency)
	for _, id := range missing {
		group.Go(func() error {
			user, err := r.fetchUser(groupCtx, id)
			if err != nil {
				r.reportMissing(opResolveBatch, err, zap.String("user_id", id.String()))
				return nil
			}
			mu.Lock()
			read.users[id] = user
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()
}

// findNote reads the store and falls back to the fetcher for ids never seen.
func (r *Resolver) findNote(ctx context.Context, id model.NoteID) (model.Note, error) {
	note, err := r.notes.Get(ctx, id)
	if err == nil || !errors.Is(err, model.ErrNotFound) || r.noteFetcher == nil {
		return note, err
	}
	return r.fetchNote(ctx, id)
}

func (r *Resolver) findUser(ctx context.Context, id model.UserID) (model.User, error) {
	user, err := r.users.Get(ctx, id)
	if err == nil || !errors.Is(err, model.ErrNotFound) || r.userFetcher == nil {
		return user, err
	}
	return r.fetchUser(ctx, id)
}

func (r *Resolver) fetchNote(ctx context.Context, id model.NoteID) (model.Note, error) {
	if r.notes.IsDeleted(id) {
		return model.Note{}, &model.DeletedError{Kind: "note", ID: id.String()}
	}
	return shared(ctx, &r.flight, "note:"+id.String(), func(fetchCtx context.Context) (model.Note, error) {
		return r.noteFetcher.FetchNote(fetchCtx, id)
	})
}

func (r *Resolver) fetchUser(ctx context.Context, id model.UserID) (model.User, error) {
	return shared(ctx, &r.flight, "user:"+id.String(), func(fetchCtx context.Context) (model.User, error) {
		return r.userFetcher.FetchUser(fetchCtx, id)
	})
}

// shared runs one fetch per key for all concurrent callers. The fetch does not inherit the
// cancellation of whichever caller started it, and fetchers bound it with their own timeout.
// Each caller stops waiting when its own ctx ends.
func shared[T any](ctx context.Context, group *singleflight.Group, key string, fetch func(context.Context) (T, error)) (T, error) {
	results := group.DoChan(key, func() (any, error) {
		return fetch(context.WithoutCancel(ctx))
	})
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return zero, result.Err
		}
		return result.Val.(T), nil
	}
}

// reportMissing logs resolution failures. Deleted entities are expected and stay silent.
func (r *Resolver) reportMissing(operation string, err error, fields ...zap.Field) {
	if errors.Is(err, model.ErrDeleted) {
		return
	}
	attrs := append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)
	if errors.Is(err, model.ErrNotFound) {
		r.logger.Debug("relation entity not cached", attrs...)
		return
	}
	r.logger.Warn("relation entity unavailable", attrs...)
}

func unique[T comparable](values []T) []T {
	seen := make(map[T]struct{}, len(values))
	out := make([]T, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
