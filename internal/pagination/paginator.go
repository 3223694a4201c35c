package pagination

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"
)

const defaultStateBuffer = 16

// ErrNoFutureLoader is returned by Newer when the feed cannot page forward.
var ErrNoFutureLoader = errors.New("pagination: feed does not support loading newer items")

// StateKind enumerates the states of a paginated feed.
type StateKind string

const (
	StateNotExist StateKind = "not_exist"
	StateLoading  StateKind = "loading"
	StateFixed    StateKind = "fixed"
	StateError    StateKind = "error"
)

// State is a snapshot of a paginated feed. Content is the last good content for Loading and
// Error; it must not be mutated by the receiver.
type State[T any] struct {
	Kind    StateKind
	Content []T
	Err     error
}

// IsLoading reports whether a fetch is in flight.
func (s State[T]) IsLoading() bool {
	return s.Kind == StateLoading
}

// Loader fetches the page older than untilID. A nil untilID requests the newest page.
type Loader[DTO any, ID comparable] interface {
	LoadPrevious(ctx context.Context, untilID *ID) ([]DTO, error)
}

// FutureLoader fetches the page newer than sinceID.
type FutureLoader[DTO any, ID comparable] interface {
	LoadFuture(ctx context.Context, sinceID *ID) ([]DTO, error)
}

// Converter turns fetched DTOs into domain values. It is also where fetched entities are
// written into the stores.
type Converter[DTO, D any] interface {
	Convert(ctx context.Context, dtos []DTO) ([]D, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc[DTO any, ID comparable] func(ctx context.Context, untilID *ID) ([]DTO, error)

func (f LoaderFunc[DTO, ID]) LoadPrevious(ctx context.Context, untilID *ID) ([]DTO, error) {
	return f(ctx, untilID)
}

// FutureLoaderFunc adapts a function to FutureLoader.
type FutureLoaderFunc[DTO any, ID comparable] func(ctx context.Context, sinceID *ID) ([]DTO, error)

func (f FutureLoaderFunc[DTO, ID]) LoadFuture(ctx context.Context, sinceID *ID) ([]DTO, error) {
	return f(ctx, sinceID)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc[DTO, D any] func(ctx context.Context, dtos []DTO) ([]D, error)

func (f ConverterFunc[DTO, D]) Convert(ctx context.Context, dtos []DTO) ([]D, error) {
	return f(ctx, dtos)
}

// Config wires the roles of one paginated feed.
type Config[DTO, D any, ID comparable] struct {
	Name      string
	Loader    Loader[DTO, ID]
	Converter Converter[DTO, D]
	// Future is optional. When nil and Loader also implements FutureLoader, Loader is used.
	Future FutureLoader[DTO, ID]
	// Identity extracts the id of a domain value, used for deduplication.
	Identity func(D) ID
	// Cursor extracts the id of a fetched DTO. Boundaries are taken from fetched pages, so
	// DTOs the converter drops still advance the cursor. When nil, boundaries come from the
	// converted content.
	Cursor           func(DTO) ID
	SubscriberBuffer int
	Logger           *zap.Logger
}

var (
	errMissingLoader    = errors.New("pagination: loader required")
	errMissingConverter = errors.New("pagination: converter required")
	errMissingIdentity  = errors.New("pagination: identity required")
)

// Paginator is a cursor-driven state machine over one remote feed. At most one fetch is in
// flight per instance.
type Paginator[DTO, D any, ID comparable] struct {
	name      string
	loader    Loader[DTO, ID]
	future    FutureLoader[DTO, ID]
	converter Converter[DTO, D]
	identity  func(D) ID
	cursor    func(DTO) ID
	logger    *zap.Logger
	buffer    int

	mu          sync.Mutex
	state       State[D]
	bounds      boundaries[ID]
	generation  uint64
	subscribers map[int64]chan State[D]
	nextSubID   int64
}

// New validates cfg and returns a paginator in StateNotExist.
func New[DTO, D any, ID comparable](cfg Config[DTO, D, ID]) (*Paginator[DTO, D, ID], error) {
	if cfg.Loader == nil {
		return nil, errMissingLoader
	}
	if cfg.Converter == nil {
		return nil, errMissingConverter
	}
	if cfg.Identity == nil {
		return nil, errMissingIdentity
	}
	future := cfg.Future
	if future == nil {
		if fromLoader, ok := cfg.Loader.(FutureLoader[DTO, ID]); ok {
			future = fromLoader
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	buffer := cfg.SubscriberBuffer
	if buffer <= 0 {
		buffer = defaultStateBuffer
	}
	return &Paginator[DTO, D, ID]{
		name:        cfg.Name,
		loader:      cfg.Loader,
		future:      future,
		converter:   cfg.Converter,
		identity:    cfg.Identity,
		cursor:      cfg.Cursor,
		logger:      logger.With(zap.String("feed", cfg.Name)),
		buffer:      buffer,
		state:       State[D]{Kind: StateNotExist},
		subscribers: make(map[int64]chan State[D]),
	}, nil
}

// Name returns the feed name.
func (p *Paginator[DTO, D, ID]) Name() string {
	return p.name
}

// State returns the current state.
func (p *Paginator[DTO, D, ID]) State() State[D] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SupportsNewer reports whether Newer can page forward.
func (p *Paginator[DTO, D, ID]) SupportsNewer() bool {
	return p.future != nil
}

// boundaries are the newest and oldest ids fetched so far.
type boundaries[ID comparable] struct {
	since *ID
	until *ID
}

func (b *boundaries[ID]) widen(newest, oldest ID, older bool) {
	if older || b.until == nil {
		b.until = &oldest
	}
	if !older || b.since == nil {
		b.since = &newest
	}
}

// SinceID returns the newest fetched id, or nil before the first page.
func (p *Paginator[DTO, D, ID]) SinceID() *ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bounds.since
}

// UntilID returns the oldest fetched id, or nil before the first page.
func (p *Paginator[DTO, D, ID]) UntilID() *ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bounds.until
}

// Next loads the page older than the oldest fetched item and appends it.
// It is a no-op while a fetch is in flight.
func (p *Paginator[DTO, D, ID]) Next(ctx context.Context) error {
	return p.load(ctx, "next", true, func(bounds boundaries[ID]) ([]DTO, error) {
		return p.loader.LoadPrevious(ctx, bounds.until)
	}, func(content, page []D) []D {
		return appendUnique(p.identity, content, page)
	})
}

// Newer loads the page newer than the newest fetched item and prepends it.
func (p *Paginator[DTO, D, ID]) Newer(ctx context.Context) error {
	if p.future == nil {
		return ErrNoFutureLoader
	}
	return p.load(ctx, "newer", false, func(bounds boundaries[ID]) ([]DTO, error) {
		return p.future.LoadFuture(ctx, bounds.since)
	}, func(content, page []D) []D {
		return appendUnique(p.identity, page, content)
	})
}

// Refresh clears the feed and loads the newest page.
func (p *Paginator[DTO, D, ID]) Refresh(ctx context.Context) error {
	p.Clear()
	return p.Next(ctx)
}

// Clear resets the feed to StateNotExist. Results of a fetch started before Clear are
// discarded.
func (p *Paginator[DTO, D, ID]) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.bounds = boundaries[ID]{}
	p.setLocked(State[D]{Kind: StateNotExist})
}

func (p *Paginator[DTO, D, ID]) load(
	ctx context.Context,
	operation string,
	older bool,
	fetch func(bounds boundaries[ID]) ([]DTO, error),
	merge func(content, page []D) []D,
) error {
	p.mu.Lock()
	if p.state.Kind == StateLoading {
		p.mu.Unlock()
		return nil
	}
	previous := p.state
	content := previous.Content
	generation := p.generation
	bounds := p.bounds
	p.setLocked(State[D]{Kind: StateLoading, Content: content})
	p.mu.Unlock()

	dtos, err := fetch(bounds)
	var page []D
	if err == nil {
		page, err = p.converter.Convert(ctx, dtos)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation != generation {
		p.logger.Debug("discarding page fetched before clear", zap.String("operation", operation))
		return nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			p.setLocked(previous)
			return err
		}
		p.logger.Warn("page load failed",
			zap.String("operation", operation),
			zap.Error(err))
		p.setLocked(State[D]{Kind: StateError, Content: content, Err: err})
		return err
	}
	p.advanceLocked(dtos, page, older)
	p.setLocked(State[D]{Kind: StateFixed, Content: merge(content, page)})
	return nil
}

func (p *Paginator[DTO, D, ID]) advanceLocked(dtos []DTO, page []D, older bool) {
	if p.cursor != nil {
		if len(dtos) > 0 {
			p.bounds.widen(p.cursor(dtos[0]), p.cursor(dtos[len(dtos)-1]), older)
		}
		return
	}
	if len(page) > 0 {
		p.bounds.widen(p.identity(page[0]), p.identity(page[len(page)-1]), older)
	}
}

func (p *Paginator[DTO, D, ID]) setLocked(state State[D]) {
	p.state = state
	for id, stream := range p.subscribers {
		select {
		case stream <- state:
		default:
			p.logger.Debug("state subscriber lagging, state dropped", zap.Int64("subscriber_id", id))
		}
	}
}

// Subscribe streams state transitions starting with the current state. The stream is closed
// when ctx ends or cleanup is called.
func (p *Paginator[DTO, D, ID]) Subscribe(ctx context.Context) (<-chan State[D], func()) {
	stream := make(chan State[D], p.buffer)
	p.mu.Lock()
	p.nextSubID++
	id := p.nextSubID
	p.subscribers[id] = stream
	stream <- p.state
	p.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subscribers, id)
			close(stream)
			p.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return stream, cleanup
}

// appendUnique returns head followed by the items of tail whose ids are not yet present.
// The first occurrence of an id wins.
func appendUnique[D any, ID comparable](identity func(D) ID, head, tail []D) []D {
	merged := make([]D, 0, len(head)+len(tail))
	seen := make(map[ID]struct{}, len(head)+len(tail))
	for _, item := range slices.Concat(head, tail) {
		id := identity(item)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, item)
	}
	return merged
}
