package store

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"go.uber.org/zap"
)

// Secondary is a persistent keyed store used as a warm source and write-behind target.
// It is never the source of truth for in-flight consistency.
type Secondary[K comparable, V any] interface {
	Get(ctx context.Context, id K) (V, bool, error)
	GetIn(ctx context.Context, ids []K) ([]V, error)
	Upsert(ctx context.Context, entity V) error
	Delete(ctx context.Context, id K) error
}

// Mediator reads through the in-memory store into an optional secondary store.
type Mediator[K comparable, V any] struct {
	memory    *Store[K, V]
	secondary Secondary[K, V]
	logger    *zap.Logger
}

// NewMediator wraps memory. A nil secondary makes the mediator memory-only.
func NewMediator[K comparable, V any](memory *Store[K, V], secondary Secondary[K, V], logger *zap.Logger) *Mediator[K, V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mediator[K, V]{memory: memory, secondary: secondary, logger: logger}
}

// Memory exposes the wrapped in-memory store.
func (m *Mediator[K, V]) Memory() *Store[K, V] {
	return m.memory
}

// Get consults memory first. Tombstoned ids short-circuit; misses fall back to the secondary
// store and back-fill memory.
func (m *Mediator[K, V]) Get(ctx context.Context, id K) (V, error) {
	entity, err := m.memory.Get(id)
	if err == nil || errors.Is(err, model.ErrDeleted) || m.secondary == nil {
		return entity, err
	}
	stored, found, secondaryErr := m.secondary.Get(ctx, id)
	if secondaryErr != nil {
		m.logger.Warn("secondary store lookup failed",
			zap.String("kind", m.memory.Kind()),
			zap.Any("id", id),
			zap.Error(secondaryErr))
		return entity, err
	}
	if !found {
		return entity, err
	}
	m.memory.Add(stored)
	return m.memory.Get(id)
}

// GetIn returns cached entities in request order, filling misses from the secondary store.
func (m *Mediator[K, V]) GetIn(ctx context.Context, ids []K) []V {
	if m.secondary == nil {
		return m.memory.GetIn(ids)
	}
	cached := m.memory.GetIn(ids)
	if len(cached) == len(ids) {
		return cached
	}
	present := make(map[K]struct{}, len(cached))
	for _, entity := range cached {
		present[m.memory.key(entity)] = struct{}{}
	}
	missing := make([]K, 0, len(ids)-len(cached))
	for _, id := range ids {
		if _, ok := present[id]; ok {
			continue
		}
		if m.memory.IsDeleted(id) {
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return cached
	}
	stored, err := m.secondary.GetIn(ctx, missing)
	if err != nil {
		m.logger.Warn("secondary store bulk lookup failed",
			zap.String("kind", m.memory.Kind()),
			zap.Int("count", len(missing)),
			zap.Error(err))
		return cached
	}
	if len(stored) == 0 {
		return cached
	}
	m.memory.AddAll(stored)
	return m.memory.GetIn(ids)
}

// IsDeleted reports whether id is tombstoned in memory.
func (m *Mediator[K, V]) IsDeleted(id K) bool {
	return m.memory.IsDeleted(id)
}

// Mirror writes store events behind to a secondary store on its own goroutine.
type Mirror[K comparable, V any] struct {
	memory    *Store[K, V]
	secondary Secondary[K, V]
	logger    *zap.Logger

	queueMu sync.Mutex
	queue   []Event[K, V]
	wake    chan struct{}
	flushMu sync.Mutex
	detach  func()
}

// NewMirror attaches a write-behind listener to memory. Run or Flush performs the writes.
func NewMirror[K comparable, V any](memory *Store[K, V], secondary Secondary[K, V], logger *zap.Logger) *Mirror[K, V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	mirror := &Mirror[K, V]{
		memory:    memory,
		secondary: secondary,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
	mirror.detach = memory.AddListener(mirror.enqueue)
	return mirror
}

func (m *Mirror[K, V]) enqueue(event Event[K, V]) {
	m.queueMu.Lock()
	m.queue = append(m.queue, event)
	m.queueMu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run flushes queued writes until ctx ends, then detaches and flushes what is left.
func (m *Mirror[K, V]) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			m.detach()
			m.Flush(context.WithoutCancel(ctx))
			return nil
		case <-m.wake:
			m.Flush(ctx)
		}
	}
}

// Flush writes every queued event in order. Failed writes are logged and dropped.
func (m *Mirror[K, V]) Flush(ctx context.Context) {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.queueMu.Lock()
	batch := m.queue
	m.queue = nil
	m.queueMu.Unlock()

	for _, event := range batch {
		var err error
		switch event.Type {
		case EventCreated, EventUpdated:
			err = m.secondary.Upsert(ctx, event.Entity)
		case EventDeleted:
			err = m.secondary.Delete(ctx, event.ID)
		}
		if err != nil {
			m.logger.Warn("write-behind failed",
				zap.String("kind", m.memory.Kind()),
				zap.String("event_type", string(event.Type)),
				zap.Any("id", event.ID),
				zap.Error(err))
		}
	}
}
