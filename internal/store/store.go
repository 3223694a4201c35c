package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"go.uber.org/zap"
)

const defaultSubscriberBuffer = 64

// AddResult reports whether Add created a new entry or updated an existing one.
type AddResult string

const (
	Created AddResult = "created"
	Updated AddResult = "updated"
)

// EventType enumerates store change events.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event describes one mutation. Entity is the zero value for EventDeleted.
// Sequence increases by one per event and matches mutation order.
type Event[K comparable, V any] struct {
	Type     EventType
	ID       K
	Entity   V
	Sequence uint64
}

// Listener receives events synchronously in mutation order.
// It may call back into the store.
type Listener[K comparable, V any] func(Event[K, V])

// Config describes one store instance.
type Config[K comparable, V any] struct {
	// Kind names the entity in errors and logs, e.g. "note".
	Kind string
	// Key extracts the identity of an entity.
	Key func(V) K
	// Merge combines a cached entity with an incoming one. Nil replaces.
	Merge func(existing, incoming V) V
	// SubscriberBuffer sizes subscription channels.
	SubscriberBuffer int
	Logger           *zap.Logger
}

// Store is an in-memory keyed map with tombstones and change events.
type Store[K comparable, V any] struct {
	kind   string
	key    func(V) K
	merge  func(existing, incoming V) V
	logger *zap.Logger

	mu         sync.Mutex
	entities   map[K]V
	tombstones map[K]struct{}
	pending    []Event[K, V]
	sequence   uint64
	draining   bool

	listenersMu      sync.RWMutex
	listeners        map[int64]Listener[K, V]
	subscribers      map[int64]chan Event[K, V]
	nextListenerID   int64
	subscriberBuffer int
}

// New constructs a store. Key is required.
func New[K comparable, V any](cfg Config[K, V]) *Store[K, V] {
	if cfg.Key == nil {
		panic("store: key function is required")
	}
	kind := cfg.Kind
	if kind == "" {
		kind = "entity"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	buffer := cfg.SubscriberBuffer
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Store[K, V]{
		kind:             kind,
		key:              cfg.Key,
		merge:            cfg.Merge,
		logger:           logger,
		entities:         make(map[K]V),
		tombstones:       make(map[K]struct{}),
		listeners:        make(map[int64]Listener[K, V]),
		subscribers:      make(map[int64]chan Event[K, V]),
		subscriberBuffer: buffer,
	}
}

// Kind returns the entity name of the store.
func (s *Store[K, V]) Kind() string {
	return s.kind
}

// Add upserts the entity. The last writer under the lock wins; a tombstoned id is revived.
func (s *Store[K, V]) Add(entity V) AddResult {
	s.mu.Lock()
	result := s.upsertLocked(entity)
	s.mu.Unlock()
	s.drain()
	return result
}

// AddUnlessDeleted upserts the entity unless its id is tombstoned. The tombstone check and the
// write happen under one lock, so a concurrent Remove is never undone. It reports whether the
// entity was written.
func (s *Store[K, V]) AddUnlessDeleted(entity V) (AddResult, bool) {
	s.mu.Lock()
	if _, deleted := s.tombstones[s.key(entity)]; deleted {
		s.mu.Unlock()
		return "", false
	}
	result := s.upsertLocked(entity)
	s.mu.Unlock()
	s.drain()
	return result, true
}

// AddAll upserts every entity in order.
func (s *Store[K, V]) AddAll(entities []V) []AddResult {
	results := make([]AddResult, 0, len(entities))
	s.mu.Lock()
	for _, entity := range entities {
		results = append(results, s.upsertLocked(entity))
	}
	s.mu.Unlock()
	s.drain()
	return results
}

func (s *Store[K, V]) upsertLocked(entity V) AddResult {
	id := s.key(entity)
	existing, ok := s.entities[id]
	delete(s.tombstones, id)
	if !ok {
		s.entities[id] = entity
		s.enqueueLocked(EventCreated, id, entity)
		return Created
	}
	merged := entity
	if s.merge != nil {
		merged = s.merge(existing, entity)
	}
	s.entities[id] = merged
	s.enqueueLocked(EventUpdated, id, merged)
	return Updated
}

// Get returns the entity, a *model.DeletedError for tombstoned ids or a *model.NotFoundError.
func (s *Store[K, V]) Get(id K) (V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero V
	if _, deleted := s.tombstones[id]; deleted {
		return zero, &model.DeletedError{Kind: s.kind, ID: fmt.Sprint(id)}
	}
	entity, ok := s.entities[id]
	if !ok {
		return zero, &model.NotFoundError{Kind: s.kind, ID: fmt.Sprint(id)}
	}
	return entity, nil
}

// GetIn returns the cached entities for ids in request order; missing ids are omitted.
func (s *Store[K, V]) GetIn(ids []K) []V {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := make([]V, 0, len(ids))
	for _, id := range ids {
		if entity, ok := s.entities[id]; ok {
			found = append(found, entity)
		}
	}
	return found
}

// Find returns the first live entity matching match. Iteration order is unspecified.
func (s *Store[K, V]) Find(match func(V) bool) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entity := range s.entities {
		if match(entity) {
			return entity, true
		}
	}
	var zero V
	return zero, false
}

// Snapshot copies every live entity. Order is unspecified.
func (s *Store[K, V]) Snapshot() []V {
	s.mu.Lock()
	defer s.mu.Unlock()
	entities := make([]V, 0, len(s.entities))
	for _, entity := range s.entities {
		entities = append(entities, entity)
	}
	return entities
}

// IsDeleted reports whether id is tombstoned.
func (s *Store[K, V]) IsDeleted(id K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, deleted := s.tombstones[id]
	return deleted
}

// Len returns the number of live entities.
func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

// Update applies fn to the cached entity atomically and stores the result.
func (s *Store[K, V]) Update(id K, fn func(V) V) (V, error) {
	s.mu.Lock()
	var zero V
	if _, deleted := s.tombstones[id]; deleted {
		s.mu.Unlock()
		return zero, &model.DeletedError{Kind: s.kind, ID: fmt.Sprint(id)}
	}
	existing, ok := s.entities[id]
	if !ok {
		s.mu.Unlock()
		return zero, &model.NotFoundError{Kind: s.kind, ID: fmt.Sprint(id)}
	}
	updated := fn(existing)
	s.entities[id] = updated
	s.enqueueLocked(EventUpdated, id, updated)
	s.mu.Unlock()
	s.drain()
	return updated, nil
}

// Remove tombstones id and drops the live entry. It reports whether an entry was present.
func (s *Store[K, V]) Remove(id K) bool {
	s.mu.Lock()
	removed := s.removeLocked(id)
	s.mu.Unlock()
	s.drain()
	return removed
}

// RemoveWhere removes every live entity matching match and returns how many were removed.
func (s *Store[K, V]) RemoveWhere(match func(V) bool) int {
	s.mu.Lock()
	ids := make([]K, 0)
	for id, entity := range s.entities {
		if match(entity) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		s.removeLocked(id)
	}
	s.mu.Unlock()
	s.drain()
	return len(ids)
}

func (s *Store[K, V]) removeLocked(id K) bool {
	_, ok := s.entities[id]
	delete(s.entities, id)
	s.tombstones[id] = struct{}{}
	if ok {
		var zero V
		s.enqueueLocked(EventDeleted, id, zero)
	}
	return ok
}

func (s *Store[K, V]) enqueueLocked(eventType EventType, id K, entity V) {
	s.sequence++
	s.pending = append(s.pending, Event[K, V]{
		Type:     eventType,
		ID:       id,
		Entity:   entity,
		Sequence: s.sequence,
	})
}

// drain delivers queued events outside of the mutation lock. Only one goroutine drains at a
// time, which keeps delivery in mutation order; re-entrant calls from listeners return
// immediately and their events are picked up by the active drainer.
func (s *Store[K, V]) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, event := range batch {
			s.publish(event)
		}
	}
}

func (s *Store[K, V]) publish(event Event[K, V]) {
	s.listenersMu.RLock()
	listeners := make([]Listener[K, V], 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	for id, stream := range s.subscribers {
		select {
		case stream <- event:
		default:
			s.logger.Debug("store subscriber lagging, event dropped",
				zap.String("kind", s.kind),
				zap.Int64("subscriber_id", id),
				zap.Uint64("sequence", event.Sequence))
		}
	}
	s.listenersMu.RUnlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// AddListener registers a synchronous listener and returns its removal func.
func (s *Store[K, V]) AddListener(listener Listener[K, V]) func() {
	s.listenersMu.Lock()
	s.nextListenerID++
	id := s.nextListenerID
	s.listeners[id] = listener
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// Subscribe returns a buffered event stream. Events are dropped for a subscriber whose buffer
// is full. The stream is closed when ctx ends or cleanup is called.
func (s *Store[K, V]) Subscribe(ctx context.Context) (<-chan Event[K, V], func()) {
	stream := make(chan Event[K, V], s.subscriberBuffer)
	s.listenersMu.Lock()
	s.nextListenerID++
	id := s.nextListenerID
	s.subscribers[id] = stream
	s.listenersMu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.subscribers, id)
			close(stream)
			s.listenersMu.Unlock()
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
