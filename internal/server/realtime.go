package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/feedsync/internal/store"
	"github.com/google/uuid"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "feedsync"
)

// RealtimeMessage is one store change relayed to inspection clients.
type RealtimeMessage struct {
	Kind      string    `json:"kind"`
	EventType string    `json:"event_type"`
	EntityID  string    `json:"entity_id"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// RealtimeHub fans store events out to subscribers filtered by entity kind.
type RealtimeHub struct {
	mu          sync.RWMutex
	subscribers map[string]*realtimeSubscriber
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     string
	kinds  map[string]struct{}
	stream chan RealtimeMessage
}

func (s *realtimeSubscriber) wants(kind string) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// NewRealtimeHub returns an empty hub.
func NewRealtimeHub() *RealtimeHub {
	return &RealtimeHub{
		subscribers: make(map[string]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

// Subscribe registers a subscriber for kinds; no kinds means every kind. The subscription ends
// with ctx or the returned cleanup.
func (h *RealtimeHub) Subscribe(ctx context.Context, kinds ...string) (string, <-chan RealtimeMessage, func()) {
	subscriber := &realtimeSubscriber{
		id:     uuid.NewString(),
		kinds:  make(map[string]struct{}, len(kinds)),
		stream: make(chan RealtimeMessage, h.bufferSize),
	}
	for _, kind := range kinds {
		if kind != "" {
			subscriber.kinds[kind] = struct{}{}
		}
	}
	h.mu.Lock()
	h.subscribers[subscriber.id] = subscriber
	h.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cleanup := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, subscriber.id)
			h.mu.Unlock()
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
	return subscriber.id, subscriber.stream, cleanup
}

// Publish delivers message without blocking; slow subscribers drop messages.
func (h *RealtimeHub) Publish(message RealtimeMessage) {
	if message.Kind == "" || message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = h.clock().UTC()
	}
	h.mu.RLock()
	copies := make([]*realtimeSubscriber, 0, len(h.subscribers))
	for _, subscriber := range h.subscribers {
		if subscriber.wants(message.Kind) {
			copies = append(copies, subscriber)
		}
	}
	h.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (h *RealtimeHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// AttachStore relays every event of entities to hub and returns the detach function.
func AttachStore[K comparable, V any](hub *RealtimeHub, entities *store.Store[K, V]) func() {
	kind := entities.Kind()
	return entities.AddListener(func(event store.Event[K, V]) {
		hub.Publish(RealtimeMessage{
			Kind:      kind,
			EventType: string(event.Type),
			EntityID:  fmt.Sprint(event.ID),
			Sequence:  event.Sequence,
		})
	})
}
