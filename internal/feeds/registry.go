package feeds

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MarcoPoloResearchLab/feedsync/internal/pagination"
)

var (
	// ErrFeedNotFound is returned for unknown feed names.
	ErrFeedNotFound = errors.New("feeds: feed not found")
	// ErrFeedExists is returned when a name is registered twice.
	ErrFeedExists = errors.New("feeds: feed already registered")
)

// Snapshot is a type-erased view of a feed state.
type Snapshot struct {
	Name  string               `json:"name"`
	State pagination.StateKind `json:"state"`
	Count int                  `json:"count"`
	Items any                  `json:"items"`
	Error string               `json:"error,omitempty"`
}

// Feed is the type-erased surface of a paginator.
type Feed interface {
	Name() string
	Next(ctx context.Context) error
	Newer(ctx context.Context) error
	Refresh(ctx context.Context) error
	Snapshot() Snapshot
}

type erased[DTO, D any, ID comparable] struct {
	*pagination.Paginator[DTO, D, ID]
}

func (e erased[DTO, D, ID]) Snapshot() Snapshot {
	state := e.State()
	snapshot := Snapshot{
		Name:  e.Name(),
		State: state.Kind,
		Count: len(state.Content),
		Items: state.Content,
	}
	if state.Content == nil {
		snapshot.Items = []D{}
	}
	if state.Err != nil {
		snapshot.Error = state.Err.Error()
	}
	return snapshot
}

// Erase adapts a paginator to Feed.
func Erase[DTO, D any, ID comparable](paginator *pagination.Paginator[DTO, D, ID]) Feed {
	return erased[DTO, D, ID]{Paginator: paginator}
}

// Registry holds the named feeds of one account.
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]Feed
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{feeds: make(map[string]Feed)}
}

// Register adds feed under its name.
func (r *Registry) Register(feed Feed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.feeds[feed.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrFeedExists, feed.Name())
	}
	r.feeds[feed.Name()] = feed
	return nil
}

// Get looks a feed up by name.
func (r *Registry) Get(name string) (Feed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	feed, ok := r.feeds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFeedNotFound, name)
	}
	return feed, nil
}

// Names lists registered feed names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.feeds))
	for name := range r.feeds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
