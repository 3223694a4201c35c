package pagination

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedPage struct {
	items []int
	err   error
	// gate blocks the load until closed.
	gate chan struct{}
}

type scriptedLoader struct {
	mu       sync.Mutex
	pages    []scriptedPage
	untilIDs []*int
	sinceIDs []*int
	started  chan struct{}
}

func newScriptedLoader(pages ...scriptedPage) *scriptedLoader {
	return &scriptedLoader{pages: pages, started: make(chan struct{}, 8)}
}

func (l *scriptedLoader) pop() scriptedPage {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pages) == 0 {
		return scriptedPage{}
	}
	next := l.pages[0]
	l.pages = l.pages[1:]
	return next
}

func (l *scriptedLoader) serve(ctx context.Context) ([]int, error) {
	next := l.pop()
	l.started <- struct{}{}
	if next.gate != nil {
		select {
		case <-next.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return next.items, next.err
}

func (l *scriptedLoader) LoadPrevious(ctx context.Context, untilID *int) ([]int, error) {
	l.mu.Lock()
	l.untilIDs = append(l.untilIDs, untilID)
	l.mu.Unlock()
	return l.serve(ctx)
}

func (l *scriptedLoader) LoadFuture(ctx context.Context, sinceID *int) ([]int, error) {
	l.mu.Lock()
	l.sinceIDs = append(l.sinceIDs, sinceID)
	l.mu.Unlock()
	return l.serve(ctx)
}

type item struct {
	ID    int
	Label string
}

var toItems = ConverterFunc[int, item](func(_ context.Context, ids []int) ([]item, error) {
	items := make([]item, 0, len(ids))
	for _, id := range ids {
		items = append(items, item{ID: id, Label: "n" + strconv.Itoa(id)})
	}
	return items, nil
})

func newTestPaginator(t *testing.T, loader *scriptedLoader) *Paginator[int, item, int] {
	t.Helper()
	paginator, err := New(Config[int, item, int]{
		Name:      "test",
		Loader:    loader,
		Converter: toItems,
		Identity:  func(value item) int { return value.ID },
	})
	if err != nil {
		t.Fatalf("unexpected paginator error: %v", err)
	}
	return paginator
}

func ids(items []item) []int {
	out := make([]int, 0, len(items))
	for _, value := range items {
		out = append(out, value.ID)
	}
	return out
}

func equalInts(left, right []int) bool {
	if len(left) != len(right) {
		return false
	}
	for index := range left {
		if left[index] != right[index] {
			return false
		}
	}
	return true
}

func TestNextAppendsOlderPageWithoutDuplicates(t *testing.T) {
	loader := newScriptedLoader(scriptedPage{items: []int{5, 4, 3}}, scriptedPage{items: []int{3, 2, 1}})
	paginator := newTestPaginator(t, loader)

	if err := paginator.Next(context.Background()); err != nil {
		t.Fatalf("unexpected first page error: %v", err)
	}
	if err := paginator.Next(context.Background()); err != nil {
		t.Fatalf("unexpected second page error: %v", err)
	}

	state := paginator.State()
	if state.Kind != StateFixed {
		t.Fatalf("expected fixed state, got %s", state.Kind)
	}
	if got := ids(state.Content); !equalInts(got, []int{5, 4, 3, 2, 1}) {
		t.Fatalf("unexpected merged content %v", got)
	}
	if loader.untilIDs[0] != nil {
		t.Fatalf("expected first request without cursor")
	}
	if loader.untilIDs[1] == nil || *loader.untilIDs[1] != 3 {
		t.Fatalf("expected untilId 3 for second request")
	}
}

func TestFirstOccurrenceWinsOnDuplicates(t *testing.T) {
	loader := newScriptedLoader(scriptedPage{items: []int{2, 2, 1}})
	paginator := newTestPaginator(t, loader)
	if err := paginator.Next(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(paginator.State().Content); !equalInts(got, []int{2, 1}) {
		t.Fatalf("unexpected content %v", got)
	}
}

func TestEmptyPageKeepsContentFixed(t *testing.T) {
	loader := newScriptedLoader(scriptedPage{items: []int{3}}, scriptedPage{})
	paginator := newTestPaginator(t, loader)
	_ = paginator.Next(context.Background())
	if err := paginator.Next(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state := paginator.State()
	if state.Kind != StateFixed || !equalInts(ids(state.Content), []int{3}) {
		t.Fatalf("unexpected state %s %v", state.Kind, ids(state.Content))
	}
}

func TestFailureKeepsPreviousContent(t *testing.T) {
	boom := errors.New("boom")
	loader := newScriptedLoader(scriptedPage{items: []int{9, 8}}, scriptedPage{err: boom})
	paginator := newTestPaginator(t, loader)
	_ = paginator.Next(context.Background())

	if err := paginator.Next(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	state := paginator.State()
	if state.Kind != StateError || !errors.Is(state.Err, boom) {
		t.Fatalf("expected error state, got %s (%v)", state.Kind, state.Err)
	}
	if !equalInts(ids(state.Content), []int{9, 8}) {
		t.Fatalf("expected previous content, got %v", ids(state.Content))
	}
}

func TestNextIsNoOpWhileLoading(t *testing.T) {
	gate := make(chan struct{})
	loader := newScriptedLoader(scriptedPage{items: []int{1}, gate: gate})
	paginator := newTestPaginator(t, loader)

	done := make(chan error, 1)
	go func() { done <- paginator.Next(context.Background()) }()
	<-loader.started

	if !paginator.State().IsLoading() {
		t.Fatalf("expected loading state")
	}
	if err := paginator.Next(context.Background()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loader.untilIDs) != 1 {
		t.Fatalf("expected a single fetch, got %d", len(loader.untilIDs))
	}
}

func TestCancellationRestoresPreviousState(t *testing.T) {
	loader := newScriptedLoader(scriptedPage{items: []int{4, 3}}, scriptedPage{items: []int{2}, gate: make(chan struct{})})
	paginator := newTestPaginator(t, loader)
	_ = paginator.Next(context.Background())
	<-loader.started

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- paginator.Next(ctx) }()
	<-loader.started
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	state := paginator.State()
	if state.Kind != StateFixed || !equalInts(ids(state.Content), []int{4, 3}) {
		t.Fatalf("expected previous fixed state, got %s %v", state.Kind, ids(state.Content))
	}
}

func TestRefreshPassesThroughNotExist(t *testing.T) {
	loader := newScriptedLoader(scriptedPage{items: []int{3, 2}}, scriptedPage{items: []int{7, 6}})
	paginator := newTestPaginator(t, loader)
	_ = paginator.Next(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	states, cleanup := paginator.Subscribe(ctx)
	defer cleanup()

	if err := paginator.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}

	var kinds []StateKind
	for len(kinds) < 4 {
		select {
		case state := <-states:
			kinds = append(kinds, state.Kind)
		case <-time.After(time.Second):
			t.Fatalf("expected four states, got %v", kinds)
		}
	}
	want := []StateKind{StateFixed, StateNotExist, StateLoading, StateFixed}
	for index := range want {
		if kinds[index] != want[index] {
			t.Fatalf("unexpected transitions %v", kinds)
		}
	}
	if got := ids(paginator.State().Content); !equalInts(got, []int{7, 6}) {
		t.Fatalf("expected refreshed content, got %v", got)
	}
	if loader.untilIDs[1] != nil {
		t.Fatalf("expected refresh to request the newest page")
	}
}

func TestClearDiscardsInFlightResult(t *testing.T) {
	gate := make(chan struct{})
	loader := newScriptedLoader(scriptedPage{items: []int{1}, gate: gate})
	paginator := newTestPaginator(t, loader)

	done := make(chan error, 1)
	go func() { done <- paginator.Next(context.Background()) }()
	<-loader.started
	paginator.Clear()
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state := paginator.State(); state.Kind != StateNotExist {
		t.Fatalf("expected stale result to be discarded, got %s", state.Kind)
	}
}

func TestNewerPrependsWithSinceID(t *testing.T) {
	loader := newScriptedLoader(scriptedPage{items: []int{5, 4}}, scriptedPage{items: []int{7, 6, 5}})
	paginator := newTestPaginator(t, loader)
	if !paginator.SupportsNewer() {
		t.Fatalf("expected loader to be used as future loader")
	}
	_ = paginator.Next(context.Background())
	if err := paginator.Newer(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(paginator.State().Content); !equalInts(got, []int{7, 6, 5, 4}) {
		t.Fatalf("unexpected content %v", got)
	}
	if len(loader.sinceIDs) != 1 || loader.sinceIDs[0] == nil || *loader.sinceIDs[0] != 5 {
		t.Fatalf("expected sinceId 5")
	}
}

func TestNewerWithoutFutureLoader(t *testing.T) {
	paginator, err := New(Config[int, item, int]{
		Loader:    LoaderFunc[int, int](func(context.Context, *int) ([]int, error) { return nil, nil }),
		Converter: toItems,
		Identity:  func(value item) int { return value.ID },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := paginator.Newer(context.Background()); !errors.Is(err, ErrNoFutureLoader) {
		t.Fatalf("expected ErrNoFutureLoader, got %v", err)
	}
}

func TestNewRequiresRoles(t *testing.T) {
	if _, err := New(Config[int, item, int]{}); !errors.Is(err, errMissingLoader) {
		t.Fatalf("expected missing loader error, got %v", err)
	}
}

func TestClampPageSize(t *testing.T) {
	cases := []struct {
		value int
		want  int
	}{{0, 20}, {-3, 20}, {50, 50}, {500, 100}}
	for _, tc := range cases {
		if got := ClampPageSize(tc.value, DefaultPageSize); got != tc.want {
			t.Fatalf("ClampPageSize(%d) = %d, want %d", tc.value, got, tc.want)
		}
	}
	if got := ClampPageSize(0, PageSizeConfig{}); got != 1 {
		t.Fatalf("expected floor of 1, got %d", got)
	}
}

func TestCursorAdvancesPastFullyDroppedPage(t *testing.T) {
	loader := newScriptedLoader(
		scriptedPage{items: []int{5, 4, 3}},
		scriptedPage{items: []int{2, 1}},
		scriptedPage{items: []int{0}},
	)
	dropLow := ConverterFunc[int, item](func(ctx context.Context, fetched []int) ([]item, error) {
		kept := make([]int, 0, len(fetched))
		for _, id := range fetched {
			if id != 1 && id != 2 {
				kept = append(kept, id)
			}
		}
		return toItems(ctx, kept)
	})
	paginator, err := New(Config[int, item, int]{
		Name:      "dropping",
		Loader:    loader,
		Converter: dropLow,
		Identity:  func(value item) int { return value.ID },
		Cursor:    func(id int) int { return id },
	})
	if err != nil {
		t.Fatalf("unexpected paginator error: %v", err)
	}
	for range 3 {
		if err := paginator.Next(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(loader.untilIDs) != 3 || loader.untilIDs[1] == nil || loader.untilIDs[2] == nil {
		t.Fatalf("expected three cursored requests, got %v", loader.untilIDs)
	}
	if *loader.untilIDs[1] != 3 || *loader.untilIDs[2] != 1 {
		t.Fatalf("unexpected cursors %d then %d", *loader.untilIDs[1], *loader.untilIDs[2])
	}
	if got := ids(paginator.State().Content); !equalInts(got, []int{5, 4, 3, 0}) {
		t.Fatalf("unexpected content %v", got)
	}
	if since := paginator.SinceID(); since == nil || *since != 5 {
		t.Fatalf("expected sinceId 5, got %v", since)
	}
	if until := paginator.UntilID(); until == nil || *until != 0 {
		t.Fatalf("expected untilId 0, got %v", until)
	}

	paginator.Clear()
	if paginator.SinceID() != nil || paginator.UntilID() != nil {
		t.Fatalf("expected clear to reset boundaries")
	}
}
