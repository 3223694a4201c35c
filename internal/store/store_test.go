package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mustNoteID(t *testing.T, remote string) model.NoteID {
	t.Helper()
	id, err := model.NewNoteID(1, remote)
	if err != nil {
		t.Fatalf("unexpected note id error: %v", err)
	}
	return id
}

func mustUserID(t *testing.T, remote string) model.UserID {
	t.Helper()
	id, err := model.NewUserID(1, remote)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func testNote(t *testing.T, remote, author string) model.Note {
	t.Helper()
	text := "text of " + remote
	return model.Note{
		ID:         mustNoteID(t, remote),
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
		Text:       &text,
		UserID:     mustUserID(t, author),
		Visibility: model.PublicVisibility(),
	}
}

func TestAddReportsCreatedThenUpdated(t *testing.T) {
	notes := NewNoteStore(nil)
	note := testNote(t, "note-1", "user-1")

	if result := notes.Add(note); result != Created {
		t.Fatalf("expected first add to create, got %s", result)
	}
	if result := notes.Add(note); result != Updated {
		t.Fatalf("expected second add to update, got %s", result)
	}
	stored, err := notes.Get(note.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if stored.ID != note.ID || *stored.Text != *note.Text {
		t.Fatalf("unexpected stored note: %#v", stored)
	}
}

func TestGetDistinguishesDeletedFromNotFound(t *testing.T) {
	notes := NewNoteStore(nil)
	note := testNote(t, "note-1", "user-1")
	notes.Add(note)

	if removed := notes.Remove(note.ID); !removed {
		t.Fatalf("expected remove to report presence")
	}
	_, err := notes.Get(note.ID)
	var deleted *model.DeletedError
	if !errors.As(err, &deleted) {
		t.Fatalf("expected DeletedError, got %v", err)
	}

	_, err = notes.Get(mustNoteID(t, "never-seen"))
	var notFound *model.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRemoveUnknownIDReturnsFalseWithoutEvent(t *testing.T) {
	notes := NewNoteStore(nil)
	var events []NoteEvent
	remove := notes.AddListener(func(event NoteEvent) {
		events = append(events, event)
	})
	defer remove()

	if notes.Remove(mustNoteID(t, "ghost")) {
		t.Fatalf("expected remove of unknown id to return false")
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if !notes.IsDeleted(mustNoteID(t, "ghost")) {
		t.Fatalf("expected unknown id to be tombstoned")
	}
}

func TestAddRevivesTombstonedID(t *testing.T) {
	notes := NewNoteStore(nil)
	note := testNote(t, "note-1", "user-1")
	notes.Add(note)
	notes.Remove(note.ID)

	if result := notes.Add(note); result != Created {
		t.Fatalf("expected revived note to be created, got %s", result)
	}
	if _, err := notes.Get(note.ID); err != nil {
		t.Fatalf("expected revived note to be readable: %v", err)
	}
}

func TestAddUnlessDeletedKeepsTombstone(t *testing.T) {
	notes := NewNoteStore(nil)
	note := testNote(t, "note-1", "user-1")
	if result, added := notes.AddUnlessDeleted(note); !added || result != Created {
		t.Fatalf("expected live id to be created, got %s %v", result, added)
	}
	notes.Remove(note.ID)

	if _, added := notes.AddUnlessDeleted(note); added {
		t.Fatalf("expected tombstoned id to be rejected")
	}
	if !notes.IsDeleted(note.ID) {
		t.Fatalf("expected tombstone to survive")
	}
	if notes.Len() != 0 {
		t.Fatalf("expected no live entries, got %d", notes.Len())
	}
}

func TestGetInOmitsMissingAndKeepsOrder(t *testing.T) {
	notes := NewNoteStore(nil)
	notes.AddAll([]model.Note{testNote(t, "a", "u"), testNote(t, "b", "u"), testNote(t, "c", "u")})

	found := notes.GetIn([]model.NoteID{mustNoteID(t, "c"), mustNoteID(t, "missing"), mustNoteID(t, "a")})
	if len(found) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(found))
	}
	if found[0].ID.Remote != "c" || found[1].ID.Remote != "a" {
		t.Fatalf("unexpected order: %s, %s", found[0].ID.Remote, found[1].ID.Remote)
	}
}

func TestRemoveByUserIDPurgesAuthorNotes(t *testing.T) {
	notes := NewNoteStore(nil)
	notes.AddAll([]model.Note{
		testNote(t, "a", "blocked"),
		testNote(t, "b", "blocked"),
		testNote(t, "c", "friend"),
	})

	if count := notes.RemoveByUserID(mustUserID(t, "blocked")); count != 2 {
		t.Fatalf("expected 2 removed notes, got %d", count)
	}
	if notes.Len() != 1 {
		t.Fatalf("expected 1 remaining note, got %d", notes.Len())
	}
	if !notes.IsDeleted(mustNoteID(t, "a")) {
		t.Fatalf("expected purged note to be tombstoned")
	}
}

func TestUpdateAppliesFunctionAtomically(t *testing.T) {
	notes := NewNoteStore(nil)
	note := testNote(t, "note-1", "user-1")
	notes.Add(note)

	var wg sync.WaitGroup
	for index := 0; index < 50; index++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := notes.Update(note.ID, func(current model.Note) model.Note {
				return current.Reacted(":like:", false)
			}); err != nil {
				t.Errorf("unexpected update error: %v", err)
			}
		}()
	}
	wg.Wait()

	stored, _ := notes.Get(note.ID)
	if len(stored.ReactionCounts) != 1 || stored.ReactionCounts[0].Count != 50 {
		t.Fatalf("unexpected reaction counts: %#v", stored.ReactionCounts)
	}

	if _, err := notes.Update(mustNoteID(t, "missing"), func(current model.Note) model.Note { return current }); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing note, got %v", err)
	}
}

func TestListenerMayCallBackIntoStore(t *testing.T) {
	notes := NewNoteStore(nil)
	var mu sync.Mutex
	var seen []string
	remove := notes.AddListener(func(event NoteEvent) {
		mu.Lock()
		seen = append(seen, string(event.Type)+":"+event.ID.Remote)
		mu.Unlock()
		if event.Type == EventCreated && event.ID.Remote == "parent" {
			notes.Add(testNote(t, "child", "user-1"))
			if _, err := notes.Get(event.ID); err != nil {
				t.Errorf("unexpected get error inside listener: %v", err)
			}
		}
	})
	defer remove()

	done := make(chan struct{})
	go func() {
		notes.Add(testNote(t, "parent", "user-1"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener re-entry deadlocked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "created:parent" || seen[1] != "created:child" {
		t.Fatalf("unexpected event order: %v", seen)
	}
}

func TestEventsFollowMutationOrder(t *testing.T) {
	notes := NewNoteStore(nil)
	var mu sync.Mutex
	var sequences []uint64
	remove := notes.AddListener(func(event NoteEvent) {
		mu.Lock()
		sequences = append(sequences, event.Sequence)
		mu.Unlock()
	})
	defer remove()

	var wg sync.WaitGroup
	for index := 0; index < 20; index++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			notes.Add(testNote(t, "shared", "user-1"))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(sequences) != 20 {
		t.Fatalf("expected 20 events, got %d", len(sequences))
	}
	for index, sequence := range sequences {
		if sequence != uint64(index+1) {
			t.Fatalf("event %d delivered out of order with sequence %d", index, sequence)
		}
	}
}

func TestConcurrentSimpleAndDetailConverge(t *testing.T) {
	for iteration := 0; iteration < 20; iteration++ {
		users := NewUserStore(nil)
		id := mustUserID(t, "user-1")
		simple := model.NewSimpleUser(id, model.UserProfile{UserName: "alice", Name: "From Simple"})
		detail := model.NewDetailUser(id, model.UserProfile{UserName: "alice", Name: "From Detail"}, model.UserDetail{
			Description:    "bio",
			FollowersCount: 7,
		})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); users.Add(simple) }()
		go func() { defer wg.Done(); users.Add(detail) }()
		wg.Wait()

		stored, err := users.Get(id)
		if err != nil {
			t.Fatalf("unexpected get error: %v", err)
		}
		if !stored.IsDetail() {
			t.Fatalf("expected detailed user after both writes")
		}
		if stored.Detail.Description != "bio" || stored.Detail.FollowersCount != 7 {
			t.Fatalf("detail fields lost: %#v", stored.Detail)
		}
		if stored.Profile.Name != "From Simple" && stored.Profile.Name != "From Detail" {
			t.Fatalf("unexpected name %q", stored.Profile.Name)
		}
	}
}

func TestSimpleAfterDetailKeepsDetailFields(t *testing.T) {
	users := NewUserStore(nil)
	id := mustUserID(t, "user-1")
	users.Add(model.NewDetailUser(id, model.UserProfile{UserName: "alice", Name: "Old"}, model.UserDetail{IsFollowing: true}))
	users.Add(model.NewSimpleUser(id, model.UserProfile{UserName: "alice", Name: "New"}))

	stored, _ := users.Get(id)
	if stored.Profile.Name != "New" {
		t.Fatalf("expected simple write to update name, got %q", stored.Profile.Name)
	}
	if !stored.IsDetail() || !stored.Detail.IsFollowing {
		t.Fatalf("expected following flag to survive simple write")
	}
}

func TestFindByUserName(t *testing.T) {
	users := NewUserStore(nil)
	users.Add(model.NewSimpleUser(mustUserID(t, "user-1"), model.UserProfile{UserName: "alice", Host: "remote.example"}))

	if _, ok := users.FindByUserName(1, "alice", "REMOTE.example"); !ok {
		t.Fatalf("expected host match to be case insensitive")
	}
	if _, ok := users.FindByUserName(1, "alice", ""); !ok {
		t.Fatalf("expected empty host to match any host")
	}
	if _, ok := users.FindByUserName(2, "alice", ""); ok {
		t.Fatalf("expected other account not to match")
	}
}

func TestSubscribeDeliversAndClosesOnCleanup(t *testing.T) {
	notes := NewNoteStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := notes.Subscribe(ctx)
	note := testNote(t, "note-1", "user-1")
	notes.Add(note)
	notes.Remove(note.ID)

	for _, want := range []EventType{EventCreated, EventDeleted} {
		select {
		case event := <-stream:
			if event.Type != want {
				t.Fatalf("expected %s, got %s", want, event.Type)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("expected %s event within deadline", want)
		}
	}

	cleanup()
	if _, open := <-stream; open {
		t.Fatalf("expected stream to be closed after cleanup")
	}
}

func TestSubscribeClosesWhenContextEnds(t *testing.T) {
	notes := NewNoteStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stream, _ := notes.Subscribe(ctx)
	cancel()

	select {
	case _, open := <-stream:
		if open {
			t.Fatalf("expected closed stream")
		}
	case <-time.After(time.Second):
		t.Fatal("expected stream to close after cancellation")
	}
}
