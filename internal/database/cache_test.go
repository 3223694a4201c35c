package database

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"github.com/MarcoPoloResearchLab/feedsync/internal/store"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func mustOpen(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func sampleNote(remote, author string, created int64) model.Note {
	text := "note " + remote
	return model.Note{
		ID:             model.NoteID{Account: 1, Remote: remote},
		CreatedAt:      time.Unix(created, 0).UTC(),
		Text:           &text,
		UserID:         model.UserID{Account: 1, Remote: author},
		Visibility:     model.PublicVisibility(),
		ReactionCounts: []model.ReactionCount{{Reaction: ":like:", Count: 3}},
	}
}

func TestNoteRepositoryRoundTrip(t *testing.T) {
	repo, err := NewNoteRepository(mustOpen(t))
	require.NoError(t, err)
	ctx := context.Background()

	note := sampleNote("n1", "u1", 1700000000)
	require.NoError(t, repo.Upsert(ctx, note))
	stored, found, err := repo.Get(ctx, note.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, note, stored)

	edited := "edited"
	note.Text = &edited
	require.NoError(t, repo.Upsert(ctx, note))
	stored, _, err = repo.Get(ctx, note.ID)
	require.NoError(t, err)
	require.Equal(t, "edited", *stored.Text)

	require.NoError(t, repo.Delete(ctx, note.ID))
	_, found, err = repo.Get(ctx, note.ID)
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, repo.Delete(ctx, note.ID))
}

func TestNoteRepositoryGetInKeepsOrderAndScope(t *testing.T) {
	repo, err := NewNoteRepository(mustOpen(t))
	require.NoError(t, err)
	ctx := context.Background()
	for _, note := range []model.Note{sampleNote("a", "u1", 1), sampleNote("b", "u1", 2), sampleNote("c", "u2", 3)} {
		require.NoError(t, repo.Upsert(ctx, note))
	}

	notes, err := repo.GetIn(ctx, []model.NoteID{
		{Account: 1, Remote: "c"},
		{Account: 1, Remote: "missing"},
		{Account: 2, Remote: "a"},
		{Account: 1, Remote: "a"},
	})
	require.NoError(t, err)
	require.Len(t, notes, 2)
	require.Equal(t, "c", notes[0].ID.Remote)
	require.Equal(t, "a", notes[1].ID.Remote)
}

func TestNoteRepositoryQueryByUser(t *testing.T) {
	repo, err := NewNoteRepository(mustOpen(t))
	require.NoError(t, err)
	ctx := context.Background()
	for _, note := range []model.Note{sampleNote("a", "u1", 1), sampleNote("b", "u1", 3), sampleNote("c", "u2", 2), sampleNote("d", "u1", 2)} {
		require.NoError(t, repo.Upsert(ctx, note))
	}

	notes, err := repo.QueryByUser(ctx, model.UserID{Account: 1, Remote: "u1"}, 2)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	require.Equal(t, "b", notes[0].ID.Remote)
	require.Equal(t, "d", notes[1].ID.Remote)
}

func TestUserRepositoryKeepsDetail(t *testing.T) {
	repo, err := NewUserRepository(mustOpen(t))
	require.NoError(t, err)
	ctx := context.Background()
	id := model.UserID{Account: 1, Remote: "u1"}

	detail := model.NewDetailUser(id, model.UserProfile{UserName: "alice", Host: "Remote.Example"}, model.UserDetail{FollowersCount: 7})
	require.NoError(t, repo.Upsert(ctx, detail))
	require.NoError(t, repo.Upsert(ctx, model.NewSimpleUser(id, model.UserProfile{UserName: "alice", Name: "Alice"})))

	stored, found, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, stored.IsDetail())
	require.Equal(t, 7, stored.Detail.FollowersCount)
	require.Equal(t, "Alice", stored.Profile.Name)

	users, err := repo.GetIn(ctx, []model.UserID{id, {Account: 1, Remote: "ghost"}})
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func TestMirrorPersistsAndMediatorWarms(t *testing.T) {
	db := mustOpen(t)
	repo, err := NewNoteRepository(db)
	require.NoError(t, err)
	ctx := context.Background()

	first := store.NewNoteStore(nil)
	mirror := store.NewMirror(first.Store, repo, nil)
	first.Add(sampleNote("n1", "u1", 1))
	first.Add(sampleNote("n2", "u1", 2))
	first.Remove(model.NoteID{Account: 1, Remote: "n2"})
	mirror.Flush(ctx)

	// A fresh memory store warms from the database on read.
	second := store.NewNoteStore(nil)
	mediator := store.NewMediator(second.Store, repo, nil)
	note, err := mediator.Get(ctx, model.NoteID{Account: 1, Remote: "n1"})
	require.NoError(t, err)
	require.Equal(t, "note n1", *note.Text)
	require.Equal(t, 1, second.Len())

	_, err = mediator.Get(ctx, model.NoteID{Account: 1, Remote: "n2"})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestRepositoriesRequireDatabase(t *testing.T) {
	_, err := NewNoteRepository(nil)
	require.ErrorIs(t, err, errMissingDatabase)
	_, err = NewUserRepository(nil)
	require.ErrorIs(t, err, errMissingDatabase)
}
