package ingest

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/feedsync/internal/api"
	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"github.com/MarcoPoloResearchLab/feedsync/internal/store"
	"github.com/stretchr/testify/require"
)

const pagePayload = `[
  {
    "id": "n2",
    "createdAt": "2024-03-01T10:00:00Z",
    "text": null,
    "userId": "u1",
    "user": {"id": "u1", "username": "alice", "host": null, "name": "Alice"},
    "renoteId": "n1",
    "renote": {
      "id": "n1",
      "createdAt": "2024-02-28T10:00:00Z",
      "text": "original",
      "userId": "u2",
      "user": {"id": "u2", "username": "bob", "host": "remote.example", "avatarUrl": "https://remote.example/bob.png"},
      "fileIds": ["f1"],
      "files": [{"id": "f1", "name": "cat.png", "type": "image/png", "url": "https://files/cat.png", "isSensitive": false, "size": 42, "createdAt": "2024-02-28T10:00:00Z"}],
      "visibility": "specified",
      "visibleUserIds": ["u1"],
      "poll": {"choices": [{"text": "yes", "votes": 2, "isVoted": false}], "multiple": false}
    },
    "visibility": "home",
    "reactions": {":like:": 2}
  }
]`

type fixture struct {
	notes         *store.NoteStore
	users         *store.UserStore
	files         *store.FileStore
	notifications *store.NotificationStore
	ingestor      *Ingestor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		notes:         store.NewNoteStore(nil),
		users:         store.NewUserStore(nil),
		files:         store.NewFileStore(nil),
		notifications: store.NewNotificationStore(nil),
	}
	ingestor, err := New(Config{
		Account:       1,
		InstanceHost:  "home.example",
		Notes:         f.notes,
		Users:         f.users,
		Files:         f.files,
		Notifications: f.notifications,
	})
	require.NoError(t, err)
	f.ingestor = ingestor
	return f
}

func decodeNotes(t *testing.T, raw string) []api.NoteDTO {
	t.Helper()
	var dtos []api.NoteDTO
	require.NoError(t, json.Unmarshal([]byte(raw), &dtos))
	return dtos
}

func TestNotesFlattensEmbeddedEntities(t *testing.T) {
	f := newFixture(t)

	notes := f.ingestor.Notes(decodeNotes(t, pagePayload))
	require.Len(t, notes, 1)
	require.Equal(t, "n2", notes[0].ID.Remote)
	require.True(t, notes[0].IsRenote())
	require.False(t, notes[0].IsQuote())
	require.Equal(t, model.VisibilityHome, notes[0].Visibility.Kind)
	require.Equal(t, []model.ReactionCount{{Reaction: ":like:", Count: 2}}, notes[0].ReactionCounts)

	require.Equal(t, 2, f.notes.Len())
	renote, err := f.notes.Get(model.NoteID{Account: 1, Remote: "n1"})
	require.NoError(t, err)
	require.Equal(t, model.VisibilitySpecified, renote.Visibility.Kind)
	require.Equal(t, []model.UserID{{Account: 1, Remote: "u1"}}, renote.Visibility.Recipients)
	require.NotNil(t, renote.Poll)
	require.Len(t, renote.FileIDs, 1)

	require.Equal(t, 2, f.users.Len())
	bob, err := f.users.Get(model.UserID{Account: 1, Remote: "u2"})
	require.NoError(t, err)
	require.False(t, bob.Profile.IsSameHost)
	require.Equal(t, "@bob@remote.example", bob.DisplayUserName())
	alice, err := f.users.Get(model.UserID{Account: 1, Remote: "u1"})
	require.NoError(t, err)
	require.True(t, alice.Profile.IsSameHost)
	require.False(t, alice.IsDetail())

	require.Equal(t, 1, f.files.Len())
}

func TestNotesSkipsTombstonedIDs(t *testing.T) {
	f := newFixture(t)
	f.notes.Remove(model.NoteID{Account: 1, Remote: "n2"})

	notes := f.ingestor.Notes(decodeNotes(t, pagePayload))
	require.Empty(t, notes)
	require.True(t, f.notes.IsDeleted(model.NoteID{Account: 1, Remote: "n2"}))
}

func TestNoteDeletedDuringAuthorWriteStaysDeleted(t *testing.T) {
	f := newFixture(t)
	id := model.NoteID{Account: 1, Remote: "n2"}
	detach := f.users.AddListener(func(event store.Event[model.UserID, model.User]) {
		if event.ID.Remote == "u1" {
			f.notes.Remove(id)
		}
	})
	defer detach()

	notes := f.ingestor.Notes(decodeNotes(t, pagePayload))
	require.Empty(t, notes)
	require.True(t, f.notes.IsDeleted(id))
	_, err := f.notes.Get(id)
	require.ErrorIs(t, err, model.ErrDeleted)
}

func TestReviveDeletedRecreatesNote(t *testing.T) {
	f := newFixture(t)
	dtos := decodeNotes(t, pagePayload)
	id := model.NoteID{Account: 1, Remote: "n2"}
	f.notes.Remove(id)

	_, err := f.ingestor.UpdateNote(dtos[0])
	var deleted *model.DeletedError
	require.True(t, errors.As(err, &deleted))

	_, err = f.ingestor.Note(dtos[0], ReviveDeleted)
	require.NoError(t, err)
	_, err = f.notes.Get(id)
	require.NoError(t, err)
}

func TestMalformedNoteIsSkipped(t *testing.T) {
	f := newFixture(t)
	notes := f.ingestor.Notes([]api.NoteDTO{{ID: "", UserID: "u1"}, {ID: "ok", UserID: "u1"}})
	require.Len(t, notes, 1)
	require.Equal(t, "ok", notes[0].ID.Remote)
}

func TestDetailedUserSurvivesEmbeddedSimpleUser(t *testing.T) {
	f := newFixture(t)
	var detail api.UserDTO
	require.NoError(t, json.Unmarshal([]byte(`{"id":"u1","username":"alice","name":"Old","isFollowing":true,"isLocked":true,"followersCount":10,"description":"bio"}`), &detail))
	_, err := f.ingestor.User(detail)
	require.NoError(t, err)

	f.ingestor.Notes(decodeNotes(t, pagePayload))

	stored, err := f.users.Get(model.UserID{Account: 1, Remote: "u1"})
	require.NoError(t, err)
	require.True(t, stored.IsDetail())
	require.Equal(t, "Alice", stored.Profile.Name)
	require.Equal(t, "bio", stored.Detail.Description)
	require.Equal(t, model.FollowStateFollowing, stored.FollowState())
}

func TestNotificationsIngestNotifierAndNote(t *testing.T) {
	f := newFixture(t)
	var dtos []api.NotificationDTO
	require.NoError(t, json.Unmarshal([]byte(`[{
		"id": "nf1", "createdAt": "2024-03-01T10:00:00Z", "type": "reaction", "reaction": ":like:",
		"userId": "u3", "user": {"id": "u3", "username": "carol"},
		"note": {"id": "n9", "createdAt": "2024-03-01T09:00:00Z", "text": "hi", "userId": "u1", "user": {"id": "u1", "username": "alice"}}
	}]`), &dtos))

	notifications := f.ingestor.Notifications(dtos)
	require.Len(t, notifications, 1)
	require.Equal(t, "u3", notifications[0].UserID.Remote)
	require.Equal(t, "n9", notifications[0].NoteID.Remote)
	require.Equal(t, 1, f.notifications.Len())
	require.Equal(t, 1, f.notes.Len())
	require.Equal(t, 2, f.users.Len())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Account: 1})
	var serviceErr *ServiceError
	require.ErrorAs(t, err, &serviceErr)
	require.Equal(t, "ingest.new.missing_store", serviceErr.Code())

	_, err = New(Config{})
	require.ErrorIs(t, err, errInvalidAccount)
}
