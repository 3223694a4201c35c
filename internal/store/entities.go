package store

import (
	"strings"

	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"go.uber.org/zap"
)

// Event aliases for the concrete stores.
type (
	NoteEvent         = Event[model.NoteID, model.Note]
	UserEvent         = Event[model.UserID, model.User]
	FileEvent         = Event[model.FileID, model.FileProperty]
	NotificationEvent = Event[model.NotificationID, model.Notification]
)

// NoteStore caches notes. Incoming notes replace cached ones.
type NoteStore struct {
	*Store[model.NoteID, model.Note]
}

// NewNoteStore constructs the note store.
func NewNoteStore(logger *zap.Logger) *NoteStore {
	return &NoteStore{Store: New(Config[model.NoteID, model.Note]{
		Kind:   "note",
		Key:    func(note model.Note) model.NoteID { return note.ID },
		Logger: logger,
	})}
}

// RemoveByUserID purges every cached note authored by userID.
func (s *NoteStore) RemoveByUserID(userID model.UserID) int {
	return s.RemoveWhere(func(note model.Note) bool {
		return note.UserID == userID
	})
}

// UserStore caches users and merges simple updates into detailed entries.
type UserStore struct {
	*Store[model.UserID, model.User]
}

// NewUserStore constructs the user store.
func NewUserStore(logger *zap.Logger) *UserStore {
	return &UserStore{Store: New(Config[model.UserID, model.User]{
		Kind:   "user",
		Key:    func(user model.User) model.UserID { return user.ID },
		Merge:  model.MergeUser,
		Logger: logger,
	})}
}

// FindByUserName looks a user up by acct within one account. An empty host matches any host.
func (s *UserStore) FindByUserName(account model.AccountID, userName, host string) (model.User, bool) {
	host = strings.TrimSpace(host)
	return s.Find(func(user model.User) bool {
		if user.ID.Account != account || user.Profile.UserName != userName {
			return false
		}
		return host == "" || strings.EqualFold(user.Profile.Host, host)
	})
}

// FileStore caches drive files.
type FileStore struct {
	*Store[model.FileID, model.FileProperty]
}

// NewFileStore constructs the file store.
func NewFileStore(logger *zap.Logger) *FileStore {
	return &FileStore{Store: New(Config[model.FileID, model.FileProperty]{
		Kind:   "file",
		Key:    func(file model.FileProperty) model.FileID { return file.ID },
		Logger: logger,
	})}
}

// NotificationStore caches notifications.
type NotificationStore struct {
	*Store[model.NotificationID, model.Notification]
}

// NewNotificationStore constructs the notification store.
func NewNotificationStore(logger *zap.Logger) *NotificationStore {
	return &NotificationStore{Store: New(Config[model.NotificationID, model.Notification]{
		Kind:   "notification",
		Key:    func(notification model.Notification) model.NotificationID { return notification.ID },
		Logger: logger,
	})}
}
