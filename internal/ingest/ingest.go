// Package ingest flattens remote payloads into the entity stores. The pull and push paths
// both write through it so every entity is merged the same way.
package ingest

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/feedsync/internal/api"
	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"github.com/MarcoPoloResearchLab/feedsync/internal/store"
	"go.uber.org/zap"
)

const (
	opIngestorNew = "ingest.new"
	opIngestNote  = "ingest.note"
	opIngestUser  = "ingest.user"
	opIngestFile  = "ingest.file"
	opIngestNotif = "ingest.notification"
)

var (
	errMissingStores   = errors.New("note, user and file stores are required")
	errInvalidAccount  = errors.New("account scope must be positive")
	errMissingNotifies = errors.New("notification store is required")
)

// ServiceError carries an operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Policy decides what happens to a payload whose note id is tombstoned.
type Policy int

const (
	// SkipDeleted leaves tombstoned notes deleted. Used for fetched pages and updates.
	SkipDeleted Policy = iota
	// ReviveDeleted re-creates tombstoned notes. Used for pushed note creations.
	ReviveDeleted
)

// Config wires an Ingestor for one account.
type Config struct {
	Account       model.AccountID
	InstanceHost  string
	Notes         *store.NoteStore
	Users         *store.UserStore
	Files         *store.FileStore
	Notifications *store.NotificationStore
	Logger        *zap.Logger
}

// Ingestor writes converted payloads into the stores of one account.
type Ingestor struct {
	account       model.AccountID
	instanceHost  string
	notes         *store.NoteStore
	users         *store.UserStore
	files         *store.FileStore
	notifications *store.NotificationStore
	logger        *zap.Logger
}

// New validates cfg.
func New(cfg Config) (*Ingestor, error) {
	if cfg.Account <= 0 {
		return nil, newServiceError(opIngestorNew, "invalid_account", errInvalidAccount)
	}
	if cfg.Notes == nil || cfg.Users == nil || cfg.Files == nil {
		return nil, newServiceError(opIngestorNew, "missing_store", errMissingStores)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		account:       cfg.Account,
		instanceHost:  cfg.InstanceHost,
		notes:         cfg.Notes,
		users:         cfg.Users,
		files:         cfg.Files,
		notifications: cfg.Notifications,
		logger:        logger,
	}, nil
}

// Account returns the account scope of ingested entities.
func (in *Ingestor) Account() model.AccountID {
	return in.account
}

// Notes ingests a fetched page and returns the stored top-level notes in page order.
// Tombstoned and malformed notes are left out.
func (in *Ingestor) Notes(dtos []api.NoteDTO) []model.Note {
	notes := make([]model.Note, 0, len(dtos))
	for _, dto := range dtos {
		note, err := in.Note(dto, SkipDeleted)
		if err != nil {
			if !errors.Is(err, model.ErrDeleted) {
				in.logError(opIngestNote, "convert_failed", err, zap.String("note_id", dto.ID))
			}
			continue
		}
		notes = append(notes, note)
	}
	return notes
}

// Note ingests one note together with its author, files and embedded renote and reply.
// Embedded notes always use SkipDeleted. A skipped note yields a *model.DeletedError.
func (in *Ingestor) Note(dto api.NoteDTO, policy Policy) (model.Note, error) {
	for _, embedded := range []*api.NoteDTO{dto.Renote, dto.Reply} {
		if embedded == nil {
			continue
		}
		if _, err := in.Note(*embedded, SkipDeleted); err != nil && !errors.Is(err, model.ErrDeleted) {
			in.logError(opIngestNote, "embedded_note_failed", err, zap.String("note_id", embedded.ID))
		}
	}

	note, err := ConvertNote(in.account, dto)
	if err != nil {
		return model.Note{}, newServiceError(opIngestNote, "invalid_payload", err)
	}
	if policy == SkipDeleted && in.notes.IsDeleted(note.ID) {
		return model.Note{}, &model.DeletedError{Kind: in.notes.Kind(), ID: note.ID.String()}
	}

	if dto.User.ID != "" {
		if _, err := in.User(dto.User); err != nil {
			in.logError(opIngestUser, "author_failed", err, zap.String("note_id", dto.ID))
		}
	}
	in.addFiles(dto.Files)
	if policy == ReviveDeleted {
		in.notes.Add(note)
		return note, nil
	}
	// The author write above runs listeners, which may delete the note in the meantime.
	if _, added := in.notes.AddUnlessDeleted(note); !added {
		return model.Note{}, &model.DeletedError{Kind: in.notes.Kind(), ID: note.ID.String()}
	}
	return note, nil
}

// UpdateNote applies a pushed update. Tombstoned notes stay deleted.
func (in *Ingestor) UpdateNote(dto api.NoteDTO) (model.Note, error) {
	return in.Note(dto, SkipDeleted)
}

// User ingests one user, merging a simple payload into a cached detailed user.
func (in *Ingestor) User(dto api.UserDTO) (model.User, error) {
	user, err := ConvertUser(in.account, in.instanceHost, dto)
	if err != nil {
		return model.User{}, newServiceError(opIngestUser, "invalid_payload", err)
	}
	in.users.Add(user)
	stored, err := in.users.Get(user.ID)
	if err != nil {
		return user, nil
	}
	return stored, nil
}

// Users ingests several users and returns the stored values in order.
func (in *Ingestor) Users(dtos []api.UserDTO) []model.User {
	users := make([]model.User, 0, len(dtos))
	for _, dto := range dtos {
		user, err := in.User(dto)
		if err != nil {
			in.logError(opIngestUser, "convert_failed", err, zap.String("user_id", dto.ID))
			continue
		}
		users = append(users, user)
	}
	return users
}

func (in *Ingestor) addFiles(dtos []api.FilePropertyDTO) {
	if len(dtos) == 0 {
		return
	}
	files := make([]model.FileProperty, 0, len(dtos))
	for _, dto := range dtos {
		file, err := ConvertFile(in.account, dto)
		if err != nil {
			in.logError(opIngestFile, "convert_failed", err, zap.String("file_id", dto.ID))
			continue
		}
		files = append(files, file)
	}
	in.files.AddAll(files)
}

// Notification ingests one notification with its embedded user and note.
func (in *Ingestor) Notification(dto api.NotificationDTO) (model.Notification, error) {
	if in.notifications == nil {
		return model.Notification{}, newServiceError(opIngestNotif, "missing_store", errMissingNotifies)
	}
	notification, err := ConvertNotification(in.account, dto)
	if err != nil {
		return model.Notification{}, newServiceError(opIngestNotif, "invalid_payload", err)
	}
	if dto.User != nil && dto.User.ID != "" {
		if _, err := in.User(*dto.User); err != nil {
			in.logError(opIngestUser, "notifier_failed", err, zap.String("notification_id", dto.ID))
		}
	}
	if dto.Note != nil {
		if _, err := in.Note(*dto.Note, SkipDeleted); err != nil && !errors.Is(err, model.ErrDeleted) {
			in.logError(opIngestNote, "notification_note_failed", err, zap.String("notification_id", dto.ID))
		}
	}
	in.notifications.Add(notification)
	return notification, nil
}

// Notifications ingests a fetched page of notifications.
func (in *Ingestor) Notifications(dtos []api.NotificationDTO) []model.Notification {
	notifications := make([]model.Notification, 0, len(dtos))
	for _, dto := range dtos {
		notification, err := in.Notification(dto)
		if err != nil {
			in.logError(opIngestNotif, "convert_failed", err, zap.String("notification_id", dto.ID))
			continue
		}
		notifications = append(notifications, notification)
	}
	return notifications
}

func (in *Ingestor) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	in.logger.Warn("ingest error", attrs...)
}
