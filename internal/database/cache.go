package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/feedsync/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryAccountNote   = "account_id = ? AND note_id = ?"
	queryAccountNoteIn = "account_id = ? AND note_id IN ?"
	queryAccountUser   = "account_id = ? AND user_id = ?"
	queryAccountUserIn = "account_id = ? AND user_id IN ?"
)

var errMissingDatabase = errors.New("database: connection required")

// cachedNote persists one note payload for an account.
type cachedNote struct {
	AccountID        int64  `gorm:"column:account_id;primaryKey;not null;index:idx_cached_notes_user,priority:1"`
	NoteID           string `gorm:"column:note_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;index:idx_cached_notes_user,priority:2"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index"`
	Payload          string `gorm:"column:payload;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

func (cachedNote) TableName() string {
	return "cached_notes"
}

// cachedUser persists one user payload for an account.
type cachedUser struct {
	AccountID        int64  `gorm:"column:account_id;primaryKey;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	UserName         string `gorm:"column:user_name;size:190;not null;index"`
	Host             string `gorm:"column:host;size:255"`
	Detail           bool   `gorm:"column:detail;not null;default:false"`
	Payload          string `gorm:"column:payload;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

func (cachedUser) TableName() string {
	return "cached_users"
}

// NoteRepository stores notes in SQLite and satisfies the store's secondary interface.
type NoteRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewNoteRepository wraps an opened database.
func NewNoteRepository(db *gorm.DB) (*NoteRepository, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &NoteRepository{db: db, now: time.Now}, nil
}

// Get loads one note. A missing row reports found=false without error.
func (r *NoteRepository) Get(ctx context.Context, id model.NoteID) (model.Note, bool, error) {
	var record cachedNote
	err := r.db.WithContext(ctx).
		Where(queryAccountNote, id.Account.Int64(), id.Remote).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Note{}, false, nil
	}
	if err != nil {
		return model.Note{}, false, err
	}
	note, err := decodeNote(record)
	if err != nil {
		return model.Note{}, false, err
	}
	return note, true, nil
}

// GetIn loads the stored subset of ids in request order.
func (r *NoteRepository) GetIn(ctx context.Context, ids []model.NoteID) ([]model.Note, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	byAccount := groupByAccount(ids, func(id model.NoteID) (model.AccountID, string) { return id.Account, id.Remote })
	found := make(map[model.NoteID]model.Note, len(ids))
	for account, remotes := range byAccount {
		var records []cachedNote
		if err := r.db.WithContext(ctx).
			Where(queryAccountNoteIn, account.Int64(), remotes).
			Find(&records).Error; err != nil {
			return nil, err
		}
		for _, record := range records {
			note, err := decodeNote(record)
			if err != nil {
				return nil, err
			}
			found[note.ID] = note
		}
	}
	return inOrder(ids, found), nil
}

// Upsert writes note, replacing a stored payload.
func (r *NoteRepository) Upsert(ctx context.Context, note model.Note) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("database: encode note %s: %w", note.ID, err)
	}
	record := cachedNote{
		AccountID:        note.ID.Account.Int64(),
		NoteID:           note.ID.Remote,
		UserID:           note.UserID.Remote,
		CreatedAtSeconds: note.CreatedAt.Unix(),
		Payload:          string(payload),
		UpdatedAtSeconds: r.now().UTC().Unix(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "note_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "created_at_s", "payload", "updated_at_s"}),
	}).Create(&record).Error
}

// Delete removes the stored note. Deleting an unknown id succeeds.
func (r *NoteRepository) Delete(ctx context.Context, id model.NoteID) error {
	return r.db.WithContext(ctx).
		Where(queryAccountNote, id.Account.Int64(), id.Remote).
		Delete(&cachedNote{}).Error
}

// QueryByUser returns up to limit stored notes by userID, newest first.
func (r *NoteRepository) QueryByUser(ctx context.Context, userID model.UserID, limit int) ([]model.Note, error) {
	query := r.db.WithContext(ctx).
		Where("account_id = ? AND user_id = ?", userID.Account.Int64(), userID.Remote).
		Order("created_at_s DESC, note_id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []cachedNote
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	notes := make([]model.Note, 0, len(records))
	for _, record := range records {
		note, err := decodeNote(record)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, nil
}

func decodeNote(record cachedNote) (model.Note, error) {
	var note model.Note
	if err := json.Unmarshal([]byte(record.Payload), &note); err != nil {
		return model.Note{}, fmt.Errorf("database: decode note %s: %w", record.NoteID, err)
	}
	return note, nil
}

// UserRepository stores users in SQLite. A stored detailed user is never downgraded by a
// simple payload.
type UserRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewUserRepository wraps an opened database.
func NewUserRepository(db *gorm.DB) (*UserRepository, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &UserRepository{db: db, now: time.Now}, nil
}

// Get loads one user.
func (r *UserRepository) Get(ctx context.Context, id model.UserID) (model.User, bool, error) {
	var record cachedUser
	err := r.db.WithContext(ctx).
		Where(queryAccountUser, id.Account.Int64(), id.Remote).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}
	user, err := decodeUser(record)
	if err != nil {
		return model.User{}, false, err
	}
	return user, true, nil
}

// GetIn loads the stored subset of ids in request order.
func (r *UserRepository) GetIn(ctx context.Context, ids []model.UserID) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	byAccount := groupByAccount(ids, func(id model.UserID) (model.AccountID, string) { return id.Account, id.Remote })
	found := make(map[model.UserID]model.User, len(ids))
	for account, remotes := range byAccount {
		var records []cachedUser
		if err := r.db.WithContext(ctx).
			Where(queryAccountUserIn, account.Int64(), remotes).
			Find(&records).Error; err != nil {
			return nil, err
		}
		for _, record := range records {
			user, err := decodeUser(record)
			if err != nil {
				return nil, err
			}
			found[user.ID] = user
		}
	}
	return inOrder(ids, found), nil
}

// Upsert merges user into the stored row inside a transaction.
func (r *UserRepository) Upsert(ctx context.Context, user model.User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing cachedUser
		err := tx.Where(queryAccountUser, user.ID.Account.Int64(), user.ID.Remote).Take(&existing).Error
		switch {
		case err == nil:
			stored, decodeErr := decodeUser(existing)
			if decodeErr == nil {
				user = model.MergeUser(stored, user)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		payload, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("database: encode user %s: %w", user.ID, err)
		}
		record := cachedUser{
			AccountID:        user.ID.Account.Int64(),
			UserID:           user.ID.Remote,
			UserName:         user.Profile.UserName,
			Host:             strings.ToLower(user.Profile.Host),
			Detail:           user.IsDetail(),
			Payload:          string(payload),
			UpdatedAtSeconds: r.now().UTC().Unix(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_name", "host", "detail", "payload", "updated_at_s"}),
		}).Create(&record).Error
	})
}

// Delete removes the stored user.
func (r *UserRepository) Delete(ctx context.Context, id model.UserID) error {
	return r.db.WithContext(ctx).
		Where(queryAccountUser, id.Account.Int64(), id.Remote).
		Delete(&cachedUser{}).Error
}

func decodeUser(record cachedUser) (model.User, error) {
	var user model.User
	if err := json.Unmarshal([]byte(record.Payload), &user); err != nil {
		return model.User{}, fmt.Errorf("database: decode user %s: %w", record.UserID, err)
	}
	return user, nil
}

func groupByAccount[K any](ids []K, split func(K) (model.AccountID, string)) map[model.AccountID][]string {
	grouped := make(map[model.AccountID][]string)
	for _, id := range ids {
		account, remote := split(id)
		grouped[account] = append(grouped[account], remote)
	}
	return grouped
}

func inOrder[K comparable, V any](ids []K, found map[K]V) []V {
	ordered := make([]V, 0, len(found))
	for _, id := range ids {
		if value, ok := found[id]; ok {
			ordered = append(ordered, value)
		}
	}
	return ordered
}
