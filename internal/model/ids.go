package model

import (
	"errors"
	"fmt"
	"strings"
)

const maxRemoteIDLength = 190

var (
	// ErrInvalidAccountID indicates that an account scope is not positive.
	ErrInvalidAccountID = errors.New("model: invalid account id")
	// ErrInvalidNoteID indicates that a remote note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("model: invalid note id")
	// ErrInvalidUserID indicates that a remote user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("model: invalid user id")
	// ErrInvalidFileID indicates that a remote file identifier is empty or exceeds storage bounds.
	ErrInvalidFileID = errors.New("model: invalid file id")
	// ErrInvalidNotificationID indicates that a remote notification identifier is invalid.
	ErrInvalidNotificationID = errors.New("model: invalid notification id")
)

// AccountID scopes every cached entity to one signed-in account.
type AccountID int64

// NewAccountID validates the value and returns an AccountID.
func NewAccountID(value int64) (AccountID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAccountID, value)
	}
	return AccountID(value), nil
}

// Int64 exposes the raw account scope.
func (id AccountID) Int64() int64 {
	return int64(id)
}

func validateRemoteID(sentinel error, rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxRemoteIDLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxRemoteIDLength)
	}
	return trimmed, nil
}

// NoteID identifies a note within one account scope.
type NoteID struct {
	Account AccountID `json:"account_id"`
	Remote  string    `json:"id"`
}

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(account AccountID, rawInput string) (NoteID, error) {
	remote, err := validateRemoteID(ErrInvalidNoteID, rawInput)
	if err != nil {
		return NoteID{}, err
	}
	return NoteID{Account: account, Remote: remote}, nil
}

// String renders the identifier as account:remote.
func (id NoteID) String() string {
	return fmt.Sprintf("%d:%s", id.Account, id.Remote)
}

// IsZero reports whether the identifier is unset.
func (id NoteID) IsZero() bool {
	return id.Remote == ""
}

// UserID identifies a user within one account scope.
type UserID struct {
	Account AccountID `json:"account_id"`
	Remote  string    `json:"id"`
}

// NewUserID validates raw input and returns a UserID.
func NewUserID(account AccountID, rawInput string) (UserID, error) {
	remote, err := validateRemoteID(ErrInvalidUserID, rawInput)
	if err != nil {
		return UserID{}, err
	}
	return UserID{Account: account, Remote: remote}, nil
}

// String renders the identifier as account:remote.
func (id UserID) String() string {
	return fmt.Sprintf("%d:%s", id.Account, id.Remote)
}

// IsZero reports whether the identifier is unset.
func (id UserID) IsZero() bool {
	return id.Remote == ""
}

// FileID identifies a drive file within one account scope.
type FileID struct {
	Account AccountID `json:"account_id"`
	Remote  string    `json:"id"`
}

// NewFileID validates raw input and returns a FileID.
func NewFileID(account AccountID, rawInput string) (FileID, error) {
	remote, err := validateRemoteID(ErrInvalidFileID, rawInput)
	if err != nil {
		return FileID{}, err
	}
	return FileID{Account: account, Remote: remote}, nil
}

// String renders the identifier as account:remote.
func (id FileID) String() string {
	return fmt.Sprintf("%d:%s", id.Account, id.Remote)
}

// NotificationID identifies a notification within one account scope.
type NotificationID struct {
	Account AccountID `json:"account_id"`
	Remote  string    `json:"id"`
}

// NewNotificationID validates raw input and returns a NotificationID.
func NewNotificationID(account AccountID, rawInput string) (NotificationID, error) {
	remote, err := validateRemoteID(ErrInvalidNotificationID, rawInput)
	if err != nil {
		return NotificationID{}, err
	}
	return NotificationID{Account: account, Remote: remote}, nil
}

// String renders the identifier as account:remote.
func (id NotificationID) String() string {
	return fmt.Sprintf("%d:%s", id.Account, id.Remote)
}
