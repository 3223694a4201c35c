package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any NotFoundError.
	ErrNotFound = errors.New("model: entity not found")
	// ErrDeleted matches any DeletedError.
	ErrDeleted = errors.New("model: entity deleted")
	// ErrNetwork matches any NetworkError.
	ErrNetwork = errors.New("model: network failure")
	// ErrUnauthorized matches any UnauthorizedError.
	ErrUnauthorized = errors.New("model: unauthorized")
)

// NotFoundError reports an id that was never seen locally. Callers may fetch it remotely.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// DeletedError reports a tombstoned id. Callers must not fetch it again.
type DeletedError struct {
	Kind string
	ID   string
}

func (e *DeletedError) Error() string {
	return fmt.Sprintf("%s %s deleted", e.Kind, e.ID)
}

func (e *DeletedError) Is(target error) bool {
	return target == ErrDeleted
}

// NetworkError wraps a transport or remote failure. It is retryable.
type NetworkError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote status %d: %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// Retryable reports whether the request may be repeated as is.
func (e *NetworkError) Retryable() bool {
	return true
}

// UnauthorizedError is surfaced unchanged; retrying requires re-authentication.
type UnauthorizedError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *UnauthorizedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unauthorized (status %d)", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: unauthorized (status %d): %s", e.Operation, e.StatusCode, e.Message)
}

func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}
