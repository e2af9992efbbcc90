package service

import (
	"context"
	"errors"
	"fmt"

	"dsaroadmap/internal/database"
)

var (
	// ErrAuthRequired is returned by controller mutators when nobody is signed in.
	ErrAuthRequired = errors.New("sign in required")
	// ErrNotReady is returned when a mutation arrives before the snapshot has loaded.
	ErrNotReady = errors.New("progress is still loading")
)

// ErrorKind classifies store failures so callers never inspect driver errors.
type ErrorKind string

const (
	KindNotAuthenticated ErrorKind = "not_authenticated"
	KindStoreUnavailable ErrorKind = "store_unavailable"
	KindConflict         ErrorKind = "conflict"
	KindNotFound         ErrorKind = "not_found"
	KindUnknown          ErrorKind = "unknown"
)

// StoreError is the only error shape returned by a ProgressStore.
type StoreError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind of a store error. Nil yields "", foreign errors KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsBenign reports whether err needs no reaction: nil, or a toggle that was
// already in the requested state.
func IsBenign(err error) bool {
	return err == nil || KindOf(err) == KindNotFound
}

// UserMessage is the text shown to people for a store error.
func UserMessage(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Message
	}
	if errors.Is(err, ErrAuthRequired) {
		return "Please sign in to track your progress"
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func notAuthenticated() *StoreError {
	return &StoreError{Kind: KindNotAuthenticated, Message: "no authenticated user"}
}

// classifyError wraps a repository error with the kind the controller reacts to.
func classifyError(dialect database.Dialect, message string, err error) *StoreError {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se
	}

	kind := KindUnknown
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		kind = KindStoreUnavailable
	case dialect != nil && dialect.IsUnavailable(err):
		kind = KindStoreUnavailable
	case dialect != nil && dialect.IsUniqueViolation(err):
		kind = KindConflict
	}
	return &StoreError{Kind: kind, Message: message, Err: err}
}
