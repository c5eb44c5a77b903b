// Package platerr defines the error taxonomy of the sync engine.
package platerr

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers that branch on failure kind.
type Code string

const (
	// CodeStorageUnavailable means the host cannot provide a local store at
	// all. Fatal: the subsystem is unusable and the first caller must see it.
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"

	// CodeStoreWriteFailed and CodeStoreReadFailed mark transient local-store
	// transaction failures.
	CodeStoreWriteFailed Code = "STORE_WRITE_FAILED"
	CodeStoreReadFailed  Code = "STORE_READ_FAILED"

	// CodeEntryNotFound means the caller referenced a stale or already
	// deleted entry id.
	CodeEntryNotFound Code = "ENTRY_NOT_FOUND"

	// CodeMaxRetriesExceeded signals the caller to evict the entry rather
	// than retry it.
	CodeMaxRetriesExceeded Code = "MAX_RETRIES_EXCEEDED"

	// CodeRemoteError wraps whatever the backend client reported: network,
	// auth, validation. Opaque to the sync engine.
	CodeRemoteError Code = "REMOTE_ERROR"
)

// AppError is an error with a taxonomy code attached.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError without an underlying cause.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and message to an existing error.
func Wrap(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Is reports whether err, anywhere in its chain, carries the given code.
func Is(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first AppError in the chain, or empty.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
