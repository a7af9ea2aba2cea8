// Package storeerr provides the structured error taxonomy propagated
// between storage backends and callers: object-not-found, invalid byte
// range, and opaque backend failures. The caching layer never retries
// or suppresses these; they pass through verbatim.
package storeerr

import (
	"errors"
	"fmt"
)

// Code classifies a storage error.
type Code string

const (
	CodeNotFound     Code = "NOT_FOUND"
	CodeInvalidRange Code = "INVALID_RANGE"
	CodeBackend      Code = "BACKEND"
)

// Sentinel targets for errors.Is. Matching is by Code, so any
// StoreError with the same code satisfies Is against these.
var (
	ErrNotFound     = &StoreError{Code: CodeNotFound, Message: "object not found"}
	ErrInvalidRange = &StoreError{Code: CodeInvalidRange, Message: "invalid byte range"}
	ErrBackend      = &StoreError{Code: CodeBackend, Message: "backend failure"}
)

// StoreError carries the error code plus the operation and path that
// produced it.
type StoreError struct {
	Code    Code
	Op      string
	Path    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" && e.Path != "" {
		return fmt.Sprintf("%s %s: %s: %s", e.Op, e.Path, e.Code, msg)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a StoreError with the same code.
func (e *StoreError) Is(target error) bool {
	var se *StoreError
	if errors.As(target, &se) {
		return e.Code == se.Code
	}
	return false
}

// NotFound builds a not-found error for op on path.
func NotFound(op, path string, cause error) *StoreError {
	return &StoreError{Code: CodeNotFound, Op: op, Path: path, Message: "object not found", Err: cause}
}

// InvalidRange builds an invalid-range error for op on path.
func InvalidRange(op, path string, msg string) *StoreError {
	return &StoreError{Code: CodeInvalidRange, Op: op, Path: path, Message: msg}
}

// Backend wraps an opaque backend failure for op on path.
func Backend(op, path string, cause error) *StoreError {
	return &StoreError{Code: CodeBackend, Op: op, Path: path, Err: cause}
}

// IsNotFound reports whether err is (or wraps) a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidRange reports whether err is (or wraps) an invalid-range error.
func IsInvalidRange(err error) bool {
	return errors.Is(err, ErrInvalidRange)
}
