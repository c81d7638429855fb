package repositories

import "fmt"

// ErrorCode classifies store failures for services.
type ErrorCode string

const (
	ErrorCodeUnknown     ErrorCode = "unknown"
	ErrorCodeNotFound    ErrorCode = "not_found"
	ErrorCodeConflict    ErrorCode = "conflict"
	ErrorCodeUnavailable ErrorCode = "unavailable"
)

// StoreError is the RepositoryError returned by backends without their own typed errors.
type StoreError struct {
	Op      string
	Code    ErrorCode
	Message string
	Err     error
}

var _ RepositoryError = (*StoreError)(nil)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Code == ErrorCodeNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Code == ErrorCodeConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Code == ErrorCodeUnavailable }

// NewStoreError constructs a typed store error.
func NewStoreError(op string, code ErrorCode, message string, err error) *StoreError {
	return &StoreError{Op: op, Code: code, Message: message, Err: err}
}

// NotFound is shorthand for a not-found StoreError.
func NotFound(op, message string) *StoreError {
	return NewStoreError(op, ErrorCodeNotFound, message, nil)
}

// Conflict is shorthand for a conflict StoreError.
func Conflict(op, message string) *StoreError {
	return NewStoreError(op, ErrorCodeConflict, message, nil)
}
