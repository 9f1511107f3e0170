package coordinator

import (
	"errors"
	"fmt"
)

// ErrorKind classifies coordinator failures so callers can branch on the
// kind instead of matching error text.
type ErrorKind int

const (
	// KindNotFound means the session or remote upload does not exist
	KindNotFound ErrorKind = iota + 1
	// KindExpiredSession means the session is past its expiry time
	KindExpiredSession
	// KindInvalidStateTransition means the operation is not allowed from the current status
	KindInvalidStateTransition
	// KindValidationFailure means the request carried a malformed or incomplete part set
	KindValidationFailure
	// KindStorageBackend means a blob-store or session-store call failed
	KindStorageBackend
	// KindConcurrencyConflict means a concurrent writer kept winning the session update
	KindConcurrencyConflict
)

// Error is a typed coordinator failure
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the error kind, or zero if err is not a coordinator error
func KindOf(err error) ErrorKind {
	var coordErr *Error
	if errors.As(err, &coordErr) {
		return coordErr.Kind
	}
	return 0
}

func notFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func expiredSession(format string, args ...interface{}) *Error {
	return &Error{Kind: KindExpiredSession, Message: fmt.Sprintf(format, args...)}
}

func invalidTransition(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidStateTransition, Message: fmt.Sprintf(format, args...)}
}

func validationFailure(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidationFailure, Message: fmt.Sprintf(format, args...)}
}

func storageBackend(message string, err error) *Error {
	return &Error{Kind: KindStorageBackend, Message: message, Err: err}
}

func concurrencyConflict(message string) *Error {
	return &Error{Kind: KindConcurrencyConflict, Message: message}
}
