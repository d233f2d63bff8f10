// Package apperr defines the error taxonomy shared by the scheduling core,
// the stores and the transport layers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidRange      Kind = "invalid_range"
	KindInvalidInput      Kind = "invalid_input"
	KindNotFound          Kind = "not_found"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindAlreadyFinalized  Kind = "already_finalized"
	KindConcurrentSession Kind = "concurrent_session"
	KindStorageTimeout    Kind = "storage_timeout"
	KindRateLimited       Kind = "rate_limited"
	KindInternal          Kind = "internal"
)

// Error is a classified error. Two errors match under errors.Is when their
// kinds are equal, so the package-level sentinels work as match targets for
// errors created with New or Wrap.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidRange      = &Error{Kind: KindInvalidRange, Message: "invalid time range"}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrForbidden         = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "conflict"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid status transition"}
	ErrAlreadyFinalized  = &Error{Kind: KindAlreadyFinalized, Message: "booking is already finalized"}
	ErrConcurrentSession = &Error{Kind: KindConcurrentSession, Message: "another session is already active"}
	ErrStorageTimeout    = &Error{Kind: KindStorageTimeout, Message: "storage timeout"}
	ErrRateLimited       = &Error{Kind: KindRateLimited, Message: "too many requests"}
)

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain,
// or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the operation with backoff.
func Retryable(err error) bool {
	return KindOf(err) == KindStorageTimeout
}

// PublicMessage is the text that may be shown to an end user. Infrastructure
// failures collapse into a generic message so internals never leak.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "something went wrong, please try again"
	}
	switch e.Kind {
	case KindStorageTimeout, KindInternal:
		return "service is temporarily unavailable, please try again"
	case KindUnauthorized:
		return "authentication required"
	default:
		return e.Message
	}
}
