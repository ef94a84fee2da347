// Package storeerr defines the error taxonomy shared by every engine
// package (spec §7). Kinds are compared by value, not by type assertion,
// so a single *Error can be wrapped repeatedly (with pingcap/errors) while
// remaining classifiable with Is/KindOf.
package storeerr

import (
	"errors"
	"fmt"

	perrors "github.com/pingcap/errors"
)

// Kind enumerates the error taxonomy from spec §7.
type Kind string

const (
	KindConfigInvalid      Kind = "ConfigInvalid"
	KindConnectionFailed   Kind = "ConnectionFailed"
	KindAuthFailed         Kind = "AuthFailed"
	KindNotFound           Kind = "NotFound"
	KindNotEnabled         Kind = "NotEnabled"
	KindUnsupportedFeature Kind = "UnsupportedFeature"
	KindTransformationErr  Kind = "TransformationError"
	KindSchemaDriftErr     Kind = "SchemaDriftError"
	KindWriteError         Kind = "WriteError"
	KindTransient          Kind = "Transient"
	KindRetryExhausted     Kind = "RetryExhausted"
	KindStopped            Kind = "Stopped"
	KindInvariantViolation Kind = "InvariantViolation"
)

// Error is the engine-wide error type. Table is the originating table name,
// when known, for structured error_details (spec §7).
type Error struct {
	Kind  Kind
	Table string
	cause error
}

func (e *Error) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("%s (table=%s): %v", e.Kind, e.Table, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New wraps cause with a classification, tracing it with pingcap/errors.
// A nil cause stays nil; use Newf to build a brand-new error from a
// message.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: perrors.Trace(cause)}
}

// Newf constructs a new classified error from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, cause: perrors.Errorf(format, args...)}
}

// WithTable attaches the originating table name.
func (e *Error) WithTable(table string) *Error {
	e.Table = table
	return e
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Retryable reports whether the table pipeline should retry on this error,
// per spec §7: Transient, ConnectionFailed and WriteError are retryable;
// everything else is immediately fatal to the table.
func Retryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	switch k {
	case KindTransient, KindConnectionFailed, KindWriteError:
		return true
	default:
		return false
	}
}
