// Package apperr provides the typed error taxonomy shared by every service:
// NotFound, InvalidInput, Transient, Conflict, and Fatal. Handlers branch on
// these with errors.Is/errors.As instead of string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handler and HTTP-translation purposes.
type Kind string

const (
	// NotFound means the entity is absent; handlers return without emitting
	// downstream events.
	NotFound Kind = "not_found"
	// InvalidInput means caller-supplied data violates a declared range or
	// enum; never retried, surfaced to API callers as 400.
	InvalidInput Kind = "invalid_input"
	// Transient means a network, timeout, or database error; handlers
	// re-raise so the bus retries with backoff.
	Transient Kind = "transient"
	// Conflict means an idempotent upsert race; resolved by re-reading the
	// existing row.
	Conflict Kind = "conflict"
	// Fatal means the process cannot continue (e.g. an unreachable database
	// at startup).
	Fatal Kind = "fatal"
)

// Error is a typed application error carrying a Kind for branching and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "underwriting.computeExact"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, apperr.NotFound)-style checks against a bare Kind
// sentinel by comparing kinds rather than identity.
func (e *Error) Is(target error) bool {
	var k *kindSentinel
	if errors.As(target, &k) {
		return e.Kind == k.kind
	}
	return false
}

type kindSentinel struct{ kind Kind }

func (s *kindSentinel) Error() string { return string(s.kind) }

// Sentinels usable with errors.Is(err, apperr.ErrNotFound).
var (
	ErrNotFound     error = &kindSentinel{NotFound}
	ErrInvalidInput error = &kindSentinel{InvalidInput}
	ErrTransient    error = &kindSentinel{Transient}
	ErrConflict     error = &kindSentinel{Conflict}
	ErrFatal        error = &kindSentinel{Fatal}
)

// New builds a Kind-tagged Error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds a Kind-tagged Error around a cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to Transient for untyped
// errors so unexpected failures are retried rather than silently dropped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}
