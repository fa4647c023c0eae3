package questions

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected ledger operation. Every kind is non-fatal: the transport
// layer maps kinds to status codes, the ledger never does.
type Kind string

const (
	// KindValidation marks malformed input (content bounds, token format, sentiment enum).
	KindValidation Kind = "validation"
	// KindNotFound marks an absent question or session.
	KindNotFound Kind = "not_found"
	// KindConflict marks a duplicate vote or feedback entry; dedupe working as intended.
	KindConflict Kind = "conflict"
	// KindForbidden marks a failed ownership precondition.
	KindForbidden Kind = "forbidden"
	// KindInvalidTransition marks a lifecycle rule violation.
	KindInvalidTransition Kind = "invalid_transition"
	// KindNotAnswerable marks feedback attempted outside the answered state.
	KindNotAnswerable Kind = "not_answerable"
	// KindVoteNotFound marks an unvote with nothing to undo, distinct from a missing question.
	KindVoteNotFound Kind = "vote_not_found"
	// KindInternal marks a storage or infrastructure failure.
	KindInternal Kind = "internal"
)

// Error is the typed failure returned by every ledger operation.
type Error struct {
	kind Kind
	err  error
}

// NewError wraps a cause with a failure classification.
func NewError(kind Kind, cause error) error {
	return &Error{kind: kind, err: cause}
}

// NewErrorf builds a classified failure from a format string.
func NewErrorf(kind Kind, format string, args ...interface{}) error {
	return &Error{kind: kind, err: fmt.Errorf(format, args...)}
}

// Error renders the kind together with the underlying cause.
func (e *Error) Error() string {
	if e.err == nil {
		return string(e.kind)
	}
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// KindOf extracts the Kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var ledgerErr *Error
	if errors.As(err, &ledgerErr) {
		return ledgerErr.Kind()
	}
	return KindInternal
}
