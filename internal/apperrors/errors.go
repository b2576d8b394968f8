package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so transports can map it to a response status.
type Kind string

const (
	// KindInput marks missing or malformed input rejected before any write.
	KindInput Kind = "input"
	// KindAuth marks a missing or invalid bearer token.
	KindAuth Kind = "auth"
	// KindForbidden marks an authenticated caller acting on an entity it does not own.
	KindForbidden Kind = "forbidden"
	// KindNotFound marks a referenced entity that does not exist.
	KindNotFound Kind = "not_found"
	// KindStore marks a primary-path store failure.
	KindStore Kind = "store"
	// KindPartial marks a primary write that succeeded while a dependent write failed.
	KindPartial Kind = "partial_failure"
)

// Error carries a kind, an "<operation>.<reason>" code and the underlying cause.
type Error struct {
	kind Kind
	code string
	err  error

	// QuoteID and ConversationID identify the entities already written when kind is KindPartial.
	QuoteID        string
	ConversationID string
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind reports the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code reports the "<operation>.<reason>" code.
func (e *Error) Code() string {
	return e.code
}

// New builds an Error for the operation and reason.
func New(kind Kind, operation, reason string, cause error) *Error {
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

func Input(operation, reason string, cause error) error {
	return New(KindInput, operation, reason, cause)
}

func Forbidden(operation, reason string, cause error) error {
	return New(KindForbidden, operation, reason, cause)
}

func NotFound(operation, reason string, cause error) error {
	return New(KindNotFound, operation, reason, cause)
}

func Store(operation, reason string, cause error) error {
	return New(KindStore, operation, reason, cause)
}

// Partial reports a partially applied workflow together with the identifiers already persisted.
func Partial(operation, reason string, cause error, quoteID, conversationID string) error {
	failure := New(KindPartial, operation, reason, cause)
	failure.QuoteID = quoteID
	failure.ConversationID = conversationID
	return failure
}

// KindOf extracts the kind from err, defaulting to KindStore for foreign errors.
func KindOf(err error) Kind {
	var failure *Error
	if errors.As(err, &failure) {
		return failure.kind
	}
	return KindStore
}

// As returns the *Error wrapped in err, if any.
func As(err error) (*Error, bool) {
	var failure *Error
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}
