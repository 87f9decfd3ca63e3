package link

import (
	"context"
	"errors"
	"fmt"
)

// Code categorizes link maintenance errors.
type Code string

const (
	// CodeStoreUnavailable indicates the store could not serve the request.
	// The whole operation failed and may be retried.
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"

	// CodeInvariantViolation indicates data that cannot be linked
	// unambiguously (duplicate seq, invalid record). Retrying will not help.
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"

	// CodeConcurrencyConflict indicates transactional contention.
	// The caller should retry the whole insert.
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
)

// Error is a classified link maintenance failure.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Conversation and Seq locate the offending record when known.
	Conversation string
	Seq          int64

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Conversation != "" {
		msg = fmt.Sprintf("%s (conversation=%s, seq=%d)", msg, e.Conversation, e.Seq)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the whole operation may succeed.
func (e *Error) Retryable() bool {
	return e.Code == CodeStoreUnavailable || e.Code == CodeConcurrencyConflict
}

// Unavailable wraps a store failure.
func Unavailable(op string, err error) *Error {
	return &Error{Code: CodeStoreUnavailable, Message: op, Err: err}
}

// Conflict wraps transactional contention on a conversation.
func Conflict(op, conversation string, err error) *Error {
	return &Error{Code: CodeConcurrencyConflict, Message: op, Conversation: conversation, Err: err}
}

// Violation reports data that breaks the chain assumptions.
func Violation(conversation string, seq int64, message string) *Error {
	return &Error{Code: CodeInvariantViolation, Message: message, Conversation: conversation, Seq: seq}
}

// CodeOf extracts the code from err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsRetryable returns true if err is an *Error with a retryable code.
// Uses errors.As to handle wrapped errors.
func IsRetryable(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable()
	}
	return false
}

// IsInvariantViolation returns true if err is an invariant violation.
func IsInvariantViolation(err error) bool {
	return CodeOf(err) == CodeInvariantViolation
}

// IsConflict returns true if err is a concurrency conflict.
func IsConflict(err error) bool {
	return CodeOf(err) == CodeConcurrencyConflict
}

// classify keeps already classified errors and context errors as they are
// and treats everything else as the store being unavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return Unavailable(op, err)
}
