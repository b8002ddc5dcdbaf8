// Package protocol implements the newline-delimited JSON-RPC 2.0
// surface agents use to pull tasks and report results. All input
// validation happens here, before any orchestration state is touched.
package protocol

import "fmt"

// Code classifies a protocol-level failure.
type Code string

const (
	CodeInvalidParam       Code = "INVALID_PARAM"
	CodeResourceNotFound   Code = "RESOURCE_NOT_FOUND"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeStateConflict      Code = "STATE_CONFLICT"
	CodeTimeout            Code = "TIMEOUT"
	CodeTokenLimitExceeded Code = "TOKEN_LIMIT_EXCEEDED"
)

// Severity grades how bad a failure is for the calling agent.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Error is the uniform error shape carried in every failure envelope.
// Retryable tells the agent whether trying again can help; Timeout
// errors additionally carry a retry delay and a fallback suggestion.
type Error struct {
	Code              Code     `json:"code"`
	Message           string   `json:"message"`
	Severity          Severity `json:"severity"`
	Retryable         bool     `json:"retryable"`
	RetryAfterSeconds int      `json:"retry_after_seconds,omitempty"`
	FallbackSuggested string   `json:"fallback_suggested,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidParam reports a malformed or missing request parameter.
// Not retryable: the same request will fail the same way.
func NewInvalidParam(format string, args ...any) *Error {
	return &Error{
		Code:     CodeInvalidParam,
		Message:  fmt.Sprintf(format, args...),
		Severity: SeverityError,
	}
}

// NewResourceNotFound reports a reference to an entity that does not
// exist.
func NewResourceNotFound(kind, id string) *Error {
	return &Error{
		Code:     CodeResourceNotFound,
		Message:  fmt.Sprintf("%s %s not found", kind, id),
		Severity: SeverityError,
	}
}

// NewInvalidState reports an operation illegal in the entity's current
// state. The message names the resource, its current state, and the
// transitions that would have been allowed.
func NewInvalidState(resource, current string, allowed []string) *Error {
	msg := fmt.Sprintf("%s is %s", resource, current)
	if len(allowed) == 0 {
		msg += " (terminal)"
	} else {
		msg += fmt.Sprintf(", allowed transitions: %v", allowed)
	}
	return &Error{
		Code:     CodeInvalidState,
		Message:  msg,
		Severity: SeverityError,
	}
}

// NewStateConflict reports a lost race against a concurrent writer.
// Retryable: the caller should re-read and try again.
func NewStateConflict(format string, args ...any) *Error {
	return &Error{
		Code:      CodeStateConflict,
		Message:   fmt.Sprintf(format, args...),
		Severity:  SeverityWarning,
		Retryable: true,
	}
}

// NewTimeout reports an operation that did not finish in time, with a
// suggested retry delay and a fallback the agent can take instead of
// blocking.
func NewTimeout(message string, retryAfterSeconds int, fallback string) *Error {
	return &Error{
		Code:              CodeTimeout,
		Message:           message,
		Severity:          SeverityWarning,
		Retryable:         true,
		RetryAfterSeconds: retryAfterSeconds,
		FallbackSuggested: fallback,
	}
}

// NewTokenLimitExceeded reports a payload too large for the agent's
// context budget.
func NewTokenLimitExceeded(message string) *Error {
	return &Error{
		Code:     CodeTokenLimitExceeded,
		Message:  message,
		Severity: SeverityError,
	}
}
