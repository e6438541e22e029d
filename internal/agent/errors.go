package agent

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a run ended without a result.
type ErrorKind string

const (
	// KindTimeout means the pre-result idle clock expired.
	KindTimeout ErrorKind = "timeout"

	// KindBackendUnavailable means the agent backend could not be reached or
	// failed while streaming.
	KindBackendUnavailable ErrorKind = "backend_unavailable"

	// KindProtocolViolation means the backend produced an event the pipeline
	// could not interpret, or ended its stream without a terminal signal.
	KindProtocolViolation ErrorKind = "protocol_violation"

	// KindSessionInvalid means the continuity token was rejected twice.
	KindSessionInvalid ErrorKind = "session_invalid"

	// KindConfiguration means startup settings are unusable.
	KindConfiguration ErrorKind = "configuration_error"

	// KindCanceled means the caller abandoned the run.
	KindCanceled ErrorKind = "canceled"
)

// Error is a run-scoped failure with a kind for routing and metrics.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("agent: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Detail is the short text shown to users for this error.
func (e *Error) Detail() string {
	switch e.Kind {
	case KindTimeout:
		return "The agent stopped responding. " + e.Message
	case KindSessionInvalid:
		return "The conversation could not be resumed. Send /reset and try again."
	}
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *Error {
	return NewError(KindTimeout, message, nil)
}

// ErrBackendUnavailable creates a transport failure.
func ErrBackendUnavailable(message string, err error) *Error {
	return NewError(KindBackendUnavailable, message, err)
}

// ErrProtocolViolation creates a malformed-stream failure.
func ErrProtocolViolation(message string, err error) *Error {
	return NewError(KindProtocolViolation, message, err)
}

// ErrSessionInvalid reports a rejected continuity token.
func ErrSessionInvalid(message string, err error) *Error {
	return NewError(KindSessionInvalid, message, err)
}

// ErrConfiguration creates a configuration error.
func ErrConfiguration(message string, err error) *Error {
	return NewError(KindConfiguration, message, err)
}

// KindOf reports the kind of err. Context cancellation maps to KindCanceled
// and anything unclassified is treated as a backend failure.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindBackendUnavailable
}

// asError converts err into an *Error, keeping an existing classification.
func asError(err error) *Error {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr
	}
	if errors.Is(err, context.Canceled) {
		return NewError(KindCanceled, "run canceled", err)
	}
	return ErrBackendUnavailable("backend request failed", err)
}
