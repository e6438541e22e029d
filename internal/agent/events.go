// Package agent drives one agent turn for a chat: it submits a prompt to a
// backend, consumes the streamed reply under an idle-timeout policy and
// yields fragments followed by exactly one terminal event.
package agent

import (
	"github.com/haasonsaas/herald/internal/sessions"
)

// Request is one unit of work for the pipeline.
type Request struct {
	ChatID        sessions.ChatID
	Prompt        string
	IsHeartbeat   bool
	ModelOverride string
}

// EventKind tags a StreamEvent.
type EventKind int

const (
	// EventFragment is an intermediate piece of assistant output.
	EventFragment EventKind = iota
	// EventResult is the terminal answer.
	EventResult
	// EventError is a terminal failure.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventFragment:
		return "fragment"
	case EventResult:
		return "result"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamEvent is produced while a run progresses.
type StreamEvent struct {
	Kind EventKind

	// Text is the fragment or result text.
	Text string

	// SessionToken is the continuity token returned with a result.
	SessionToken string

	// Suppressed marks a heartbeat result that matched the sentinel.
	Suppressed bool

	// Err is set for EventError.
	Err *Error
}

// Fragment builds a fragment event.
func Fragment(text string) StreamEvent {
	return StreamEvent{Kind: EventFragment, Text: text}
}

// Result builds a result event.
func Result(text, token string) StreamEvent {
	return StreamEvent{Kind: EventResult, Text: text, SessionToken: token}
}

// Failure builds an error event.
func Failure(err *Error) StreamEvent {
	return StreamEvent{Kind: EventError, Err: err}
}

// IsTerminal reports whether the event ends a run.
func (e StreamEvent) IsTerminal() bool {
	return e.Kind == EventResult || e.Kind == EventError
}

// ErrorKind returns the error kind for error events.
func (e StreamEvent) ErrorKind() ErrorKind {
	if e.Kind != EventError || e.Err == nil {
		return ""
	}
	return e.Err.Kind
}
