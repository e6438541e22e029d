package agent

import (
	"context"

	"github.com/haasonsaas/herald/internal/sessions"
)

// Submission is what the pipeline hands to a backend for one attempt.
type Submission struct {
	ChatID       sessions.ChatID
	Prompt       string
	SessionToken string
	Model        string
}

// BackendEventType tags a BackendEvent.
type BackendEventType int

const (
	// BackendText carries a chunk of assistant text.
	BackendText BackendEventType = iota
	// BackendActivity signals progress without user-visible text (tool
	// calls, system notices). It only keeps the run alive.
	BackendActivity
	// BackendResult is the backend's terminal answer. The backend may emit
	// further activity afterwards while it shuts down.
	BackendResult
	// BackendFailure ends the run with Err.
	BackendFailure
)

// BackendEvent is one item of a backend stream.
type BackendEvent struct {
	Type         BackendEventType
	Text         string
	SessionToken string
	Err          error
}

// Backend talks to the conversational agent service.
//
// Submit starts one attempt and returns a channel of events. The backend
// closes the channel when it has fully shut down. It must stop sending and
// release its resources promptly once ctx is cancelled. Errors returned
// directly from Submit, or carried by a BackendFailure event, should be
// *Error values so the pipeline can classify them; an invalid continuity
// token must be reported with KindSessionInvalid.
type Backend interface {
	Name() string
	Submit(ctx context.Context, sub Submission) (<-chan BackendEvent, error)
}
