// Package storage persists agent conversation transcripts for backends that do
// not keep their own history.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// Role is the author of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role      Role
	Text      string
	CreatedAt time.Time
}

// Conversation is a transcript keyed by an opaque id.
type Conversation struct {
	ID        string
	ChatID    int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Turns     []Turn
}

// TranscriptStore persists conversations.
type TranscriptStore interface {
	// Create starts an empty conversation for chatID.
	Create(ctx context.Context, chatID int64) (*Conversation, error)

	// Load returns the conversation with all turns in order, or ErrNotFound.
	Load(ctx context.Context, id string) (*Conversation, error)

	// Append adds turns to the end of a conversation, or returns ErrNotFound.
	Append(ctx context.Context, id string, turns ...Turn) error

	Close() error
}
