// Package history keeps an append-only, human-readable log of chat turns.
package history

import (
	"context"
	"time"
)

// Role identifies who produced an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Title returns the capitalized role used in headings.
func (r Role) Title() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		if r == "" {
			return ""
		}
		s := string(r)
		if c := s[0]; c >= 'a' && c <= 'z' {
			return string(c-'a'+'A') + s[1:]
		}
		return s
	}
}

// Entry is one recorded turn.
type Entry struct {
	ChatID    int64
	Role      Role
	Text      string
	Timestamp time.Time
}

// Sink accepts entries. Record must not block the caller for long and never
// reports failure; implementations log their own errors.
type Sink interface {
	Record(entry Entry)
}

// Writer persists entries synchronously.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// NopSink discards every entry.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(Entry) {}
