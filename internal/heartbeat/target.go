package heartbeat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/haasonsaas/herald/internal/sessions"
)

// TargetKind selects how a tick finds its chat.
type TargetKind string

const (
	// TargetLast follows the most recently active user chat.
	TargetLast TargetKind = "last"
	// TargetNone disables delivery and skips the tick.
	TargetNone TargetKind = "none"
	// TargetChat is a fixed chat id.
	TargetChat TargetKind = "chat"
)

// Target is the parsed delivery target.
type Target struct {
	Kind   TargetKind
	ChatID sessions.ChatID
}

// ParseTarget parses "last", "none" or a chat id. Empty means "last".
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "last":
		return Target{Kind: TargetLast}, nil
	case "none":
		return Target{Kind: TargetNone}, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Target{}, fmt.Errorf("invalid heartbeat target %q: want \"last\", \"none\" or a chat id", s)
	}
	return Target{Kind: TargetChat, ChatID: sessions.ChatID(id)}, nil
}

func (t Target) String() string {
	if t.Kind == TargetChat {
		return strconv.FormatInt(int64(t.ChatID), 10)
	}
	return string(t.Kind)
}

// TargetResolver knows which chat was active last.
type TargetResolver interface {
	LastActiveChat() (sessions.ChatID, bool)
}

// Resolve returns the chat for this tick. When no chat can be resolved the
// reason names why.
func (t Target) Resolve(resolver TargetResolver) (sessions.ChatID, string, bool) {
	switch t.Kind {
	case TargetNone:
		return 0, ReasonTargetNone, false
	case TargetChat:
		return t.ChatID, "", true
	default:
		if resolver == nil {
			return 0, ReasonNoTarget, false
		}
		chat, ok := resolver.LastActiveChat()
		if !ok {
			return 0, ReasonNoTarget, false
		}
		return chat, "", true
	}
}
