package heartbeat

import (
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/herald/internal/agent"
)

// DefaultAckMaxChars is the length below which a heartbeat reply counts as
// an all-clear.
const DefaultAckMaxChars = 300

// Decision is the outcome of the result policy.
type Decision struct {
	Deliver bool
	Reason  string
	Text    string
}

// Classify applies the heartbeat result policy to a Result event: sentinel
// replies are dropped, then replies shorter than ackMaxChars runes, and
// anything else is delivered verbatim.
func Classify(ev agent.StreamEvent, ackMaxChars int) Decision {
	if ev.Suppressed {
		return Decision{Reason: ReasonSentinel}
	}
	if utf8.RuneCountInString(strings.TrimSpace(ev.Text)) < ackMaxChars {
		return Decision{Reason: ReasonShortAck}
	}
	return Decision{Deliver: true, Reason: ReasonDelivered, Text: ev.Text}
}
