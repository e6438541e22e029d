package claudecli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/herald/internal/agent"
)

// cliEvent is one line of --output-format stream-json.
type cliEvent struct {
	Type      string      `json:"type"`
	Subtype   string      `json:"subtype,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	IsError   bool        `json:"is_error,omitempty"`
	Result    *string     `json:"result,omitempty"`
	Message   *cliMessage `json:"message,omitempty"`
}

// Content stays raw because user messages may carry a plain string.
type cliMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type cliContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
}

var errMissingType = errors.New("event has no type")

// parseLine converts one JSON line into zero or more backend events.
func parseLine(line []byte) ([]agent.BackendEvent, error) {
	var ev cliEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	activity := []agent.BackendEvent{{Type: agent.BackendActivity}}

	switch ev.Type {
	case "":
		return nil, errMissingType

	case "assistant":
		if ev.Message == nil {
			return activity, nil
		}
		var blocks []cliContent
		if len(ev.Message.Content) > 0 {
			if err := json.Unmarshal(ev.Message.Content, &blocks); err != nil {
				return nil, fmt.Errorf("decode assistant content: %w", err)
			}
		}
		var out []agent.BackendEvent
		for _, block := range blocks {
			if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
				out = append(out, agent.BackendEvent{Type: agent.BackendText, Text: block.Text})
			}
		}
		if len(out) == 0 {
			return activity, nil
		}
		return out, nil

	case "result":
		if ev.IsError {
			return []agent.BackendEvent{{Type: agent.BackendFailure, Err: resultError(ev)}}, nil
		}
		if ev.Result == nil {
			return nil, fmt.Errorf("result event (%s) has no result text", ev.Subtype)
		}
		return []agent.BackendEvent{{
			Type:         agent.BackendResult,
			Text:         *ev.Result,
			SessionToken: ev.SessionID,
		}}, nil

	default:
		// system, user (tool results) and anything newer only show progress.
		return activity, nil
	}
}

func resultError(ev cliEvent) error {
	detail := ev.Subtype
	if ev.Result != nil && *ev.Result != "" {
		detail = *ev.Result
	}
	if strings.Contains(detail, noConversation) {
		return agent.ErrSessionInvalid("claude CLI could not resume the session", errors.New(detail))
	}
	return agent.ErrBackendUnavailable("claude CLI reported an error: "+truncate(detail, 500), nil)
}
