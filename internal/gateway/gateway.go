// Package gateway connects inbound chat traffic and the heartbeat scheduler
// to the agent pipeline, serializing all work per chat through the session
// registry.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/herald/internal/agent"
	"github.com/haasonsaas/herald/internal/history"
	"github.com/haasonsaas/herald/internal/sessions"
)

// Runner executes one request against a leased session.
type Runner interface {
	Run(ctx context.Context, session *sessions.ChatSession, req agent.Request, onFragment func(string)) agent.StreamEvent
}

// Config wires a Gateway.
type Config struct {
	Registry *sessions.Registry
	Runner   Runner
	History  history.Sink
	Logger   *slog.Logger
	Now      func() time.Time
}

// Gateway is the entry point for user messages and heartbeat runs.
//
// Thread Safety:
// Gateway is safe for concurrent use. Calls for the same chat are
// serialized; calls for different chats run concurrently.
type Gateway struct {
	registry *sessions.Registry
	runner   Runner
	history  history.Sink
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a gateway.
func New(config Config) (*Gateway, error) {
	if config.Registry == nil {
		return nil, fmt.Errorf("gateway: registry is required")
	}
	if config.Runner == nil {
		return nil, fmt.Errorf("gateway: runner is required")
	}
	if config.History == nil {
		config.History = history.NopSink{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Gateway{
		registry: config.Registry,
		runner:   config.Runner,
		history:  config.History,
		logger:   config.Logger.With("component", "gateway"),
		now:      config.Now,
	}, nil
}

// Execute runs req while holding the chat's lease. It returns the run's
// terminal event; fragments go to onFragment in order.
func (g *Gateway) Execute(ctx context.Context, req agent.Request, onFragment func(string)) agent.StreamEvent {
	lease, err := g.registry.Acquire(ctx, req.ChatID)
	if err != nil {
		return agent.Failure(agent.NewError(agent.KindCanceled, "gave up waiting for the chat", err))
	}
	defer lease.Release()

	return g.runner.Run(ctx, lease.Session(), req, onFragment)
}

// HandleUserMessage runs a user's message and records the exchange.
func (g *Gateway) HandleUserMessage(ctx context.Context, chatID sessions.ChatID, text string, onFragment func(string)) agent.StreamEvent {
	logger := g.logger.With("chat_id", int64(chatID), "run_id", uuid.NewString())
	logger.Debug("user run started", "chars", len(text))

	g.history.Record(history.Entry{
		ChatID:    int64(chatID),
		Role:      history.RoleUser,
		Text:      text,
		Timestamp: g.now(),
	})

	ev := g.Execute(ctx, agent.Request{ChatID: chatID, Prompt: text}, onFragment)

	switch ev.Kind {
	case agent.EventResult:
		logger.Debug("user run finished", "suppressed", ev.Suppressed)
		g.registry.RecordUserActivity(chatID)
		g.history.Record(history.Entry{
			ChatID:    int64(chatID),
			Role:      history.RoleAssistant,
			Text:      ev.Text,
			Timestamp: g.now(),
		})
	case agent.EventError:
		if ev.ErrorKind() != agent.KindCanceled {
			g.registry.RecordUserActivity(chatID)
			logger.Warn("user run failed",
				"kind", string(ev.ErrorKind()),
				"error", ev.Err,
			)
		}
	}
	return ev
}

// Reset clears the chat's continuity token so the next run starts fresh.
func (g *Gateway) Reset(ctx context.Context, chatID sessions.ChatID) error {
	lease, err := g.registry.Acquire(ctx, chatID)
	if err != nil {
		return fmt.Errorf("reset chat %d: %w", chatID, err)
	}
	defer lease.Release()

	lease.Session().AgentSessionToken = ""
	g.logger.Info("session reset", "chat_id", int64(chatID))
	return nil
}

// LastActiveChat returns the chat of the most recent completed user run.
func (g *Gateway) LastActiveChat() (sessions.ChatID, bool) {
	return g.registry.LastActive()
}
