// Package anthropic runs agent turns against the Anthropic Messages API.
//
// The API is stateless, so the backend keeps each conversation in a
// storage.TranscriptStore and uses the conversation id as the continuity
// token handed back to the pipeline.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/herald/internal/agent"
	"github.com/haasonsaas/herald/internal/storage"
)

// maxEmptyStreamEvents is the number of consecutive events carrying nothing
// usable after which the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// Config configures the backend.
type Config struct {
	APIKey  string
	BaseURL string

	// Model is used when a submission names none.
	Model string

	MaxTokens    int
	SystemPrompt string

	// MaxHistoryTurns caps how many stored turns are replayed per request.
	MaxHistoryTurns int

	Store  storage.TranscriptStore
	Logger *slog.Logger

	// RequestOptions are appended to the client options.
	RequestOptions []option.RequestOption
}

// Backend implements agent.Backend over the Messages streaming API.
type Backend struct {
	client     anthropic.Client
	store      storage.TranscriptStore
	model      string
	maxTokens  int64
	system     string
	maxHistory int
	logger     *slog.Logger
}

// New creates the backend.
func New(config Config) (*Backend, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, agent.ErrConfiguration("anthropic: API key is required", nil)
	}
	if config.Store == nil {
		return nil, agent.ErrConfiguration("anthropic: transcript store is required", nil)
	}
	if config.Model == "" {
		config.Model = "claude-sonnet-4-20250514"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}
	if config.MaxHistoryTurns <= 0 {
		config.MaxHistoryTurns = 40
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	options = append(options, config.RequestOptions...)

	return &Backend{
		client:     anthropic.NewClient(options...),
		store:      config.Store,
		model:      config.Model,
		maxTokens:  int64(config.MaxTokens),
		system:     config.SystemPrompt,
		maxHistory: config.MaxHistoryTurns,
		logger:     config.Logger.With("component", "anthropic"),
	}, nil
}

// Name returns "anthropic".
func (b *Backend) Name() string {
	return "anthropic"
}

// Submit loads the conversation named by the token, sends it with the new
// prompt and streams the reply.
func (b *Backend) Submit(ctx context.Context, sub agent.Submission) (<-chan agent.BackendEvent, error) {
	var history []storage.Turn
	if sub.SessionToken != "" {
		conv, err := b.store.Load(ctx, sub.SessionToken)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, agent.ErrSessionInvalid("conversation not found", err)
		}
		if err != nil {
			return nil, agent.ErrBackendUnavailable("load conversation", err)
		}
		history = conv.Turns
	}

	model := sub.Model
	if model == "" {
		model = b.model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  b.buildMessages(history, sub.Prompt),
		MaxTokens: b.maxTokens,
	}
	if b.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: b.system}}
	}

	stream := b.client.Messages.NewStreaming(ctx, params)
	events := make(chan agent.BackendEvent)
	go b.consume(ctx, stream, sub, events)
	return events, nil
}

// buildMessages replays the tail of the transcript followed by the prompt.
// The replayed window always starts with a user turn.
func (b *Backend) buildMessages(history []storage.Turn, prompt string) []anthropic.MessageParam {
	if len(history) > b.maxHistory {
		history = history[len(history)-b.maxHistory:]
	}
	for len(history) > 0 && history[0].Role != storage.RoleUser {
		history = history[1:]
	}

	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, turn := range history {
		block := anthropic.NewTextBlock(turn.Text)
		if turn.Role == storage.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	return append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))
}

// consume translates SSE events into backend events. Text is emitted once per
// completed content block.
func (b *Backend) consume(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], sub agent.Submission, events chan<- agent.BackendEvent) {
	defer close(events)
	defer stream.Close()

	send := func(ev agent.BackendEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	activity := agent.BackendEvent{Type: agent.BackendActivity}

	var block, full strings.Builder
	emptyEventCount := 0

	for stream.Next() {
		event := stream.Current()
		processed := true

		switch event.Type {
		case "message_start", "message_delta":
			if !send(activity) {
				return
			}

		case "content_block_start":
			block.Reset()
			if !send(activity) {
				return
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				block.WriteString(delta.Text)
			case "thinking_delta", "input_json_delta", "signature_delta":
			default:
				processed = false
			}
			if processed && !send(activity) {
				return
			}

		case "content_block_stop":
			if block.Len() > 0 {
				if full.Len() > 0 {
					full.WriteString("\n\n")
				}
				full.WriteString(block.String())
				if !send(agent.BackendEvent{Type: agent.BackendText, Text: block.String()}) {
					return
				}
				block.Reset()
			}

		case "message_stop":
			token, err := b.persist(ctx, sub, full.String())
			if err != nil {
				send(agent.BackendEvent{Type: agent.BackendFailure, Err: err})
				return
			}
			send(agent.BackendEvent{Type: agent.BackendResult, Text: full.String(), SessionToken: token})
			return

		case "error":
			send(agent.BackendEvent{
				Type: agent.BackendFailure,
				Err:  agent.ErrBackendUnavailable("anthropic stream error", nil),
			})
			return

		default:
			processed = false
		}

		if processed {
			emptyEventCount = 0
			continue
		}
		emptyEventCount++
		if emptyEventCount >= maxEmptyStreamEvents {
			send(agent.BackendEvent{
				Type: agent.BackendFailure,
				Err: agent.ErrProtocolViolation(
					fmt.Sprintf("stream appears malformed: received %d consecutive empty events", emptyEventCount), nil),
			})
			return
		}
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		send(agent.BackendEvent{Type: agent.BackendFailure, Err: wrapError(err)})
	}
}

// persist stores the exchange and returns the conversation id.
func (b *Backend) persist(ctx context.Context, sub agent.Submission, reply string) (string, error) {
	id := sub.SessionToken
	if id == "" {
		conv, err := b.store.Create(ctx, int64(sub.ChatID))
		if err != nil {
			return "", agent.ErrBackendUnavailable("create conversation", err)
		}
		id = conv.ID
		b.logger.Debug("conversation created", "chat_id", int64(sub.ChatID), "conversation_id", id)
	}

	err := b.store.Append(ctx, id,
		storage.Turn{Role: storage.RoleUser, Text: sub.Prompt},
		storage.Turn{Role: storage.RoleAssistant, Text: reply},
	)
	if errors.Is(err, storage.ErrNotFound) {
		return "", agent.ErrSessionInvalid("conversation disappeared", err)
	}
	if err != nil {
		return "", agent.ErrBackendUnavailable("append conversation", err)
	}
	return id, nil
}

// wrapError classifies SDK errors.
func wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return agent.ErrBackendUnavailable(fmt.Sprintf("anthropic API returned %d", apiErr.StatusCode), err)
	}
	return agent.ErrBackendUnavailable("anthropic stream failed", err)
}
