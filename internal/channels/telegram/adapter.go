// Package telegram connects herald to a Telegram bot. It receives updates by
// long polling or webhook, runs them through the gateway and streams the
// agent's output back to the chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"github.com/haasonsaas/herald/internal/agent"
	"github.com/haasonsaas/herald/internal/cache"
	"github.com/haasonsaas/herald/internal/format"
	"github.com/haasonsaas/herald/internal/observability"
	"github.com/haasonsaas/herald/internal/sessions"
	"github.com/haasonsaas/herald/internal/typing"
)

// Mode represents how the adapter receives updates.
type Mode string

const (
	// ModePolling uses getUpdates long polling.
	ModePolling Mode = "polling"

	// ModeWebhook receives updates on an HTTP endpoint.
	ModeWebhook Mode = "webhook"
)

const (
	unauthorizedText = "⛔ Unauthorized. This bot is private."
	resetText        = "🔄 Conversation reset. Starting fresh!"
	heartbeatPrefix  = "💓 **Heartbeat Alert**\n\n"

	dedupeSize = 1000
)

// Conversations is the gateway surface the adapter drives.
type Conversations interface {
	HandleUserMessage(ctx context.Context, chatID sessions.ChatID, text string, onFragment func(string)) agent.StreamEvent
	Reset(ctx context.Context, chatID sessions.ChatID) error
}

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required unless Client is set)
	Token string

	// Mode selects polling or webhook delivery of updates
	Mode Mode

	// WebhookURL is the public HTTPS URL Telegram posts to (webhook mode)
	WebhookURL string

	// WebhookSecret is checked against X-Telegram-Bot-Api-Secret-Token
	WebhookSecret string

	// AllowedUsers lists the Telegram user ids that may talk to the bot.
	// An empty list rejects everyone.
	AllowedUsers []int64

	// RateLimit paces outbound messages (messages per second)
	RateLimit float64

	// RateBurst is the burst capacity for outbound messages
	RateBurst int

	// TypingInterval is how often the typing action is refreshed
	TypingInterval time.Duration

	// Client overrides the Bot API client, mainly for tests
	Client BotClient

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" && c.Client == nil {
		return errors.New("telegram: token is required")
	}
	if c.Mode == "" {
		c.Mode = ModePolling
	}
	switch c.Mode {
	case ModePolling:
	case ModeWebhook:
		if c.WebhookURL == "" {
			return errors.New("telegram: webhook_url is required for webhook mode")
		}
	default:
		return fmt.Errorf("telegram: unknown mode %q", c.Mode)
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 25
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 5
	}
	if c.TypingInterval <= 0 {
		c.TypingInterval = typing.DefaultInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter turns Telegram updates into gateway calls.
//
// Thread Safety:
// Each update is handled on its own goroutine. Per-chat ordering of agent
// runs is enforced by the gateway.
type Adapter struct {
	config   Config
	client   BotClient
	gateway  Conversations
	allowed  map[int64]struct{}
	seen     *cache.DedupeCache
	limiter  *rate.Limiter
	metrics  *observability.Metrics
	logger   *slog.Logger
	inflight sync.WaitGroup
}

// NewAdapter creates an adapter. When config.Client is nil a real bot is
// created from the token.
func NewAdapter(config Config, gateway Conversations) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if gateway == nil {
		return nil, errors.New("telegram: gateway is required")
	}

	a := &Adapter{
		config:  config,
		gateway: gateway,
		allowed: make(map[int64]struct{}, len(config.AllowedUsers)),
		seen:    cache.NewDedupeCache(cache.DedupeCacheOptions{MaxSize: dedupeSize}),
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		metrics: config.Metrics,
		logger:  config.Logger.With("component", "telegram"),
	}
	for _, id := range config.AllowedUsers {
		a.allowed[id] = struct{}{}
	}

	a.client = config.Client
	if a.client == nil {
		client, err := newBotClient(config, a.dispatch)
		if err != nil {
			return nil, fmt.Errorf("telegram: create bot: %w", err)
		}
		a.client = client
	}
	return a, nil
}

// Run receives updates until ctx is done, then waits for in-flight
// handlers to finish.
func (a *Adapter) Run(ctx context.Context) error {
	a.logger.Info("starting telegram adapter", "mode", a.config.Mode, "allowed_users", len(a.allowed))
	defer a.inflight.Wait()

	if a.config.Mode == ModeWebhook {
		if _, err := a.client.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:         a.config.WebhookURL,
			SecretToken: a.config.WebhookSecret,
		}); err != nil {
			return fmt.Errorf("telegram: set webhook: %w", err)
		}
		a.client.StartWebhook(ctx)
	} else {
		if _, err := a.client.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
			a.logger.Warn("failed to clear webhook before polling", "error", err)
		}
		a.client.Start(ctx)
	}

	a.logger.Info("telegram adapter stopped")
	return nil
}

// WebhookHandler returns the HTTP handler for webhook mode.
func (a *Adapter) WebhookHandler() http.Handler {
	return a.client.WebhookHandler()
}

// dispatch is the bot's default handler. It hands the update to its own
// goroutine so a long run does not stall other chats.
func (a *Adapter) dispatch(ctx context.Context, _ *bot.Bot, update *models.Update) {
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		a.HandleUpdate(ctx, update)
	}()
}

// HandleUpdate processes one update synchronously.
func (a *Adapter) HandleUpdate(ctx context.Context, update *models.Update) {
	if update == nil {
		return
	}
	if a.seen.Check(cache.UpdateKey(update.ID)) {
		a.metrics.MessageReceived("duplicate")
		a.logger.Debug("dropping duplicate update", "update_id", update.ID)
		return
	}

	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}

	chatID := msg.Chat.ID
	if !a.authorized(msg.From) {
		a.metrics.MessageReceived("unauthorized")
		a.logger.Warn("unauthorized message", "chat_id", chatID, "user_id", userID(msg.From))
		a.sendPlain(ctx, chatID, unauthorizedText, "unauthorized")
		return
	}

	if isResetCommand(msg.Text) {
		a.metrics.MessageReceived("reset")
		if err := a.gateway.Reset(ctx, sessions.ChatID(chatID)); err != nil {
			a.logger.Warn("reset failed", "chat_id", chatID, "error", err)
			return
		}
		a.sendPlain(ctx, chatID, resetText, "reset")
		return
	}

	a.metrics.MessageReceived("text")
	a.converse(ctx, chatID, msg.Text)
}

func (a *Adapter) converse(ctx context.Context, chatID int64, text string) {
	keeper := typing.NewController(typing.Config{
		Send: func(ctx context.Context) error {
			_, err := a.client.SendChatAction(ctx, &bot.SendChatActionParams{
				ChatID: chatID,
				Action: models.ChatActionTyping,
			})
			return err
		},
		Interval: a.config.TypingInterval,
		Logger:   a.logger,
	})
	keeper.Start(ctx)
	defer keeper.Stop()

	var (
		sent         int
		lastFragment string
	)
	onFragment := func(fragment string) {
		lastFragment = fragment
		sent++
		if err := a.sendText(ctx, chatID, fragment, "fragment"); err != nil {
			a.logger.Warn("failed to send fragment", "chat_id", chatID, "error", err)
		}
	}

	ev := a.gateway.HandleUserMessage(ctx, sessions.ChatID(chatID), text, onFragment)
	keeper.Stop()

	switch ev.Kind {
	case agent.EventResult:
		// Fragments arrive trimmed, so compare the trimmed result.
		if final := strings.TrimSpace(ev.Text); sent > 0 && (final == "" || final == lastFragment) {
			return
		}
		if err := a.sendText(ctx, chatID, ev.Text, "result"); err != nil {
			a.logger.Warn("failed to send result", "chat_id", chatID, "error", err)
		}
	case agent.EventError:
		if ev.ErrorKind() == agent.KindCanceled || ev.Err == nil {
			return
		}
		if err := a.send(ctx, chatID, format.Error(ev.Err.Detail()), "error"); err != nil {
			a.logger.Warn("failed to send error", "chat_id", chatID, "error", err)
		}
	}
}

// DeliverHeartbeat sends a heartbeat report to chatID.
func (a *Adapter) DeliverHeartbeat(ctx context.Context, chatID sessions.ChatID, text string) error {
	return a.sendText(ctx, int64(chatID), heartbeatPrefix+text, "heartbeat")
}

func (a *Adapter) authorized(from *models.User) bool {
	if from == nil {
		return false
	}
	_, ok := a.allowed[from.ID]
	return ok
}

func (a *Adapter) sendText(ctx context.Context, chatID int64, text, kind string) error {
	for _, m := range format.ForTelegram(text) {
		if err := a.send(ctx, chatID, m, kind); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) sendPlain(ctx context.Context, chatID int64, text, kind string) {
	for _, m := range format.Plain(text) {
		if err := a.send(ctx, chatID, m, kind); err != nil {
			a.logger.Warn("failed to send message", "chat_id", chatID, "kind", kind, "error", err)
			return
		}
	}
}

// send delivers one message, retrying as plain text when Telegram rejects
// the MarkdownV2 entities.
func (a *Adapter) send(ctx context.Context, chatID int64, m format.Message, kind string) error {
	err := a.sendOnce(ctx, chatID, m)
	if err != nil && m.ParseMode == format.ParseModeMarkdownV2 && isParseError(err) {
		a.logger.Debug("markdown rejected, sending plain text", "chat_id", chatID, "error", err)
		err = a.sendOnce(ctx, chatID, format.Message{Text: format.UnescapeMarkdownV2(m.Text)})
	}
	if err != nil {
		a.metrics.RecordError("telegram", "send")
		return err
	}
	a.metrics.MessageSent(kind)
	return nil
}

func (a *Adapter) sendOnce(ctx context.Context, chatID int64, m format.Message) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := a.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      m.Text,
		ParseMode: models.ParseMode(m.ParseMode),
	})
	return err
}

func isParseError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "can't parse")
}

func isResetCommand(text string) bool {
	cmd := strings.ToLower(strings.TrimSpace(text))
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	return cmd == "/reset"
}

func userID(u *models.User) int64 {
	if u == nil {
		return 0
	}
	return u.ID
}
