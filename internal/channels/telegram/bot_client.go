package telegram

import (
	"context"
	"net/http"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// BotClient is the subset of the Bot API the adapter uses. *bot.Bot
// satisfies it; tests substitute a fake.
type BotClient interface {
	// SendMessage sends a text message to a chat.
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)

	// SendChatAction shows a chat action such as "typing".
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)

	// SetWebhook registers the webhook URL with Telegram.
	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)

	// DeleteWebhook switches the bot back to getUpdates.
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)

	// Start long-polls for updates until ctx is done.
	Start(ctx context.Context)

	// StartWebhook processes webhook updates until ctx is done.
	StartWebhook(ctx context.Context)

	// WebhookHandler receives webhook POSTs.
	WebhookHandler() http.HandlerFunc
}

var _ BotClient = (*bot.Bot)(nil)

// newBotClient builds the real client with handler as the default update
// handler.
func newBotClient(config Config, handler bot.HandlerFunc) (BotClient, error) {
	opts := []bot.Option{
		bot.WithDefaultHandler(handler),
	}
	if config.WebhookSecret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(config.WebhookSecret))
	}
	b, err := bot.New(config.Token, opts...)
	if err != nil {
		return nil, err
	}
	return b, nil
}
