// Package telegram is a long-polling Telegram bot adapter.
//
// Each chat is one conversation with session id "telegram:<chat id>". In
// groups the bot only answers when mentioned or replied to.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/concierge/pkg/channels"
	"github.com/rs/zerolog"
)

const (
	Name = "telegram"

	defaultPollTimeout = 60
	messageLimit       = 4096
	defaultGreeting    = "Hi! Ask me anything about the event."
)

// Config configures the Telegram adapter.
type Config struct {
	BotToken string
	// APIEndpoint overrides tgbotapi.APIEndpoint, e.g. for a local bot API server.
	APIEndpoint string
	// AllowedChatIDs restricts the chats served. Empty serves every chat.
	AllowedChatIDs []int64
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	Greeting    string
	Logger      zerolog.Logger
}

// Channel is the Telegram adapter.
type Channel struct {
	cfg     Config
	allowed map[int64]bool
	logger  zerolog.Logger

	mu       sync.Mutex
	api      *tgbotapi.BotAPI
	dispatch channels.Dispatch
	cancel   context.CancelFunc
	done     chan struct{}
}

// New validates cfg. The bot authenticates on Start.
func New(cfg Config) (*Channel, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.Greeting == "" {
		cfg.Greeting = defaultGreeting
	}

	allowed := make(map[int64]bool, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		allowed[id] = true
	}

	return &Channel{
		cfg:     cfg,
		allowed: allowed,
		logger:  cfg.Logger.With().Str("component", "telegram").Logger(),
	}, nil
}

func (c *Channel) Name() string { return Name }

// SessionID is the conversation key for a chat.
func SessionID(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

// Start authenticates and begins long polling.
func (c *Channel) Start(ctx context.Context, dispatch channels.Dispatch) error {
	if dispatch == nil {
		return fmt.Errorf("dispatch function is required")
	}

	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return fmt.Errorf("bot is already running")
	}
	c.mu.Unlock()

	endpoint := c.cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(c.cfg.BotToken, endpoint)
	if err != nil {
		return fmt.Errorf("failed to create bot API: %w", err)
	}

	c.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.cfg.PollTimeout
	u.AllowedUpdates = []string{"message"}
	updates := api.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.api = api
	c.dispatch = dispatch
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.processUpdates(ctx, updates, done)

	c.logger.Info().Msg("Telegram bot started")
	return nil
}

// Stop stops polling and waits for the update in flight.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	api, cancel, done := c.api, c.cancel, c.done
	c.api, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()

	if done == nil {
		return nil
	}

	api.StopReceivingUpdates()
	cancel()

	select {
	case <-done:
		c.logger.Info().Msg("Telegram bot stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processUpdates handles updates in arrival order so turns of one chat stay
// ordered.
func (c *Channel) processUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := c.handleUpdate(ctx, update); err != nil {
				c.logger.Error().
					Err(err).
					Int("update_id", update.UpdateID).
					Msg("Failed to handle update")
			}
		}
	}
}
