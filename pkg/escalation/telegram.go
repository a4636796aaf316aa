package escalation

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/concierge/internal/tracing"
	"github.com/harun/concierge/pkg/conversation"
	"github.com/rs/zerolog"
)

const telegramMessageLimit = 4096

// TelegramConfig configures a TelegramSender.
type TelegramConfig struct {
	BotToken      string
	ChatID        int64
	MessagePrefix string
	// APIEndpoint overrides the Bot API endpoint format, e.g. for tests.
	APIEndpoint string
	Logger      zerolog.Logger
}

// TelegramSender posts escalations to an organizer chat.
type TelegramSender struct {
	api    *tgbotapi.BotAPI
	chatID int64
	prefix string
	logger zerolog.Logger
}

// NewTelegramSender authenticates the bot and creates a sender.
func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram organizer chat id is required")
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	return &TelegramSender{
		api:    api,
		chatID: cfg.ChatID,
		prefix: cfg.MessagePrefix,
		logger: cfg.Logger.With().Str("component", "escalation").Str("channel", "telegram").Logger(),
	}, nil
}

// Send posts one message to the organizer chat.
func (s *TelegramSender) Send(ctx context.Context, req conversation.EscalationRequest) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "escalation.telegram")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if err := ctx.Err(); err != nil {
		return &DeliveryError{Channel: "telegram", Err: err}
	}

	msg := tgbotapi.NewMessage(s.chatID, truncate(FormatMessage(s.prefix, req), telegramMessageLimit))
	if _, err := s.api.Send(msg); err != nil {
		derr := &DeliveryError{Channel: "telegram", Err: err}
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			derr.StatusCode = apiErr.Code
		}
		tracing.Fail(span, derr)
		logger.Warn().Err(err).Msg("Telegram escalation failed")
		return derr
	}

	logger.Info().Int64("chat_id", s.chatID).Str("reference", req.Reference).Msg("Telegram escalation sent")
	return nil
}
