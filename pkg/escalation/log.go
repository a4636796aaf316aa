package escalation

import (
	"context"

	"github.com/harun/concierge/internal/tracing"
	"github.com/harun/concierge/pkg/conversation"
	"github.com/rs/zerolog"
)

// LogSender records escalations in the log and always succeeds. It is the
// fallback when no delivery channel is configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "escalation").Str("channel", "log").Logger()}
}

func (s *LogSender) Send(ctx context.Context, req conversation.EscalationRequest) error {
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("question", req.OriginalQuestion).
		Str("confirmation", req.ConfirmationMessage).
		Str("reference", req.Reference).
		Msg("Escalation confirmed (no delivery channel configured)")
	return nil
}
