package channels

import (
	"context"
	"errors"
	"strings"

	"github.com/harun/concierge/internal/tracing"
	"github.com/harun/concierge/pkg/conversation"
)

// InboundMessage is the normalized ingress payload from any adapter.
type InboundMessage struct {
	Channel   string
	SessionID string
	Text      string
}

// Dispatch routes an inbound message to the conversation engine.
type Dispatch func(ctx context.Context, msg InboundMessage) (conversation.Result, error)

// Channel is an adapter runtime (terminal, http, telegram).
type Channel interface {
	Name() string
	Start(ctx context.Context, dispatch Dispatch) error
	Stop(ctx context.Context) error
}

// Processor is the engine surface adapters depend on.
type Processor interface {
	Process(ctx context.Context, sessionID, message string) (conversation.Result, error)
}

// EngineDispatch adapts an engine to Dispatch, tagging the context with the
// ingress channel.
func EngineDispatch(p Processor) Dispatch {
	return func(ctx context.Context, msg InboundMessage) (conversation.Result, error) {
		if msg.Channel != "" {
			ctx = tracing.WithChannel(ctx, msg.Channel)
		}
		return p.Process(ctx, strings.TrimSpace(msg.SessionID), msg.Text)
	}
}

// ReplyText is the text an adapter shows for a dispatch outcome. Input errors
// keep their own message; everything else shows the fallback text.
func ReplyText(res conversation.Result, err error) string {
	switch {
	case err == nil:
		return res.Text
	case errors.Is(err, conversation.ErrEmptyMessage):
		return err.Error()
	default:
		return conversation.FallbackText
	}
}
