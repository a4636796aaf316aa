package escalation

import (
	"context"
	"errors"

	"github.com/harun/concierge/internal/tracing"
	"github.com/harun/concierge/pkg/conversation"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "concierge.escalation"

// Multi delivers to every sender concurrently. Delivery succeeds when at
// least one sender succeeds.
type Multi struct {
	senders []conversation.Sender
}

// NewMulti combines senders, skipping nils.
func NewMulti(senders ...conversation.Sender) *Multi {
	m := &Multi{}
	for _, s := range senders {
		if s != nil {
			m.senders = append(m.senders, s)
		}
	}
	return m
}

// Len returns the number of senders.
func (m *Multi) Len() int { return len(m.senders) }

func (m *Multi) Send(ctx context.Context, req conversation.EscalationRequest) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "escalation.multi",
		attribute.Int("senders", len(m.senders)),
	)
	defer span.End()

	if len(m.senders) == 0 {
		err := &DeliveryError{Channel: "multi", Err: errors.New("no senders configured")}
		tracing.Fail(span, err)
		return err
	}

	p := pool.NewWithResults[error]().WithMaxGoroutines(len(m.senders))
	for _, s := range m.senders {
		p.Go(func() error { return s.Send(ctx, req) })
	}
	results := p.Wait()

	var errs []error
	for _, err := range results {
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}

	err := &DeliveryError{Channel: "multi", Err: errors.Join(errs...)}
	tracing.Fail(span, err)
	return err
}
