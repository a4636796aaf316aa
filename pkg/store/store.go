package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/concierge/internal/observability"
	"github.com/harun/concierge/internal/tracing"
	"github.com/harun/concierge/pkg/conversation"
	"go.opentelemetry.io/otel/attribute"
)

// ErrInvalidSessionID is returned for ids a backend cannot key on.
var ErrInvalidSessionID = errors.New("invalid session id")

// Store is a conversation.Store that holds resources.
type Store interface {
	conversation.Store
	Close() error
}

// Pruner deletes sessions last updated before cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

func validateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("%w: contains null byte", ErrInvalidSessionID)
	}
	return nil
}

// instrumented records metrics and spans around a backend.
type instrumented struct {
	backend string
	next    Store
}

func instrument(backend string, s Store) Store {
	observability.EnsureRegistered()
	return &instrumented{backend: backend, next: s}
}

func (s *instrumented) Load(ctx context.Context, id string) (conversation.Session, error) {
	ctx, span := tracing.StartSpan(ctx, "concierge.store", "store.load",
		attribute.String("backend", s.backend),
	)
	defer span.End()

	start := time.Now()
	session, err := s.next.Load(ctx, id)
	observability.RecordStoreOp(s.backend, "load", time.Since(start))
	if err != nil {
		tracing.Fail(span, err)
	}
	return session, err
}

func (s *instrumented) Save(ctx context.Context, id string, session conversation.Session) error {
	ctx, span := tracing.StartSpan(ctx, "concierge.store", "store.save",
		attribute.String("backend", s.backend),
		attribute.Int("history", len(session.History)),
	)
	defer span.End()

	start := time.Now()
	err := s.next.Save(ctx, id, session)
	observability.RecordStoreOp(s.backend, "save", time.Since(start))
	if err != nil {
		tracing.Fail(span, err)
	}
	return err
}

func (s *instrumented) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	p, ok := s.next.(Pruner)
	if !ok {
		return 0, nil
	}
	start := time.Now()
	n, err := p.Prune(ctx, cutoff)
	observability.RecordStoreOp(s.backend, "prune", time.Since(start))
	return n, err
}

func (s *instrumented) Close() error {
	return s.next.Close()
}

// Unwrap returns the backend behind the instrumentation.
func (s *instrumented) Unwrap() Store {
	return s.next
}

func savedAt(session conversation.Session) time.Time {
	if session.UpdatedAt.IsZero() {
		return time.Now()
	}
	return session.UpdatedAt
}
