package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/concierge/internal/observability"
	"github.com/harun/concierge/internal/tracing"
	"github.com/harun/concierge/pkg/lanequeue"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrEmptyMessage is returned for messages that are blank after trimming.
	ErrEmptyMessage = errors.New("message is empty; please send a non-empty question")
	// ErrEmptySessionID is returned when Process gets a blank session id.
	ErrEmptySessionID = errors.New("session id is empty")
)

const (
	defaultHistoryLimit = 20
	defaultContextTurns = 10

	// A stored history never drops the exchange that was just appended.
	minHistoryLimit = 2

	tracerName = "concierge.conversation"
)

// Engine is the per-turn orchestrator. Safe for concurrent use.
type Engine struct {
	answerer Answerer
	sender   Sender
	store    Store
	lanes    *lanequeue.Queue

	ownsLanes    bool
	now          func() time.Time
	historyLimit int
	contextTurns int
	texts        Texts
	logger       zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithHistoryLimit bounds the stored history. Values below 2 are raised to 2.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n < minHistoryLimit {
			n = minHistoryLimit
		}
		e.historyLimit = n
	}
}

// WithContextTurns bounds how many prior turns the answer step sees.
func WithContextTurns(n int) Option {
	return func(e *Engine) {
		if n < 0 {
			n = 0
		}
		e.contextTurns = n
	}
}

// WithTexts overrides user-facing texts. Empty fields keep their defaults.
func WithTexts(t Texts) Option {
	return func(e *Engine) {
		e.texts = t.withDefaults()
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLanes shares an existing lane queue. The engine will not close it.
func WithLanes(q *lanequeue.Queue) Option {
	return func(e *Engine) {
		if q != nil {
			e.lanes = q
			e.ownsLanes = false
		}
	}
}

// NewEngine wires an engine from its collaborators.
func NewEngine(answerer Answerer, sender Sender, store Store, opts ...Option) *Engine {
	observability.EnsureRegistered()

	e := &Engine{
		answerer:     answerer,
		sender:       sender,
		store:        store,
		now:          time.Now,
		historyLimit: defaultHistoryLimit,
		contextTurns: defaultContextTurns,
		texts:        DefaultTexts(),
		logger:       log.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.lanes == nil {
		e.lanes = lanequeue.New(lanequeue.Options{Logger: &e.logger})
		e.ownsLanes = true
	}
	e.logger = e.logger.With().Str("component", "engine").Logger()

	return e
}

// Process handles one message for sessionID: it loads the session, decides,
// and saves, all inside the session's lane. Store failures are returned
// wrapped, with FallbackText as the result text.
func (e *Engine) Process(ctx context.Context, sessionID, message string) (Result, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Result{}, ErrEmptySessionID
	}
	if strings.TrimSpace(message) == "" {
		return Result{}, ErrEmptyMessage
	}

	ctx = tracing.NewTurnContext(ctx, sessionID)
	start := time.Now()

	var result Result
	err := e.lanes.Do(ctx, sessionID, func(ctx context.Context) error {
		session, err := e.store.Load(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}

		res, next, err := e.ProcessSession(ctx, message, session)
		if err != nil {
			return err
		}

		// The turn may already have reached the sender, so its state is
		// saved even if the caller has gone away.
		if err := e.store.Save(tracing.Detach(ctx), sessionID, next); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		result = res
		return nil
	})
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, e.logger)
		logger.Error().Err(err).Msg("Turn failed")
		return Result{Text: FallbackText}, err
	}

	observability.RecordTurn(result.Outcome.String(), time.Since(start))
	return result, nil
}

// ProcessSession applies one message to session and returns the result and
// the next session state. session is not modified. The only error is
// ErrEmptyMessage, in which case session is returned unchanged.
func (e *Engine) ProcessSession(ctx context.Context, message string, session Session) (Result, Session, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Result{}, session, ErrEmptyMessage
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "conversation.process",
		attribute.String("last_outcome", session.LastOutcome.String()),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)

	next := session.Clone()
	if err := next.Validate(); err != nil {
		logger.Warn().Err(err).Msg("Repairing inconsistent session")
		next = repair(next)
	}

	var result Result
	if next.LastOutcome == OutcomeCannotAnswer && IsConfirmation(message) {
		result = e.escalate(ctx, message, next)
	} else {
		result = e.answer(ctx, message, next)
	}

	now := e.now()
	next.LastOutcome = result.Outcome
	next.PendingQuestion = result.PendingQuestion
	next.History = append(next.History,
		Turn{Role: RoleUser, Text: message, At: now},
		Turn{Role: RoleAssistant, Text: result.Text, At: now},
	)
	if len(next.History) > e.historyLimit {
		next.History = append([]Turn(nil), next.History[len(next.History)-e.historyLimit:]...)
	}
	next.UpdatedAt = now

	if err := next.Validate(); err != nil {
		// Unreachable unless the decision code above is wrong.
		logger.Error().Err(err).Msg("Session invariant violated after turn")
		tracing.Fail(span, err)
	}

	span.SetAttributes(attribute.String("outcome", result.Outcome.String()))
	logger.Info().
		Str("outcome", result.Outcome.String()).
		Int("history", len(next.History)).
		Msg("Turn processed")

	return result, next, nil
}

// escalate delivers the pending question. On failure the offer stays open.
func (e *Engine) escalate(ctx context.Context, message string, session Session) Result {
	logger := tracing.LoggerFromContext(ctx, e.logger)

	req := EscalationRequest{
		OriginalQuestion:    session.PendingQuestion,
		ConfirmationMessage: message,
		SessionID:           tracing.GetSessionID(ctx),
		Reference:           newReference(),
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "conversation.escalate",
		attribute.String("reference", req.Reference),
	)
	defer span.End()

	if err := e.sender.Send(ctx, req); err != nil {
		tracing.Fail(span, err)
		observability.RecordEscalation(false)
		observability.RecordEscalationAudit(ctx, req.SessionID, "failure", map[string]interface{}{
			"reference": req.Reference,
			"error":     err.Error(),
		})
		logger.Warn().Err(err).Str("reference", req.Reference).Msg("Escalation delivery failed")

		return Result{
			Text:            e.texts.DeliveryFailed,
			Outcome:         OutcomeCannotAnswer,
			PendingQuestion: session.PendingQuestion,
		}
	}

	observability.RecordEscalation(true)
	observability.RecordEscalationAudit(ctx, req.SessionID, "success", map[string]interface{}{
		"reference": req.Reference,
	})
	logger.Info().Str("reference", req.Reference).Msg("Escalation delivered")

	return Result{
		Text:    e.texts.Escalated,
		Outcome: OutcomeEscalated,
	}
}

// answer runs the answer step on message as a new question.
func (e *Engine) answer(ctx context.Context, message string, session Session) Result {
	logger := tracing.LoggerFromContext(ctx, e.logger)

	ans, err := e.answerer.Answer(ctx, message, session.Recent(e.contextTurns))
	if err != nil {
		logger.Warn().Err(err).Msg("Answer step failed")
		return e.offer("", message)
	}

	text := strings.TrimSpace(ans.Text)
	if !ans.CanAnswer || text == "" {
		return e.offer(text, message)
	}

	return Result{Text: text, Outcome: OutcomeAnswered}
}

func (e *Engine) offer(explanation, question string) Result {
	if explanation == "" {
		explanation = e.texts.CannotAnswer
	}
	return Result{
		Text:            explanation + " " + e.texts.Offer,
		Outcome:         OutcomeCannotAnswer,
		PendingQuestion: question,
	}
}

// Close stops the engine's own lane queue, waiting for running turns.
func (e *Engine) Close(ctx context.Context) error {
	if !e.ownsLanes {
		return nil
	}
	return e.lanes.Close(ctx)
}

// repair resolves a session that breaks the pending-question invariant in
// favor of no open offer.
func repair(s Session) Session {
	if s.LastOutcome == OutcomeCannotAnswer && s.PendingQuestion == "" {
		s.LastOutcome = OutcomeNone
	}
	if s.LastOutcome != OutcomeCannotAnswer {
		s.PendingQuestion = ""
	}
	return s
}

func newReference() string {
	id, err := gonanoid.New(12)
	if err != nil {
		return fmt.Sprintf("esc-%d", time.Now().UnixNano())
	}
	return id
}
