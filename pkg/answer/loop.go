package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/concierge/internal/observability"
	"github.com/harun/concierge/internal/tracing"
	"github.com/harun/concierge/pkg/conversation"
	"github.com/harun/concierge/pkg/knowledge"
	"github.com/harun/concierge/pkg/llm"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "concierge.answer"

const (
	DefaultMaxIterations = 4
	DefaultMaxPassages   = 5
	DefaultTimezone      = "America/Los_Angeles"
	DefaultScope         = "this event: schedule, rules, logistics, prizes, sponsors, workshops, " +
		"judging and other event-related questions"
	DefaultAgentName = "the event concierge"
)

// ErrIterationLimit is returned when the model keeps proposing operations
// without finalizing.
var ErrIterationLimit = errors.New("answer: iteration limit reached")

// Step is the answer-capability contract consumed by the conversation engine.
type Step interface {
	Answer(ctx context.Context, question string, history []conversation.Turn) (conversation.Answer, error)
}

var (
	_ Step                  = (*Loop)(nil)
	_ conversation.Answerer = (*Loop)(nil)
)

// Loop answers questions by letting a model retrieve evidence and finalize,
// for at most MaxIterations model calls.
type Loop struct {
	provider      llm.Provider
	retriever     knowledge.Retriever
	model         string
	maxIterations int
	maxPassages   int
	retryOnce     bool
	temperature   float64
	maxTokens     int
	location      *time.Location
	scope         string
	agentName     string
	now           func() time.Time
	logger        zerolog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

func WithModel(model string) Option { return func(l *Loop) { l.model = model } }

// WithMaxIterations caps model calls per attempt. Values below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n >= 1 {
			l.maxIterations = n
		}
	}
}

// WithMaxPassages caps evidence passages per retrieval.
func WithMaxPassages(n int) Option {
	return func(l *Loop) {
		if n >= 1 {
			l.maxPassages = n
		}
	}
}

// WithRetryOnce enables or disables the single silent retry after a model
// or transport failure.
func WithRetryOnce(retry bool) Option { return func(l *Loop) { l.retryOnce = retry } }

func WithTemperature(t float64) Option { return func(l *Loop) { l.temperature = t } }

func WithMaxTokens(n int) Option { return func(l *Loop) { l.maxTokens = n } }

// WithLocation sets the timezone used for the current time in the prompt.
func WithLocation(loc *time.Location) Option {
	return func(l *Loop) {
		if loc != nil {
			l.location = loc
		}
	}
}

// WithScope describes what the assistant answers questions about.
func WithScope(scope string) Option {
	return func(l *Loop) {
		if strings.TrimSpace(scope) != "" {
			l.scope = scope
		}
	}
}

func WithAgentName(name string) Option {
	return func(l *Loop) {
		if strings.TrimSpace(name) != "" {
			l.agentName = name
		}
	}
}

func WithClock(now func() time.Time) Option { return func(l *Loop) { l.now = now } }

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) { l.logger = logger.With().Str("component", "answer").Logger() }
}

// NewLoop creates an answer loop over provider and retriever.
func NewLoop(provider llm.Provider, retriever knowledge.Retriever, opts ...Option) (*Loop, error) {
	observability.EnsureRegistered()

	if provider == nil {
		return nil, errors.New("answer: provider is required")
	}
	if retriever == nil {
		return nil, errors.New("answer: retriever is required")
	}

	l := &Loop{
		provider:      provider,
		retriever:     retriever,
		maxIterations: DefaultMaxIterations,
		maxPassages:   DefaultMaxPassages,
		retryOnce:     true,
		location:      DefaultLocation(),
		scope:         DefaultScope,
		agentName:     DefaultAgentName,
		now:           time.Now,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// DefaultLocation returns America/Los_Angeles, or UTC when the zone database
// is unavailable.
func DefaultLocation() *time.Location {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Answer implements Step. Model and transport failures are retried once
// when enabled; exhausting the iteration cap is not retried.
func (l *Loop) Answer(ctx context.Context, question string, history []conversation.Turn) (conversation.Answer, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "answer.loop",
		attribute.Int("history_turns", len(history)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, l.logger)

	ans, err := l.run(ctx, question, history)
	if err != nil && l.retryOnce && ctx.Err() == nil && !errors.Is(err, ErrIterationLimit) {
		logger.Warn().Err(err).Msg("Answer attempt failed, retrying once")
		ans, err = l.run(ctx, question, history)
	}
	if err != nil {
		tracing.Fail(span, err)
		return conversation.Answer{}, err
	}

	span.SetAttributes(attribute.Bool("can_answer", ans.CanAnswer))
	return ans, nil
}

func (l *Loop) run(ctx context.Context, question string, history []conversation.Turn) (conversation.Answer, error) {
	logger := tracing.LoggerFromContext(ctx, l.logger)
	messages := buildMessages(history, question)
	system := l.systemPrompt()

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		resp, err := l.provider.Call(ctx, llm.Request{
			Model:       l.model,
			System:      system,
			Messages:    messages,
			Tools:       toolSpecs(),
			Temperature: l.temperature,
			MaxTokens:   l.maxTokens,
		})
		if err != nil {
			return conversation.Answer{}, fmt.Errorf("model call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			observability.RecordAnswerIterations(iteration)
			return l.finalize(FinalizeAnswer{Text: resp.Content}), nil
		}

		logger.Debug().
			Int("iteration", iteration).
			Int("tool_calls", len(resp.ToolCalls)).
			Msg("Model proposed operations")

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			op, err := Decode(call)
			if err != nil {
				logger.Warn().Err(err).Str("tool", call.Name).Msg("Rejected tool call")
				messages = append(messages, toolResult(call, "Error: "+err.Error()))
				continue
			}

			switch op := op.(type) {
			case Retrieve:
				messages = append(messages, toolResult(call, l.retrieve(ctx, op.Query)))
			case FinalizeAnswer, FinalizeCannotAnswer:
				observability.RecordAnswerIterations(iteration)
				return l.finalize(op), nil
			}
		}
	}

	observability.RecordAnswerIterations(l.maxIterations)
	logger.Warn().Int("max_iterations", l.maxIterations).Msg("Answer loop hit iteration limit")
	return conversation.Answer{}, ErrIterationLimit
}

func (l *Loop) finalize(op Operation) conversation.Answer {
	switch op := op.(type) {
	case FinalizeAnswer:
		text := strings.TrimSpace(op.Text)
		return conversation.Answer{Text: text, CanAnswer: text != ""}
	case FinalizeCannotAnswer:
		return conversation.Answer{Text: strings.TrimSpace(op.Reason), CanAnswer: false}
	}
	return conversation.Answer{}
}

// retrieve runs a Retrieve operation and renders the tool result. Failures
// are reported to the model rather than ending the loop.
func (l *Loop) retrieve(ctx context.Context, query string) string {
	ctx, span := tracing.StartSpan(ctx, tracerName, "answer.retrieve",
		attribute.String("query", query),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, l.logger)

	ps, err := l.retriever.Retrieve(ctx, query)
	if err != nil {
		tracing.Fail(span, err)
		observability.RecordRetrieval("error")
		logger.Warn().Err(err).Str("query", query).Msg("Retrieval failed")
		return "The knowledge base is unavailable right now, so no evidence could be retrieved. " +
			"Do not answer from general knowledge."
	}

	passages := knowledge.Collect(ps, l.maxPassages)
	span.SetAttributes(attribute.Int("passages", len(passages)))
	if len(passages) == 0 {
		observability.RecordRetrieval("empty")
		return "No passages in the knowledge base matched this query."
	}
	observability.RecordRetrieval("hit")
	return RenderEvidence(passages)
}

// RenderEvidence formats passages as numbered "[n] (sourceRef) text" blocks.
func RenderEvidence(passages []knowledge.Passage) string {
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (%s) %s", i+1, p.SourceRef, strings.TrimSpace(p.Text))
	}
	return b.String()
}

func toolResult(call llm.ToolCall, content string) llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

func buildMessages(history []conversation.Turn, question string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+1)
	for _, turn := range history {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		role := llm.RoleUser
		if turn.Role == conversation.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: question})
}

func (l *Loop) systemPrompt() string {
	now := l.now().In(l.location)
	return fmt.Sprintf(`You are %s, a Q&A assistant answering questions about %s.
The current date and time is %s. Use it for time-sensitive questions: if a meal or session is already over, say so instead of presenting it as upcoming.

Rules:
- Call %s before answering any question that could be covered by the event documentation. Never answer from general knowledge.
- When the retrieved passages answer the question, call %s with a concise reply grounded in them.
- When the documentation does not contain the answer, call %s with one short sentence explaining that. Do not send the participant elsewhere (for example "check the website" or "ask a volunteer").
- If the participant is in distress, upset, or reporting an urgent situation (theft, injury, harassment, a lost item, a medical or safety issue), or needs real-time on-the-ground information (where an organizer is now, why food is late today), call %s so a human organizer can follow up.
- For questions unrelated to the event, use %s to say politely what you can help with.`,
		l.agentName, l.scope, now.Format("Monday, January 2, 2006 at 3:04 PM MST"),
		ToolRetrieve, ToolFinalAnswer, ToolCannotAnswer, ToolCannotAnswer, ToolFinalAnswer,
	)
}
