package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/concierge/internal/observability"
	"github.com/harun/concierge/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultCooldown is the base cooldown after a retryable failure. It grows
// linearly with consecutive failures.
const DefaultCooldown = time.Minute

// Candidate is a provider with the profile it was built from.
type Candidate struct {
	Profile  Profile
	Provider Provider
}

type candidateState struct {
	Candidate
	failures      int
	cooldownUntil time.Time
}

// Failover tries candidates in order. A retryable failure parks the
// candidate and moves on; a permanent failure is returned immediately.
type Failover struct {
	mu         sync.Mutex
	candidates []*candidateState
	cooldown   time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// FailoverOption configures a Failover.
type FailoverOption func(*Failover)

func WithCooldown(d time.Duration) FailoverOption {
	return func(f *Failover) { f.cooldown = d }
}

func WithFailoverClock(now func() time.Time) FailoverOption {
	return func(f *Failover) { f.now = now }
}

func WithFailoverLogger(logger zerolog.Logger) FailoverOption {
	return func(f *Failover) { f.logger = logger }
}

// NewFailover orders candidates by profile priority.
func NewFailover(candidates []Candidate, opts ...FailoverOption) *Failover {
	observability.EnsureRegistered()

	f := &Failover{
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}

	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	for i := range ordered {
		if ordered[i].Profile.ID == "" {
			ordered[i].Profile.ID = fmt.Sprintf("%s-%d", ordered[i].Provider.Name(), i)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Profile.Priority < ordered[j].Profile.Priority
	})
	for _, c := range ordered {
		f.candidates = append(f.candidates, &candidateState{Candidate: c})
	}
	f.logger = f.logger.With().Str("component", "llm_failover").Logger()
	return f
}

// FromProfiles builds providers for profiles and wraps them in a Failover.
func FromProfiles(ctx context.Context, profiles []Profile, opts ...FailoverOption) (*Failover, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("at least one model profile is required")
	}
	candidates := make([]Candidate, 0, len(profiles))
	for _, p := range profiles {
		provider, err := NewProvider(ctx, p)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{Profile: p, Provider: provider})
	}
	return NewFailover(candidates, opts...), nil
}

func (f *Failover) Name() string { return "failover" }

// Call runs req against the first healthy candidate. The candidate's
// configured model overrides req.Model.
func (f *Failover) Call(ctx context.Context, req Request) (*Response, error) {
	logger := tracing.LoggerFromContext(ctx, f.logger)
	var lastErr error
	tried := 0

	for _, c := range f.snapshot() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.coolingDown(c) {
			observability.SetProviderCooldown(c.Profile.ID, true)
			logger.Debug().Str("profile", c.Profile.ID).Msg("Skipping profile in cooldown")
			continue
		}
		tried++

		attempt := req
		if c.Profile.Model != "" {
			attempt.Model = c.Profile.Model
		}

		resp, err := f.callOne(ctx, c, attempt)
		if err == nil {
			f.markSuccess(c)
			return resp, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
		f.markFailure(c)
		logger.Warn().Str("profile", c.Profile.ID).Err(err).Msg("Model profile failed, trying next")
	}

	if tried == 0 {
		return nil, ErrNoProviders
	}
	return nil, fmt.Errorf("all model profiles failed: %w", lastErr)
}

func (f *Failover) callOne(ctx context.Context, c *candidateState, req Request) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "concierge.llm", "llm.call",
		attribute.String("provider", c.Provider.Name()),
		attribute.String("profile", c.Profile.ID),
		attribute.String("model", req.Model),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.Provider.Call(ctx, req)
	observability.RecordLLMCall(c.Provider.Name(), time.Since(start), err == nil)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("input_tokens", resp.Usage.InputTokens),
		attribute.Int("output_tokens", resp.Usage.OutputTokens),
		attribute.Int("tool_calls", len(resp.ToolCalls)),
	)
	return resp, nil
}

func (f *Failover) snapshot() []*candidateState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*candidateState, len(f.candidates))
	copy(out, f.candidates)
	return out
}

func (f *Failover) coolingDown(c *candidateState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now().Before(c.cooldownUntil)
}

func (f *Failover) markSuccess(c *candidateState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.failures = 0
	c.cooldownUntil = time.Time{}
	observability.SetProviderCooldown(c.Profile.ID, false)
}

func (f *Failover) markFailure(c *candidateState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.failures++
	c.cooldownUntil = f.now().Add(time.Duration(c.failures) * f.cooldown)
	observability.SetProviderCooldown(c.Profile.ID, true)
}
