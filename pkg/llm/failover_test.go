package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailover(t *testing.T) {
	ctx := context.Background()
	retryable := &StatusError{Provider: "test", StatusCode: 503, Err: errors.New("unavailable")}
	permanent := &StatusError{Provider: "test", StatusCode: 401, Err: errors.New("bad key")}

	t.Run("orders by priority and overrides model", func(t *testing.T) {
		low := NewScripted("low", Reply("from low"))
		high := NewScripted("high", Reply("from high"))

		f := NewFailover([]Candidate{
			{Profile: Profile{ID: "b", Priority: 2}, Provider: low},
			{Profile: Profile{ID: "a", Priority: 1, Model: "gpt-4o"}, Provider: high},
		})

		resp, err := f.Call(ctx, Request{Model: "ignored"})
		require.NoError(t, err)
		assert.Equal(t, "from high", resp.Content)
		assert.Equal(t, "gpt-4o", high.Requests()[0].Model)
		assert.Empty(t, low.Requests())
	})

	t.Run("retryable failure moves to next and cools down", func(t *testing.T) {
		now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
		first := NewScripted("first", Fail(retryable))
		second := NewScripted("second", Reply("ok"), Reply("ok again"))

		f := NewFailover([]Candidate{
			{Profile: Profile{ID: "first", Priority: 1}, Provider: first},
			{Profile: Profile{ID: "second", Priority: 2}, Provider: second},
		}, WithCooldown(time.Minute), WithFailoverClock(func() time.Time { return now }))

		resp, err := f.Call(ctx, Request{})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)

		// first is cooling down, so it is not called again.
		resp, err = f.Call(ctx, Request{})
		require.NoError(t, err)
		assert.Equal(t, "ok again", resp.Content)
		assert.Len(t, first.Requests(), 1)

		now = now.Add(2 * time.Minute)
		first.Push(Reply("recovered"))
		resp, err = f.Call(ctx, Request{})
		require.NoError(t, err)
		assert.Equal(t, "recovered", resp.Content)
	})

	t.Run("permanent failure stops immediately", func(t *testing.T) {
		first := NewScripted("first", Fail(permanent))
		second := NewScripted("second", Reply("unused"))

		f := NewFailover([]Candidate{
			{Profile: Profile{ID: "first"}, Provider: first},
			{Profile: Profile{ID: "second", Priority: 1}, Provider: second},
		})

		_, err := f.Call(ctx, Request{})
		assert.ErrorIs(t, err, permanent)
		assert.Empty(t, second.Requests())
	})

	t.Run("all failing", func(t *testing.T) {
		f := NewFailover([]Candidate{
			{Profile: Profile{ID: "only"}, Provider: NewScripted("only", Fail(retryable))},
		})

		_, err := f.Call(ctx, Request{})
		assert.ErrorContains(t, err, "all model profiles failed")
		assert.ErrorIs(t, err, retryable)

		_, err = f.Call(ctx, Request{})
		assert.ErrorIs(t, err, ErrNoProviders)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		f := NewFailover([]Candidate{{Provider: NewScripted("p", Reply("x"))}})

		_, err := f.Call(cctx, Request{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"429", &StatusError{StatusCode: 429, Err: errors.New("slow down")}, true},
		{"500", &StatusError{StatusCode: 500, Err: errors.New("oops")}, true},
		{"400", &StatusError{StatusCode: 400, Err: errors.New("bad request")}, false},
		{"connection reset text", errors.New("read: connection reset by peer"), true},
		{"plain", errors.New("invalid tool schema"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, Profile{ID: "o", Provider: "OpenAI", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = NewProvider(ctx, Profile{ID: "a", Provider: "anthropic", APIKey: "sk-ant-test"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = NewProvider(ctx, Profile{ID: "x", Provider: "llama", APIKey: "k"})
	assert.ErrorContains(t, err, "unsupported provider")

	_, err = NewProvider(ctx, Profile{ID: "empty", Provider: "openai"})
	assert.ErrorContains(t, err, "api key is empty")
}

func TestScripted(t *testing.T) {
	s := NewScripted("", Reply("one"))
	assert.Equal(t, "scripted", s.Name())

	resp, err := s.Call(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "one", resp.Content)

	_, err = s.Call(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrScriptExhausted)
	assert.Len(t, s.Requests(), 2)
	assert.Equal(t, 0, s.Remaining())
}
