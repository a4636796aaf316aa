package terminal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/concierge/pkg/channels"
	"github.com/harun/concierge/pkg/conversation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []channels.InboundMessage
}

func (r *recorder) dispatch(_ context.Context, msg channels.InboundMessage) (conversation.Result, error) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()

	switch msg.Text {
	case "lost my laptop":
		return conversation.Result{Text: "Would you like me to escalate this?", Outcome: conversation.OutcomeCannotAnswer}, nil
	case "yes":
		return conversation.Result{Text: "I've escalated this; someone will follow up.", Outcome: conversation.OutcomeEscalated}, nil
	case "break":
		return conversation.Result{}, errors.New("save session: disk full")
	}
	return conversation.Result{Text: "answer to " + msg.Text, Outcome: conversation.OutcomeAnswered}, nil
}

func newTerminal(t *testing.T, input string) (*Channel, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	ch, err := New(Config{In: strings.NewReader(input), Out: &out, Greeting: "Ask me about the event.", Logger: zerolog.Nop()})
	require.NoError(t, err)
	return ch, &out
}

func TestRun(t *testing.T) {
	t.Run("conversation until quit", func(t *testing.T) {
		ch, out := newTerminal(t, "when is lunch?\n\nlost my laptop\nyes\nQUIT\nnever read\n")
		rec := &recorder{}

		require.NoError(t, ch.Run(context.Background(), rec.dispatch))

		require.Len(t, rec.msgs, 3)
		for _, msg := range rec.msgs {
			assert.Equal(t, Name, msg.Channel)
			assert.Equal(t, DefaultSessionID, msg.SessionID)
		}
		text := out.String()
		assert.True(t, strings.HasPrefix(text, "Ask me about the event.\n"))
		assert.Contains(t, text, "answer to when is lunch?")
		assert.Contains(t, text, "Would you like me to escalate this?")
		assert.Contains(t, text, "I've escalated this; someone will follow up.")
		assert.NotContains(t, text, "never read")
	})

	t.Run("eof ends the loop", func(t *testing.T) {
		ch, out := newTerminal(t, "  doors?  ")
		rec := &recorder{}

		require.NoError(t, ch.Run(context.Background(), rec.dispatch))
		require.Len(t, rec.msgs, 1)
		assert.Equal(t, "doors?", rec.msgs[0].Text)
		assert.Contains(t, out.String(), "answer to doors?")
	})

	t.Run("engine error shows fallback", func(t *testing.T) {
		ch, out := newTerminal(t, "break\nexit\n")
		rec := &recorder{}

		require.NoError(t, ch.Run(context.Background(), rec.dispatch))
		assert.Contains(t, out.String(), conversation.FallbackText)
		assert.NotContains(t, out.String(), "disk full")
	})

	t.Run("colors only on terminals", func(t *testing.T) {
		ch, out := newTerminal(t, "hi\n")
		require.NoError(t, ch.Run(context.Background(), (&recorder{}).dispatch))
		assert.NotContains(t, out.String(), "\x1b[")
	})
}

func TestStartStop(t *testing.T) {
	ch, out := newTerminal(t, "hello\nq\n")
	assert.Nil(t, ch.Done())
	require.Error(t, ch.Start(context.Background(), nil))

	require.NoError(t, ch.Start(context.Background(), (&recorder{}).dispatch))
	require.Error(t, ch.Start(context.Background(), (&recorder{}).dispatch))

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("terminal did not finish")
	}
	assert.NoError(t, ch.Err())
	assert.NoError(t, ch.Stop(context.Background()))
	assert.Contains(t, out.String(), "answer to hello")
}

func TestStopCancelsRun(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	var out bytes.Buffer
	ch, err := New(Config{In: reader, Out: &syncWriter{w: &out}})
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background(), (&recorder{}).dispatch))
	require.NoError(t, ch.Stop(context.Background()))

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("terminal did not stop")
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Out: &bytes.Buffer{}})
	assert.Error(t, err)
	_, err = New(Config{In: strings.NewReader("")})
	assert.Error(t, err)
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
