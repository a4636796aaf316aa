package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/concierge/internal/config"
	"github.com/harun/concierge/internal/logger"
	"github.com/harun/concierge/pkg/answer"
	"github.com/harun/concierge/pkg/conversation"
	"github.com/harun/concierge/pkg/escalation"
	"github.com/harun/concierge/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const knowledgeJSON = `{
  "schedule": {
    "semantic_description": "Event schedule and opening hours",
    "doors_open": "Doors open at 9am on Saturday"
  },
  "venue": {
    "semantic_description": "Where the event takes place",
    "address": "Main hall, 1 Market Street"
  }
}`

type recordingSender struct {
	mu       sync.Mutex
	requests []conversation.EscalationRequest
}

func (s *recordingSender) Send(_ context.Context, req conversation.EscalationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return nil
}

func (s *recordingSender) sent() []conversation.EscalationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conversation.EscalationRequest(nil), s.requests...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	path := filepath.Join(dir, "hackathonknowledge.json")
	require.NoError(t, os.WriteFile(path, []byte(knowledgeJSON), 0644))

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Models = []config.ModelProfile{{ID: "primary", Provider: "openai", APIKey: "sk-test", Model: "gpt-4o-mini"}}
	cfg.Knowledge.Path = path
	cfg.Knowledge.DBPath = filepath.Join(dir, "knowledge.db")
	cfg.Knowledge.Index = false
	cfg.Knowledge.Watch = false
	cfg.Server.Enabled = false
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Console: true, Output: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func newTestDaemon(t *testing.T, cfg *config.Config, opts ...Option) *Daemon {
	t.Helper()
	d, err := New(context.Background(), cfg, testLogger(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func TestNewValidation(t *testing.T) {
	_, err := New(context.Background(), nil, testLogger(t))
	assert.Error(t, err)

	_, err = New(context.Background(), config.DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Answer.Timezone = "Mars/Olympus_Mons"
	_, err = New(context.Background(), cfg, testLogger(t), WithProvider(llm.NewScripted("")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timezone")

	cfg = testConfig(t)
	cfg.Knowledge.Path = filepath.Join(t.TempDir(), "missing.json")
	_, err = New(context.Background(), cfg, testLogger(t), WithProvider(llm.NewScripted("")))
	assert.Error(t, err)
}

func TestAsk(t *testing.T) {
	provider := llm.NewScripted("", llm.Reply("Doors open at 9am on Saturday."))
	d := newTestDaemon(t, testConfig(t), WithProvider(provider))

	res, err := d.Ask(context.Background(), "cli", "When do doors open?")
	require.NoError(t, err)
	assert.Equal(t, "Doors open at 9am on Saturday.", res.Text)
	assert.Equal(t, conversation.OutcomeAnswered, res.Outcome)

	_, err = d.Ask(context.Background(), "cli", "   ")
	assert.ErrorIs(t, err, conversation.ErrEmptyMessage)
}

func TestAskEscalatesAfterConfirmation(t *testing.T) {
	provider := llm.NewScripted("",
		llm.Calls(llm.ToolCall{ID: "c1", Name: answer.ToolCannotAnswer, Arguments: json.RawMessage(`{"reason":"The schedule doesn't list parking."}`)}),
	)
	sender := &recordingSender{}
	d := newTestDaemon(t, testConfig(t), WithProvider(provider), WithSender(sender))

	res, err := d.Ask(context.Background(), "s1", "Where can I park?")
	require.NoError(t, err)
	assert.Equal(t, conversation.OutcomeCannotAnswer, res.Outcome)
	assert.Contains(t, res.Text, conversation.DefaultTexts().Offer)

	res, err = d.Ask(context.Background(), "s1", "yes please")
	require.NoError(t, err)
	assert.Equal(t, conversation.OutcomeEscalated, res.Outcome)

	sent := sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Where can I park?", sent[0].OriginalQuestion)
	assert.Equal(t, "s1", sent[0].SessionID)
}

func TestChat(t *testing.T) {
	provider := llm.NewScripted("", llm.Reply("The main hall at 1 Market Street."))
	cfg := testConfig(t)
	cfg.Answer.AgentName = "Ada"
	d := newTestDaemon(t, cfg, WithProvider(provider))

	var out bytes.Buffer
	err := d.Chat(context.Background(), strings.NewReader("Where is the venue?\nquit\n"), &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Hi, I'm Ada.")
	assert.Contains(t, out.String(), "The main hall at 1 Market Street.")
	assert.True(t, d.Registry().IsRegistered("terminal"))
}

func TestSyncAndIndexStatus(t *testing.T) {
	t.Run("index disabled", func(t *testing.T) {
		d := newTestDaemon(t, testConfig(t), WithProvider(llm.NewScripted("")))

		_, err := d.Sync(context.Background())
		assert.ErrorIs(t, err, ErrIndexDisabled)
		_, err = d.IndexStatus()
		assert.ErrorIs(t, err, ErrIndexDisabled)
	})

	t.Run("index enabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Knowledge.Index = true
		d := newTestDaemon(t, cfg, WithProvider(llm.NewScripted("")))

		stats, err := d.Sync(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Indexed)
		assert.Greater(t, stats.Passages, 0)

		status, err := d.IndexStatus()
		require.NoError(t, err)
		assert.Equal(t, 1, status.Files)
		assert.NotNil(t, status.LastSync)
	})
}

func TestBuildSender(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   interface{}
	}{
		{
			name:   "nothing configured logs",
			mutate: func(*config.Config) {},
			want:   &escalation.LogSender{},
		},
		{
			name: "discord only",
			mutate: func(c *config.Config) {
				c.Escalation.Discord.WebhookURL = "https://discord.com/api/webhooks/1/abc"
			},
			want: &escalation.DiscordSender{},
		},
		{
			name: "telegram token without chat id is skipped",
			mutate: func(c *config.Config) {
				c.Escalation.Discord.WebhookURL = "https://discord.com/api/webhooks/1/abc"
				c.Escalation.Telegram.BotToken = "123:abc"
			},
			want: &escalation.DiscordSender{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			d := &Daemon{config: cfg, logger: testLogger(t)}

			sender, err := d.buildSender()
			require.NoError(t, err)
			assert.IsType(t, tt.want, sender)
		})
	}
}

func TestBuildProviderUsesProfiles(t *testing.T) {
	cfg := testConfig(t)
	cfg.Models = append(cfg.Models, config.ModelProfile{ID: "backup", Provider: "anthropic", APIKey: "sk-ant-test", Priority: 1})
	d := &Daemon{config: cfg, logger: testLogger(t)}

	provider, err := d.buildProvider(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &llm.Failover{}, provider)

	cfg.Models = append(cfg.Models, config.ModelProfile{ID: "bad", Provider: "carrier-pigeon", APIKey: "x"})
	_, err = d.buildProvider(context.Background())
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	provider := llm.NewScripted("", llm.Reply("Doors open at 9am on Saturday."))
	cfg := testConfig(t)
	cfg.Server.Enabled = true
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Store.Retention = time.Hour
	d := newTestDaemon(t, cfg, WithProvider(provider))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	require.Eventually(t, func() bool { return d.HTTPAddr() != "" }, 5*time.Second, 10*time.Millisecond)

	pidFile := filepath.Join(cfg.DataDir, PIDFileName)
	assert.FileExists(t, pidFile)

	resp, err := http.Post("http://"+d.HTTPAddr()+"/v1/messages", "application/json",
		strings.NewReader(`{"session_id":"web-1","message":"When do doors open?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Doors open at 9am on Saturday.", body["text"])
	assert.Equal(t, "answered", body["outcome"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.NoFileExists(t, pidFile)
}

func TestCloseIsIdempotent(t *testing.T) {
	d, err := New(context.Background(), testConfig(t), testLogger(t), WithProvider(llm.NewScripted("")))
	require.NoError(t, err)

	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))
}
