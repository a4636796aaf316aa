package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.yaml")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.yaml", loader.GetConfigPath())
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoaderLoad(t *testing.T) {
	t.Run("explicit missing file is an error", func(t *testing.T) {
		_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml")).WithEnvFiles().Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config file not found")
	})

	t.Run("yaml file", func(t *testing.T) {
		path := writeConfig(t, "concierge.yaml", `
data_dir: /tmp/concierge-test
models:
  - id: primary
    provider: anthropic
    api_key: sk-ant-abc
    priority: 1
answer:
  max_iterations: 3
  timezone: Europe/Berlin
store:
  backend: sqlite
  retention: 72h
escalation:
  discord:
    webhook_url: https://discord.com/api/webhooks/1/abc
    role_id: "42"
`)
		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)

		require.Len(t, cfg.Models, 1)
		assert.Equal(t, "anthropic", cfg.Models[0].Provider)
		assert.Equal(t, 3, cfg.Answer.MaxIterations)
		assert.Equal(t, "Europe/Berlin", cfg.Answer.Timezone)
		assert.True(t, cfg.Answer.RetryOnce, "defaults survive partial sections")
		assert.Equal(t, 5, cfg.Answer.MaxPassages)
		assert.Equal(t, "sqlite", cfg.Store.Backend)
		assert.Equal(t, 72*time.Hour, cfg.Store.Retention)
		assert.Equal(t, "42", cfg.Escalation.Discord.RoleID)
		assert.Equal(t, "/tmp/concierge-test/knowledge.db", cfg.Knowledge.DBPath)
		assert.Equal(t, "/tmp/concierge-test/sessions", cfg.Store.Dir)
	})

	t.Run("json file", func(t *testing.T) {
		path := writeConfig(t, "concierge.json", `{"server": {"port": 9090, "websocket": false}}`)
		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.False(t, cfg.Server.WebSocket)
		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	})

	t.Run("environment overrides", func(t *testing.T) {
		path := writeConfig(t, "concierge.yaml", "server:\n  port: 9090\n")
		t.Setenv("CONCIERGE_SERVER_PORT", "7070")
		t.Setenv("CONCIERGE_STORE_BACKEND", "file")
		t.Setenv("CONCIERGE_ESCALATION_DISCORD_WEBHOOK_URL", "https://discord.test/hook")

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, 7070, cfg.Server.Port)
		assert.Equal(t, "file", cfg.Store.Backend)
		assert.Equal(t, "https://discord.test/hook", cfg.Escalation.Discord.WebhookURL)
	})

	t.Run("dotenv file feeds the environment", func(t *testing.T) {
		dir := t.TempDir()
		envFile := filepath.Join(dir, ".env")
		require.NoError(t, os.WriteFile(envFile, []byte("CONCIERGE_ENGINE_HISTORY_LIMIT=7\n"), 0644))
		t.Cleanup(func() { os.Unsetenv("CONCIERGE_ENGINE_HISTORY_LIMIT") })

		path := writeConfig(t, "concierge.yaml", "")
		cfg, err := NewLoader(path).WithEnvFiles(envFile).Load()
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Engine.HistoryLimit)
	})

	t.Run("tenant applied", func(t *testing.T) {
		dir := t.TempDir()
		tenantPath := filepath.Join(dir, "demohacks.yaml")
		require.NoError(t, os.WriteFile(tenantPath, []byte(sampleTenant), 0644))
		t.Setenv("DEMO_OPENAI_KEY", "sk-demo")
		t.Setenv("DEMO_DISCORD_URL", "https://discord.test/hook")

		path := writeConfig(t, "concierge.yaml", "")
		cfg, err := NewLoader(path).WithTenant(tenantPath).Load()
		require.NoError(t, err)
		assert.Equal(t, "DemoHacks Concierge", cfg.Answer.AgentName)
		assert.Equal(t, filepath.Join(dir, "kb", "event.json"), cfg.Knowledge.Path)
		require.Len(t, cfg.Models, 1)
		assert.Equal(t, "sk-demo", cfg.Models[0].APIKey)
		assert.Equal(t, tenantPath, cfg.Tenant)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfig(t, "concierge.yaml", "server: [unclosed")
		_, err := NewLoader(path).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "concierge.yaml")
	loader := NewLoader(path)

	cfg := validConfig()
	cfg.Server.Port = 9191
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, loaded.Server.Port)
	require.Len(t, loaded.Models, 1)
	assert.Equal(t, "primary", loaded.Models[0].ID)
}
