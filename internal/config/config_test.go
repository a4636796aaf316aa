package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.Answer.MaxIterations)
	assert.True(t, cfg.Answer.RetryOnce)
	assert.Equal(t, "America/Los_Angeles", cfg.Answer.Timezone)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 10000, cfg.Store.Capacity)
	assert.Equal(t, 20, cfg.Engine.HistoryLimit)
	assert.Equal(t, 10, cfg.Engine.ContextTurns)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.True(t, cfg.Knowledge.Index)
	assert.Empty(t, cfg.Models)
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Models = []ModelProfile{{ID: "primary", Provider: "openai", APIKey: "sk-test123"}}
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"missing models", func(c *Config) { c.Models = nil }, "no model credentials"},
		{"missing profile id", func(c *Config) { c.Models[0].ID = "" }, "id is required"},
		{"missing api key", func(c *Config) { c.Models[0].APIKey = "" }, "api_key is required"},
		{"missing provider", func(c *Config) { c.Models[0].Provider = "" }, "provider is required"},
		{"invalid provider", func(c *Config) { c.Models[0].Provider = "cohere" }, "invalid provider cohere"},
		{"missing knowledge", func(c *Config) { c.Knowledge.Path = "" }, "knowledge path is required"},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }, "telegram bot token is required"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = "postgres" }, "dsn is required"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "invalid store backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	s := validConfig().String()
	assert.Contains(t, s, `"history_limit": 20`)
	assert.Contains(t, s, `"provider": "openai"`)
}
