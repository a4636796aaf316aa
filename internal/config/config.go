package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the concierge configuration.
type Config struct {
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
	Models     []ModelProfile   `json:"models" mapstructure:"models"`
	Answer     AnswerConfig     `json:"answer" mapstructure:"answer"`
	Knowledge  KnowledgeConfig  `json:"knowledge" mapstructure:"knowledge"`
	Store      StoreConfig      `json:"store" mapstructure:"store"`
	Escalation EscalationConfig `json:"escalation" mapstructure:"escalation"`
	Server     ServerConfig     `json:"server" mapstructure:"server"`
	Telegram   TelegramConfig   `json:"telegram" mapstructure:"telegram"`
	Engine     EngineConfig     `json:"engine" mapstructure:"engine"`
	Tracing    TracingConfig    `json:"tracing" mapstructure:"tracing"`

	// Tenant is an optional tenant YAML file applied on top of this config.
	Tenant string `json:"tenant" mapstructure:"tenant"`

	// Data directory for the knowledge index, file/sqlite stores and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// ModelProfile is one model credential. Lower priority runs first.
type ModelProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // openai, anthropic, gemini
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model" mapstructure:"model"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// AnswerConfig configures the answer loop.
type AnswerConfig struct {
	AgentName     string  `json:"agent_name" mapstructure:"agent_name"`
	Scope         string  `json:"scope" mapstructure:"scope"`
	MaxIterations int     `json:"max_iterations" mapstructure:"max_iterations"`
	MaxPassages   int     `json:"max_passages" mapstructure:"max_passages"`
	RetryOnce     bool    `json:"retry_once" mapstructure:"retry_once"`
	Timezone      string  `json:"timezone" mapstructure:"timezone"`
	Temperature   float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int     `json:"max_tokens" mapstructure:"max_tokens"`
	// CooldownSeconds parks a failing model profile before it is retried.
	CooldownSeconds int `json:"cooldown_seconds" mapstructure:"cooldown_seconds"`
}

// KnowledgeConfig configures the knowledge index.
type KnowledgeConfig struct {
	// Path is a knowledge file or a directory of .md/.txt/.json sources.
	Path   string `json:"path" mapstructure:"path"`
	DBPath string `json:"db_path" mapstructure:"db_path"`
	// Index false serves passages from memory without sqlite.
	Index      bool             `json:"index" mapstructure:"index"`
	Watch      bool             `json:"watch" mapstructure:"watch"`
	Limit      int              `json:"limit" mapstructure:"limit"`
	Embeddings EmbeddingsConfig `json:"embeddings" mapstructure:"embeddings"`
}

// EmbeddingsConfig enables vector search. The key falls back to the first
// openai model profile.
type EmbeddingsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Model   string `json:"model" mapstructure:"model"`
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url" mapstructure:"base_url"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend       string        `json:"backend" mapstructure:"backend"` // memory, file, sqlite, postgres
	Dir           string        `json:"dir" mapstructure:"dir"`
	Path          string        `json:"path" mapstructure:"path"`
	DSN           string        `json:"dsn" mapstructure:"dsn"`
	Capacity      int           `json:"capacity" mapstructure:"capacity"`
	Retention     time.Duration `json:"retention" mapstructure:"retention"`
	SweepSchedule string        `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// EscalationConfig configures organizer notification channels.
type EscalationConfig struct {
	Discord  DiscordEscalationConfig  `json:"discord" mapstructure:"discord"`
	Telegram TelegramEscalationConfig `json:"telegram" mapstructure:"telegram"`
}

type DiscordEscalationConfig struct {
	WebhookURL    string `json:"webhook_url" mapstructure:"webhook_url"`
	RoleID        string `json:"role_id" mapstructure:"role_id"`
	MessagePrefix string `json:"message_prefix" mapstructure:"message_prefix"`
}

type TelegramEscalationConfig struct {
	BotToken      string `json:"bot_token" mapstructure:"bot_token"`
	ChatID        int64  `json:"chat_id" mapstructure:"chat_id"`
	MessagePrefix string `json:"message_prefix" mapstructure:"message_prefix"`
}

// ServerConfig holds the HTTP adapter configuration
type ServerConfig struct {
	Enabled            bool     `json:"enabled" mapstructure:"enabled"`
	Host               string   `json:"host" mapstructure:"host"`
	Port               int      `json:"port" mapstructure:"port"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	WebSocket          bool     `json:"websocket" mapstructure:"websocket"`
	AllowedOrigins     []string `json:"allowed_origins" mapstructure:"allowed_origins"`
}

// Addr is host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TelegramConfig holds the participant-facing Telegram bot configuration
type TelegramConfig struct {
	Enabled   bool    `json:"enabled" mapstructure:"enabled"`
	BotToken  string  `json:"bot_token" mapstructure:"bot_token"`
	Allowlist []int64 `json:"allowlist" mapstructure:"allowlist"`
	Greeting  string  `json:"greeting" mapstructure:"greeting"`
}

// EngineConfig sizes the conversation history kept per session.
type EngineConfig struct {
	HistoryLimit int `json:"history_limit" mapstructure:"history_limit"`
	ContextTurns int `json:"context_turns" mapstructure:"context_turns"`
}

// TracingConfig installs the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Models: []ModelProfile{},
		Answer: AnswerConfig{
			MaxIterations:   4,
			MaxPassages:     5,
			RetryOnce:       true,
			Timezone:        "America/Los_Angeles",
			Temperature:     0.2,
			MaxTokens:       1024,
			CooldownSeconds: 60,
		},
		Knowledge: KnowledgeConfig{
			Path:  "hackathonknowledge.json",
			Index: true,
			Watch: true,
			Limit: 8,
		},
		Store: StoreConfig{
			Backend:       "memory",
			Capacity:      10000,
			SweepSchedule: "@every 1h",
		},
		Server: ServerConfig{
			Enabled:            true,
			Host:               "127.0.0.1",
			Port:               8080,
			RateLimitPerMinute: 60,
			WebSocket:          true,
		},
		Engine: EngineConfig{
			HistoryLimit: 20,
			ContextTurns: 10,
		},
		Tracing: TracingConfig{
			SampleRatio: 1.0,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the settings required to serve questions.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("no model credentials configured: at least one model profile is required")
	}

	for i, profile := range c.Models {
		if profile.ID == "" {
			return fmt.Errorf("model profile %d: id is required", i)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("model profile %s: api_key is required", profile.ID)
		}
		switch profile.Provider {
		case "anthropic", "openai", "gemini":
		case "":
			return fmt.Errorf("model profile %s: provider is required", profile.ID)
		default:
			return fmt.Errorf("model profile %s: invalid provider %s (must be: anthropic, openai, gemini)", profile.ID, profile.Provider)
		}
	}

	if c.Knowledge.Path == "" {
		return fmt.Errorf("knowledge path is required")
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required when the Telegram adapter is enabled")
	}

	switch c.Store.Backend {
	case "", "memory", "file", "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid store backend %s (must be: memory, file, sqlite, postgres)", c.Store.Backend)
	}

	return nil
}
