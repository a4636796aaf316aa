package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/harun/concierge/pkg/store"
)

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// <bot_id>:<token>
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateWebhookURL checks that a Discord webhook is an absolute http(s) URL.
func (v *Validator) ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("invalid discord webhook url")
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateTimezone checks that tz names an IANA zone.
func (v *Validator) ValidateTimezone(tz string) error {
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, profile := range cfg.Models {
		if profile.Provider != "" {
			if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
				errors = append(errors, fmt.Errorf("model profile %d (%s): %w", i, profile.ID, err))
			}
		}
	}

	a := cfg.Answer
	if a.MaxIterations < 1 {
		errors = append(errors, fmt.Errorf("answer.max_iterations must be >= 1"))
	}
	if a.MaxPassages < 1 {
		errors = append(errors, fmt.Errorf("answer.max_passages must be >= 1"))
	}
	if err := v.ValidateTemperature(a.Temperature); err != nil {
		errors = append(errors, fmt.Errorf("answer: %w", err))
	}
	if a.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(a.MaxTokens); err != nil {
			errors = append(errors, fmt.Errorf("answer: %w", err))
		}
	}
	if err := v.ValidateTimezone(a.Timezone); err != nil {
		errors = append(errors, fmt.Errorf("answer: %w", err))
	}

	if cfg.Engine.HistoryLimit < 1 {
		errors = append(errors, fmt.Errorf("engine.history_limit must be >= 1"))
	}
	if cfg.Engine.ContextTurns < 0 {
		errors = append(errors, fmt.Errorf("engine.context_turns must be >= 0"))
	}

	if cfg.Store.Retention < 0 {
		errors = append(errors, fmt.Errorf("store.retention must be >= 0"))
	}
	if cfg.Store.Retention > 0 && cfg.Store.SweepSchedule != "" {
		if _, err := store.ParseSchedule(cfg.Store.SweepSchedule); err != nil {
			errors = append(errors, err)
		}
	}

	if d := cfg.Escalation.Discord; d.WebhookURL != "" {
		if err := v.ValidateWebhookURL(d.WebhookURL); err != nil {
			errors = append(errors, err)
		}
	}
	if tg := cfg.Escalation.Telegram; tg.BotToken != "" {
		if err := v.ValidateTelegramToken(tg.BotToken); err != nil {
			errors = append(errors, fmt.Errorf("escalation: %w", err))
		}
		if tg.ChatID == 0 {
			errors = append(errors, fmt.Errorf("escalation.telegram.chat_id is required with a bot token"))
		}
	}

	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Server.Enabled && (cfg.Server.Port < 0 || cfg.Server.Port > 65535) {
		errors = append(errors, fmt.Errorf("server.port must be between 0 and 65535"))
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Errorf("server.rate_limit_per_minute must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
