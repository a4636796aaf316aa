package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultKnowledgeFile = "hackathonknowledge.json"

// TenantFile is the on-disk tenant YAML. Secrets are never stored inline:
// each *_env_key names the environment variable holding the value.
type TenantFile struct {
	TenantID string `yaml:"tenant_id"`
	Agent    struct {
		Name     string `yaml:"name"`
		Scope    string `yaml:"scope"`
		Timezone string `yaml:"timezone"`
	} `yaml:"agent"`
	Docs struct {
		KnowledgeBasePath string `yaml:"knowledge_base_path"`
	} `yaml:"docs"`
	Env struct {
		OpenAIAPIKeyEnvKey    string `yaml:"openai_api_key_env_key"`
		AnthropicAPIKeyEnvKey string `yaml:"anthropic_api_key_env_key"`
		GeminiAPIKeyEnvKey    string `yaml:"gemini_api_key_env_key"`
		TelegramTokenEnvKey   string `yaml:"telegram_bot_token_env_key"`
	} `yaml:"env"`
	Escalation struct {
		DiscordWebhook struct {
			WebhookURLEnvKey string `yaml:"webhook_url_env_key"`
			MentionRoleID    string `yaml:"mention_role_id"`
			MessagePrefix    string `yaml:"message_prefix"`
		} `yaml:"discord_webhook"`
	} `yaml:"escalation"`
}

// Tenant is a tenant file with its secrets resolved.
type Tenant struct {
	ID                string
	AgentName         string
	Scope             string
	Timezone          string
	KnowledgeBasePath string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
	TelegramToken   string

	DiscordWebhookURL   string
	DiscordRoleID       string
	EscalationMsgPrefix string
}

// MissingEnvError lists every referenced environment variable that is unset.
type MissingEnvError struct {
	Path  string
	Names []string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("missing required env vars %s (referenced in %s)", strings.Join(e.Names, ", "), e.Path)
}

// LoadTenant parses a tenant file and resolves its secrets from the
// environment. The knowledge path is relative to the tenant file.
func LoadTenant(path string) (*Tenant, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("tenant config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("tenant config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read tenant config: %w", err)
	}
	return ParseTenant(path, data, os.Getenv)
}

// ParseTenant parses tenant YAML, resolving env keys through getenv.
func ParseTenant(path string, data []byte, getenv func(string) string) (*Tenant, error) {
	var raw TenantFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse tenant config %s: %w", path, err)
	}
	if strings.TrimSpace(raw.TenantID) == "" {
		return nil, fmt.Errorf("tenant config %s: tenant_id is required", path)
	}
	if raw.Env.OpenAIAPIKeyEnvKey == "" && raw.Env.AnthropicAPIKeyEnvKey == "" && raw.Env.GeminiAPIKeyEnvKey == "" {
		return nil, fmt.Errorf("tenant config %s: env must name at least one model api key variable", path)
	}

	missing := map[string]bool{}
	resolve := func(key string) string {
		if key == "" {
			return ""
		}
		val := strings.TrimSpace(getenv(key))
		if val == "" {
			missing[key] = true
		}
		return val
	}

	t := &Tenant{
		ID:                  raw.TenantID,
		AgentName:           raw.Agent.Name,
		Scope:               raw.Agent.Scope,
		Timezone:            raw.Agent.Timezone,
		KnowledgeBasePath:   raw.Docs.KnowledgeBasePath,
		OpenAIAPIKey:        resolve(raw.Env.OpenAIAPIKeyEnvKey),
		AnthropicAPIKey:     resolve(raw.Env.AnthropicAPIKeyEnvKey),
		GeminiAPIKey:        resolve(raw.Env.GeminiAPIKeyEnvKey),
		TelegramToken:       resolve(raw.Env.TelegramTokenEnvKey),
		DiscordWebhookURL:   resolve(raw.Escalation.DiscordWebhook.WebhookURLEnvKey),
		DiscordRoleID:       raw.Escalation.DiscordWebhook.MentionRoleID,
		EscalationMsgPrefix: raw.Escalation.DiscordWebhook.MessagePrefix,
	}

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, &MissingEnvError{Path: path, Names: names}
	}

	if t.AgentName == "" {
		t.AgentName = t.ID
	}
	if t.KnowledgeBasePath == "" {
		t.KnowledgeBasePath = defaultKnowledgeFile
	}
	if !filepath.IsAbs(t.KnowledgeBasePath) {
		t.KnowledgeBasePath = filepath.Join(filepath.Dir(path), t.KnowledgeBasePath)
	}

	return t, nil
}

// Apply overrides cfg with the tenant's settings. Tenant model keys replace
// the configured profiles.
func (t *Tenant) Apply(cfg *Config) {
	cfg.Answer.AgentName = t.AgentName
	if t.Scope != "" {
		cfg.Answer.Scope = t.Scope
	}
	if t.Timezone != "" {
		cfg.Answer.Timezone = t.Timezone
	}
	cfg.Knowledge.Path = t.KnowledgeBasePath

	var models []ModelProfile
	add := func(provider, key string) {
		if key == "" {
			return
		}
		models = append(models, ModelProfile{
			ID:       t.ID + "-" + provider,
			Provider: provider,
			APIKey:   key,
			Priority: len(models),
		})
	}
	add("openai", t.OpenAIAPIKey)
	add("anthropic", t.AnthropicAPIKey)
	add("gemini", t.GeminiAPIKey)
	cfg.Models = models

	if t.OpenAIAPIKey != "" && cfg.Knowledge.Embeddings.APIKey == "" {
		cfg.Knowledge.Embeddings.APIKey = t.OpenAIAPIKey
	}

	if t.TelegramToken != "" {
		cfg.Telegram.BotToken = t.TelegramToken
	}

	if t.DiscordWebhookURL != "" {
		cfg.Escalation.Discord.WebhookURL = t.DiscordWebhookURL
		cfg.Escalation.Discord.RoleID = t.DiscordRoleID
		cfg.Escalation.Discord.MessagePrefix = t.EscalationMsgPrefix
	}
}
