package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Profile is one configured model credential.
type Profile struct {
	ID       string `mapstructure:"id" yaml:"id"`
	Provider string `mapstructure:"provider" yaml:"provider"` // openai, anthropic, gemini
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	Model    string `mapstructure:"model" yaml:"model"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Priority int    `mapstructure:"priority" yaml:"priority"` // lower runs first
}

// NewProvider builds the SDK-backed provider for a profile.
func NewProvider(ctx context.Context, p Profile) (Provider, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("profile %q: api key is empty", p.ID)
	}
	switch strings.ToLower(p.Provider) {
	case "openai":
		return NewOpenAIProvider(p.APIKey, p.Model, p.BaseURL), nil
	case "anthropic":
		return NewAnthropicProvider(p.APIKey, p.Model, p.BaseURL), nil
	case "gemini":
		return NewGeminiProvider(ctx, p.APIKey, p.Model)
	default:
		return nil, fmt.Errorf("profile %q: unsupported provider %q", p.ID, p.Provider)
	}
}

// SortProfiles orders profiles by priority, keeping config order on ties.
func SortProfiles(profiles []Profile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
}
