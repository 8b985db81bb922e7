// Package settings holds per-user LLM provider configuration behind an explicit service:
// load at start, refresh on admin write.
package settings

import (
	"strings"
)

type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderGemini    ProviderType = "gemini"
	ProviderCustom    ProviderType = "custom"
)

const (
	AnonymousUser         = "anonymous"
	DefaultIterationLimit = 10
)

type Provider struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"                validate:"required"`
	Type         ProviderType `json:"type"                validate:"required,oneof=openai anthropic gemini custom"`
	APIKey       string       `json:"api_key"`
	BaseURL      string       `json:"base_url,omitempty"  validate:"omitempty,url"`
	DefaultModel string       `json:"default_model"`
	Models       []string     `json:"models"`
	Enabled      bool         `json:"enabled"`
}

// Usable reports whether the provider is enabled and holds a real API key.
func (p Provider) Usable() bool {
	return p.Enabled && IsValidAPIKey(p.APIKey)
}

// Model returns the provider's spelling of model, matched case- and whitespace-insensitively.
func (p Provider) Model(model string) (string, bool) {
	wanted := normalizeModel(model)
	if wanted == "" {
		return "", false
	}

	for _, candidate := range p.Models {
		if normalizeModel(candidate) == wanted {
			return candidate, true
		}
	}

	return "", false
}

func (p Provider) config(model string) ProviderConfig {
	return ProviderConfig{
		Type:         p.Type,
		ProviderName: p.Name,
		APIKey:       strings.TrimSpace(p.APIKey),
		BaseURL:      p.BaseURL,
		Model:        model,
	}
}

type UserSettings struct {
	Providers      []Provider `json:"providers"                 validate:"dive"`
	DefaultModel   string     `json:"default_model,omitempty"`
	IterationLimit int        `json:"iteration_limit,omitempty" validate:"gte=0,lte=100"`
}

// ProviderConfig is a resolved provider ready to build a client from.
type ProviderConfig struct {
	Type         ProviderType `json:"type"`
	ProviderName string       `json:"provider_name,omitempty"`
	APIKey       string       `json:"-"`
	BaseURL      string       `json:"base_url,omitempty"`
	Model        string       `json:"model"`
}

var exactPlaceholders = []string{
	"your-api-key-here",
	"your-api*****here",
	"sk-your-api-key-here",
	"sk-your-api*****here",
	"your-api-key",
	"api-key-here",
}

// IsValidAPIKey rejects empty, short and placeholder keys.
func IsValidAPIKey(apiKey string) bool {
	apiKey = strings.TrimSpace(apiKey)
	if len(apiKey) < 10 {
		return false
	}

	lower := strings.ToLower(apiKey)

	for _, placeholder := range exactPlaceholders {
		if lower == placeholder {
			return false
		}
	}

	if len(apiKey) < 25 && (strings.Contains(lower, "your-api-key-here") || strings.Contains(lower, "your-api*****here")) {
		return false
	}

	if len(apiKey) < 30 && strings.Contains(apiKey, "*****here") {
		return false
	}

	return true
}

func normalizeModel(model string) string {
	return strings.ToLower(strings.TrimSpace(model))
}
