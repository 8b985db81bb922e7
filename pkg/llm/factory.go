package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/agentflow/pkg/settings"
)

// FallbackKeys are process-level API keys used when a user has no usable provider.
type FallbackKeys struct {
	OpenAI    string
	Anthropic string
	Gemini    string
}

// Config returns the first usable fallback in the order OpenAI, Anthropic, Gemini.
func (k FallbackKeys) Config() (settings.ProviderConfig, bool) {
	candidates := []settings.ProviderConfig{
		{Type: settings.ProviderOpenAI, ProviderName: "env", APIKey: k.OpenAI, Model: "gpt-4"},
		{Type: settings.ProviderAnthropic, ProviderName: "env", APIKey: k.Anthropic, Model: "claude-3-5-sonnet-20241022"},
		{Type: settings.ProviderGemini, ProviderName: "env", APIKey: k.Gemini, Model: "gemini-2.5-flash"},
	}

	for _, candidate := range candidates {
		if settings.IsValidAPIKey(candidate.APIKey) {
			return candidate, true
		}
	}

	return settings.ProviderConfig{}, false
}

// Factory resolves a user's provider and builds a client through the strategy table.
type Factory struct {
	settings   *settings.Service
	fallback   FallbackKeys
	strategies map[settings.ProviderType]Strategy
	logger     *slog.Logger
}

type FactoryOption func(*Factory)

// WithStrategy replaces or adds the strategy for a provider type.
func WithStrategy(providerType settings.ProviderType, strategy Strategy) FactoryOption {
	return func(f *Factory) {
		f.strategies[providerType] = strategy
	}
}

func NewFactory(settingsService *settings.Service, fallback FallbackKeys, logger *slog.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{
		settings:   settingsService,
		fallback:   fallback,
		strategies: DefaultStrategies(),
		logger:     logger.With("module", "llm_factory"),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Resolve finds the provider configuration for userID. A non-empty model is
// matched against the user's providers first; otherwise the active provider is
// used with model overriding its default. The fallback keys come last.
func (f *Factory) Resolve(userID, model string) (settings.ProviderConfig, error) {
	if f.settings != nil {
		if model != "" {
			if cfg, ok := f.settings.ProviderForModel(userID, model); ok {
				return cfg, nil
			}
		}

		if cfg, ok := f.settings.ActiveConfig(userID); ok {
			return withModel(cfg, model), nil
		}
	}

	if cfg, ok := f.fallback.Config(); ok {
		f.logger.Info("Using fallback provider key", "provider", cfg.Type)

		return withModel(cfg, model), nil
	}

	return settings.ProviderConfig{}, fmt.Errorf(
		"%w: no LLM provider configured for user %q; configure a provider in settings or set a fallback API key",
		ErrConfig, userID,
	)
}

// New builds a client for cfg.
func (f *Factory) New(ctx context.Context, cfg settings.ProviderConfig) (Client, error) {
	strategy, ok := f.strategies[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Type)
	}

	return strategy(ctx, cfg)
}

// ForUser resolves and builds the client an agent of userID should use.
func (f *Factory) ForUser(ctx context.Context, userID, model string) (Client, error) {
	cfg, err := f.Resolve(userID, model)
	if err != nil {
		return nil, err
	}

	f.logger.DebugContext(ctx, "Resolved LLM provider", "user_id", userID, "provider", cfg.Type, "model", cfg.Model)

	return f.New(ctx, cfg)
}

func withModel(cfg settings.ProviderConfig, model string) settings.ProviderConfig {
	if model != "" {
		cfg.Model = model
	}

	return cfg
}
