package llm

import (
	"context"
	"fmt"

	"github.com/dukex/agentflow/pkg/settings"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// Strategy builds a client for one provider type.
type Strategy func(ctx context.Context, cfg settings.ProviderConfig) (Client, error)

// DefaultStrategies is the provider table used by NewFactory.
func DefaultStrategies() map[settings.ProviderType]Strategy {
	return map[settings.ProviderType]Strategy{
		settings.ProviderOpenAI:    newOpenAI,
		settings.ProviderAnthropic: newAnthropic,
		settings.ProviderGemini:    newGemini,
		settings.ProviderCustom:    newCustom,
	}
}

func newOpenAI(_ context.Context, cfg settings.ProviderConfig) (Client, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
	}

	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}

	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %w", ErrConfig, err)
	}

	return NewLangchainClient(model, string(settings.ProviderOpenAI), cfg.Model), nil
}

func newAnthropic(_ context.Context, cfg settings.ProviderConfig) (Client, error) {
	opts := []anthropic.Option{
		anthropic.WithToken(cfg.APIKey),
	}

	if cfg.Model != "" {
		opts = append(opts, anthropic.WithModel(cfg.Model))
	}

	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}

	model, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: %w", ErrConfig, err)
	}

	return NewLangchainClient(model, string(settings.ProviderAnthropic), cfg.Model), nil
}

func newGemini(ctx context.Context, cfg settings.ProviderConfig) (Client, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(cfg.APIKey),
	}

	if cfg.Model != "" {
		opts = append(opts, googleai.WithDefaultModel(cfg.Model))
	}

	model, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %w", ErrConfig, err)
	}

	return NewLangchainClient(model, string(settings.ProviderGemini), cfg.Model), nil
}

// newCustom targets any OpenAI-compatible endpoint; a base URL is mandatory.
func newCustom(ctx context.Context, cfg settings.ProviderConfig) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base_url is required for custom providers", ErrConfig)
	}

	return newOpenAI(ctx, cfg)
}
