package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	ErrReadOnlySource  = errors.New("settings source is read-only")
	ErrInvalidSettings = errors.New("invalid settings")
)

// Service caches every user's settings. The cache is replaced on Load/Refresh
// and updated in place by Put.
type Service struct {
	mu       sync.RWMutex
	source   Source
	cache    map[string]UserSettings
	validate *validator.Validate
	logger   *slog.Logger
}

func NewService(source Source, logger *slog.Logger) *Service {
	return &Service{
		source:   source,
		cache:    make(map[string]UserSettings),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "settings"),
	}
}

func (s *Service) Load(ctx context.Context) error {
	all, err := s.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	s.mu.Lock()
	s.cache = all
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Settings loaded", "users", len(all))

	return nil
}

func (s *Service) Refresh(ctx context.Context) error {
	return s.Load(ctx)
}

// Put validates settings, persists them and updates the user's bucket.
func (s *Service) Put(ctx context.Context, userID string, settings UserSettings) error {
	err := s.validate.Struct(settings)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	writer, ok := s.source.(Writer)
	if !ok {
		return ErrReadOnlySource
	}

	uid := bucket(userID)

	err = writer.Save(ctx, uid, settings)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	s.mu.Lock()
	s.cache[uid] = settings
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Settings updated", "user_id", uid, "providers", len(settings.Providers))

	return nil
}

// Get returns the user's settings, falling back to the anonymous bucket.
func (s *Service) Get(userID string) (UserSettings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uid := bucket(userID)
	if settings, ok := s.cache[uid]; ok {
		return settings, true
	}

	if uid != AnonymousUser {
		settings, ok := s.cache[AnonymousUser]

		return settings, ok
	}

	return UserSettings{}, false
}

// IterationLimit is the user's agent tool-loop cap.
func (s *Service) IterationLimit(userID string) int {
	settings, ok := s.Get(userID)
	if !ok || settings.IterationLimit <= 0 {
		return DefaultIterationLimit
	}

	return settings.IterationLimit
}

// ActiveConfig picks the first usable provider listing the user's default model,
// or else the first usable provider with its own default model.
func (s *Service) ActiveConfig(userID string) (ProviderConfig, bool) {
	settings, ok := s.Get(userID)
	if !ok {
		s.logger.Warn("No settings for user", "user_id", bucket(userID))

		return ProviderConfig{}, false
	}

	if settings.DefaultModel != "" {
		for _, provider := range settings.Providers {
			if !provider.Usable() {
				continue
			}

			if model, found := provider.Model(settings.DefaultModel); found {
				s.logger.Debug("Using provider with selected model", "provider", provider.Name, "model", model)

				return provider.config(model), true
			}
		}
	}

	for _, provider := range settings.Providers {
		if provider.Usable() {
			s.logger.Debug("Using provider default model", "provider", provider.Name, "model", provider.DefaultModel)

			return provider.config(provider.DefaultModel), true
		}
	}

	s.logger.Warn("No enabled provider with valid API key", "user_id", bucket(userID))

	return ProviderConfig{}, false
}

// ProviderForModel finds the usable provider that lists model.
func (s *Service) ProviderForModel(userID, model string) (ProviderConfig, bool) {
	settings, ok := s.Get(userID)
	if !ok {
		return ProviderConfig{}, false
	}

	for _, provider := range settings.Providers {
		if !provider.Usable() {
			continue
		}

		if matched, found := provider.Model(model); found {
			return provider.config(matched), true
		}
	}

	return ProviderConfig{}, false
}

func bucket(userID string) string {
	if userID == "" {
		return AnonymousUser
	}

	return userID
}
