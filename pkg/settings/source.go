package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Source loads every user's settings.
type Source interface {
	Load(ctx context.Context) (map[string]UserSettings, error)
}

// Writer is implemented by sources that accept admin writes.
type Writer interface {
	Save(ctx context.Context, userID string, settings UserSettings) error
}

// FileSource stores settings as a JSON object keyed by user id.
type FileSource struct {
	mu   sync.Mutex
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Load(_ context.Context) (map[string]UserSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.read()
}

func (f *FileSource) Save(_ context.Context, userID string, settings UserSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.read()
	if err != nil {
		return err
	}

	all[userID] = settings

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	err = os.MkdirAll(filepath.Dir(f.path), 0750)
	if err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp := f.path + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}

	err = os.Rename(tmp, f.path)
	if err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}

	return nil
}

func (f *FileSource) read() (map[string]UserSettings, error) {
	data, err := os.ReadFile(f.path) // #nosec G304 -- path comes from operator configuration
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]UserSettings), nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	all := make(map[string]UserSettings)

	err = json.Unmarshal(data, &all)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", f.path, err)
	}

	return all, nil
}

// StaticSource serves a fixed set of settings. Writes are kept in memory.
type StaticSource struct {
	mu       sync.Mutex
	settings map[string]UserSettings
}

func NewStaticSource(settings map[string]UserSettings) *StaticSource {
	if settings == nil {
		settings = make(map[string]UserSettings)
	}

	return &StaticSource{settings: settings}
}

func (s *StaticSource) Load(context.Context) (map[string]UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]UserSettings, len(s.settings))
	for user, us := range s.settings {
		out[user] = us
	}

	return out, nil
}

func (s *StaticSource) Save(_ context.Context, userID string, settings UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[userID] = settings

	return nil
}
