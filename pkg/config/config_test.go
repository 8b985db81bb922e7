package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 300*time.Second, cfg.ExecutionTimeout)
	assert.Equal(t, 10, cfg.MaxConcurrentExecutions)
	assert.Equal(t, 10*1024*1024, cfg.MaxRequestSize)
	assert.Equal(t, 30*time.Second, cfg.WebsocketPingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebsocketTimeout)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"zero timeout disables it", func(c *Config) { c.ExecutionTimeout = 0 }, true},
		{"negative timeout", func(c *Config) { c.ExecutionTimeout = -time.Second }, false},
		{"no concurrency", func(c *Config) { c.MaxConcurrentExecutions = 0 }, false},
		{"bad port", func(c *Config) { c.Port = 70000 }, false},
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, false},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }, false},
		{"unknown event bus", func(c *Config) { c.EventBus = "nats" }, false},
		{"kafka without brokers", func(c *Config) { c.EventBus = EventBusKafka }, false},
		{"kafka with brokers", func(c *Config) {
			c.EventBus = EventBusKafka
			c.KafkaBrokers = []string{"localhost:9092"}
		}, true},
		{"timeout shorter than ping", func(c *Config) { c.WebsocketTimeout = time.Second }, false},
		{"credentials with wildcard origin", func(c *Config) { c.CORSAllowCredentials = true }, false},
		{"credentials with explicit origin", func(c *Config) {
			c.CORSAllowCredentials = true
			c.CORSOrigins = []string{"https://app.example.com"}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}
