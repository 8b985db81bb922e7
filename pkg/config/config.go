// Package config holds the process configuration of the engine and its API.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPort                    = 9091
	DefaultDatabaseURL             = "memory://"
	DefaultExecutionTimeout        = 300 * time.Second
	DefaultMaxConcurrentExecutions = 10
	DefaultPingInterval            = 30 * time.Second
	DefaultStreamTimeout           = 60 * time.Second
	DefaultMaxRequestSize          = 10 * 1024 * 1024
	DefaultStaleSweepSchedule      = "@every 1m"
)

// Event bus providers.
const (
	EventBusNone      = "none"
	EventBusGoChannel = "gochannel"
	EventBusKafka     = "kafka"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Port        int    `validate:"min=1,max=65535"`
	DatabaseURL string `validate:"required"`
	LogLevel    string `validate:"omitempty,oneof=debug info warn error"`
	LogFile     string

	// ExecutionTimeout bounds one execution; zero disables it.
	ExecutionTimeout        time.Duration `validate:"gte=0"`
	MaxConcurrentExecutions int           `validate:"min=1"`
	StaleSweepSchedule      string

	// WebsocketPingInterval is the keep-alive period of event streams and
	// WebsocketTimeout the longest a stream may stay idle.
	WebsocketPingInterval time.Duration `validate:"gt=0"`
	WebsocketTimeout      time.Duration `validate:"gtefield=WebsocketPingInterval"`

	CORSOrigins          []string
	CORSAllowCredentials bool
	MaxRequestSize       int `validate:"min=1"`

	EventBus     string   `validate:"omitempty,oneof=none gochannel kafka"`
	KafkaBrokers []string `validate:"required_if=EventBus kafka"`

	RedisURL     string
	SettingsFile string
	// ToolFileRoot confines the file_reader tool.
	ToolFileRoot string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string

	TracingEnabled bool
}

func Default() Config {
	return Config{
		Port:                    DefaultPort,
		DatabaseURL:             DefaultDatabaseURL,
		LogLevel:                "info",
		ExecutionTimeout:        DefaultExecutionTimeout,
		MaxConcurrentExecutions: DefaultMaxConcurrentExecutions,
		StaleSweepSchedule:      DefaultStaleSweepSchedule,
		WebsocketPingInterval:   DefaultPingInterval,
		WebsocketTimeout:        DefaultStreamTimeout,
		CORSOrigins:             []string{"*"},
		MaxRequestSize:          DefaultMaxRequestSize,
		EventBus:                EventBusNone,
		ToolFileRoot:            ".",
	}
}

func (c Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.CORSAllowCredentials && slices.Contains(c.CORSOrigins, "*") {
		return fmt.Errorf("%w: CORS credentials cannot be allowed for wildcard origins", ErrInvalidConfig)
	}

	return nil
}
