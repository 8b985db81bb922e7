package main

import (
	"io"
	"log/slog"

	"github.com/dukex/agentflow/pkg/config"
	"github.com/dukex/agentflow/pkg/log"
	"github.com/urfave/cli/v3"
)

// engineFlags configure the execution stack shared by serve and run.
func engineFlags() []cli.Flag {
	defaults := config.Default()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Execution store URL (memory://, file://dir, postgres://..., sqlite://file)",
			Value:   defaults.DatabaseURL,
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   defaults.LogLevel,
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "Also write logs to this file",
			Sources: cli.EnvVars("LOG_FILE"),
		},
		&cli.DurationFlag{
			Name:    "execution-timeout",
			Usage:   "Wall-clock limit of one execution, 0 disables it",
			Value:   defaults.ExecutionTimeout,
			Sources: cli.EnvVars("EXECUTION_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "max-concurrent-executions",
			Usage:   "Executions allowed to run at the same time",
			Value:   defaults.MaxConcurrentExecutions,
			Sources: cli.EnvVars("MAX_CONCURRENT_EXECUTIONS"),
		},
		&cli.StringFlag{
			Name:    "stale-sweep-schedule",
			Usage:   "Cron schedule of the orphaned execution sweep",
			Value:   defaults.StaleSweepSchedule,
			Sources: cli.EnvVars("STALE_SWEEP_SCHEDULE"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "External event bus (none, gochannel, kafka)",
			Value:   defaults.EventBus,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers for the kafka event bus",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for long-term agent memory (in-memory when empty)",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "settings-file",
			Usage:   "JSON file holding per-user provider settings",
			Sources: cli.EnvVars("SETTINGS_FILE"),
		},
		&cli.StringFlag{
			Name:    "tool-file-root",
			Usage:   "Directory the file_reader tool is confined to",
			Value:   defaults.ToolFileRoot,
			Sources: cli.EnvVars("TOOL_FILE_ROOT"),
		},
		&cli.StringFlag{
			Name:    "openai-api-key",
			Usage:   "Fallback OpenAI API key",
			Sources: cli.EnvVars("OPENAI_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "anthropic-api-key",
			Usage:   "Fallback Anthropic API key",
			Sources: cli.EnvVars("ANTHROPIC_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "gemini-api-key",
			Usage:   "Fallback Gemini API key",
			Sources: cli.EnvVars("GEMINI_API_KEY", "GOOGLE_API_KEY"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}
}

func serverFlags() []cli.Flag {
	defaults := config.Default()

	return []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaults.Port,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringSliceFlag{
			Name:    "cors-origins",
			Usage:   "Allowed CORS origins",
			Value:   defaults.CORSOrigins,
			Sources: cli.EnvVars("CORS_ORIGINS"),
		},
		&cli.BoolFlag{
			Name:    "cors-allow-credentials",
			Usage:   "Allow credentials on CORS requests",
			Sources: cli.EnvVars("CORS_ALLOW_CREDENTIALS"),
		},
		&cli.IntFlag{
			Name:    "max-request-size",
			Usage:   "Largest accepted request body in bytes",
			Value:   defaults.MaxRequestSize,
			Sources: cli.EnvVars("MAX_REQUEST_SIZE"),
		},
		&cli.DurationFlag{
			Name:    "websocket-ping-interval",
			Usage:   "Keep-alive interval of event streams",
			Value:   defaults.WebsocketPingInterval,
			Sources: cli.EnvVars("WEBSOCKET_PING_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "websocket-timeout",
			Usage:   "Idle limit of event streams",
			Value:   defaults.WebsocketTimeout,
			Sources: cli.EnvVars("WEBSOCKET_TIMEOUT"),
		},
	}
}

// configFromCommand reads the engine flags of command over the defaults.
func configFromCommand(command *cli.Command) config.Config {
	cfg := config.Default()

	cfg.DatabaseURL = command.String("database-url")
	cfg.LogLevel = command.String("log-level")
	cfg.LogFile = command.String("log-file")
	cfg.ExecutionTimeout = command.Duration("execution-timeout")
	cfg.MaxConcurrentExecutions = command.Int("max-concurrent-executions")
	cfg.StaleSweepSchedule = command.String("stale-sweep-schedule")
	cfg.EventBus = command.String("event-bus")
	cfg.KafkaBrokers = command.StringSlice("kafka-brokers")
	cfg.RedisURL = command.String("redis-url")
	cfg.SettingsFile = command.String("settings-file")
	cfg.ToolFileRoot = command.String("tool-file-root")
	cfg.OpenAIAPIKey = command.String("openai-api-key")
	cfg.AnthropicAPIKey = command.String("anthropic-api-key")
	cfg.GeminiAPIKey = command.String("gemini-api-key")
	cfg.TracingEnabled = command.Bool("tracing")

	return cfg
}

// serverConfigFromCommand adds the HTTP flags of serve.
func serverConfigFromCommand(command *cli.Command) config.Config {
	cfg := configFromCommand(command)

	cfg.Port = command.Int("port")
	cfg.CORSOrigins = command.StringSlice("cors-origins")
	cfg.CORSAllowCredentials = command.Bool("cors-allow-credentials")
	cfg.MaxRequestSize = command.Int("max-request-size")
	cfg.WebsocketPingInterval = command.Duration("websocket-ping-interval")
	cfg.WebsocketTimeout = command.Duration("websocket-timeout")

	return cfg
}

// setupLogging installs the process logger and returns a module logger.
func setupLogging(cfg config.Config, module string) (*slog.Logger, io.Closer, error) {
	closer, err := log.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}

	return log.WithModule(module), closer, nil
}
