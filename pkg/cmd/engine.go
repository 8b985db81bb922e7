package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/agentflow/pkg/agent"
	"github.com/dukex/agentflow/pkg/config"
	"github.com/dukex/agentflow/pkg/eventbus"
	"github.com/dukex/agentflow/pkg/llm"
	"github.com/dukex/agentflow/pkg/memory"
	"github.com/dukex/agentflow/pkg/nodes"
	"github.com/dukex/agentflow/pkg/observer"
	"github.com/dukex/agentflow/pkg/otelhelper"
	"github.com/dukex/agentflow/pkg/persistence"
	"github.com/dukex/agentflow/pkg/services"
	"github.com/dukex/agentflow/pkg/settings"
	"github.com/dukex/agentflow/pkg/tools"
	"github.com/dukex/agentflow/pkg/workflow"
	"github.com/redis/go-redis/v9"
)

// Engine is the wired execution stack shared by the CLI commands.
type Engine struct {
	Config     config.Config
	Store      persistence.ExecutionStore
	Bus        *observer.Bus
	Tools      *tools.Registry
	Settings   *settings.Service
	Executions *services.Execution

	sweeper        *services.Sweeper
	eventBus       eventbus.EventBus
	forwarder      *eventbus.Forwarder
	redis          *redis.Client
	shutdownTracer otelhelper.ShutdownFunc
	logger         *slog.Logger
}

type EngineOption func(*engineOptions)

type engineOptions struct {
	clients nodes.ClientProvider
}

// WithClientProvider replaces the settings-backed LLM client factory.
func WithClientProvider(clients nodes.ClientProvider) EngineOption {
	return func(o *engineOptions) {
		o.clients = clients
	}
}

// NewLongTermBackend connects to redisURL, or returns the in-memory backend
// when it is empty. The client is nil for the in-memory backend.
func NewLongTermBackend(ctx context.Context, redisURL string) (memory.Backend, *redis.Client, error) {
	if redisURL == "" {
		return memory.NewInMemoryBackend(), nil, nil
	}

	client, err := memory.NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}

	return memory.NewRedisBackend(client, ""), client, nil
}

func NewSettingsService(ctx context.Context, path string, logger *slog.Logger) (*settings.Service, error) {
	var source settings.Source = settings.NewStaticSource(nil)
	if path != "" {
		source = settings.NewFileSource(path)
	}

	service := settings.NewService(source, logger)

	err := service.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	return service, nil
}

// NewEngine builds the store, settings, tools, evaluators, executor and
// execution service described by cfg.
func NewEngine(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...EngineOption) (*Engine, error) {
	options := engineOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	engine := &Engine{Config: cfg, logger: logger.With("module", "engine")}

	tracer := otelhelper.NoopTracer()

	if cfg.TracingEnabled {
		tracer, engine.shutdownTracer, err = otelhelper.NewTracer(ctx, "agentflow")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
	}

	engine.Store, err = NewStore(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, engine.abort(ctx, err)
	}

	engine.Settings, err = NewSettingsService(ctx, cfg.SettingsFile, logger)
	if err != nil {
		return nil, engine.abort(ctx, err)
	}

	backend, redisClient, err := NewLongTermBackend(ctx, cfg.RedisURL)
	if err != nil {
		return nil, engine.abort(ctx, err)
	}

	engine.redis = redisClient

	engine.Tools = tools.NewRegistry(logger)
	tools.RegisterBuiltins(engine.Tools, cfg.ToolFileRoot)

	clients := options.clients
	if clients == nil {
		clients = llm.NewFactory(engine.Settings, llm.FallbackKeys{
			OpenAI:    cfg.OpenAIAPIKey,
			Anthropic: cfg.AnthropicAPIKey,
			Gemini:    cfg.GeminiAPIKey,
		}, logger)
	}

	runtime := agent.NewRuntime(engine.Tools, logger, tracer)
	evaluators := nodes.NewDefaultRegistry(nodes.NewAgentEvaluator(clients, runtime, engine.Settings, logger), logger)

	engine.Bus = observer.NewBus(logger)

	executor := workflow.NewExecutor(engine.Store, evaluators, engine.Bus, logger,
		workflow.WithMemoryBackend(backend),
		workflow.WithTracer(tracer),
	)

	engine.Executions = services.NewExecution(engine.Store, executor, engine.Bus, logger, services.ExecutionOptions{
		MaxConcurrent: cfg.MaxConcurrentExecutions,
		Timeout:       cfg.ExecutionTimeout,
	})

	engine.sweeper, err = services.NewSweeper(engine.Executions, cfg.StaleSweepSchedule, logger)
	if err != nil {
		return nil, engine.abort(ctx, err)
	}

	engine.eventBus, err = NewEventBus(cfg.EventBus, cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, engine.abort(ctx, err)
	}

	if engine.eventBus != nil {
		engine.forwarder = eventbus.NewForwarder(engine.Bus, engine.eventBus, 0, logger)
	}

	return engine, nil
}

// Start launches the stale sweeper and the event forwarder.
func (e *Engine) Start(ctx context.Context) error {
	err := e.sweeper.Start(ctx)
	if err != nil {
		return err
	}

	if e.forwarder != nil {
		e.forwarder.Start(ctx)
	}

	return nil
}

// Close drains live executions and releases every resource.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error

	if e.Executions != nil {
		errs = append(errs, e.Executions.Shutdown(ctx))
	}

	if e.sweeper != nil {
		errs = append(errs, e.sweeper.Stop(ctx))
	}

	if e.forwarder != nil {
		e.forwarder.Close()
	}

	if e.eventBus != nil {
		errs = append(errs, e.eventBus.Close())
	}

	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}

	if e.Store != nil {
		errs = append(errs, e.Store.Close(ctx))
	}

	if e.shutdownTracer != nil {
		errs = append(errs, e.shutdownTracer(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		e.logger.ErrorContext(ctx, "Engine shutdown finished with errors", "error", err)
	}

	return err
}

func (e *Engine) abort(ctx context.Context, cause error) error {
	_ = e.Close(ctx)

	return cause
}
