package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/agentflow/pkg/cmd"
	"github.com/dukex/agentflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the execution API server",
		Flags: append(serverFlags(), engineFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg := serverConfigFromCommand(command)

			logger, closer, err := setupLogging(cfg, "api")
			if err != nil {
				return err
			}
			defer closer.Close()

			logger.InfoContext(ctx, "Initializing agentflow API", "port", cfg.Port, "database_url", cfg.DatabaseURL)

			engine, err := cmd.NewEngine(ctx, cfg, logger)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to initialize engine", "error", err)

				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = engine.Start(ctx)
			if err != nil {
				_ = engine.Close(context.Background())

				return err
			}

			handlers := web.NewAPIHandlers(engine.Executions, engine.Settings, engine.Tools, web.StreamConfig{
				PingInterval: cfg.WebsocketPingInterval,
				IdleTimeout:  cfg.WebsocketTimeout,
			}, logger)

			app := web.NewApp(handlers, web.AppOptions{
				CORSOrigins:          cfg.CORSOrigins,
				CORSAllowCredentials: cfg.CORSAllowCredentials,
				MaxRequestSize:       cfg.MaxRequestSize,
				RequestLogging:       cfg.LogLevel == "debug",
			})

			listenErr := make(chan error, 1)

			go func() {
				listenErr <- app.Listen(":"+strconv.Itoa(cfg.Port), fiber.ListenConfig{DisableStartupMessage: true})
			}()

			logger.InfoContext(ctx, "API server listening", "port", cfg.Port)

			select {
			case err = <-listenErr:
				logger.ErrorContext(ctx, "API server stopped", "error", err)
			case <-ctx.Done():
				logger.InfoContext(ctx, "Shutting down API server")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			return errors.Join(err, app.ShutdownWithContext(shutdownCtx), engine.Close(shutdownCtx))
		},
	}
}
