package main

import (
	"context"
	"fmt"
	"os"

	"github.com/upb/auth-gateway/app"
	"github.com/upb/auth-gateway/config"
	"github.com/upb/auth-gateway/internal/lifecycle"
	"github.com/upb/auth-gateway/internal/observability"
	"github.com/upb/auth-gateway/routes"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(context.Background()))
}

// run returns the process exit code: 0 after a clean shutdown, 1 when
// configuration, connecting, or listening fails.
func run(ctx context.Context) int {
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.New(ctx)
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		return 1
	}

	logger.Info("starting auth gateway",
		zap.String("environment", cfg.Environment),
		zap.String("addr", cfg.Server.Address()))

	var sup *lifecycle.Supervisor
	sup = lifecycle.New(lifecycle.Config{
		Addr:            cfg.Server.Address(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownMode:    cfg.Server.ShutdownMode,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Connect: func(ctx context.Context) error {
			deps, err := app.NewDependencies(ctx, cfg, logger, app.WithLifecycle(sup))
			if err != nil {
				return err
			}
			sup.OnClose(deps.Close)
			sup.SetHandler(routes.SetupRoutes(deps))
			return nil
		},
	}, logger)

	if err := sup.Start(ctx); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		return 1
	}

	if err := sup.Run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}

// initLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func initLogger() (*zap.Logger, error) {
	return observability.NewLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}
