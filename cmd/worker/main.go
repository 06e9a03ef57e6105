// Command worker consumes send jobs and runs the maintenance sweeps.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/mailpipe/internal/app"
	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Configure(cfg.Logging.Level, !cfg.Logging.DisableRedaction)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Error("failed to assemble pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	maint := a.Maintenance()
	if err := maint.Start(ctx); err != nil {
		logger.Error("failed to start maintenance", "error", err)
		os.Exit(1)
	}
	defer maint.Stop()

	logger.Info("worker started", "queue_mode", string(a.Queue.Mode()))
	err = a.Queue.Run(ctx, a.Router().Handler())
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
