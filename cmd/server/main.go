// Command server runs the HTTP API. It produces jobs and drains only its own
// in-process fallback queue; the worker binary consumes the broker.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/mailpipe/internal/api"
	"github.com/ignite/mailpipe/internal/app"
	"github.com/ignite/mailpipe/internal/config"
	"github.com/ignite/mailpipe/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml (optional)")
	withWorker := flag.Bool("with-worker", false, "also consume the broker queue in this process")
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

	server := api.NewServer(cfg.Server, a.APIDeps())
	router := a.Router()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if *withWorker {
			return ignoreCanceled(a.Queue.Run(gctx, router.Handler()))
		}
		return ignoreCanceled(a.Queue.DrainFallback(gctx, router.Handler()))
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
