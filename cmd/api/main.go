package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solusiemas/api/internal/app"
	"solusiemas/api/internal/backend"
	"solusiemas/api/internal/config"
	"solusiemas/api/internal/logging"
	"solusiemas/api/internal/resolver"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(serve(config.Load(), logging.New))
}

// serve runs the API and returns the process exit code. The logger is
// flushed before it returns.
func serve(cfg config.Config, newLogger func(level string) (*zap.Logger, error)) int {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("api stopped", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	slot, cachePinger, closeCache, err := backend.OpenCache(cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	checks := map[string]app.Pinger{}
	for name, dep := range store.Checks {
		checks[name] = dep
	}
	if cachePinger != nil {
		checks["cache"] = cachePinger
	}

	sources, err := backend.Sources(cfg, store.Reader)
	if err != nil {
		return err
	}
	priceResolver := resolver.New(sources, logger)

	if cfg.AdminKey == "" {
		logger.Warn("ADMIN_KEY is not set, price updates are disabled")
	}

	service := app.New(cfg, app.Deps{
		Reader:   store.Reader,
		Writer:   store.Writer,
		Resolver: priceResolver,
		Cache:    slot,
		Checks:   checks,
		Logger:   logger,
	})
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("price api listening", zap.String("addr", cfg.Addr), zap.String("backend", store.Name))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.PollInterval > 0 {
		poller := resolver.NewPoller(priceResolver, slot, cfg.PollInterval, logger)
		g.Go(func() error { return poller.Run(ctx) })
	}
	return g.Wait()
}
