package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/beststories/go-beststories/config"
	"github.com/beststories/go-beststories/server"
	"github.com/beststories/go-beststories/telemetry"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the story server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "beststories", cfg.OtelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warnw("Cannot flush traces", "err", err)
		}
	}()

	cache, err := newCache(cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	// Run returns immediately unless the cache refreshes on a timer.
	go cache.Run(ctx)

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(updated *config.Config) {
				cache.SetValidity(updated.Stories.Validity)
				if err := setLogLevel(updated.LogLevel); err != nil {
					log.Warnw("Cannot apply log level", "err", err)
				}
			})
			if err != nil {
				log.Errorw("Config watcher stopped", "err", err)
			}
		}()
	}

	handler, err := server.New(cache,
		server.WithRoute(cfg.Route),
		server.WithRequestLogging(cfg.LogLevel == "debug"))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Infow("Story server started",
		"listen", cfg.Listen,
		"route", cfg.Route,
		"trigger", cfg.Stories.Trigger,
		"validity", cfg.Stories.Validity,
		"topN", cfg.Stories.TopN)

	select {
	case err = <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Story server shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	return srv.Shutdown(sctx)
}
