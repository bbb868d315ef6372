package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzpsarthak13/storefwd/pkg/storefwd"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the sync engine and its HTTP API",
	Long: `Start the sync engine and serve its HTTP API.

Endpoints:
  GET  /health   liveness and connectivity flag
  GET  /status   queue status
  GET  /stats    detailed counters
  GET  /pending  queued operations in dispatch order
  POST /enqueue  {"table": "...", "kind": "insert|update|upsert|delete", "payload": {...}}
  POST /sync     run a sync cycle now
  POST /online   {"online": true|false}`,
	RunE: runServer,
}

func init() {
	runCmd.Flags().String("addr", ":8080", "HTTP listen address")
	runCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "time allowed for a graceful shutdown")
}

func runServer(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := storefwd.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create sync service: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           newServer(svc, logger).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("remote", cfg.Remote.Type).Str("kvstore", cfg.KVStore.Type).
			Str("realtime", cfg.Realtime.Type).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	return svc.Stop(shutdownCtx)
}
