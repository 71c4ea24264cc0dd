package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fuelwatch/fpdsync/internal/http"
	"github.com/fuelwatch/fpdsync/internal/metrics"
	"github.com/fuelwatch/fpdsync/internal/scheduler"
	"github.com/fuelwatch/fpdsync/internal/syncer"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the continuous sync service",
		Long: `Starts the sync with an internal cron scheduler and serves /metrics, /status
and /health. A tick is skipped while the previous sync is still running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			provider, err := newProvider(logger)
			if err != nil {
				return err
			}

			logger.Info().
				Str("version", Version).
				Str("commit", Commit).
				Str("buildDate", BuildDate).
				Str("httpAddr", cfg.HTTPAddr).
				Str("schedule", cfg.SyncSchedule).
				Str("store", cfg.Store.Backend).
				Msg("starting fuel price sync")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			store, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer closeStore(store, logger)

			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}

			s := syncer.New(provider, store, metrics.NewDefault(), logger)

			sched, err := scheduler.New(s, cfg.SyncSchedule, cfg.RunOnStart, logger)
			if err != nil {
				return err
			}

			httpServer := http.NewServer(cfg.HTTPAddr, s, sched, store, logger)

			// Setup signal handling
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			// Start HTTP server in goroutine
			go func() {
				if err := httpServer.Start(); err != nil {
					logger.Error().Err(err).Msg("HTTP server error")
					cancel()
				}
			}()

			// Start scheduler in goroutine
			schedDone := make(chan struct{})
			go func() {
				defer close(schedDone)
				if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("scheduler error")
					cancel()
				}
			}()

			// Wait for signal
			select {
			case sig := <-sigCh:
				logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
			case <-ctx.Done():
			}

			// Graceful shutdown
			cancel()
			<-schedDone

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("HTTP server shutdown error")
			}

			logger.Info().Msg("shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP server address for /metrics, /status")
	cmd.Flags().StringVar(&cfg.SyncSchedule, "schedule", cfg.SyncSchedule, "Cron expression of the sync schedule")
	cmd.Flags().BoolVar(&cfg.RunOnStart, "run-on-start", cfg.RunOnStart, "Sync once before the first scheduled tick")

	return cmd
}
