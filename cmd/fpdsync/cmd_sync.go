package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fuelwatch/fpdsync/internal/database"
	"github.com/fuelwatch/fpdsync/internal/metrics"
	"github.com/fuelwatch/fpdsync/internal/syncer"
)

func syncCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a one-time sync",
		Long: `Fetches all four resources, normalizes sites and upserts brands, fuel types
and sites. Nothing is written unless every fetch and the normalization succeed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Fetch and normalize only, write nothing")
	cmd.Flags().StringVar(&cfg.PushgatewayURL, "pushgateway-url", cfg.PushgatewayURL, "Push run metrics to this Pushgateway")

	return cmd
}

func runSync(ctx context.Context, dryRun bool) error {
	logger := setupLogger()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := newProvider(logger)
	if err != nil {
		return err
	}

	logger.Info().
		Str("version", Version).
		Str("baseURL", cfg.API.BaseURL).
		Int("countryId", cfg.API.CountryID).
		Int("geoRegionLevel", cfg.API.GeoRegionLevel).
		Int("geoRegionId", cfg.API.GeoRegionID).
		Str("store", cfg.Store.Backend).
		Bool("dryRun", dryRun).
		Msg("running one-time sync")

	var store database.Store
	if !dryRun {
		store, err = openStore(ctx, logger)
		if err != nil {
			return err
		}
		defer closeStore(store, logger)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, reg)

	s := syncer.New(provider, store, m, logger)
	_, runErr := s.Run(ctx, syncer.RunOptions{DryRun: dryRun})

	if cfg.PushgatewayURL != "" {
		if err := m.Push(cfg.PushgatewayURL, "fpdsync"); err != nil {
			logger.Error().Err(err).Msg("failed to push metrics")
		}
	}

	return runErr
}
