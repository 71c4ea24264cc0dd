// Package main provides the entry point for the fuel price sync CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fuelwatch/fpdsync/internal/api/fpdapi"
	"github.com/fuelwatch/fpdsync/internal/config"
	"github.com/fuelwatch/fpdsync/internal/database"
)

var (
	// Version is set at build time.
	Version = "dev"
	// Commit is set at build time.
	Commit = "none"
	// BuildDate is set at build time.
	BuildDate = "unknown"
)

var cfg *config.Config

func main() {
	cfg = config.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fpdsync",
		Short: "FPDAPI fuel price sync",
		Long: `fpdsync fetches brands, fuel types, sites and current site prices from an
FPDAPI fuel price service (Queensland by default), attaches each site's most
recent price per fuel and a geohash, and upserts the result into a document store.

Without a subcommand a single sync is run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), false)
		},
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.API.BaseURL, "api-base-url", cfg.API.BaseURL, "FPDAPI base URL")
	flags.IntVar(&cfg.API.CountryID, "country-id", cfg.API.CountryID, "FPDAPI country id")
	flags.IntVar(&cfg.API.GeoRegionLevel, "geo-region-level", cfg.API.GeoRegionLevel, "FPDAPI geographic region level")
	flags.IntVar(&cfg.API.GeoRegionID, "geo-region-id", cfg.API.GeoRegionID, "FPDAPI geographic region id")
	flags.DurationVar(&cfg.API.Timeout, "fetch-timeout", cfg.API.Timeout, "Timeout of a single API request")
	flags.StringVar(&cfg.Store.Backend, "store-backend", cfg.Store.Backend, "Store backend (mongo, postgres)")
	flags.StringVar(&cfg.Store.CollectionPrefix, "collection-prefix", cfg.Store.CollectionPrefix, "Prefix of collection and table names")
	flags.StringVar(&cfg.Store.PostgresDSN, "postgres-dsn", cfg.Store.PostgresDSN, "PostgreSQL connection string")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json, console)")

	// Add subcommands
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func setupLogger() zerolog.Logger {
	var logger zerolog.Logger

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set log format
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	return logger
}

// newProvider validates the API settings and builds the FPDAPI client.
func newProvider(logger zerolog.Logger) (*fpdapi.Provider, error) {
	if err := cfg.ValidateAPI(); err != nil {
		return nil, eris.Wrap(err, "invalid configuration")
	}
	return fpdapi.New(cfg.ProviderOptions(), logger)
}

// openStore validates the store settings and connects to the configured backend.
func openStore(ctx context.Context, logger zerolog.Logger) (database.Store, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, eris.Wrap(err, "invalid configuration")
	}
	store, err := database.Open(ctx, cfg.StoreOptions(), logger)
	if err != nil {
		return nil, eris.Wrapf(err, "connecting to %s store", cfg.Store.Backend)
	}
	return store, nil
}

// closeStore closes store with a fresh deadline so it also runs after cancellation.
func closeStore(store database.Store, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("closing store")
	}
}
