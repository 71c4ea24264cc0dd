package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create collections, tables and indexes",
		Long: `Creates the unique BrandId, FuelId and SiteId indexes and the Geohash index on
MongoDB, or the document and site price tables on PostgreSQL. Safe to run repeatedly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			store, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer closeStore(store, logger)

			if err := store.EnsureSchema(ctx); err != nil {
				return eris.Wrap(err, "migrating store")
			}

			logger.Info().
				Str("store", store.Backend()).
				Str("prefix", cfg.Store.CollectionPrefix).
				Msg("migration completed")
			return nil
		},
	}
}
