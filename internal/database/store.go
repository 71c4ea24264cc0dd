// Package database persists normalized fuel price data into a document store.
package database

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/fuelwatch/fpdsync/internal/models"
)

// Supported store backends.
const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

// Collection names a logical collection. The physical name carries a prefix.
type Collection string

const (
	CollectionBrands Collection = "brands"
	CollectionFuels  Collection = "fuels"
	CollectionSites  Collection = "sites"
	// CollectionSitePrices is the flat current-price table of the Postgres backend.
	CollectionSitePrices Collection = "site_prices"
)

// Name returns the physical collection or table name for prefix.
func (c Collection) Name(prefix string) string {
	if prefix == "" {
		return string(c)
	}
	return prefix + "_" + string(c)
}

// Store upserts brands, fuel types and sites keyed by their external identifiers.
// Every write is confirmed before the call returns.
type Store interface {
	// Backend returns the backend identifier.
	Backend() string

	// EnsureSchema creates collections, tables and unique indexes if missing.
	EnsureSchema(ctx context.Context) error

	// UpsertBrands writes brands keyed by BrandId and returns how many were written.
	UpsertBrands(ctx context.Context, brands []models.Brand) (int, error)

	// UpsertFuelTypes writes fuel types keyed by FuelId.
	UpsertFuelTypes(ctx context.Context, fuels []models.FuelType) (int, error)

	// UpsertSites writes sites keyed by SiteId.
	UpsertSites(ctx context.Context, sites []models.Site) (int, error)

	// CountSites returns the number of stored sites.
	CountSites(ctx context.Context) (int64, error)

	// Ping checks if the store connection is alive.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close(ctx context.Context) error
}

// PersistenceError reports a failed write.
type PersistenceError struct {
	Collection string
	// Key identifies the failing record or batch, when known.
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("upserting into %s: %v", e.Collection, e.Err)
	}
	return fmt.Sprintf("upserting %s into %s: %v", e.Key, e.Collection, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Options selects and configures a store backend.
type Options struct {
	Backend          string
	MongoURI         string
	MongoDatabase    string
	PostgresDSN      string
	CollectionPrefix string
}

// Open connects to the configured backend. The caller must Close the store.
func Open(ctx context.Context, opts Options, logger zerolog.Logger) (Store, error) {
	switch opts.Backend {
	case BackendMongo:
		return NewMongo(ctx, opts.MongoURI, opts.MongoDatabase, opts.CollectionPrefix, logger)
	case BackendPostgres:
		return NewPostgres(ctx, opts.PostgresDSN, opts.CollectionPrefix, logger)
	default:
		return nil, eris.Errorf("unknown store backend %q", opts.Backend)
	}
}
