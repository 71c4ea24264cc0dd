package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fuelwatch/fpdsync/internal/models"
)

// pgPool is the subset of *pgxpool.Pool used by PostgresStore.
type pgPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore keeps documents as JSONB rows keyed by their external identifier.
// Current prices are additionally flattened into a site_prices table.
type PostgresStore struct {
	pool   pgPool
	prefix string
	logger zerolog.Logger
}

// NewPostgres creates a new PostgreSQL connection pool.
func NewPostgres(ctx context.Context, dsn, prefix string, logger zerolog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "parsing postgres dsn")
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "opening database connection")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "pinging database")
	}

	return newPostgresStore(pool, prefix, logger), nil
}

func newPostgresStore(pool pgPool, prefix string, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		prefix: prefix,
		logger: logger.With().Str("component", "database").Str("backend", BackendPostgres).Logger(),
	}
}

// Backend returns the backend identifier.
func (s *PostgresStore) Backend() string {
	return BackendPostgres
}

// Close closes the connection pool.
func (s *PostgresStore) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

// Ping checks if the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) table(c Collection) string {
	return pgx.Identifier{c.Name(s.prefix)}.Sanitize()
}

// EnsureSchema creates the document and price tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	brands := s.table(CollectionBrands)
	fuels := s.table(CollectionFuels)
	sites := s.table(CollectionSites)
	prices := s.table(CollectionSitePrices)

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			brand_id   BIGINT PRIMARY KEY,
			name       TEXT NOT NULL,
			doc        JSONB NOT NULL,
			synced_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, brands),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			fuel_id    BIGINT PRIMARY KEY,
			name       TEXT NOT NULL,
			doc        JSONB NOT NULL,
			synced_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, fuels),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			site_id    BIGINT PRIMARY KEY,
			brand_id   BIGINT NOT NULL,
			geohash    TEXT NOT NULL,
			doc        JSONB NOT NULL,
			synced_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, sites),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (geohash)`,
			pgx.Identifier{CollectionSites.Name(s.prefix) + "_geohash_idx"}.Sanitize(), sites),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			site_id            BIGINT NOT NULL,
			fuel_id            BIGINT NOT NULL,
			price              NUMERIC(10,3) NOT NULL,
			transaction_at     TIMESTAMPTZ NOT NULL,
			collection_method  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (site_id, fuel_id)
		)`, prices),
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "creating schema")
		}
	}

	s.logger.Info().Str("prefix", s.prefix).Msg("schema is up to date")
	return nil
}

// UpsertBrands writes brands keyed by brand_id in a single transaction.
func (s *PostgresStore) UpsertBrands(ctx context.Context, brands []models.Brand) (int, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (brand_id, name, doc, synced_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (brand_id)
		DO UPDATE SET
			name = EXCLUDED.name,
			doc = EXCLUDED.doc,
			synced_at = EXCLUDED.synced_at
	`, s.table(CollectionBrands))

	err := s.inTx(ctx, CollectionBrands, func(tx pgx.Tx) error {
		for _, b := range brands {
			doc, err := json.Marshal(b)
			if err != nil {
				return s.persistErr(CollectionBrands, keyOf("BrandId", b.BrandID), err)
			}
			if _, err := tx.Exec(ctx, query, b.BrandID, b.Name, doc); err != nil {
				return s.persistErr(CollectionBrands, keyOf("BrandId", b.BrandID), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(brands), nil
}

// UpsertFuelTypes writes fuel types keyed by fuel_id in a single transaction.
func (s *PostgresStore) UpsertFuelTypes(ctx context.Context, fuels []models.FuelType) (int, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (fuel_id, name, doc, synced_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (fuel_id)
		DO UPDATE SET
			name = EXCLUDED.name,
			doc = EXCLUDED.doc,
			synced_at = EXCLUDED.synced_at
	`, s.table(CollectionFuels))

	err := s.inTx(ctx, CollectionFuels, func(tx pgx.Tx) error {
		for _, f := range fuels {
			doc, err := json.Marshal(f)
			if err != nil {
				return s.persistErr(CollectionFuels, keyOf("FuelId", f.FuelID), err)
			}
			if _, err := tx.Exec(ctx, query, f.FuelID, f.Name, doc); err != nil {
				return s.persistErr(CollectionFuels, keyOf("FuelId", f.FuelID), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(fuels), nil
}

// UpsertSites writes site documents keyed by site_id and replaces the
// current prices of every written site.
func (s *PostgresStore) UpsertSites(ctx context.Context, sites []models.Site) (int, error) {
	upsertSite := fmt.Sprintf(`
		INSERT INTO %s (site_id, brand_id, geohash, doc, synced_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (site_id)
		DO UPDATE SET
			brand_id = EXCLUDED.brand_id,
			geohash = EXCLUDED.geohash,
			doc = EXCLUDED.doc,
			synced_at = EXCLUDED.synced_at
	`, s.table(CollectionSites))

	prices := s.table(CollectionSitePrices)
	deletePrices := fmt.Sprintf(`DELETE FROM %s WHERE site_id = $1`, prices)
	insertPrice := fmt.Sprintf(`
		INSERT INTO %s (site_id, fuel_id, price, transaction_at, collection_method)
		VALUES ($1, $2, $3, $4, $5)
	`, prices)

	err := s.inTx(ctx, CollectionSites, func(tx pgx.Tx) error {
		for _, site := range sites {
			key := keyOf("SiteId", site.SiteID)

			doc, err := json.Marshal(site)
			if err != nil {
				return s.persistErr(CollectionSites, key, err)
			}
			if _, err := tx.Exec(ctx, upsertSite, site.SiteID, site.BrandID, site.Geohash, doc); err != nil {
				return s.persistErr(CollectionSites, key, err)
			}

			if _, err := tx.Exec(ctx, deletePrices, site.SiteID); err != nil {
				return s.persistErr(CollectionSitePrices, key, err)
			}
			for _, p := range sortedPrices(site) {
				_, err := tx.Exec(ctx, insertPrice,
					p.SiteID,
					p.FuelID,
					decimal.NewFromFloat(p.Price).String(),
					p.TransactionDateUTC,
					p.CollectionMethod,
				)
				if err != nil {
					return s.persistErr(CollectionSitePrices, fmt.Sprintf("%s FuelId=%d", key, p.FuelID), err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(sites), nil
}

// CountSites returns the number of stored sites.
func (s *PostgresStore) CountSites(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table(CollectionSites))).Scan(&count)
	if err != nil {
		return 0, eris.Wrap(err, "counting sites")
	}
	return count, nil
}

// inTx runs fn in a transaction, rolling back on error.
func (s *PostgresStore) inTx(ctx context.Context, c Collection, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.persistErr(c, "", eris.Wrap(err, "beginning transaction"))
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn().Err(rbErr).Str("table", c.Name(s.prefix)).Msg("rollback failed")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return s.persistErr(c, "", eris.Wrap(err, "committing transaction"))
	}

	s.logger.Debug().Str("table", c.Name(s.prefix)).Msg("committed upsert transaction")
	return nil
}

func (s *PostgresStore) persistErr(c Collection, key string, err error) error {
	return &PersistenceError{Collection: c.Name(s.prefix), Key: key, Err: err}
}

// sortedPrices returns the prices of a site ordered by FuelId.
func sortedPrices(site models.Site) []models.SitePrice {
	out := make([]models.SitePrice, 0, len(site.Prices))
	for _, p := range site.Prices {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FuelID < out[j].FuelID })
	return out
}

func keyOf(field string, id int64) string {
	return field + "=" + strconv.FormatInt(id, 10)
}
