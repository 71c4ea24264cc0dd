// Package syncer orchestrates fetching, normalizing and persisting fuel price data.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fuelwatch/fpdsync/internal/api"
	"github.com/fuelwatch/fpdsync/internal/database"
	"github.com/fuelwatch/fpdsync/internal/metrics"
	"github.com/fuelwatch/fpdsync/internal/models"
	"github.com/fuelwatch/fpdsync/internal/normalize"
)

// Resource labels used in logs and metrics.
const (
	resourceBrands     = "brands"
	resourceFuels      = "fuels"
	resourceSites      = "sites"
	resourceSitePrices = "sites_prices"
)

// ErrAlreadyRunning is returned by Run when another run is in progress.
var ErrAlreadyRunning = eris.New("sync already running")

// Fetched holds the raw payloads of the four resources.
type Fetched struct {
	Brands     []models.Brand
	FuelTypes  []models.FuelType
	Sites      []models.RawSite
	SitePrices []models.RawSitePrice
}

// RunOptions controls a single sync run.
type RunOptions struct {
	// DryRun fetches and normalizes but writes nothing.
	DryRun bool
}

// Syncer runs the fetch, normalize and persist pipeline.
type Syncer struct {
	provider api.Provider
	store    database.Store
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	runMu  sync.Mutex
	mu     sync.RWMutex
	status models.SyncStatus
}

// New creates a new Syncer. store may be nil when only dry runs are made.
func New(provider api.Provider, store database.Store, m *metrics.Metrics, logger zerolog.Logger) *Syncer {
	return &Syncer{
		provider: provider,
		store:    store,
		metrics:  m,
		logger:   logger.With().Str("component", "syncer").Logger(),
	}
}

// FetchAll fetches the four resources concurrently.
// The first failure cancels the remaining requests and is returned as is.
func (s *Syncer) FetchAll(ctx context.Context) (*Fetched, error) {
	var out Fetched
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.fetch(gctx, resourceBrands, func(ctx context.Context) (int, error) {
			var err error
			out.Brands, err = s.provider.FetchBrands(ctx)
			return len(out.Brands), err
		})
	})
	g.Go(func() error {
		return s.fetch(gctx, resourceFuels, func(ctx context.Context) (int, error) {
			var err error
			out.FuelTypes, err = s.provider.FetchFuelTypes(ctx)
			return len(out.FuelTypes), err
		})
	})
	g.Go(func() error {
		return s.fetch(gctx, resourceSites, func(ctx context.Context) (int, error) {
			var err error
			out.Sites, err = s.provider.FetchSites(ctx)
			return len(out.Sites), err
		})
	})
	g.Go(func() error {
		return s.fetch(gctx, resourceSitePrices, func(ctx context.Context) (int, error) {
			var err error
			out.SitePrices, err = s.provider.FetchSitePrices(ctx)
			return len(out.SitePrices), err
		})
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Syncer) fetch(ctx context.Context, resource string, fn func(ctx context.Context) (int, error)) error {
	start := time.Now()
	count, err := fn(ctx)
	duration := time.Since(start)

	// Fetches aborted because a sibling failed are not failures of their own.
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		s.metrics.RecordAPIRequest(resource, "cancelled", duration)
		s.logger.Debug().Str("resource", resource).Msg("fetch cancelled")
		return err
	}

	if err != nil {
		s.metrics.RecordAPIRequest(resource, "error", duration)
		s.logger.Error().
			Err(err).
			Str("resource", resource).
			Dur("duration", duration).
			Msg("failed to fetch resource")
		return err
	}

	s.metrics.RecordAPIRequest(resource, "success", duration)
	s.metrics.RecordFetched(resource, count)
	return nil
}

// Collect fetches all resources and normalizes them into a Dataset.
func (s *Syncer) Collect(ctx context.Context) (*models.Dataset, error) {
	fetched, err := s.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	sites, err := normalize.Sites(fetched.Sites, fetched.SitePrices)
	if err != nil {
		return nil, err
	}

	return &models.Dataset{
		Brands:    fetched.Brands,
		FuelTypes: fetched.FuelTypes,
		Sites:     sites,
	}, nil
}

// Persist upserts brands, fuel types and sites in that order,
// stopping at the first failed collection.
func (s *Syncer) Persist(ctx context.Context, ds *models.Dataset) error {
	if s.store == nil {
		return eris.New("no store configured")
	}

	steps := []struct {
		collection database.Collection
		upsert     func() (int, error)
	}{
		{database.CollectionBrands, func() (int, error) { return s.store.UpsertBrands(ctx, ds.Brands) }},
		{database.CollectionFuels, func() (int, error) { return s.store.UpsertFuelTypes(ctx, ds.FuelTypes) }},
		{database.CollectionSites, func() (int, error) { return s.store.UpsertSites(ctx, ds.Sites) }},
	}

	for _, step := range steps {
		start := time.Now()
		n, err := step.upsert()
		if err != nil {
			s.metrics.RecordDBOperation(string(step.collection), "error")
			return err
		}
		s.metrics.RecordDBOperation(string(step.collection), "success")
		s.metrics.RecordUpserted(string(step.collection), n)

		s.logger.Info().
			Str("collection", string(step.collection)).
			Int("count", n).
			Dur("duration", time.Since(start)).
			Msg("upserted records")
	}
	return nil
}

// Run executes one complete sync. Nothing is written unless fetching and
// normalizing both succeed. Errors are returned unwrapped so callers can
// inspect them with errors.As.
func (s *Syncer) Run(ctx context.Context, opts RunOptions) (models.SyncResult, error) {
	if !s.runMu.TryLock() {
		return models.SyncResult{}, ErrAlreadyRunning
	}
	defer s.runMu.Unlock()

	result := models.SyncResult{StartedAt: time.Now(), DryRun: opts.DryRun}
	s.logger.Info().Str("provider", s.provider.Name()).Bool("dry_run", opts.DryRun).Msg("starting sync")

	err := s.run(ctx, opts, &result)

	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	if err != nil {
		result.Error = err.Error()
	}
	s.record(result, err)

	if err != nil {
		s.logger.Error().Err(err).Dur("duration", result.Duration).Msg("sync failed")
		return result, err
	}

	s.logger.Info().
		Int("brands", result.Brands).
		Int("fuel_types", result.FuelTypes).
		Int("sites", result.Sites).
		Int("prices", result.Prices).
		Dur("duration", result.Duration).
		Msg("sync completed")
	return result, nil
}

func (s *Syncer) run(ctx context.Context, opts RunOptions, result *models.SyncResult) error {
	ds, err := s.Collect(ctx)
	if err != nil {
		return err
	}

	result.Brands = len(ds.Brands)
	result.FuelTypes = len(ds.FuelTypes)
	result.Sites = len(ds.Sites)
	withoutPrice := 0
	for _, site := range ds.Sites {
		result.Prices += len(site.Prices)
		if len(site.Prices) == 0 {
			withoutPrice++
		}
	}
	s.metrics.SitesWithoutPrice.Set(float64(withoutPrice))

	if opts.DryRun {
		s.logger.Info().Msg("dry run, skipping persistence")
		return nil
	}
	return s.Persist(ctx, ds)
}

func (s *Syncer) record(result models.SyncResult, err error) {
	// Dry runs are not counted in sync metrics.
	if !result.DryRun {
		s.metrics.RecordSync(err == nil, result.Duration, result.FinishedAt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.TotalRuns++
	if err != nil {
		s.status.TotalErrors++
	} else if !result.DryRun {
		at := result.FinishedAt
		s.status.LastSuccessAt = &at
	}
	s.status.LastRun = &result
}

// Status returns a snapshot of the sync status.
func (s *Syncer) Status() models.SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.status
	if s.status.LastRun != nil {
		last := *s.status.LastRun
		snapshot.LastRun = &last
	}
	if s.status.LastSuccessAt != nil {
		at := *s.status.LastSuccessAt
		snapshot.LastSuccessAt = &at
	}
	return snapshot
}
