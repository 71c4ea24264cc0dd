// Package api provides the interface and types for fuel price data providers.
package api

import (
	"context"

	"github.com/fuelwatch/fpdsync/internal/models"
)

// Provider defines the interface for fuel price reference data sources.
// The four fetches are independent of each other and safe to call concurrently.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// FetchBrands fetches all fuel brands.
	FetchBrands(ctx context.Context) ([]models.Brand, error)

	// FetchFuelTypes fetches all fuel types.
	FetchFuelTypes(ctx context.Context) ([]models.FuelType, error)

	// FetchSites fetches the raw site listing of the configured region.
	FetchSites(ctx context.Context) ([]models.RawSite, error)

	// FetchSitePrices fetches the raw price events of the configured region.
	FetchSitePrices(ctx context.Context) ([]models.RawSitePrice, error)
}
