// Package fpdapi provides an API client for FPDAPI fuel price direct services
// such as the Queensland Fuel Price Reporting scheme.
package fpdapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/fuelwatch/fpdsync/internal/models"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "fpdapi"
	// DefaultBaseURL is the Queensland FPDAPI endpoint.
	DefaultBaseURL = "https://fppdirectapi-prod.fuelpricesqld.com.au"
	// DefaultTimeout bounds a single resource request.
	DefaultTimeout = 30 * time.Second
	// maxErrorBody caps how much of a failed response is kept in the error.
	maxErrorBody = 512
)

// Resource names one of the four FPDAPI resources.
type Resource string

const (
	ResourceBrands     Resource = "brands"
	ResourceFuels      Resource = "fuels"
	ResourceSites      Resource = "sites"
	ResourceSitePrices Resource = "sites_prices"
)

// Resources lists every resource in fetch order.
var Resources = []Resource{ResourceBrands, ResourceFuels, ResourceSites, ResourceSitePrices}

// Region selects the country and geographic region baked into resource queries.
type Region struct {
	CountryID      int
	GeoRegionLevel int
	GeoRegionID    int
}

// DefaultRegion is Queensland (country 21, state level region 1).
func DefaultRegion() Region {
	return Region{CountryID: 21, GeoRegionLevel: 3, GeoRegionID: 1}
}

// Path returns the path and query string of a resource.
func (r Region) Path(res Resource) (string, error) {
	switch res {
	case ResourceBrands:
		return fmt.Sprintf("Subscriber/GetCountryBrands?countryId=%d", r.CountryID), nil
	case ResourceFuels:
		return fmt.Sprintf("Subscriber/GetCountryFuelTypes?countryId=%d", r.CountryID), nil
	case ResourceSites:
		return fmt.Sprintf("Subscriber/GetFullSiteDetails?countryId=%d&geoRegionLevel=%d&geoRegionId=%d",
			r.CountryID, r.GeoRegionLevel, r.GeoRegionID), nil
	case ResourceSitePrices:
		return fmt.Sprintf("Price/GetSitesPrices?countryId=%d&geoRegionLevel=%d&geoRegionId=%d",
			r.CountryID, r.GeoRegionLevel, r.GeoRegionID), nil
	default:
		return "", eris.Errorf("unknown resource %q", res)
	}
}

type brandsResponse struct {
	Brands *[]models.Brand `json:"Brands"`
}

type fuelsResponse struct {
	Fuels *[]models.FuelType `json:"Fuels"`
}

type sitesResponse struct {
	Sites *[]models.RawSite `json:"S"`
}

type sitePricesResponse struct {
	SitePrices *[]models.RawSitePrice `json:"SitePrices"`
}

// Options configures a Provider.
type Options struct {
	BaseURL string
	// Token is the subscriber token. Required.
	Token   string
	Region  Region
	Timeout time.Duration
}

// Provider implements the API provider interface for FPDAPI.
type Provider struct {
	client  *http.Client
	baseURL string
	token   string
	region  Region
	logger  zerolog.Logger
}

// New creates a new FPDAPI provider. It fails when no token is configured.
func New(opts Options, logger zerolog.Logger) (*Provider, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, eris.New("fpdapi: subscriber token is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Region == (Region{}) {
		opts.Region = DefaultRegion()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Provider{
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		region:  opts.Region,
		logger:  logger.With().Str("provider", ProviderName).Logger(),
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// FetchBrands fetches all brands of the configured country.
func (p *Provider) FetchBrands(ctx context.Context) ([]models.Brand, error) {
	var resp brandsResponse
	if err := p.get(ctx, ResourceBrands, &resp); err != nil {
		return nil, err
	}
	if resp.Brands == nil {
		return nil, missingField(ResourceBrands, "Brands")
	}
	return *resp.Brands, nil
}

// FetchFuelTypes fetches all fuel types of the configured country.
func (p *Provider) FetchFuelTypes(ctx context.Context) ([]models.FuelType, error) {
	var resp fuelsResponse
	if err := p.get(ctx, ResourceFuels, &resp); err != nil {
		return nil, err
	}
	if resp.Fuels == nil {
		return nil, missingField(ResourceFuels, "Fuels")
	}
	return *resp.Fuels, nil
}

// FetchSites fetches the full site details of the configured region.
func (p *Provider) FetchSites(ctx context.Context) ([]models.RawSite, error) {
	var resp sitesResponse
	if err := p.get(ctx, ResourceSites, &resp); err != nil {
		return nil, err
	}
	if resp.Sites == nil {
		return nil, missingField(ResourceSites, "S")
	}
	return *resp.Sites, nil
}

// FetchSitePrices fetches the current site prices of the configured region.
func (p *Provider) FetchSitePrices(ctx context.Context) ([]models.RawSitePrice, error) {
	var resp sitePricesResponse
	if err := p.get(ctx, ResourceSitePrices, &resp); err != nil {
		return nil, err
	}
	if resp.SitePrices == nil {
		return nil, missingField(ResourceSitePrices, "SitePrices")
	}
	return *resp.SitePrices, nil
}

func (p *Provider) get(ctx context.Context, res Resource, out any) error {
	path, err := p.region.Path(res)
	if err != nil {
		return &FetchError{Resource: res, Kind: KindNetwork, Err: err}
	}
	apiURL := p.baseURL + "/" + path

	p.logger.Debug().
		Str("resource", string(res)).
		Str("url", apiURL).
		Msg("fetching resource")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return &FetchError{Resource: res, Kind: KindNetwork, Err: eris.Wrap(err, "creating request")}
	}

	req.Header.Set("Authorization", "FPDAPI SubscriberToken="+p.token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return &FetchError{Resource: res, Kind: KindNetwork, Err: eris.Wrap(err, "executing request")}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &FetchError{
			Resource:   res,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("response body %q", strings.TrimSpace(string(body))),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &FetchError{Resource: res, Kind: KindNetwork, Err: eris.Wrap(err, "reading response body")}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &FetchError{Resource: res, Kind: KindDecode, Err: eris.Wrap(err, "parsing response JSON")}
	}

	p.logger.Info().
		Str("resource", string(res)).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("fetched resource")

	return nil
}

func missingField(res Resource, field string) error {
	return &FetchError{
		Resource: res,
		Kind:     KindDecode,
		Err:      eris.Errorf("response has no %q field", field),
	}
}
