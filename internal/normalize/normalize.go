// Package normalize merges raw FPDAPI sites and prices into persisted site records.
package normalize

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/mmcloughlin/geohash"
	"github.com/rotisserie/eris"

	"github.com/fuelwatch/fpdsync/internal/models"
)

// GeohashPrecision is the number of base-32 characters in a site geohash.
const GeohashPrecision = 10

// timestampLayouts are tried in order. Zone-less values are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// ParseError reports a timestamp that could not be parsed during normalization.
type ParseError struct {
	Resource string
	RecordID string
	Field    string
	Value    string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s.%s of record %s (%q): %v", e.Resource, e.Field, e.RecordID, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseTimestamp parses an FPDAPI timestamp.
func ParseTimestamp(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, eris.Wrapf(lastErr, "unrecognized timestamp %q", value)
}

// Geohash returns the geohash of a coordinate at GeohashPrecision.
func Geohash(lat, lng float64) string {
	return geohash.EncodeWithPrecision(lat, lng, GeohashPrecision)
}

type datedPrice struct {
	raw models.RawSitePrice
	at  time.Time
}

// Sites joins raw sites with raw prices. Each site carries, per fuel, the price
// record with the latest transaction time. Equal timestamps keep the row that
// came first in the input. Output order follows rawSites.
func Sites(rawSites []models.RawSite, rawPrices []models.RawSitePrice) ([]models.Site, error) {
	bySite := make(map[int64][]datedPrice, len(rawSites))
	for _, rp := range rawPrices {
		at, err := ParseTimestamp(rp.TransactionDateUTC)
		if err != nil {
			return nil, &ParseError{
				Resource: "sites_prices",
				RecordID: fmt.Sprintf("site=%d fuel=%d", rp.SiteID, rp.FuelID),
				Field:    "TransactionDateUtc",
				Value:    rp.TransactionDateUTC,
				Err:      err,
			}
		}
		bySite[rp.SiteID] = append(bySite[rp.SiteID], datedPrice{raw: rp, at: at})
	}

	sites := make([]models.Site, 0, len(rawSites))
	for _, rs := range rawSites {
		site, err := buildSite(rs, bySite[rs.SiteID])
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}

	return sites, nil
}

// buildSite builds one normalized site from its raw record and its parsed prices.
func buildSite(rs models.RawSite, prices []datedPrice) (models.Site, error) {
	lastModified, err := ParseTimestamp(rs.LastModifiedRaw)
	if err != nil {
		return models.Site{}, &ParseError{
			Resource: "sites",
			RecordID: strconv.FormatInt(rs.SiteID, 10),
			Field:    "M",
			Value:    rs.LastModifiedRaw,
			Err:      err,
		}
	}

	return models.Site{
		SiteID:        rs.SiteID,
		Address:       rs.Address,
		Name:          rs.Name,
		BrandID:       rs.BrandID,
		PostCode:      rs.PostCode,
		Lat:           rs.Lat,
		Lng:           rs.Lng,
		LastModified:  lastModified,
		GooglePlaceID: rs.GooglePlaceID,
		Geohash:       Geohash(rs.Lat, rs.Lng),
		Prices:        latestPrices(prices),
	}, nil
}

// latestPrices picks the newest record per fuel. prices is sorted in place.
func latestPrices(prices []datedPrice) map[string]models.SitePrice {
	sort.SliceStable(prices, func(i, j int) bool {
		return prices[i].at.After(prices[j].at)
	})

	latest := make(map[string]models.SitePrice)
	for _, p := range prices {
		key := strconv.FormatInt(p.raw.FuelID, 10)
		if _, ok := latest[key]; ok {
			continue
		}
		latest[key] = models.SitePrice{
			SiteID:             p.raw.SiteID,
			FuelID:             p.raw.FuelID,
			Price:              p.raw.Price,
			TransactionDateUTC: p.at,
			CollectionMethod:   p.raw.CollectionMethod,
		}
	}
	return latest
}
