package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelwatch/fpdsync/internal/models"
)

func exampleSite() models.RawSite {
	return models.RawSite{
		SiteID:          100,
		Address:         "1 Main St",
		Name:            "Servo",
		BrandID:         5,
		PostCode:        "4000",
		Lat:             -27.5,
		Lng:             153.0,
		LastModifiedRaw: "2024-01-01T00:00:00Z",
		GooglePlaceID:   "abc",
	}
}

func TestSites_EndToEndExample(t *testing.T) {
	prices := []models.RawSitePrice{
		{SiteID: 100, FuelID: 2, Price: 189.9, TransactionDateUTC: "2024-01-02T10:00:00Z", CollectionMethod: "T"},
		{SiteID: 100, FuelID: 2, Price: 195.5, TransactionDateUTC: "2024-01-03T08:00:00Z", CollectionMethod: "T"},
	}

	sites, err := Sites([]models.RawSite{exampleSite()}, prices)
	require.NoError(t, err)
	require.Len(t, sites, 1)

	site := sites[0]
	assert.Equal(t, int64(100), site.SiteID)
	assert.Equal(t, "1 Main St", site.Address)
	assert.Equal(t, "Servo", site.Name)
	assert.Equal(t, int64(5), site.BrandID)
	assert.Equal(t, "4000", site.PostCode)
	assert.Equal(t, -27.5, site.Lat)
	assert.Equal(t, 153.0, site.Lng)
	assert.Equal(t, "abc", site.GooglePlaceID)
	assert.True(t, site.LastModified.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, Geohash(-27.5, 153.0), site.Geohash)

	require.Contains(t, site.Prices, "2")
	assert.Equal(t, 195.5, site.Prices["2"].Price)
	assert.True(t, site.Prices["2"].TransactionDateUTC.Equal(time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)))
}

func TestSites_MostRecentRegardlessOfOrder(t *testing.T) {
	t1 := models.RawSitePrice{SiteID: 100, FuelID: 12, Price: 170.1, TransactionDateUTC: "2024-02-01T00:00:00Z"}
	t2 := models.RawSitePrice{SiteID: 100, FuelID: 12, Price: 175.2, TransactionDateUTC: "2024-02-02T00:00:00Z"}
	t3 := models.RawSitePrice{SiteID: 100, FuelID: 12, Price: 180.3, TransactionDateUTC: "2024-02-03T00:00:00Z"}

	orders := map[string][]models.RawSitePrice{
		"ascending":  {t1, t2, t3},
		"descending": {t3, t2, t1},
		"mixed":      {t2, t3, t1},
		"last":       {t1, t3, t2},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			sites, err := Sites([]models.RawSite{exampleSite()}, order)
			require.NoError(t, err)
			assert.Equal(t, 180.3, sites[0].Prices["12"].Price)
		})
	}
}

func TestSites_SelectsPerFuel(t *testing.T) {
	prices := []models.RawSitePrice{
		{SiteID: 100, FuelID: 2, Price: 190.0, TransactionDateUTC: "2024-01-01T00:00:00Z"},
		{SiteID: 100, FuelID: 5, Price: 210.0, TransactionDateUTC: "2024-01-05T00:00:00Z"},
		{SiteID: 100, FuelID: 2, Price: 185.0, TransactionDateUTC: "2023-12-30T00:00:00Z"},
		{SiteID: 100, FuelID: 5, Price: 205.0, TransactionDateUTC: "2024-01-01T00:00:00Z"},
		{SiteID: 200, FuelID: 2, Price: 150.0, TransactionDateUTC: "2024-01-09T00:00:00Z"},
	}

	sites, err := Sites([]models.RawSite{exampleSite()}, prices)
	require.NoError(t, err)

	got := sites[0].Prices
	require.Len(t, got, 2)
	assert.Equal(t, 190.0, got["2"].Price)
	assert.Equal(t, 210.0, got["5"].Price)
	assert.Equal(t, int64(100), got["2"].SiteID)
}

func TestSites_TieKeepsFirstInInputOrder(t *testing.T) {
	prices := []models.RawSitePrice{
		{SiteID: 100, FuelID: 2, Price: 111.1, TransactionDateUTC: "2024-01-02T10:00:00Z", CollectionMethod: "first"},
		{SiteID: 100, FuelID: 2, Price: 222.2, TransactionDateUTC: "2024-01-02T10:00:00Z", CollectionMethod: "second"},
	}

	for i := 0; i < 5; i++ {
		sites, err := Sites([]models.RawSite{exampleSite()}, prices)
		require.NoError(t, err)
		assert.Equal(t, "first", sites[0].Prices["2"].CollectionMethod)
		assert.Equal(t, 111.1, sites[0].Prices["2"].Price)
	}
}

func TestSites_NoPrices(t *testing.T) {
	sites, err := Sites([]models.RawSite{exampleSite()}, nil)
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.NotNil(t, sites[0].Prices)
	assert.Empty(t, sites[0].Prices)
}

func TestSites_KeepsInputOrder(t *testing.T) {
	a := exampleSite()
	b := exampleSite()
	b.SiteID = 7
	c := exampleSite()
	c.SiteID = 42

	sites, err := Sites([]models.RawSite{a, b, c}, nil)
	require.NoError(t, err)
	require.Len(t, sites, 3)
	assert.Equal(t, int64(100), sites[0].SiteID)
	assert.Equal(t, int64(7), sites[1].SiteID)
	assert.Equal(t, int64(42), sites[2].SiteID)
}

func TestSites_MalformedTransactionDate(t *testing.T) {
	prices := []models.RawSitePrice{
		{SiteID: 100, FuelID: 2, Price: 189.9, TransactionDateUTC: "2024-01-02T10:00:00Z"},
		{SiteID: 100, FuelID: 3, Price: 199.9, TransactionDateUTC: "yesterday"},
	}

	sites, err := Sites([]models.RawSite{exampleSite()}, prices)
	require.Error(t, err)
	assert.Nil(t, sites)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "sites_prices", perr.Resource)
	assert.Equal(t, "TransactionDateUtc", perr.Field)
	assert.Equal(t, "yesterday", perr.Value)
	assert.Contains(t, err.Error(), "site=100 fuel=3")
}

func TestSites_MalformedLastModified(t *testing.T) {
	raw := exampleSite()
	raw.LastModifiedRaw = ""

	_, err := Sites([]models.RawSite{raw}, nil)
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "sites", perr.Resource)
	assert.Equal(t, "100", perr.RecordID)
	assert.Equal(t, "M", perr.Field)
}

func TestSites_Idempotent(t *testing.T) {
	prices := []models.RawSitePrice{
		{SiteID: 100, FuelID: 2, Price: 189.9, TransactionDateUTC: "2024-01-02T10:00:00Z"},
		{SiteID: 100, FuelID: 2, Price: 195.5, TransactionDateUTC: "2024-01-03T08:00:00Z"},
		{SiteID: 100, FuelID: 4, Price: 201.0, TransactionDateUTC: "2024-01-03T08:00:00.5"},
	}

	first, err := Sites([]models.RawSite{exampleSite()}, prices)
	require.NoError(t, err)
	second, err := Sites([]models.RawSite{exampleSite()}, prices)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2024-01-01T00:00:00Z", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-01-01T10:00:00+10:00", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2023-10-27T05:11:11.663", time.Date(2023, 10, 27, 5, 11, 11, 663000000, time.UTC)},
		{"2023-10-27T05:11:11", time.Date(2023, 10, 27, 5, 11, 11, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	for _, input := range []string{"", "27/10/2023", "2023-13-01T00:00:00"} {
		_, err := ParseTimestamp(input)
		assert.Error(t, err, input)
	}
}

func TestGeohash(t *testing.T) {
	assert.Equal(t, "u4pruydqqv", Geohash(57.64911, 10.40744))
	assert.Len(t, Geohash(-27.5, 153.0), GeohashPrecision)
	assert.Equal(t, Geohash(-27.5, 153.0), Geohash(-27.5, 153.0))
	assert.NotEqual(t, Geohash(-27.5, 153.0), Geohash(-27.4698, 153.0251))
}
