package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelwatch/fpdsync/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresStore(mock, "qld", zerolog.Nop()), mock
}

func TestPostgresEnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "qld_brands"`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "qld_fuels"`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "qld_sites"`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX IF NOT EXISTS "qld_sites_geohash_idx"`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "qld_site_prices"`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEnsureSchema_Error(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnError(errors.New("permission denied"))

	err := store.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertBrands(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "qld_brands"`)).
		WithArgs(int64(2), "Caltex", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "qld_brands"`)).
		WithArgs(int64(5), "BP", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := store.UpsertBrands(context.Background(), []models.Brand{
		{Name: "Caltex", BrandID: 2},
		{Name: "BP", BrandID: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertFuelTypes_RollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "qld_fuels"`)).
		WithArgs(int64(2), "Unleaded", pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	n, err := store.UpsertFuelTypes(context.Background(), []models.FuelType{
		{Name: "Unleaded", FuelID: 2},
		{Name: "Diesel", FuelID: 3},
	})
	require.Error(t, err)
	assert.Zero(t, n)

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "qld_fuels", perr.Collection)
	assert.Equal(t, "FuelId=2", perr.Key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertSites_ReplacesPrices(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	site := models.Site{
		SiteID:  100,
		BrandID: 5,
		Name:    "Servo",
		Geohash: "r7hg9k0e1d",
		Prices: map[string]models.SitePrice{
			"3": {SiteID: 100, FuelID: 3, Price: 201.9, TransactionDateUTC: at, CollectionMethod: "T"},
			"2": {SiteID: 100, FuelID: 2, Price: 195.5, TransactionDateUTC: at, CollectionMethod: "T"},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "qld_sites"`)).
		WithArgs(int64(100), int64(5), "r7hg9k0e1d", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "qld_site_prices" WHERE site_id = $1`)).
		WithArgs(int64(100)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "qld_site_prices"`)).
		WithArgs(int64(100), int64(2), "195.5", at, "T").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "qld_site_prices"`)).
		WithArgs(int64(100), int64(3), "201.9", at, "T").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := store.UpsertSites(context.Background(), []models.Site{site})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertSites_CommitError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "qld_sites"`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "qld_site_prices"`)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	_, err := store.UpsertSites(context.Background(), []models.Site{{SiteID: 7, Prices: map[string]models.SitePrice{}}})
	require.Error(t, err)

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "qld_sites", perr.Collection)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCountSites(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "qld_sites"`)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1523)))

	count, err := store.CountSites(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1523), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "qld_sites", CollectionSites.Name("qld"))
	assert.Equal(t, "sites", CollectionSites.Name(""))
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "redis"}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}
