package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelwatch/fpdsync/internal/models"
)

type fakeSyncer struct {
	status models.SyncStatus
}

func (f fakeSyncer) Status() models.SyncStatus { return f.status }

type fakeScheduler struct {
	next time.Time
}

func (f fakeScheduler) IsRunning() bool       { return true }
func (f fakeScheduler) Schedule() string      { return "*/30 * * * *" }
func (f fakeScheduler) NextSyncAt() time.Time { return f.next }

type fakeStore struct {
	pingErr error
	count   int64
}

func (f fakeStore) Backend() string                           { return "mongo" }
func (f fakeStore) EnsureSchema(context.Context) error        { return nil }
func (f fakeStore) Ping(context.Context) error                { return f.pingErr }
func (f fakeStore) Close(context.Context) error               { return nil }
func (f fakeStore) CountSites(context.Context) (int64, error) { return f.count, nil }
func (f fakeStore) UpsertBrands(context.Context, []models.Brand) (int, error) {
	return 0, nil
}
func (f fakeStore) UpsertFuelTypes(context.Context, []models.FuelType) (int, error) {
	return 0, nil
}
func (f fakeStore) UpsertSites(context.Context, []models.Site) (int, error) {
	return 0, nil
}

func getStatus(t *testing.T, h http.Handler) models.StatusResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp models.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestStatus_Healthy(t *testing.T) {
	finished := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	next := finished.Add(30 * time.Minute)
	s := fakeSyncer{status: models.SyncStatus{
		TotalRuns:     4,
		LastRun:       &models.SyncResult{Sites: 1523, Prices: 6012, FinishedAt: finished},
		LastSuccessAt: &finished,
	}}

	resp := getStatus(t, NewHandler(s, fakeScheduler{next: next}, fakeStore{count: 1523}))

	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.SchedulerRunning)
	assert.Equal(t, "*/30 * * * *", resp.Schedule)
	require.NotNil(t, resp.NextSyncAt)
	assert.True(t, next.Equal(*resp.NextSyncAt))
	assert.Equal(t, int64(4), resp.Sync.TotalRuns)
	assert.Equal(t, 1523, resp.Sync.LastRun.Sites)
	assert.Equal(t, "mongo", resp.Database.Backend)
	assert.True(t, resp.Database.Connected)
	require.NotNil(t, resp.Database.StoredSites)
	assert.Equal(t, int64(1523), *resp.Database.StoredSites)
}

func TestStatus_DegradedWhenStoreUnreachable(t *testing.T) {
	h := NewStatusHandler(fakeSyncer{}, nil, fakeStore{pingErr: errors.New("no reachable servers")})

	resp := getStatus(t, h)

	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.Database.Connected)
	assert.Equal(t, "no reachable servers", resp.Database.Error)
	assert.Nil(t, resp.NextSyncAt)
}

func TestStatus_DegradedAfterFailedRun(t *testing.T) {
	s := fakeSyncer{status: models.SyncStatus{
		TotalRuns:   1,
		TotalErrors: 1,
		LastRun:     &models.SyncResult{Error: "fetching sites_prices: unexpected status code 503"},
	}}

	resp := getStatus(t, NewStatusHandler(s, fakeScheduler{}, fakeStore{}))

	assert.Equal(t, "degraded", resp.Status)
	assert.Nil(t, resp.NextSyncAt)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := httptest.NewServer(NewHandler(fakeSyncer{}, fakeScheduler{}, fakeStore{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", fakeSyncer{}, nil, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}
