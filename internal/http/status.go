package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fuelwatch/fpdsync/internal/database"
	"github.com/fuelwatch/fpdsync/internal/models"
)

// pingTimeout bounds the store checks of a single status request.
const pingTimeout = 3 * time.Second

// SyncStatusSource reports the state of the sync pipeline.
type SyncStatusSource interface {
	Status() models.SyncStatus
}

// ScheduleInfo reports the state of the scheduler.
type ScheduleInfo interface {
	IsRunning() bool
	Schedule() string
	NextSyncAt() time.Time
}

// StatusHandler handles the /status endpoint.
type StatusHandler struct {
	syncer    SyncStatusSource
	scheduler ScheduleInfo
	store     database.Store
	startTime time.Time
}

// NewStatusHandler creates a new StatusHandler. sched and store may be nil.
func NewStatusHandler(s SyncStatusSource, sched ScheduleInfo, store database.Store) *StatusHandler {
	return &StatusHandler{
		syncer:    s,
		scheduler: sched,
		store:     store,
		startTime: time.Now(),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := models.StatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Sync:          h.syncer.Status(),
	}

	if h.scheduler != nil {
		response.SchedulerRunning = h.scheduler.IsRunning()
		response.Schedule = h.scheduler.Schedule()
		if next := h.scheduler.NextSyncAt(); !next.IsZero() {
			response.NextSyncAt = &next
		}
	}

	response.Database = h.getDatabaseStatus(r.Context())

	lastRunFailed := response.Sync.LastRun != nil && response.Sync.LastRun.Error != ""
	if !response.Database.Connected || lastRunFailed {
		response.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (h *StatusHandler) getDatabaseStatus(ctx context.Context) models.DatabaseStatus {
	if h.store == nil {
		return models.DatabaseStatus{}
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := models.DatabaseStatus{Backend: h.store.Backend()}
	if err := h.store.Ping(ctx); err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = true

	if count, err := h.store.CountSites(ctx); err == nil {
		status.StoredSites = &count
	}

	return status
}
