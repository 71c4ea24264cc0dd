// Package metrics provides Prometheus metrics for the fuel price sync.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
)

const namespace = "fpdsync"

// Metrics holds all Prometheus metrics for the syncer.
type Metrics struct {
	gatherer prometheus.Gatherer

	// API request metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Sync metrics
	SyncRunsTotal     *prometheus.CounterVec
	SyncDuration      prometheus.Histogram
	LastSyncTimestamp prometheus.Gauge
	RecordsFetched    *prometheus.GaugeVec
	SitesWithoutPrice prometheus.Gauge

	// Database metrics
	DBOperationsTotal *prometheus.CounterVec
	RecordsUpserted   *prometheus.CounterVec
}

// New creates Prometheus metrics and registers them with reg.
// gatherer is what Push sends; it is usually the same registry.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by resource and status",
			},
			[]string{"resource", "status"},
		),
		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"resource"},
		),
		SyncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_runs_total",
				Help:      "Total number of sync runs by status",
			},
			[]string{"status"},
		),
		SyncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Duration of complete sync runs in seconds",
				Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		LastSyncTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_sync_timestamp",
				Help:      "Timestamp of the last successful sync",
			},
		),
		RecordsFetched: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "records_fetched",
				Help:      "Number of records returned by the last fetch of each resource",
			},
			[]string{"resource"},
		),
		SitesWithoutPrice: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sites_without_price",
				Help:      "Number of sites in the last sync that carried no price",
			},
		),
		DBOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_operations_total",
				Help:      "Total number of database operations by collection and status",
			},
			[]string{"collection", "status"},
		),
		RecordsUpserted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_upserted_total",
				Help:      "Total number of records upserted by collection",
			},
			[]string{"collection"},
		),
	}
}

// NewDefault registers metrics with the default Prometheus registry.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// RecordAPIRequest records an API request metric.
func (m *Metrics) RecordAPIRequest(resource, status string, duration time.Duration) {
	m.APIRequestsTotal.WithLabelValues(resource, status).Inc()
	m.APIRequestDuration.WithLabelValues(resource).Observe(duration.Seconds())
}

// RecordFetched records how many records a resource returned.
func (m *Metrics) RecordFetched(resource string, count int) {
	m.RecordsFetched.WithLabelValues(resource).Set(float64(count))
}

// RecordSync records the outcome of a sync run.
func (m *Metrics) RecordSync(success bool, duration time.Duration, finishedAt time.Time) {
	status := "success"
	if !success {
		status = "error"
	}
	m.SyncRunsTotal.WithLabelValues(status).Inc()
	m.SyncDuration.Observe(duration.Seconds())
	if success {
		m.LastSyncTimestamp.Set(float64(finishedAt.Unix()))
	}
}

// RecordDBOperation records a database operation metric.
func (m *Metrics) RecordDBOperation(collection, status string) {
	m.DBOperationsTotal.WithLabelValues(collection, status).Inc()
}

// RecordUpserted records how many records were written to a collection.
func (m *Metrics) RecordUpserted(collection string, count int) {
	m.RecordsUpserted.WithLabelValues(collection).Add(float64(count))
}

// Push sends all gathered metrics to a Prometheus Pushgateway under job.
func (m *Metrics) Push(url, job string) error {
	if err := push.New(url, job).Gatherer(m.gatherer).Push(); err != nil {
		return eris.Wrapf(err, "pushing metrics to %s", url)
	}
	return nil
}
