package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	apiRequestsTotal  *prometheus.CounterVec
	apiLatencySeconds *prometheus.HistogramVec
	apiErrorsTotal    *prometheus.CounterVec

	collectionWritesTotal *prometheus.CounterVec
	changeFeedClients     prometheus.Gauge
	changeFeedEventsTotal *prometheus.CounterVec

	replicatorPollsTotal      *prometheus.CounterVec
	replicatorWritesTotal     *prometheus.CounterVec
	replicatorMigrationsTotal *prometheus.CounterVec

	sessionFinishesTotal *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors shared by the store
// process and the consoles.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_api_requests_total",
			Help: "Total number of store API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "store_api_latency_seconds",
			Help:    "Latency distribution for store API requests.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_api_errors_total",
			Help: "Total number of error responses returned by store endpoints.",
		}, []string{"method", "route", "status"})

		collectionWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_collection_writes_total",
			Help: "Full-collection replace operations by collection and outcome.",
		}, []string{"collection", "result"})

		changeFeedClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "store_change_feed_clients",
			Help: "Number of connected change-stream subscribers.",
		})

		changeFeedEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_change_feed_events_total",
			Help: "Collection change events fanned out to subscribers.",
		}, []string{"collection"})

		replicatorPollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replicator_polls_total",
			Help: "Replicator poll cycles by outcome.",
		}, []string{"result"})

		replicatorWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replicator_writes_total",
			Help: "Replicator write-through attempts by collection and outcome.",
		}, []string{"collection", "result"})

		replicatorMigrationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replicator_migrations_total",
			Help: "Legacy snapshots migrated into the store.",
		}, []string{"collection"})

		sessionFinishesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "test_session_finishes_total",
			Help: "Test session finish attempts by trigger and outcome.",
		}, []string{"trigger", "result"})

		prometheus.MustRegister(
			apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			collectionWritesTotal, changeFeedClients, changeFeedEventsTotal,
			replicatorPollsTotal, replicatorWritesTotal, replicatorMigrationsTotal,
			sessionFinishesTotal,
		)
	})
}

// APIRequests exposes the counter for store API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for store API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for store API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// CollectionWrites exposes the counter for accepted and rejected replaces.
func CollectionWrites() *prometheus.CounterVec {
	RegisterMetrics()
	return collectionWritesTotal
}

// ChangeFeedClients exposes the gauge of connected stream subscribers.
func ChangeFeedClients() prometheus.Gauge {
	RegisterMetrics()
	return changeFeedClients
}

// ChangeFeedEvents exposes the counter of fanned-out change events.
func ChangeFeedEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return changeFeedEventsTotal
}

// ReplicatorPolls exposes the poll counter.
func ReplicatorPolls() *prometheus.CounterVec {
	RegisterMetrics()
	return replicatorPollsTotal
}

// ReplicatorWrites exposes the write-through counter.
func ReplicatorWrites() *prometheus.CounterVec {
	RegisterMetrics()
	return replicatorWritesTotal
}

// ReplicatorMigrations exposes the migrate-once counter.
func ReplicatorMigrations() *prometheus.CounterVec {
	RegisterMetrics()
	return replicatorMigrationsTotal
}

// SessionFinishes exposes the test session finish counter.
func SessionFinishes() *prometheus.CounterVec {
	RegisterMetrics()
	return sessionFinishesTotal
}
