package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ODB metrics
	ObjectsReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitgres_odb_objects_read_total",
			Help: "Total number of objects read from the object store, by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	ObjectsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitgres_odb_objects_written_total",
			Help: "Total number of objects written to the object store, by type",
		},
		[]string{"type"},
	)

	ObjectReadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gitgres_odb_read_duration_seconds",
			Help:    "Time taken to read a single object from the database",
			Buckets: prometheus.DefBuckets,
		},
	)

	ObjectWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gitgres_odb_write_duration_seconds",
			Help:    "Time taken to write a single object to the database",
			Buckets: prometheus.DefBuckets,
		},
	)

	PrefixLookupAmbiguousTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gitgres_odb_prefix_ambiguous_total",
			Help: "Total number of short-OID prefix lookups that matched more than one object",
		},
	)

	// Writepack metrics
	WritepackObjectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gitgres_writepack_objects_total",
			Help: "Total number of objects ingested through writepack sessions",
		},
	)

	WritepackDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gitgres_writepack_duration_seconds",
			Help:    "Time taken to index and commit a full packfile",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	WritepackFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gitgres_writepack_failures_total",
			Help: "Total number of writepack sessions that failed before commit",
		},
	)

	// Refdb metrics
	RefWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitgres_refdb_writes_total",
			Help: "Total number of ref CAS writes, by outcome (ok, value-changed, not-found, already-exists, backend-failure)",
		},
		[]string{"outcome"},
	)

	RefIterateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gitgres_refdb_iterate_duration_seconds",
			Help:    "Time taken to enumerate refs matching a glob",
			Buckets: prometheus.DefBuckets,
		},
	)

	AdvisoryLockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gitgres_refdb_lock_wait_duration_seconds",
			Help:    "Time spent blocked acquiring a transaction-scoped advisory lock on a ref name",
			Buckets: prometheus.DefBuckets,
		},
	)

	AdvisoryLocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gitgres_refdb_locks_held",
			Help: "Number of advisory locks currently held by this session",
		},
	)

	// Remote-helper metrics
	RemoteHelperFetchObjectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gitgres_remote_helper_fetch_objects_total",
			Help: "Total number of objects copied into the local repository during fetch",
		},
	)

	RemoteHelperPushObjectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gitgres_remote_helper_push_objects_total",
			Help: "Total number of objects copied into the object store during push",
		},
	)

	RemoteHelperObjectCopyFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitgres_remote_helper_object_copy_failures_total",
			Help: "Total number of per-object copy failures downgraded to warnings, by direction",
		},
		[]string{"direction"},
	)

	// Session metrics
	DBConnectionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gitgres_db_connections_open",
			Help: "Number of dedicated database connections currently held by sessions",
		},
	)

	DBTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitgres_db_transactions_total",
			Help: "Total number of transactions by outcome (commit, rollback)",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(ObjectsReadTotal)
	prometheus.MustRegister(ObjectsWrittenTotal)
	prometheus.MustRegister(ObjectReadDuration)
	prometheus.MustRegister(ObjectWriteDuration)
	prometheus.MustRegister(PrefixLookupAmbiguousTotal)

	prometheus.MustRegister(WritepackObjectsTotal)
	prometheus.MustRegister(WritepackDuration)
	prometheus.MustRegister(WritepackFailuresTotal)

	prometheus.MustRegister(RefWritesTotal)
	prometheus.MustRegister(RefIterateDuration)
	prometheus.MustRegister(AdvisoryLockWaitDuration)
	prometheus.MustRegister(AdvisoryLocksHeld)

	prometheus.MustRegister(RemoteHelperFetchObjectsTotal)
	prometheus.MustRegister(RemoteHelperPushObjectsTotal)
	prometheus.MustRegister(RemoteHelperObjectCopyFailuresTotal)

	prometheus.MustRegister(DBConnectionsOpen)
	prometheus.MustRegister(DBTransactionsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
