package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordsPushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questlock_records_pushed_total",
			Help: "Records successfully pushed to the remote store",
		},
		[]string{"family"},
	)
	recordsPulled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questlock_records_pulled_total",
			Help: "Records pulled from the remote store and applied locally",
		},
		[]string{"family"},
	)
	syncConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questlock_sync_conflicts_total",
			Help: "Conflicts resolved during pull, by winning side",
		},
		[]string{"family", "winner"},
	)
	syncFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questlock_sync_failures_total",
			Help: "Per-record sync failures left for the next pass",
		},
		[]string{"family"},
	)
	syncRuns = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "questlock_sync_run_duration_seconds",
			Help:    "Duration of sync runs per record family",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family", "direction"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questlock_http_requests_total",
			Help: "Requests served on the local API",
		},
		[]string{"path", "method", "status"},
	)
)

// Init registers the collectors. Call once from main.
func Init() {
	prometheus.MustRegister(recordsPushed)
	prometheus.MustRegister(recordsPulled)
	prometheus.MustRegister(syncConflicts)
	prometheus.MustRegister(syncFailures)
	prometheus.MustRegister(syncRuns)
	prometheus.MustRegister(httpRequests)
}

// RecordPushed counts a successful per-record push.
func RecordPushed(family string) { recordsPushed.WithLabelValues(family).Inc() }

// RecordPulled counts a remote record applied locally.
func RecordPulled(family string) { recordsPulled.WithLabelValues(family).Inc() }

// RecordConflict counts a resolved pull conflict. winner is "local" or "remote".
func RecordConflict(family, winner string) { syncConflicts.WithLabelValues(family, winner).Inc() }

// RecordFailure counts a per-record failure that stays dirty for the next pass.
func RecordFailure(family string) { syncFailures.WithLabelValues(family).Inc() }

// ObserveRun records the duration of one push or pull run.
func ObserveRun(family, direction string, d time.Duration) {
	syncRuns.WithLabelValues(family, direction).Observe(d.Seconds())
}

// CountRequest records one served API request.
func CountRequest(path, method string, status int) {
	httpRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
}
