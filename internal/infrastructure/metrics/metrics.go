// Package metrics registers Prometheus collectors for the devsync core.
//
// Init is idempotent. The Observe/Inc helpers are safe to call before Init
// (they do nothing), so packages can record unconditionally and tests need
// no registry.
package metrics

import (
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "devsync_"

	// ResultSuccess and ResultError label outcome-style counters.
	ResultSuccess = "success"
	ResultError   = "error"
)

// Logger is the subset of logging used for gauge query failures.
type Logger interface {
	Warn(msg string, args ...any)
}

var (
	registerOnce sync.Once

	commandTransitions *prometheus.CounterVec
	dispatchLatency    *prometheus.HistogramVec

	syncRuns       *prometheus.CounterVec
	syncDuration   prometheus.Histogram
	syncEntities   *prometheus.CounterVec
	syncConflicts  prometheus.Counter
	syncLastRunAge prometheus.Gauge

	remoteRequests *prometheus.CounterVec

	httpRequests *prometheus.HistogramVec
)

// Init registers collectors with the default registry. When db is non-nil,
// gauges backed by COUNT queries on the local store are registered too.
func Init(db *sql.DB, logger Logger) {
	registerOnce.Do(func() {
		commandTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_transitions_total",
				Help: "Command state transitions by target status",
			},
			[]string{"status"},
		)
		dispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "dispatch_latency_seconds",
				Help:    "Hardware dispatch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"protocol", "result"},
		)

		syncRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_runs_total",
				Help: "Sync cycles by result",
			},
			[]string{"result"},
		)
		syncDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sync_duration_seconds",
				Help:    "Sync cycle duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		)
		syncEntities = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_entities_total",
				Help: "Entities moved by the sync engine by entity and direction",
			},
			[]string{"entity", "direction"},
		)
		syncConflicts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_conflicts_total",
				Help: "Device ownership conflicts resolved in favour of the remote",
			},
		)
		syncLastRunAge = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sync_last_success_timestamp_seconds",
				Help: "Unix time of the last successful sync cycle",
			},
		)

		remoteRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "remote_requests_total",
				Help: "Remote service requests by operation and result",
			},
			[]string{"operation", "result"},
		)

		httpRequests = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "Local API request duration by method, route and status",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route", "status"},
		)

		prometheus.MustRegister(
			commandTransitions,
			dispatchLatency,
			syncRuns,
			syncDuration,
			syncEntities,
			syncConflicts,
			syncLastRunAge,
			remoteRequests,
			httpRequests,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncCommandTransition counts a command entering status.
func IncCommandTransition(status string) {
	if status == "" {
		status = "unknown"
	}
	if commandTransitions != nil {
		commandTransitions.WithLabelValues(status).Inc()
	}
}

// AddCommandTransitions counts a batch of commands entering status.
func AddCommandTransitions(status string, count int) {
	if count <= 0 {
		return
	}
	if commandTransitions != nil {
		commandTransitions.WithLabelValues(status).Add(float64(count))
	}
}

// ObserveDispatch records one hardware dispatch attempt.
func ObserveDispatch(protocol, result string, duration time.Duration) {
	if protocol == "" {
		protocol = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if dispatchLatency != nil {
		dispatchLatency.WithLabelValues(protocol, result).Observe(duration.Seconds())
	}
}

// ObserveSyncRun records a finished sync cycle.
func ObserveSyncRun(result string, duration time.Duration, finishedAt time.Time) {
	if result == "" {
		result = ResultSuccess
	}
	if syncRuns != nil {
		syncRuns.WithLabelValues(result).Inc()
	}
	if syncDuration != nil {
		syncDuration.Observe(duration.Seconds())
	}
	if result == ResultSuccess && syncLastRunAge != nil {
		syncLastRunAge.Set(float64(finishedAt.Unix()))
	}
}

// AddSyncEntities counts entities pushed or pulled by the sync engine.
func AddSyncEntities(entity, direction string, count int) {
	if count <= 0 {
		return
	}
	if syncEntities != nil {
		syncEntities.WithLabelValues(entity, direction).Add(float64(count))
	}
}

// IncSyncConflict counts a resolved ownership conflict.
func IncSyncConflict() {
	if syncConflicts != nil {
		syncConflicts.Inc()
	}
}

// IncRemoteRequest counts one call to the remote service.
func IncRemoteRequest(operation, result string) {
	if result == "" {
		result = ResultSuccess
	}
	if remoteRequests != nil {
		remoteRequests.WithLabelValues(operation, result).Inc()
	}
}

// ObserveHTTPRequest records one local API request. route should be the
// router pattern, not the raw path.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if httpRequests != nil {
		httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
	}
}
