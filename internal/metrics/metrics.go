// Package metrics exposes Prometheus collectors for the server list crawler.
package metrics

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesTotal          *prometheus.CounterVec
	fetchFailuresTotal  *prometheus.CounterVec
	retriesTotal        prometheus.Counter
	backoffSeconds      *prometheus.HistogramVec
	serversSeenTotal    prometheus.Counter
	serversKeptTotal    prometheus.Counter
	snapshotWritesTotal *prometheus.CounterVec
	snapshotServers     prometheus.Gauge
	runsTotal           *prometheus.CounterVec
	lastRunTimestamp    prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serverlist_pages_total",
				Help: "Total number of listing pages fetched successfully.",
			},
			[]string{"place_id"},
		)

		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serverlist_fetch_failures_total",
				Help: "Total number of failed page fetch attempts, labeled by failure kind and status code.",
			},
			[]string{"kind", "code"},
		)

		retriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "serverlist_retries_total",
				Help: "Total number of page fetch retries scheduled.",
			},
		)

		backoffSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "serverlist_backoff_seconds",
				Help:    "Histogram of retry backoff waits, labeled by failure class.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 180},
			},
			[]string{"class"},
		)

		serversSeenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "serverlist_servers_seen_total",
				Help: "Total number of listing entries examined.",
			},
		)

		serversKeptTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "serverlist_servers_kept_total",
				Help: "Total number of listing entries retained because they had open slots.",
			},
		)

		snapshotWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serverlist_snapshot_writes_total",
				Help: "Snapshot persistence attempts, labeled by result (written or unchanged).",
			},
			[]string{"result"},
		)

		snapshotServers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "serverlist_snapshot_servers",
				Help: "Number of servers in the most recent snapshot.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serverlist_runs_total",
				Help: "Total number of crawl runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		lastRunTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "serverlist_last_run_timestamp_seconds",
				Help: "Unix time at which the last crawl run finished.",
			},
		)
	})
}

// ObservePage records a successfully fetched page and its filtering result.
func ObservePage(placeID int64, seen, kept int) {
	Init()
	pagesTotal.WithLabelValues(strconv.FormatInt(placeID, 10)).Inc()
	serversSeenTotal.Add(float64(seen))
	serversKeptTotal.Add(float64(kept))
}

// ObserveFetchFailure records one failed attempt. statusCode is zero for
// failures without an HTTP status.
func ObserveFetchFailure(kind string, statusCode int) {
	Init()
	code := "none"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	fetchFailuresTotal.WithLabelValues(kind, code).Inc()
}

// ObserveRetry records a scheduled retry and its wait.
func ObserveRetry(class string, delay time.Duration) {
	Init()
	retriesTotal.Inc()
	backoffSeconds.WithLabelValues(class).Observe(delay.Seconds())
}

// ObserveSnapshot records a persistence decision.
func ObserveSnapshot(written bool, servers int) {
	Init()
	result := "unchanged"
	if written {
		result = "written"
	}
	snapshotWritesTotal.WithLabelValues(result).Inc()
	snapshotServers.Set(float64(servers))
}

// ObserveRun records the terminal outcome of a run.
func ObserveRun(outcome string, finished time.Time) {
	Init()
	runsTotal.WithLabelValues(outcome).Inc()
	lastRunTimestamp.Set(float64(finished.Unix()))
}

// WriteTextfile dumps the default registry in the text exposition format,
// for collection by node_exporter's textfile collector.
func WriteTextfile(path string) error {
	Init()
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
