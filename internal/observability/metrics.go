// Package observability provides Prometheus metrics and logger construction.
package observability

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	AccountUpdates      *prometheus.CounterVec
	FetchFailures       prometheus.Counter
	SnapshotAttempts    prometheus.Counter
	NotificationBacklog prometheus.Gauge
	HighestSlotSeen     prometheus.Gauge

	// Graph metrics
	Subscriptions prometheus.Gauge
	LinkedPrices  prometheus.Gauge

	// Validation metrics
	ValidationEvents *prometheus.CounterVec
	PublisherHitRate *prometheus.GaugeVec
	PublisherActive  *prometheus.GaugeVec

	// Latency metrics
	UpdateProcessingLatency prometheus.Histogram
	RPCCallLatency          *prometheus.HistogramVec

	// Sink metrics
	SinkDropped    *prometheus.CounterVec
	ArchiveSamples *prometheus.CounterVec
	ArchiveFlushes *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastProcessedUpdate prometheus.Gauge
	StartTime           prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "oracle_monitor"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AccountUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "account_updates_total",
			Help:      "Account change notifications processed by account type",
		}, []string{"type"}),
		FetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "fetch_failures_total",
			Help:      "Failed follow-up fetches of newly discovered accounts",
		}),
		SnapshotAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "snapshot_attempts_total",
			Help:      "Program account snapshot attempts",
		}),
		NotificationBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "notification_backlog",
			Help:      "Notifications waiting to be processed",
		}),
		HighestSlotSeen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),

		Subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "subscriptions",
			Help:      "Accounts subscribed for change notifications",
		}),
		LinkedPrices: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "linked_prices",
			Help:      "Price accounts attributed to a symbol",
		}),

		ValidationEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "events_total",
			Help:      "Validation events emitted by kind and symbol",
		}, []string{"kind", "symbol"}),
		PublisherHitRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "publisher_hit_rate",
			Help:      "Moving average of rounds in which the publisher updated its slot",
		}, []string{"symbol", "publisher"}),
		PublisherActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "publisher_active",
			Help:      "1 while the publisher contributes to the aggregate",
		}, []string{"symbol", "publisher"}),

		UpdateProcessingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "update_processing_latency_seconds",
			Help:      "Time to route and validate one account change",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		SinkDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "dropped_total",
			Help:      "Events a sink could not deliver",
		}, []string{"sink"}),
		ArchiveSamples: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "samples_total",
			Help:      "Price samples written to the archive by kind",
		}, []string{"kind"}),
		ArchiveFlushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "flushes_total",
			Help:      "Archive flushes by status",
		}, []string{"status"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastProcessedUpdate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_processed_update_timestamp",
			Help:      "Unix timestamp of the last processed account change",
		}),
		StartTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "start_time_timestamp",
			Help:      "Unix timestamp of process start",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordAccountUpdate counts a processed notification and its processing time.
func RecordAccountUpdate(accountType string, slot int64, elapsed time.Duration) {
	DefaultMetrics.AccountUpdates.WithLabelValues(accountType).Inc()
	DefaultMetrics.UpdateProcessingLatency.Observe(elapsed.Seconds())
	DefaultMetrics.LastProcessedUpdate.SetToCurrentTime()
	UpdateHighestSlot(slot)
}

// RecordFetchFailure counts a failed follow-up fetch.
func RecordFetchFailure() {
	DefaultMetrics.FetchFailures.Inc()
}

// RecordSnapshotAttempt counts a snapshot attempt.
func RecordSnapshotAttempt() {
	DefaultMetrics.SnapshotAttempts.Inc()
}

// UpdateBacklog sets the pending notification gauge.
func UpdateBacklog(n int) {
	DefaultMetrics.NotificationBacklog.Set(float64(n))
}

var highestSlot atomic.Int64

// UpdateHighestSlot raises the highest slot seen gauge.
func UpdateHighestSlot(slot int64) {
	for {
		cur := highestSlot.Load()
		if slot <= cur {
			return
		}
		if highestSlot.CompareAndSwap(cur, slot) {
			DefaultMetrics.HighestSlotSeen.Set(float64(slot))
			return
		}
	}
}

// UpdateGraph sets the resolver size gauges.
func UpdateGraph(subscriptions, linkedPrices int) {
	DefaultMetrics.Subscriptions.Set(float64(subscriptions))
	DefaultMetrics.LinkedPrices.Set(float64(linkedPrices))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordSinkDropped counts an event a sink gave up on.
func RecordSinkDropped(sink string) {
	DefaultMetrics.SinkDropped.WithLabelValues(sink).Inc()
}

// RecordArchiveFlush records one archive flush and the samples it wrote.
func RecordArchiveFlush(aggregates, publishers int, err error) {
	if err != nil {
		DefaultMetrics.ArchiveFlushes.WithLabelValues("error").Inc()
		return
	}
	DefaultMetrics.ArchiveFlushes.WithLabelValues("ok").Inc()
	DefaultMetrics.ArchiveSamples.WithLabelValues("aggregate").Add(float64(aggregates))
	DefaultMetrics.ArchiveSamples.WithLabelValues("publisher").Add(float64(publishers))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// MarkStarted records the process start time.
func MarkStarted() {
	DefaultMetrics.StartTime.SetToCurrentTime()
}
