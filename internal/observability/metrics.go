package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreConnectionState exposes the reconnect supervisor state (0 idle, 1 connecting, 2 connected, 3 backoff).
	StoreConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "posts_store_connection_state",
		Help: "Current state of the document store connection",
	})

	// StoreDialAttempts counts connection attempts by outcome.
	StoreDialAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posts_store_dial_attempts_total",
		Help: "Total number of document store connection attempts",
	}, []string{"outcome"})

	// StoreConnectionFaults counts close and error signals that dropped the active connection.
	StoreConnectionFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posts_store_connection_faults_total",
		Help: "Total number of connection faults observed on the active store connection",
	}, []string{"signal"})

	// StoreOperationLatency records document store operation latency by operation and collection kind.
	StoreOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "posts_store_operation_latency_seconds",
		Help:    "Document store operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "collection"})

	// PartialDualWrites counts mutations where the author copy was written but the feed copy failed.
	PartialDualWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posts_partial_dual_writes_total",
		Help: "Total number of dual-writes that failed after the first write succeeded",
	}, []string{"operation"})

	// CacheLookups counts post list cache lookups by result; "stale" marks a fill dropped after a concurrent invalidation.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posts_cache_lookups_total",
		Help: "Total number of post list cache lookups",
	}, []string{"result"})

	// PostEventsPublished counts post events handed to Redis pub/sub by type and outcome.
	PostEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posts_events_published_total",
		Help: "Total number of post events published",
	}, []string{"type", "outcome"})

	// WebSocketConnections tracks open feed sockets.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "posts_feed_websocket_connections",
		Help: "Current number of feed WebSocket connections",
	})

	// WebSocketBackpressureDrops counts clients dropped because their send buffer was full or closed.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posts_feed_websocket_backpressure_drops_total",
		Help: "Total number of feed clients dropped for backpressure",
	}, []string{"reason"})
)

// TrackStoreOperation returns a function that records operation latency when called (e.g. defer).
func TrackStoreOperation(operation, collection string) func() {
	start := time.Now()
	return func() {
		StoreOperationLatency.WithLabelValues(operation, collection).Observe(time.Since(start).Seconds())
	}
}
