// Package metrics declares the process's Prometheus instrumentation.
//
// Naming convention: namespace_subsystem_name
//   - namespace: sudoku_sync (application-level grouping)
//   - subsystem: websocket, room, persistence, rate_limit (feature grouping)
//   - name: specific metric (connections_active, batches_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveWebSocketConnections is the current number of attached sessions.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sudoku_sync",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms is the current number of rooms with a live run loop.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sudoku_sync",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active in-memory rooms",
	})

	// RoomSubscribers tracks the number of attached sessions per room.
	RoomSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sudoku_sync",
		Subsystem: "room",
		Name:      "subscribers_count",
		Help:      "Number of attached sessions in each room",
	}, []string{"room_id"})

	// WebsocketEvents counts inbound/outbound frame handling outcomes.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sudoku_sync",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration times inbound message handling.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sudoku_sync",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing inbound WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// MalformedBatchesTotal counts applyDiffs batches rejected wholesale.
	MalformedBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sudoku_sync",
		Subsystem: "room",
		Name:      "malformed_batches_total",
		Help:      "Total applyDiffs batches rejected and resynced to their origin",
	})

	// SlowConsumerEvictionsTotal counts sessions dropped for a full send queue.
	SlowConsumerEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sudoku_sync",
		Subsystem: "room",
		Name:      "slow_consumer_evictions_total",
		Help:      "Total subscribers evicted for a saturated send queue",
	})

	// RoomPanicsTotal counts recovered panics inside a room's run loop.
	RoomPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sudoku_sync",
		Subsystem: "room",
		Name:      "panics_total",
		Help:      "Total panics recovered from a room's command loop",
	})

	// CircuitBreakerState mirrors gobreaker's three states per named breaker.
	// 0: Closed (healthy), 1: Open (failing), 2: Half-Open (recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sudoku_sync",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts calls the breaker rejected outright.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sudoku_sync",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded counts connect attempts throttled per endpoint.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sudoku_sync",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests counts every request checked against the limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sudoku_sync",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// PersistenceOperationsTotal counts store load/save/delete calls.
	PersistenceOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sudoku_sync",
		Subsystem: "persistence",
		Name:      "operations_total",
		Help:      "Total persistence store operations",
	}, []string{"operation", "status"})

	// PersistenceOperationDuration times store save calls; load and delete
	// are not timed.
	PersistenceOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sudoku_sync",
		Subsystem: "persistence",
		Name:      "operation_duration_seconds",
		Help:      "Duration of persistence store operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// FlushedRoomsTotal counts rooms written back to storage per flush cycle.
	FlushedRoomsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sudoku_sync",
		Subsystem: "persistence",
		Name:      "flushed_rooms_total",
		Help:      "Total dirty rooms written to storage across all flush cycles",
	})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
