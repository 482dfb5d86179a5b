// Package metrics declares the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconciliations counts aggregate recomputations by trigger
	// (add, edit, delete, finish, repair) and result.
	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuelcycle_reconciliations_total",
		Help: "Cycle aggregate recomputations by trigger and result",
	}, []string{"trigger", "result"})

	// ReconcileDuration tracks the time spent re-reading and reconciling a
	// cycle's history.
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fuelcycle_reconcile_duration_seconds",
		Help:    "Time to re-merge, reconcile and persist a cycle aggregate",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	// StaleAggregates counts event writes whose aggregate write failed.
	StaleAggregates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fuelcycle_stale_aggregates_total",
		Help: "Event writes that left the cycle aggregate stale",
	})

	// EventWrites counts event mutations by event type and operation.
	EventWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuelcycle_event_writes_total",
		Help: "Event mutations by type and operation",
	}, []string{"type", "operation"})

	// ValidationRejections counts inputs rejected before any write.
	ValidationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuelcycle_validation_rejections_total",
		Help: "Inputs rejected by validation, by field",
	}, []string{"field"})

	// LiveSessions counts session lifecycle steps (started, closed, swept).
	LiveSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuelcycle_live_sessions_total",
		Help: "Live session lifecycle steps handled by this instance",
	}, []string{"action"})

	// PositionUpdates counts driver fixes by ingest source (http, mqtt).
	PositionUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuelcycle_position_updates_total",
		Help: "Driver position updates by source",
	}, []string{"source"})

	// WebsocketClients tracks connected websocket clients by endpoint.
	WebsocketClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fuelcycle_websocket_clients",
		Help: "Connected websocket clients by endpoint",
	}, []string{"endpoint"})

	// RoutingRequests counts routing provider calls by operation and cache
	// outcome.
	RoutingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuelcycle_routing_requests_total",
		Help: "Routing provider requests by operation and cache outcome",
	}, []string{"operation", "cache"})
)
