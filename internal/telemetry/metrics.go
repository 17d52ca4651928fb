/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stagehand"

var (
	// API metrics
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Duration of console API requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Total console API requests.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_active_connections",
		Help:      "In-flight console API requests.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_websocket_connections",
		Help:      "Browser notification sockets currently open.",
	})

	// Control socket metrics
	RoomConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "room_connection_state",
		Help:      "Control socket state per room (0=disconnected, 1=connecting, 2=connected).",
	}, []string{"room"})

	RoomConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "room_connect_attempts_total",
		Help:      "Control socket connect attempts per room by result.",
	}, []string{"room", "result"})

	// Push channel metrics
	PushMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_messages_total",
		Help:      "Push messages received by source and disposition.",
	}, []string{"source", "disposition"})

	PushReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_reconnects_total",
		Help:      "Push channel reconnections by source.",
	}, []string{"source"})

	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "Notifications dropped because a subscriber was not keeping up.",
	}, []string{"kind"})

	// Feed switching
	FeedSwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_switches_total",
		Help:      "Feed switch requests by room and outcome.",
	}, []string{"room", "outcome"})

	// Schedule
	ScheduleRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "schedule_refreshes_total",
		Help:      "Schedule fetches by result.",
	}, []string{"result"})

	// Audit store metrics
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "database_query_duration_seconds",
		Help:      "Duration of audit store operations.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "database_errors_total",
		Help:      "Audit store errors by operation.",
	}, []string{"operation", "error_type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "database_connections_active",
		Help:      "Open audit store connections.",
	})

	// Maintenance leadership metrics
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leader_election_status",
		Help:      "1 when this node holds the maintenance lease.",
	}, []string{"instance_id"})

	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leader_election_changes_total",
		Help:      "Maintenance lease acquisitions and losses.",
	}, []string{"instance_id", "change"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
