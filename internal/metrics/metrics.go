// Package metrics provides Prometheus metrics for the Beacon service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ContextUpdatesTotal tracks context updates by outcome
	ContextUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "context",
			Name:      "updates_total",
			Help:      "Total number of context updates by outcome",
		},
		[]string{"status"},
	)

	// LiveSubscriptions tracks sessions currently subscribed to a context channel
	LiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "beacon",
			Subsystem: "context",
			Name:      "live_subscriptions",
			Help:      "Number of sessions currently subscribed to a context channel",
		},
	)

	// HookEvaluationsTotal tracks hook trigger evaluations by result
	HookEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "automation",
			Name:      "evaluations_total",
			Help:      "Total number of hook trigger evaluations by result",
		},
		[]string{"result"},
	)

	// HookDispatchesTotal tracks hook action dispatches by action type and status
	HookDispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "automation",
			Name:      "dispatches_total",
			Help:      "Total number of hook action dispatches by action type and status",
		},
		[]string{"action_type", "status"},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "beacon",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// FocusTimersScheduled tracks focus session end timers scheduled
	FocusTimersScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "focus",
			Name:      "timers_scheduled_total",
			Help:      "Total number of focus session end timers scheduled",
		},
	)

	// FocusSessionsEnded tracks focus sessions ended by the timer
	FocusSessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "focus",
			Name:      "sessions_ended_total",
			Help:      "Total number of focus sessions ended by the timer",
		},
		[]string{"status"},
	)

	// StreamClients tracks connected websocket clients
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "beacon",
			Subsystem: "web",
			Name:      "stream_clients",
			Help:      "Number of connected websocket stream clients",
		},
	)

	// APIRequestsTotal tracks inbound HTTP API requests
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "web",
			Name:      "requests_total",
			Help:      "Total number of HTTP API requests",
		},
		[]string{"route", "status_code"},
	)
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)
