package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts http requests by route template and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes http handler latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	// EventsHandled counts socket events by name and result code
	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_chat_events_total",
			Help: "Socket events handled",
		},
		[]string{"transport", "event", "outcome"},
	)

	// EventDuration observes how long an event took, store round trips included
	EventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_chat_event_duration_seconds",
			Help:    "Socket event handling duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"event"},
	)

	// ActiveConnections is the number of open socket connections per transport
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketplace_chat_active_connections",
			Help: "Open socket connections",
		},
		[]string{"transport"},
	)

	// IdentifiedUsers is the number of distinct identified users, refreshed by
	// the presence job
	IdentifiedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketplace_chat_identified_users",
			Help: "Distinct users with an identified connection",
		},
	)
)
