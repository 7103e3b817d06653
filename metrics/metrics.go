package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nego_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nego_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Negotiation
	ThreadsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nego_threads_created_total",
			Help: "Total negotiation threads created",
		},
	)

	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nego_messages_appended_total",
			Help: "Total messages appended",
		},
		[]string{"kind"},
	)

	OffersProposed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nego_offers_proposed_total",
			Help: "Total offers recorded",
		},
	)

	OffersRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nego_offers_rejected_total",
			Help: "Offers refused by validation or state",
		},
		[]string{"code"},
	)

	AgreementsFinalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nego_agreements_finalized_total",
			Help: "Threads that reached accepted",
		},
	)

	// Realtime
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nego_realtime_connections",
			Help: "Open websocket connections",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nego_events_published_total",
			Help: "Realtime events published",
		},
		[]string{"type"},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nego_event_publish_failures_total",
			Help: "Realtime events that could not be published",
		},
	)

	SlowConsumersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nego_realtime_slow_consumers_total",
			Help: "Subscribers disconnected because their buffer was full",
		},
	)
)
