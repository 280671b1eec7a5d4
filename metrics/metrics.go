package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogpub_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blogpub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Scheduler metrics
	TopicsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogpub_topics_processed_total",
			Help: "Topics handled by scheduling passes, by outcome",
		},
		[]string{"outcome"},
	)

	GenerationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogpub_generation_attempts_total",
			Help: "Calls to the generation service, by result",
		},
		[]string{"result"},
	)

	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blogpub_pass_duration_seconds",
			Help:    "Duration of scheduling passes",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	// External API metrics
	ExternalCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogpub_external_calls_total",
			Help: "Calls made to operator-configured external APIs",
		},
		[]string{"operation", "outcome"},
	)

	// Store metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogpub_store_operations_total",
			Help: "Document store operations",
		},
		[]string{"operation", "collection", "status"},
	)

	// NATS metrics
	TriggerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogpub_trigger_messages_total",
			Help: "Trigger messages published or received",
		},
		[]string{"subject", "status"},
	)
)
