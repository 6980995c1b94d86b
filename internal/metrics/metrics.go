// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline outcome label values.
const (
	OutcomeDelivered       = "delivered"
	OutcomeNotMatched      = "not_matched"
	OutcomeDisabled        = "disabled"
	OutcomeDiscoveryFailed = "discovery_failed"
	OutcomeTransformFailed = "transform_failed"
	OutcomeSinkFailed      = "sink_failed"
	OutcomePanic           = "panic"
)

var (
	// Orchestrator metrics
	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auditflow_events_processed_total",
			Help: "Total number of events handed to the pipeline orchestrator",
		},
	)

	EventsIgnored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditflow_events_ignored_total",
			Help: "Events dropped before any pipeline ran",
		},
		[]string{"reason"},
	)

	PipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditflow_pipeline_outcomes_total",
			Help: "Per-pipeline processing outcomes",
		},
		[]string{"pipeline", "outcome"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auditflow_pipeline_duration_seconds",
			Help:    "Duration of a matched pipeline run (transform and sink) in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline"},
	)

	// Dispatch metrics
	DispatchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditflow_dispatch_requests_total",
			Help: "Outbound transformer and sink calls by result",
		},
		[]string{"target", "result"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auditflow_dispatch_duration_seconds",
			Help:    "Duration of outbound calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	// Discovery metrics
	DiscoveryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditflow_discovery_lookups_total",
			Help: "Endpoint resolutions by source (static, cluster, cache) and result",
		},
		[]string{"source", "result"},
	)

	// Consumer metrics
	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditflow_consumer_messages_total",
			Help: "Messages received from the broker",
		},
		[]string{"broker"},
	)

	// Ingress metrics
	IngressEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditflow_ingress_events_total",
			Help: "Events received by the HTTP ingress by response status",
		},
		[]string{"status"},
	)

	IngressEventBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auditflow_ingress_event_bytes_total",
			Help: "Total bytes of event data published by the ingress",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditflow_rate_limit_hits_total",
			Help: "Requests rejected by the ingress rate limiter",
		},
		[]string{"limiter"},
	)
)
