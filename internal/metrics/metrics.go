// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_requests_total",
		Help: "Chat requests by transport",
	}, []string{"transport"})

	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_streams_active",
		Help: "Currently open streaming responses",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	RetrievalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrieval_strategy_failures_total",
		Help: "Failed retrieval strategy calls",
	}, []string{"strategy"})

	RetrievalFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retrieval_fallback_queries_total",
		Help: "Broad fallback queries issued after both strategies came back empty",
	})

	EmbeddingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "retrieval_embedding_duration_seconds",
		Help:    "Embedding generation latency",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5},
	})

	BackendServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synth_backend_served_total",
		Help: "Answers served per backend tier",
	}, []string{"backend"})

	BackendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synth_backend_failures_total",
		Help: "Backend failures by tier and stage",
	}, []string{"backend", "stage"})

	SkippedChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synth_skipped_chunks_total",
		Help: "Stream chunks skipped because they carried no usable text",
	}, []string{"backend"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "synth_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})

	AnalyticsEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytics_events_total",
		Help: "Ingested conversation events by type",
	}, []string{"event_type"})

	ArchiveDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analytics_archive_dropped_total",
		Help: "Events dropped because the archive queue was full",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
)
