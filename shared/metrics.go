package shared

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RateLimiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vin_rate_limiter_wait_seconds",
		Help:    "Time callers spent waiting for a registry token",
		Buckets: []float64{0, 0.01, 0.1, 1, 5, 15, 30, 60, 120},
	})

	RegistryDecodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vin_registry_decodes_total",
		Help: "Registry decode calls by outcome (decoded, undecodable, lookup_failed)",
	}, []string{"outcome"})

	PipelineMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vin_pipeline_messages_total",
		Help: "Messages handled by the decode pipeline by result",
	}, []string{"result"})

	PipelineRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vin_pipeline_retries_total",
		Help: "Decode attempts retried after a failed registry lookup",
	})

	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vin_dead_letters_total",
		Help: "VINs routed to the dead-letter topic",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vin_cache_lookups_total",
		Help: "Enrollment cache lookups by namespace and result",
	}, []string{"namespace", "result"})

	EnrollmentsPromoted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vin_enrollments_promoted_total",
		Help: "Enrollments moved from in_progress to succeeded",
	})

	EnrollmentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vin_enrollments_created_total",
		Help: "Enrollments inserted with status in_progress",
	})
)
