// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Payment provider API calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Payment provider API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	EntitlementResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_resolutions_total",
			Help: "Entitlement resolutions by source (cache, computed, stale, fail_closed)",
		},
		[]string{"source"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Provider webhook notifications by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	SagaSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_steps_total",
			Help: "Saga step executions by saga kind, step and outcome",
		},
		[]string{"saga", "step", "outcome"},
	)

	TeardownDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teardown_deleted_total",
			Help: "Records removed by unsubscribe and account deletion, by kind",
		},
		[]string{"kind"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Requests rejected by a rate limiter, by limiter scope and caller kind (user, ip)",
		},
		[]string{"scope", "caller"},
	)

	HTTPRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
