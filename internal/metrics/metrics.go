// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "botz"

var (
	// HTTPRequestDuration tracks handler latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds by method, route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// RateLimitDecisions counts limiter outcomes by action, result and backend.
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limit checks by action, result (allowed/rejected) and backend.",
	}, []string{"action", "result", "backend"})

	// RateLimitStoreErrors counts primary store failures that fell back to memory.
	RateLimitStoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "store_errors_total",
		Help:      "Primary rate limit store errors served by the in-process fallback.",
	})

	// EntitlementDecisions counts gate results by operation and code.
	EntitlementDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "entitlement",
		Name:      "decisions_total",
		Help:      "Entitlement decisions by operation (check/consume) and code.",
	}, []string{"operation", "code"})

	// CreditsConsumed sums credits debited across all users.
	CreditsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "entitlement",
		Name:      "credits_consumed_total",
		Help:      "Credits debited from entitlements.",
	})

	// UsageLogFallbacks counts usage events written to the fallback spool.
	UsageLogFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "usage",
		Name:      "fallback_writes_total",
		Help:      "Usage events written to the fallback spool after a primary write failure.",
	})

	// WebhookRequests counts inbound webhooks by provider and outcome.
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Inbound webhook requests by provider and outcome.",
	}, []string{"provider", "outcome"})

	// LeadsIngested counts lead upserts by source and result (created/updated).
	LeadsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "leads",
		Name:      "ingested_total",
		Help:      "Leads ingested by source and result.",
	}, []string{"source", "result"})

	// TokenRefreshes counts OAuth refresh attempts by provider and result.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "integrations",
		Name:      "token_refreshes_total",
		Help:      "OAuth token refreshes by provider and result.",
	}, []string{"provider", "result"})

	// EmailsSent counts notification emails by result.
	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mailer",
		Name:      "emails_total",
		Help:      "Notification emails by result.",
	}, []string{"result"})
)
