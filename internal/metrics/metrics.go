// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

// Package metrics provides Prometheus instrumentation for the gateway:
// circuit breaker state, proxy throughput and latency, rate limiting, and
// readiness probe outcomes.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Current circuit breaker state per backend (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"service", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_requests_total",
			Help: "Total number of requests seen by each breaker, by outcome",
		},
		[]string{"service", "outcome"}, // "success", "failure", "rejected"
	)

	// Proxy Metrics
	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_requests_total",
			Help: "Total number of proxied requests",
		},
		[]string{"service", "method", "status_code"},
	)

	ProxyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_proxy_request_duration_seconds",
			Help:    "Proxied request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method"},
	)

	ProxyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_errors_total",
			Help: "Total number of transport-level proxy failures",
		},
		[]string{"service"},
	)

	// Rate Limiter Metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"path"},
	)

	// Auth Metrics
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Total number of rejected requests by auth failure kind",
		},
		[]string{"reason"}, // "missing_header", "invalid_format", "invalid_token", "forbidden"
	)

	// Readiness Metrics
	ReadinessProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_readiness_probes_total",
			Help: "Total number of readiness probes per backend, by result",
		},
		[]string{"service", "result"}, // "healthy", "unhealthy", "skipped"
	)

	ReadinessProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_readiness_probe_duration_seconds",
			Help:    "Readiness probe duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"service"},
	)
)

// RecordProxyRequest records a completed proxied request.
func RecordProxyRequest(service, method string, statusCode int, duration time.Duration) {
	ProxyRequestsTotal.WithLabelValues(service, method, strconv.Itoa(statusCode)).Inc()
	ProxyRequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordReadinessProbe records one backend probe result.
func RecordReadinessProbe(service, result string, duration time.Duration) {
	ReadinessProbes.WithLabelValues(service, result).Inc()
	if result != "skipped" {
		ReadinessProbeDuration.WithLabelValues(service).Observe(duration.Seconds())
	}
}
