// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package breaker

import (
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/portway/internal/logging"
	"github.com/tomtom215/portway/internal/metrics"
)

// LogObserver emits one structured log line per breaker transition.
// Opening is logged at warn, recovery to closed at info.
type LogObserver struct{}

// OnTransition implements Observer.
func (LogObserver) OnTransition(service string, from, to gobreaker.State) {
	l := logging.WithComponent("breaker")
	evt := l.Info()
	if to == gobreaker.StateOpen {
		evt = l.Warn()
	}
	evt.
		Str("service", service).
		Str("from", StateString(from)).
		Str("to", StateString(to)).
		Msg("Circuit breaker state changed")
}

// MetricsObserver mirrors breaker transitions into Prometheus.
type MetricsObserver struct{}

// OnTransition implements Observer.
func (MetricsObserver) OnTransition(service string, from, to gobreaker.State) {
	metrics.CircuitBreakerTransitions.WithLabelValues(
		service, StateString(from), StateString(to),
	).Inc()
	metrics.CircuitBreakerState.WithLabelValues(service).Set(stateValue(to))
}

// stateValue maps states to the gauge encoding 0=closed, 1=half-open, 2=open.
func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// DefaultObservers returns the standard logging + metrics observer set.
func DefaultObservers() []Observer {
	return []Observer{LogObserver{}, MetricsObserver{}}
}
