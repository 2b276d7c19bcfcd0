// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

// Package health aggregates backend readiness. Each configured backend is
// probed concurrently through its circuit breaker; backends with an open
// breaker are reported unhealthy without a network call.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/portway/internal/breaker"
	"github.com/tomtom215/portway/internal/logging"
	"github.com/tomtom215/portway/internal/metrics"
	"github.com/tomtom215/portway/internal/route"
)

// ServiceStatus is one backend's entry in the readiness report.
type ServiceStatus struct {
	Status       string `json:"status"` // healthy, unhealthy, skipped
	Healthy      bool   `json:"healthy"`
	CircuitState string `json:"circuitState"`
}

// Summary counts backends by health.
type Summary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

// Report is the aggregate readiness result.
type Report struct {
	Status    string                   `json:"status"` // ready or not-ready
	Timestamp time.Time                `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Summary   Summary                  `json:"summary"`
}

// AllHealthy reports whether every backend probe succeeded.
func (r *Report) AllHealthy() bool {
	return r.Summary.Unhealthy == 0
}

// Aggregator fans readiness probes out to all configured backends.
type Aggregator struct {
	table    *route.Table
	breakers *breaker.Registry
	prober   *breaker.Prober
	timeout  time.Duration
}

// NewAggregator creates an aggregator. A nil client uses a default
// timeout-bounded http.Client.
func NewAggregator(table *route.Table, breakers *breaker.Registry, client breaker.HTTPClient, probeTimeout time.Duration) *Aggregator {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &Aggregator{
		table:    table,
		breakers: breakers,
		prober:   breaker.NewProber(client, probeTimeout),
		timeout:  probeTimeout,
	}
}

// Check probes every backend concurrently and aggregates the results.
// Probes are independent: each gets its own timeout, and one slow backend
// delays the report by at most the probe timeout, not the sum.
//
// A backend whose breaker is open is marked unhealthy and skipped: probing
// it would be pointless while the breaker refuses traffic, and skipping
// keeps readiness cheap during an outage.
func (a *Aggregator) Check(ctx context.Context) Report {
	routes := a.table.Routes()

	report := Report{
		Timestamp: time.Now().UTC(),
		Services:  make(map[string]ServiceStatus, len(routes)),
		Summary:   Summary{Total: len(routes)},
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, rt := range routes {
		wg.Add(1)
		go func(rt *route.Route) {
			defer wg.Done()
			status := a.probeOne(ctx, rt)

			mu.Lock()
			report.Services[rt.Name] = status
			if status.Healthy {
				report.Summary.Healthy++
			} else {
				report.Summary.Unhealthy++
			}
			mu.Unlock()
		}(rt)
	}
	wg.Wait()

	report.Status = "ready"
	if report.Summary.Unhealthy > 0 {
		report.Status = "not-ready"
	}
	return report
}

func (a *Aggregator) probeOne(ctx context.Context, rt *route.Route) ServiceStatus {
	state, err := a.breakers.State(rt.Name)
	if err != nil {
		// Route without a breaker is a wiring bug; surface it as unhealthy.
		logging.Err(err).Str("service", rt.Name).Msg("Readiness probe has no breaker")
		return ServiceStatus{Status: "unhealthy", Healthy: false, CircuitState: "unknown"}
	}

	if state == gobreaker.StateOpen {
		metrics.RecordReadinessProbe(rt.Name, "skipped", 0)
		return ServiceStatus{Status: "skipped", Healthy: false, CircuitState: breaker.StateString(state)}
	}

	start := time.Now()
	probeErr := a.prober.Probe(ctx, a.breakers, rt.Name, rt.HealthURL())
	elapsed := time.Since(start)

	// Half-open slot already taken by a concurrent caller: treat like open.
	if probeErr != nil && errors.Is(probeErr, breaker.ErrOpen) {
		metrics.RecordReadinessProbe(rt.Name, "skipped", 0)
		current, _ := a.breakers.State(rt.Name)
		return ServiceStatus{Status: "skipped", Healthy: false, CircuitState: breaker.StateString(current)}
	}

	current, _ := a.breakers.State(rt.Name)
	if probeErr != nil {
		logging.Debug().
			Str("service", rt.Name).
			Dur("elapsed", elapsed).
			Err(probeErr).
			Msg("Readiness probe failed")
		metrics.RecordReadinessProbe(rt.Name, "unhealthy", elapsed)
		return ServiceStatus{Status: "unhealthy", Healthy: false, CircuitState: breaker.StateString(current)}
	}

	metrics.RecordReadinessProbe(rt.Name, "healthy", elapsed)
	return ServiceStatus{Status: "healthy", Healthy: true, CircuitState: breaker.StateString(current)}
}
