// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/tomtom215/portway/internal/breaker"
	"github.com/tomtom215/portway/internal/health"
)

// HealthHandler serves the gateway's own liveness, readiness and breaker
// status endpoints.
type HealthHandler struct {
	aggregator *health.Aggregator
	breakers   *breaker.Registry
	startTime  time.Time
}

// NewHealthHandler creates the health endpoint handler. Uptime is measured
// from construction, which happens once at boot.
func NewHealthHandler(aggregator *health.Aggregator, breakers *breaker.Registry) *HealthHandler {
	return &HealthHandler{aggregator: aggregator, breakers: breakers, startTime: time.Now()}
}

// handleHealth implements GET /health: process liveness only, no backend
// probes. Always 200 while the process can serve requests.
func (h *HealthHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadyz implements GET /readyz: concurrent backend probes through
// the breakers. 200 only when every backend is reachable.
func (h *HealthHandler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	report := h.aggregator.Check(r.Context())

	status := http.StatusOK
	if !report.AllHealthy() {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, report)
}

// breakerStatus is one service's entry in the breaker status listing.
type breakerStatus struct {
	State         string `json:"state"`
	Requests      uint32 `json:"requests"`
	TotalFailures uint32 `json:"total_failures"`
}

// memoryStats is the process memory section of the metrics snapshot.
type memoryStats struct {
	AllocBytes     uint64 `json:"alloc_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	HeapObjects    uint64 `json:"heap_objects"`
	NumGC          uint32 `json:"num_gc"`
	GoroutineCount int    `json:"goroutines"`
}

// handleBreakers implements GET /metrics: a JSON snapshot of process uptime,
// memory, and breaker state per backend. Prometheus-format metrics live at
// /metrics/prometheus.
func (h *HealthHandler) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	services := make(map[string]breakerStatus)
	for _, name := range h.breakers.Services() {
		state, err := h.breakers.State(name)
		if err != nil {
			continue
		}
		counts, _ := h.breakers.Counts(name)
		services[name] = breakerStatus{
			State:         breaker.StateString(state),
			Requests:      counts.Requests,
			TotalFailures: counts.TotalFailures,
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(h.startTime).Seconds(),
		"memory": memoryStats{
			AllocBytes:     ms.Alloc,
			SysBytes:       ms.Sys,
			HeapObjects:    ms.HeapObjects,
			NumGC:          ms.NumGC,
			GoroutineCount: runtime.NumGoroutine(),
		},
		"breakers": services,
	})
}
