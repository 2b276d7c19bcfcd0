// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package breaker

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient is the subset of http.Client the prober needs. Tests inject
// fakes; production uses a timeout-configured *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Prober issues health GETs against a backend, routing the outcome through
// the service's breaker so probe results count toward its statistics. A
// half-open breaker admits exactly one prober or proxy call at a time.
type Prober struct {
	client  HTTPClient
	timeout time.Duration
}

// NewProber creates a prober. A nil client falls back to an http.Client
// bounded by the probe timeout.
func NewProber(client HTTPClient, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Prober{client: client, timeout: timeout}
}

// Probe performs one health check of healthURL through the named service's
// breaker. It returns nil when the backend answered with a non-5xx status.
// ErrOpen is passed through unwrapped-compatible so callers can skip
// reporting for breakers that refuse admission.
func (p *Prober) Probe(ctx context.Context, reg *Registry, service, healthURL string) error {
	done, err := reg.Allow(service)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		done(false)
		return fmt.Errorf("building probe request for %s: %w", service, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		done(false)
		return fmt.Errorf("probing %s: %w", service, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		done(false)
		return fmt.Errorf("probing %s: backend returned %d", service, resp.StatusCode)
	}

	done(true)
	return nil
}
