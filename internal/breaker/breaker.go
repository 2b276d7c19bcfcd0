// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

// Package breaker manages one circuit breaker per backend service.
//
// Breakers are built on sony/gobreaker's two-step API: callers first ask
// Allow, then report the outcome through the returned done function. This
// matches proxy forwarding, where the call outcome is only known after the
// response has been relayed.
//
// State machine per backend: Closed -> Open when the failure share of the
// rolling interval reaches the configured threshold (with a minimum sample
// floor); Open -> HalfOpen after ResetTimeout; HalfOpen admits exactly one
// probe whose outcome decides Closed or Open again. The single-probe
// admission is enforced atomically inside gobreaker (MaxRequests=1), so
// concurrent callers racing into HalfOpen cannot both proceed.
//
// DETERMINISM NOTE: the breaker uses real time for interval and reset
// calculations. Tests that exercise the Open->HalfOpen gate use a short
// ResetTimeout and sleep past it rather than mocking the clock.
package breaker

import (
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/portway/internal/config"
)

// ErrOpen is returned by Allow when the circuit is open or the half-open
// probe slot is already taken. Callers translate it to a 503 without
// touching the backend.
var ErrOpen = errors.New("circuit breaker is open")

// ErrUnknownService is returned for service names absent from the registry.
var ErrUnknownService = errors.New("unknown service")

// Settings holds breaker tuning shared by all backends.
type Settings struct {
	// ErrorThresholdPercentage opens the circuit once this share of requests
	// in the rolling interval has failed.
	ErrorThresholdPercentage float64

	// MinSamples is the request floor below which the threshold is not evaluated.
	MinSamples uint32

	// Interval is the rolling statistics window while closed.
	Interval time.Duration

	// ResetTimeout is how long an open circuit waits before admitting a probe.
	ResetTimeout time.Duration
}

// SettingsFromConfig converts the configuration section into breaker settings.
func SettingsFromConfig(cfg config.BreakerConfig) Settings {
	return Settings{
		ErrorThresholdPercentage: cfg.ErrorThresholdPercentage,
		MinSamples:               cfg.MinSamples,
		Interval:                 cfg.Interval,
		ResetTimeout:             cfg.ResetTimeout,
	}
}

// Observer receives state transition events. Observers exist purely for
// logging and metrics; breaker decisions never depend on them.
type Observer interface {
	OnTransition(service string, from, to gobreaker.State)
}

// Registry owns one breaker per backend service. It is constructed
// explicitly at startup and passed into the components that need it;
// there is no ambient global registry.
type Registry struct {
	breakers  map[string]*gobreaker.TwoStepCircuitBreaker[any]
	observers []Observer
}

// NewRegistry creates a registry with one breaker per named service.
// A service with zero historical calls starts Closed.
func NewRegistry(services []string, st Settings, observers ...Observer) *Registry {
	r := &Registry{
		breakers:  make(map[string]*gobreaker.TwoStepCircuitBreaker[any], len(services)),
		observers: observers,
	}

	for _, name := range services {
		r.breakers[name] = gobreaker.NewTwoStepCircuitBreaker[any](gobreaker.Settings{
			Name: name,

			// Exactly one trial call while half-open; concurrent callers
			// are rejected until the probe resolves.
			MaxRequests: 1,

			Interval: st.Interval,
			Timeout:  st.ResetTimeout,

			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < st.MinSamples {
					return false
				}
				failurePct := float64(counts.TotalFailures) / float64(counts.Requests) * 100
				return failurePct >= st.ErrorThresholdPercentage
			},

			OnStateChange: func(name string, from, to gobreaker.State) {
				for _, obs := range r.observers {
					obs.OnTransition(name, from, to)
				}
			},
		})
	}

	return r
}

// Allow asks the breaker for the named service whether a call may proceed.
// On permit it returns a done function that must be called exactly once with
// the call outcome. On rejection it returns ErrOpen (circuit open, or the
// half-open probe slot taken).
func (r *Registry) Allow(service string) (done func(success bool), err error) {
	cb, ok := r.breakers[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}

	done, err = cb.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrOpen, service)
		}
		return nil, err
	}
	return done, nil
}

// State returns the current breaker state for the named service.
func (r *Registry) State(service string) (gobreaker.State, error) {
	cb, ok := r.breakers[service]
	if !ok {
		return gobreaker.StateClosed, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	return cb.State(), nil
}

// Counts returns the rolling request counts for the named service.
func (r *Registry) Counts(service string) (gobreaker.Counts, error) {
	cb, ok := r.breakers[service]
	if !ok {
		return gobreaker.Counts{}, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	return cb.Counts(), nil
}

// Services returns the registered service names.
func (r *Registry) Services() []string {
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}

// StateString converts a breaker state to its wire representation.
func StateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
