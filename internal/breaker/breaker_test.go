// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package breaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

func testSettings() Settings {
	return Settings{
		ErrorThresholdPercentage: 50,
		MinSamples:               10,
		Interval:                 time.Minute,
		ResetTimeout:             50 * time.Millisecond,
	}
}

// report drives n outcomes through the breaker.
func report(t *testing.T, reg *Registry, service string, success bool, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		done, err := reg.Allow(service)
		if err != nil {
			t.Fatalf("Allow(%s) unexpectedly rejected: %v", service, err)
		}
		done(success)
	}
}

func TestRegistryStartsClosed(t *testing.T) {
	reg := NewRegistry([]string{"users", "orders"}, testSettings())

	for _, svc := range []string{"users", "orders"} {
		state, err := reg.State(svc)
		if err != nil {
			t.Fatalf("State(%s): %v", svc, err)
		}
		if state != gobreaker.StateClosed {
			t.Errorf("State(%s) = %v, want closed", svc, state)
		}
	}
}

func TestUnknownService(t *testing.T) {
	reg := NewRegistry([]string{"users"}, testSettings())

	if _, err := reg.Allow("nope"); !errors.Is(err, ErrUnknownService) {
		t.Errorf("Allow(nope) error = %v, want ErrUnknownService", err)
	}
	if _, err := reg.State("nope"); !errors.Is(err, ErrUnknownService) {
		t.Errorf("State(nope) error = %v, want ErrUnknownService", err)
	}
	if _, err := reg.Counts("nope"); !errors.Is(err, ErrUnknownService) {
		t.Errorf("Counts(nope) error = %v, want ErrUnknownService", err)
	}
}

func TestTripsAtThreshold(t *testing.T) {
	reg := NewRegistry([]string{"users"}, testSettings())

	// 6 failures out of 10 requests crosses the 50% threshold; the floor of
	// 10 samples is reached exactly on the final failing report.
	report(t, reg, "users", false, 5)
	report(t, reg, "users", true, 4)
	report(t, reg, "users", false, 1)

	state, _ := reg.State("users")
	if state != gobreaker.StateOpen {
		t.Fatalf("state after 6/10 failures = %v, want open", state)
	}

	if _, err := reg.Allow("users"); !errors.Is(err, ErrOpen) {
		t.Errorf("Allow on open circuit error = %v, want ErrOpen", err)
	}
}

func TestMinSampleFloorPreventsTrip(t *testing.T) {
	reg := NewRegistry([]string{"users"}, testSettings())

	// 9 consecutive failures is 100% failure rate but below the floor.
	report(t, reg, "users", false, 9)

	state, _ := reg.State("users")
	if state != gobreaker.StateClosed {
		t.Errorf("state after 9 failures (floor 10) = %v, want closed", state)
	}
}

func TestFailuresBelowThresholdStayClosed(t *testing.T) {
	reg := NewRegistry([]string{"users"}, testSettings())

	report(t, reg, "users", true, 8)
	report(t, reg, "users", false, 4) // 4/12 = 33%

	state, _ := reg.State("users")
	if state != gobreaker.StateClosed {
		t.Errorf("state at 33%% failures = %v, want closed", state)
	}
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	reg := NewRegistry([]string{"users"}, testSettings())
	report(t, reg, "users", false, 10)

	if state, _ := reg.State("users"); state != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", state)
	}

	time.Sleep(60 * time.Millisecond) // past ResetTimeout

	done, err := reg.Allow("users")
	if err != nil {
		t.Fatalf("Allow after reset timeout rejected: %v", err)
	}

	// While the probe is in flight, further callers are rejected.
	if _, err := reg.Allow("users"); !errors.Is(err, ErrOpen) {
		t.Errorf("second Allow in half-open error = %v, want ErrOpen", err)
	}

	done(true)
	if state, _ := reg.State("users"); state != gobreaker.StateClosed {
		t.Errorf("state after successful probe = %v, want closed", state)
	}
}

func TestFailedProbeReopens(t *testing.T) {
	reg := NewRegistry([]string{"users"}, testSettings())
	report(t, reg, "users", false, 10)

	time.Sleep(60 * time.Millisecond)

	done, err := reg.Allow("users")
	if err != nil {
		t.Fatalf("Allow after reset timeout rejected: %v", err)
	}
	done(false)

	if state, _ := reg.State("users"); state != gobreaker.StateOpen {
		t.Errorf("state after failed probe = %v, want open", state)
	}
	if _, err := reg.Allow("users"); !errors.Is(err, ErrOpen) {
		t.Errorf("Allow after failed probe error = %v, want ErrOpen", err)
	}
}

func TestBreakersAreIndependent(t *testing.T) {
	reg := NewRegistry([]string{"users", "orders"}, testSettings())
	report(t, reg, "users", false, 10)

	if state, _ := reg.State("users"); state != gobreaker.StateOpen {
		t.Fatalf("users state = %v, want open", state)
	}
	if state, _ := reg.State("orders"); state != gobreaker.StateClosed {
		t.Errorf("orders state = %v, want closed", state)
	}
	if _, err := reg.Allow("orders"); err != nil {
		t.Errorf("Allow(orders) rejected: %v", err)
	}
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
}

func (o *recordingObserver) OnTransition(service string, from, to gobreaker.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, service+":"+StateString(from)+"->"+StateString(to))
}

func TestObserverReceivesTransitions(t *testing.T) {
	obs := &recordingObserver{}
	reg := NewRegistry([]string{"users"}, testSettings(), obs)

	report(t, reg, "users", false, 10)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.transitions) != 1 || obs.transitions[0] != "users:closed->open" {
		t.Errorf("transitions = %v, want [users:closed->open]", obs.transitions)
	}
}

func TestStateString(t *testing.T) {
	cases := []struct {
		state gobreaker.State
		want  string
	}{
		{gobreaker.StateClosed, "closed"},
		{gobreaker.StateHalfOpen, "half-open"},
		{gobreaker.StateOpen, "open"},
		{gobreaker.State(99), "unknown"},
	}
	for _, tc := range cases {
		if got := StateString(tc.state); got != tc.want {
			t.Errorf("StateString(%d) = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestProberSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := NewRegistry([]string{"users"}, testSettings())
	p := NewProber(nil, time.Second)

	if err := p.Probe(context.Background(), reg, "users", srv.URL+"/health"); err != nil {
		t.Fatalf("Probe: %v", err)
	}

	counts, _ := reg.Counts("users")
	if counts.TotalSuccesses != 1 {
		t.Errorf("TotalSuccesses = %d, want 1", counts.TotalSuccesses)
	}
}

func TestProber5xxCountsAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := NewRegistry([]string{"users"}, testSettings())
	p := NewProber(nil, time.Second)

	if err := p.Probe(context.Background(), reg, "users", srv.URL+"/health"); err == nil {
		t.Fatal("Probe on 500 backend returned nil error")
	}

	counts, _ := reg.Counts("users")
	if counts.TotalFailures != 1 {
		t.Errorf("TotalFailures = %d, want 1", counts.TotalFailures)
	}
}

type failingClient struct{}

func (failingClient) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestProberTransportErrorCountsAsFailure(t *testing.T) {
	reg := NewRegistry([]string{"users"}, testSettings())
	p := NewProber(failingClient{}, time.Second)

	if err := p.Probe(context.Background(), reg, "users", "http://127.0.0.1:1/health"); err == nil {
		t.Fatal("Probe with failing transport returned nil error")
	}

	counts, _ := reg.Counts("users")
	if counts.TotalFailures != 1 {
		t.Errorf("TotalFailures = %d, want 1", counts.TotalFailures)
	}
}

func TestProbeRejectedWhenOpen(t *testing.T) {
	reg := NewRegistry([]string{"users"}, testSettings())
	report(t, reg, "users", false, 10)

	p := NewProber(failingClient{}, time.Second)
	err := p.Probe(context.Background(), reg, "users", "http://127.0.0.1:1/health")
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Probe on open circuit error = %v, want ErrOpen", err)
	}
}
