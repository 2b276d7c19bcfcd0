// Portway - Circuit-Breaker-Protected API Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/portway

package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginLimiter throttles credential-exchange attempts per client IP to slow
// brute-force attacks. It is separate from the gateway-wide request rate
// limiter: login attempts are expensive (bcrypt) and security-sensitive, so
// they get a much tighter token bucket.
type LoginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLoginLimiter allows attemptsPerMinute login attempts per IP, with a
// burst of the same size.
func NewLoginLimiter(attemptsPerMinute int) *LoginLimiter {
	if attemptsPerMinute <= 0 {
		attemptsPerMinute = 5
	}
	return &LoginLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Limit(float64(attemptsPerMinute) / 60.0),
		burst:    attemptsPerMinute,
	}
}

// Allow reports whether another login attempt from this IP is permitted.
func (l *LoginLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()

	l.evictStale()

	return entry.limiter.Allow()
}

// evictStale drops limiters idle for over an hour so the map cannot grow
// without bound. Called with mu held.
func (l *LoginLimiter) evictStale() {
	if len(l.limiters) < 1000 {
		return
	}
	cutoff := time.Now().Add(-time.Hour)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}
