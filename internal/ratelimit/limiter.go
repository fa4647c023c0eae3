// Package ratelimit implements a process-local sliding-window limiter keyed on
// (action, caller identifier). It is a secondary, defense-in-depth control behind the
// per-participant idempotence guarantees of the engagement ledger: state lives in
// process memory, resets on restart, and is not shared across instances.
package ratelimit

import (
	"sync"
	"time"
)

const defaultSweepInterval = 5 * time.Minute

// Decision reports the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// LimiterConfig configures the sliding-window limiter.
type LimiterConfig struct {
	Clock         func() time.Time
	SweepInterval time.Duration
}

// Limiter tracks recent request timestamps per (action, identifier) key. Entries older
// than the supplied window are discarded on every check, so the count compared against
// the limit is exact over the trailing window with no fixed-bucket boundary artifact.
type Limiter struct {
	mu            sync.Mutex
	windows       map[string][]time.Time
	clock         func() time.Time
	sweepInterval time.Duration
	lastSweep     time.Time
}

// NewLimiter constructs a Limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	return &Limiter{
		windows:       make(map[string][]time.Time),
		clock:         clock,
		sweepInterval: sweep,
		lastSweep:     clock(),
	}
}

// Check admits or rejects one request for (action, identifier) under the given limit
// and trailing window. An admitted request is recorded; a rejected request is not, and
// RetryAfter reports how long until the oldest in-window entry expires.
func (l *Limiter) Check(action, identifier string, limit int, window time.Duration) Decision {
	now := l.clock()
	key := action + "|" + identifier

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweep(now, window)

	entries := pruneBefore(l.windows[key], now.Add(-window))

	if limit <= 0 {
		l.windows[key] = entries
		return Decision{Allowed: false, Remaining: 0, RetryAfter: window}
	}

	if len(entries) >= limit {
		l.windows[key] = entries
		retryAfter := entries[0].Add(window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	entries = append(entries, now)
	l.windows[key] = entries
	return Decision{Allowed: true, Remaining: limit - len(entries)}
}

// maybeSweep drops identifiers whose entries have all aged out, bounding memory for
// callers that appear once and never return. Runs at most once per sweep interval.
func (l *Limiter) maybeSweep(now time.Time, window time.Duration) {
	if now.Sub(l.lastSweep) < l.sweepInterval {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-window)
	for key, entries := range l.windows {
		if len(pruneBefore(entries, cutoff)) == 0 {
			delete(l.windows, key)
		}
	}
}

func pruneBefore(entries []time.Time, cutoff time.Time) []time.Time {
	keep := 0
	for keep < len(entries) && !entries[keep].After(cutoff) {
		keep++
	}
	return entries[keep:]
}
