// Package ratelimit provides an in-memory sliding-window limiter keyed by
// (policy, client identity). Suitable for a single-node deployment; counters
// are not shared across processes.
package ratelimit

import (
	"sync"
	"time"
)

// Policy names a route class and its per-window allowance.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Route policies.
var (
	PolicyDefault = Policy{Name: "default", Limit: 60, Window: time.Minute}
	PolicyIngest  = Policy{Name: "ingest", Limit: 120, Window: time.Minute}
	PolicyAuth    = Policy{Name: "auth", Limit: 10, Window: time.Minute}
	PolicyDemo    = Policy{Name: "demo", Limit: 5, Window: time.Minute}
)

// Limiter tracks request timestamps per (policy, client) key and prunes
// entries that fall out of the window on each check.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records one request for the client under the policy and reports
// whether it fits the window. When it does not, retryAfter hints how long
// until the oldest in-window request expires.
func (l *Limiter) Allow(p Policy, client string) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-p.Window)
	key := p.Name + "|" + client

	kept := l.buckets[key][:0]
	for _, ts := range l.buckets[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= p.Limit {
		l.buckets[key] = kept
		return false, kept[0].Sub(cutoff)
	}

	l.buckets[key] = append(kept, now)
	return true, 0
}

// Prune drops client buckets that are entirely outside the given horizon.
// Called opportunistically to keep the map from growing without bound.
func (l *Limiter) Prune(horizon time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-horizon)
	for key, times := range l.buckets {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(l.buckets, key)
		}
	}
}
