package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(start time.Time) (*Limiter, *time.Time) {
	now := start
	l := New()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiterAllowsUpToLimit(t *testing.T) {
	policy := Policy{Name: "test", Limit: 3, Window: time.Minute}
	l, _ := newTestLimiter(time.Now())

	for i := 0; i < 3; i++ {
		allowed, _ := l.Allow(policy, "1.2.3.4")
		require.True(t, allowed, "request %d should fit the window", i+1)
	}

	allowed, retryAfter := l.Allow(policy, "1.2.3.4")
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestLimiterWindowSlides(t *testing.T) {
	policy := Policy{Name: "test", Limit: 2, Window: time.Minute}
	l, now := newTestLimiter(time.Now())

	l.Allow(policy, "c")
	l.Allow(policy, "c")
	allowed, _ := l.Allow(policy, "c")
	require.False(t, allowed)

	// Once the first request falls out of the window, capacity returns.
	*now = now.Add(61 * time.Second)
	allowed, _ = l.Allow(policy, "c")
	assert.True(t, allowed)
}

func TestLimiterRetryAfterHintsOldestExpiry(t *testing.T) {
	policy := Policy{Name: "test", Limit: 1, Window: time.Minute}
	l, now := newTestLimiter(time.Now())

	l.Allow(policy, "c")
	*now = now.Add(20 * time.Second)

	allowed, retryAfter := l.Allow(policy, "c")
	require.False(t, allowed)
	assert.Equal(t, 40*time.Second, retryAfter)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	policy := Policy{Name: "test", Limit: 1, Window: time.Minute}
	l, _ := newTestLimiter(time.Now())

	allowed, _ := l.Allow(policy, "a")
	require.True(t, allowed)
	allowed, _ = l.Allow(policy, "a")
	require.False(t, allowed)

	// A different client and a different policy each have their own bucket.
	allowed, _ = l.Allow(policy, "b")
	assert.True(t, allowed)
	allowed, _ = l.Allow(Policy{Name: "other", Limit: 1, Window: time.Minute}, "a")
	assert.True(t, allowed)
}

func TestLimiterPrune(t *testing.T) {
	policy := Policy{Name: "test", Limit: 5, Window: time.Minute}
	l, now := newTestLimiter(time.Now())

	l.Allow(policy, "stale")
	*now = now.Add(10 * time.Minute)
	l.Allow(policy, "fresh")

	l.Prune(5 * time.Minute)

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "test|stale")
	assert.Contains(t, l.buckets, "test|fresh")
}
