// Package ratelimit implements sliding-window admission control keyed by
// tenant and user. The window counts individual request timestamps, so a
// burst that was admitted keeps blocking until it slides out; a background
// sweeper bounds memory growth from one-shot or abandoned keys.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Result is the outcome of one admission check. Rejection is a value, not
// an error: the caller must wait at least RetryAfter before retrying.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// minRetryAfter is the hard floor on RetryAfter for rejected requests,
// even when the computed wait is smaller or negative.
const minRetryAfter = time.Second

// Limiter is a process-wide sliding-window rate limiter. The timestamp map
// is shared state; every per-key read-prune-append sequence runs as one
// atomic unit under the mutex, so two concurrent checks for the same key
// can never both pass on the last remaining slot. Keys are independent and
// need no further coordination.
type Limiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time

	max       int
	window    time.Duration
	retention time.Duration

	sweepInterval time.Duration
	sweepStarted  bool
	sweepStop     chan struct{}

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Limiter admitting at most max requests per key within
// window. The sweeper prunes to retention, which must be strictly larger
// than the window; a non-positive or too-small retention defaults to twice
// the window.
func New(max int, window, sweepInterval, retention time.Duration) *Limiter {
	if retention <= window {
		retention = 2 * window
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Limiter{
		entries:       make(map[string][]time.Time),
		max:           max,
		window:        window,
		retention:     retention,
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// Check performs the admission check for one request. On acceptance the
// request's timestamp is recorded; on rejection RetryAfter reports how
// long until the oldest in-window timestamp slides out (floored at one
// second).
func (l *Limiter) Check(tenantID, userID string) Result {
	key := tenantID + ":" + userID
	now := l.now()
	windowStart := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := pruneAfter(l.entries[key], windowStart)

	if len(kept) >= l.max {
		retry := kept[0].Add(l.window).Sub(now)
		if retry < minRetryAfter {
			retry = minRetryAfter
		}
		l.entries[key] = kept
		log.Debug().
			Str("tenant_id", tenantID).
			Str("user_id", userID).
			Dur("retry_after", retry).
			Msg("rate limit exceeded")
		return Result{Allowed: false, Remaining: 0, RetryAfter: retry}
	}

	kept = append(kept, now)
	l.entries[key] = kept
	return Result{Allowed: true, Remaining: l.max - len(kept)}
}

// StartSweeper launches the background sweep goroutine. Calling it more
// than once is a no-op while a sweeper is running.
func (l *Limiter) StartSweeper() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sweepStarted {
		return
	}
	l.sweepStarted = true
	l.sweepStop = make(chan struct{})
	go l.sweepLoop(l.sweepStop)
}

// Stop terminates the background sweeper. Safe to call without a running
// sweeper, and the limiter remains usable afterwards.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.sweepStarted {
		return
	}
	close(l.sweepStop)
	l.sweepStarted = false
}

// Reset clears all recorded timestamps. For tests.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string][]time.Time)
}

// Keys reports the number of tracked keys. For tests and diagnostics.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) sweepLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Sweep prunes every key to the retention horizon and deletes keys left
// with no timestamps. It takes the same mutex as Check, so request-path
// checks are never interleaved with a partial sweep; each sweep holds the
// lock only for one pass over the map.
func (l *Limiter) Sweep() {
	cutoff := l.now().Add(-l.retention)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, stamps := range l.entries {
		kept := pruneAfter(stamps, cutoff)
		if len(kept) == 0 {
			delete(l.entries, key)
			removed++
			continue
		}
		l.entries[key] = kept
	}
	if removed > 0 {
		log.Debug().Int("keys_removed", removed).Msg("rate limit sweep")
	}
}

// pruneAfter returns the suffix of stamps strictly newer than cutoff.
// Timestamps are appended in order, so the first retained index bounds
// the slice.
func pruneAfter(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[idx:]...)
}
