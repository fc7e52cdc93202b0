package authapi

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter hands out one token bucket per client key.
type ipLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	entries   map[string]*limiterEntry
	lastPrune time.Time
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(perMinute, burst int, idle time.Duration) *ipLimiter {
	if perMinute <= 0 || burst <= 0 {
		return nil
	}
	return &ipLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		idle:    idle,
		entries: make(map[string]*limiterEntry),
	}
}

// allow consumes one token for key. When the bucket is empty it reports the
// wait until the next token and leaves the bucket untouched.
func (l *ipLimiter) allow(key string, now time.Time) (bool, time.Duration) {
	if l == nil || key == "" {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.seen = now

	r := e.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, l.idle
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (l *ipLimiter) pruneLocked(now time.Time) {
	if l.idle <= 0 || now.Sub(l.lastPrune) < l.idle {
		return
	}
	l.lastPrune = now
	for k, e := range l.entries {
		if now.Sub(e.seen) >= l.idle {
			delete(l.entries, k)
		}
	}
}

func (l *ipLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// evaluateProgressiveLockout checks tiers in order (most severe first). A tier
// applies when failures holds at least Threshold entries; the lockout runs
// from the most recent failure.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := failures[0]
	for _, f := range failures[1:] {
		if f.After(latest) {
			latest = f
		}
	}
	for _, tier := range tiers {
		if tier.Threshold <= 0 || tier.Duration <= 0 || len(failures) < tier.Threshold {
			continue
		}
		if until := latest.Add(tier.Duration); until.After(now) {
			return true, until.Sub(now)
		}
	}
	return false, 0
}

// failureTracker remembers recent failed logins per normalized email.
type failureTracker struct {
	mu        sync.Mutex
	window    time.Duration
	tiers     []lockoutTier
	byKey     map[string][]time.Time
	lastSweep time.Time
}

func newFailureTracker(window time.Duration, tiers []lockoutTier) *failureTracker {
	return &failureTracker{
		window: window,
		tiers:  tiers,
		byKey:  make(map[string][]time.Time),
	}
}

func (t *failureTracker) check(key string, now time.Time) (bool, time.Duration) {
	if t == nil || key == "" {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	recent := t.recentLocked(key, now)
	return evaluateProgressiveLockout(now, recent, t.tiers)
}

func (t *failureTracker) record(key string, now time.Time) {
	if t == nil || key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)
	t.byKey[key] = append(t.recentLocked(key, now), now)
}

func (t *failureTracker) reset(key string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byKey, key)
}

func (t *failureTracker) recentLocked(key string, now time.Time) []time.Time {
	all := t.byKey[key]
	cut := now.Add(-t.window)
	kept := all[:0]
	for _, f := range all {
		if f.After(cut) {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		delete(t.byKey, key)
		return nil
	}
	t.byKey[key] = kept
	return kept
}

func (t *failureTracker) sweepLocked(now time.Time) {
	if now.Sub(t.lastSweep) < time.Minute {
		return
	}
	t.lastSweep = now
	for k := range t.byKey {
		t.recentLocked(k, now)
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(math.Ceil(retryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
