package policy

import (
	"sync"
	"time"
)

// rateKey identifies one sliding-window counter.
type rateKey struct {
	sessionID string
	actionID  string
	policyID  string
}

// RateLimiter tracks per-(session_id, action_id, policy_id) sliding-window
// call counts. Deliberately NOT golang.org/x/time/rate.Limiter: a token
// bucket cannot be rebuilt from a list of historical event timestamps
// (replay needs exactly that), so the window here is a plain timestamp
// slice pruned on read. x/time/rate is used elsewhere, for pacing the
// buffered trace collector's drain loop, where no such rebuild requirement
// exists.
//
// Grounded on core/pkg/runtime/budget/budget.go's counter-and-threshold
// shape, generalized from a single global budget to per-key sliding
// windows.
type RateLimiter struct {
	mu       sync.Mutex
	counters map[rateKey][]time.Time
}

// NewRateLimiter constructs an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{counters: make(map[rateKey][]time.Time)}
}

// Allow records a call attempt at now against the (session, action, policy)
// window and reports whether it is within maxCalls over the trailing
// window duration. A call that would exceed the limit is NOT recorded.
func (r *RateLimiter) Allow(sessionID, actionID, policyID string, now time.Time, maxCalls int, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rateKey{sessionID, actionID, policyID}
	cutoff := now.Add(-window)
	kept := pruneBefore(r.counters[key], cutoff)

	if len(kept) >= maxCalls {
		r.counters[key] = kept
		return false
	}
	r.counters[key] = append(kept, now)
	return true
}

// Record unconditionally appends a call timestamp to a counter, used once a
// caller has already decided an action is allowed (e.g. after checking
// every matching rate-limit policy is within its window) and only then
// wants the hit to count against all of them.
func (r *RateLimiter) Record(sessionID, actionID, policyID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := rateKey{sessionID, actionID, policyID}
	r.counters[key] = append(r.counters[key], now)
}

// Seed replaces a counter's history with timestamps, letting a caller
// rebuild sliding-window state from recorded timestamps rather than
// in-process memory. Nothing in this module calls it outside tests: replay
// rebuilds its counters by re-evaluating each request in order against a
// fresh evaluator.
func (r *RateLimiter) Seed(sessionID, actionID, policyID string, timestamps []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := rateKey{sessionID, actionID, policyID}
	cp := make([]time.Time, len(timestamps))
	copy(cp, timestamps)
	r.counters[key] = cp
}

// Count reports how many calls are currently within the window as of now,
// without recording a new attempt.
func (r *RateLimiter) Count(sessionID, actionID, policyID string, now time.Time, window time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := rateKey{sessionID, actionID, policyID}
	kept := pruneBefore(r.counters[key], now.Add(-window))
	r.counters[key] = kept
	return len(kept)
}

// Reset drops all counters for a session, called when a session ends.
func (r *RateLimiter) Reset(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.counters {
		if k.sessionID == sessionID {
			delete(r.counters, k)
		}
	}
}

func pruneBefore(timestamps []time.Time, cutoff time.Time) []time.Time {
	out := timestamps[:0:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
