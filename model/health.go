package model

import (
	"sync"
	"time"
)

// Health is the process-wide availability state for one backend: a
// consecutive-failure circuit breaker with a cooldown probe. Multiple
// sessions record outcomes for the same backend concurrently, so all state
// is mutex-protected. The exposed surface is intentionally only Healthy,
// RecordFailure and RecordSuccess.
type Health struct {
	mu        sync.Mutex
	failures  int
	openUntil time.Time
	threshold int
	cooldown  time.Duration
}

// NewHealth creates a breaker that opens after threshold consecutive
// failures and allows a probe once cooldown has elapsed.
func NewHealth(threshold int, cooldown time.Duration) *Health {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Health{threshold: threshold, cooldown: cooldown}
}

// Healthy reports whether the backend may be tried. An open breaker becomes
// probe-able again once the cooldown expires; a failed probe re-opens it
// with a fresh cooldown.
func (h *Health) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failures < h.threshold {
		return true
	}
	return !time.Now().Before(h.openUntil)
}

// RecordFailure counts one failed call, opening the breaker when the
// threshold is reached.
func (h *Health) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	if h.failures >= h.threshold {
		h.openUntil = time.Now().Add(h.cooldown)
	}
}

// RecordSuccess closes the breaker.
func (h *Health) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.openUntil = time.Time{}
}
