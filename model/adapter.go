package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/polytool/polytool/logging"
)

// AdapterOptions configure backend selection, health tracking and retry
// behavior.
type AdapterOptions struct {
	// Priority orders fallback selection when no hint is given or the hinted
	// backend is unhealthy. Backends registered but absent from Priority are
	// tried last in registration order.
	Priority []string
	// FailureThreshold is the consecutive-failure count that marks a backend
	// unhealthy.
	FailureThreshold int
	// Cooldown is how long an unhealthy backend waits before a probe.
	Cooldown time.Duration
	// MaxRateLimitRetries caps backoff retries on RateLimitedError before
	// escalating to BackendUnavailableError.
	MaxRateLimitRetries int
	// InitialBackoff seeds the exponential backoff interval.
	InitialBackoff time.Duration
	// RateLimit is the client-side request rate applied per backend.
	// Zero means unlimited.
	RateLimit rate.Limit
	// Burst is the rate limiter burst size.
	Burst int
	// Logger receives selection and retry events.
	Logger logging.Logger
}

type managedBackend struct {
	backend Backend
	health  *Health
	limiter *rate.Limiter
}

// Adapter routes generation requests to registered backends. Selection
// prefers a healthy hinted backend, then the configured priority order.
// RateLimitedError triggers exponential backoff retries on the same backend
// up to the configured cap; other failures mark the backend and move on to
// the next candidate. Safe for concurrent use.
type Adapter struct {
	mu       sync.RWMutex
	backends map[string]*managedBackend
	order    []string // registration order

	opts AdapterOptions
}

// NewAdapter constructs an Adapter with optional overrides.
func NewAdapter(optFns ...func(o *AdapterOptions)) *Adapter {
	opts := AdapterOptions{
		FailureThreshold:    3,
		Cooldown:            30 * time.Second,
		MaxRateLimitRetries: 3,
		InitialBackoff:      500 * time.Millisecond,
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Adapter{backends: make(map[string]*managedBackend), opts: opts}
}

// Register adds a backend. Re-registering a name replaces the previous
// backend and resets its health state (last registration wins).
func (a *Adapter) Register(b Backend) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name := b.Name()
	if _, exists := a.backends[name]; !exists {
		a.order = append(a.order, name)
	}
	var limiter *rate.Limiter
	if a.opts.RateLimit > 0 {
		burst := a.opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(a.opts.RateLimit, burst)
	}
	a.backends[name] = &managedBackend{
		backend: b,
		health:  NewHealth(a.opts.FailureThreshold, a.opts.Cooldown),
		limiter: limiter,
	}
}

// Status reports per-backend health, keyed by backend name.
func (a *Adapter) Status() map[string]bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	status := make(map[string]bool, len(a.backends))
	for name, mb := range a.backends {
		status[name] = mb.health.Healthy()
	}
	return status
}

// Generate selects a backend and performs one generation call. hint, when
// non-empty and naming a healthy registered backend, is tried first. All
// candidates exhausted yields BackendUnavailableError.
func (a *Adapter) Generate(ctx context.Context, req Request, hint string) (*Response, error) {
	if len(req.Turns) == 0 {
		return nil, &InvalidRequestError{Reason: "request has no turns"}
	}

	candidates := a.candidates(hint)
	if len(candidates) == 0 {
		return nil, &BackendUnavailableError{Err: errors.New("no backends registered")}
	}

	var lastErr error
	for _, mb := range candidates {
		name := mb.backend.Name()
		if !mb.health.Healthy() {
			a.opts.Logger.Debug("model.generate.skip_unhealthy", "backend", name)
			continue
		}

		resp, err := a.completeWithRetry(ctx, mb, req)
		if err == nil {
			mb.health.RecordSuccess()
			resp.Backend = name
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var invalid *InvalidRequestError
		if errors.As(err, &invalid) {
			return nil, err
		}

		mb.health.RecordFailure()
		a.opts.Logger.Warn("model.generate.backend_failed", "backend", name, "error", err.Error())
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("all backends unhealthy")
	}
	return nil, &BackendUnavailableError{Err: lastErr}
}

// candidates returns managed backends in try order: hint first, then the
// configured priority, then remaining registration order, without duplicates.
func (a *Adapter) candidates(hint string) []*managedBackend {
	a.mu.RLock()
	defer a.mu.RUnlock()

	seen := make(map[string]bool, len(a.backends))
	out := make([]*managedBackend, 0, len(a.backends))
	add := func(name string) {
		if seen[name] {
			return
		}
		if mb, ok := a.backends[name]; ok {
			seen[name] = true
			out = append(out, mb)
		}
	}

	if hint != "" {
		add(hint)
	}
	for _, name := range a.opts.Priority {
		add(name)
	}
	for _, name := range a.order {
		add(name)
	}
	return out
}

// completeWithRetry performs the call against one backend, retrying only
// rate-limit errors with exponential backoff. Exhausting the retry cap
// escalates the rate limit to BackendUnavailableError.
func (a *Adapter) completeWithRetry(ctx context.Context, mb *managedBackend, req Request) (*Response, error) {
	name := mb.backend.Name()

	operation := func() (*Response, error) {
		if mb.limiter != nil {
			if err := mb.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		resp, err := mb.backend.Complete(ctx, req)
		if err != nil {
			var rl *RateLimitedError
			if errors.As(err, &rl) {
				a.opts.Logger.Debug("model.generate.rate_limited", "backend", name)
				return nil, err // retryable
			}
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.opts.InitialBackoff

	resp, err := backoff.RetryWithData(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(a.opts.MaxRateLimitRetries)), ctx),
	)
	if err != nil {
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			return nil, &BackendUnavailableError{
				Backend: name,
				Err:     fmt.Errorf("rate limit retries exhausted: %w", err),
			}
		}
		return nil, err
	}
	return resp, nil
}
