// Package ratelimit throttles requests per identity and action. Checks never
// block: a rejected check returns immediately.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/botzfyi/botz/internal/metrics"
)

// Rule is a budget of Limit requests per Window for Key.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// Result is the outcome of one check.
type Result struct {
	OK        bool      `json:"ok"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Store records a request against a rule and reports whether it fits.
type Store interface {
	Allow(ctx context.Context, rule Rule, now time.Time) (Result, error)
}

// Limiter checks rules against a primary store, falling back to an
// in-process store when the primary is absent or failing.
type Limiter struct {
	primary  Store
	fallback *MemoryStore
	now      func() time.Time
}

type Option func(*Limiter)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a Limiter. primary may be nil.
func New(primary Store, fallback *MemoryStore, opts ...Option) *Limiter {
	l := &Limiter{primary: primary, fallback: fallback, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records one request against rule.
func (l *Limiter) Allow(ctx context.Context, rule Rule) Result {
	now := l.now()
	action := actionOf(rule.Key)

	if l.primary != nil {
		res, err := l.primary.Allow(ctx, rule, now)
		if err == nil {
			observe(action, "redis", res)
			return res
		}
		metrics.RateLimitStoreErrors.Inc()
		log.Warn().Err(err).Str("action", action).Msg("Rate limit store unavailable, using in-process fallback")
	}

	res, _ := l.fallback.Allow(ctx, rule, now)
	observe(action, "memory", res)
	return res
}

func observe(action, backend string, res Result) {
	result := "allowed"
	if !res.OK {
		result = "rejected"
	}
	metrics.RateLimitDecisions.WithLabelValues(action, result, backend).Inc()
}

// actionOf returns the key prefix before the first ':' so metric labels
// stay bounded.
func actionOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}
