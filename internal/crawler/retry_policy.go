package crawler

import (
	"context"
	"errors"
	"time"
)

// Default retry settings.
const (
	DefaultMaxAttempts      = 6
	DefaultRateLimitBackoff = 30 * time.Second
	DefaultErrorBackoff     = 5 * time.Second
)

// LinearRetryPolicy implements RetryPolicy with a per-class base delay scaled
// by the attempt number.
type LinearRetryPolicy struct {
	maxAttempts   int
	rateLimitBase time.Duration
	errorBase     time.Duration
}

// NewLinearRetryPolicy builds a policy; non-positive values fall back to defaults.
func NewLinearRetryPolicy(maxAttempts int, rateLimitBase, errorBase time.Duration) *LinearRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if rateLimitBase <= 0 {
		rateLimitBase = DefaultRateLimitBackoff
	}
	if errorBase <= 0 {
		errorBase = DefaultErrorBackoff
	}
	return &LinearRetryPolicy{
		maxAttempts:   maxAttempts,
		rateLimitBase: rateLimitBase,
		errorBase:     errorBase,
	}
}

// MaxAttempts returns the retry ceiling.
func (p *LinearRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error is retryable. attempt counts the
// consecutive failures for the current page, starting at 1.
func (p *LinearRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt > p.maxAttempts {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Backoff returns the wait before the next attempt: base(class) * attempt.
func (p *LinearRetryPolicy) Backoff(err error, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.errorBase
	if IsRateLimited(err) {
		base = p.rateLimitBase
	}
	return base * time.Duration(attempt)
}
