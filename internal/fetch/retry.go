package fetch

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"
)

// ExponentialRetryPolicy implements jittered exponential backoff over a small
// number of attempts. Only transient failures are retried; 4xx responses and
// cancellation surface immediately.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy from the fetch config.
func NewExponentialRetryPolicy(cfg Config) *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		maxAttempts: cfg.RetryAttempts,
		baseDelay:   cfg.RetryBaseDelay,
		maxDelay:    30 * time.Second,
	}
}

// ShouldRetry decides whether the error is retryable at the given attempt.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.maxAttempts-1 {
		return false
	}
	return Transient(err)
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// RetryingFetcher wraps a Fetcher with the retry policy.
type RetryingFetcher struct {
	inner  Fetcher
	policy *ExponentialRetryPolicy
	logger *zap.Logger
}

// NewRetryingFetcher wraps inner with retries per policy.
func NewRetryingFetcher(inner Fetcher, policy *ExponentialRetryPolicy, logger *zap.Logger) *RetryingFetcher {
	return &RetryingFetcher{inner: inner, policy: policy, logger: logger}
}

// Fetch delegates to the wrapped fetcher, retrying transient failures with
// backoff until the policy gives up.
func (f *RetryingFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	var lastErr error
	for attempt := 0; attempt < f.policy.maxAttempts; attempt++ {
		page, err := f.inner.Fetch(ctx, rawURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Page{}, err
		}
		if !f.policy.ShouldRetry(err, attempt) {
			return Page{}, err
		}
		wait := f.policy.Backoff(attempt)
		f.logger.Warn("Fetch failed; backing off",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return Page{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	return Page{}, lastErr
}

// RetryingLister wraps a Lister with the retry policy, so FTP listings get the
// same bounded retries as HTTP page fetches.
type RetryingLister struct {
	inner  Lister
	policy *ExponentialRetryPolicy
	logger *zap.Logger
}

// NewRetryingLister wraps inner with retries per policy.
func NewRetryingLister(inner Lister, policy *ExponentialRetryPolicy, logger *zap.Logger) *RetryingLister {
	return &RetryingLister{inner: inner, policy: policy, logger: logger}
}

// ListDir delegates to the wrapped lister, retrying transient failures with
// backoff until the policy gives up.
func (l *RetryingLister) ListDir(ctx context.Context, rawURL string) (Listing, error) {
	var lastErr error
	for attempt := 0; attempt < l.policy.maxAttempts; attempt++ {
		listing, err := l.inner.ListDir(ctx, rawURL)
		if err == nil {
			return listing, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Listing{}, err
		}
		if !l.policy.ShouldRetry(err, attempt) {
			return Listing{}, err
		}
		wait := l.policy.Backoff(attempt)
		l.logger.Warn("Listing failed; backing off",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return Listing{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	return Listing{}, lastErr
}
