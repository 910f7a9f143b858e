package resilience

import (
	"context"
	"net/http"
	"time"

	apperrors "github.com/jrjohn/arcana-request-queue/pkg/errors"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
	}
}

// IsRetryable classifies an error by its HTTP status.
// Errors without a status are treated as network failures and retried,
// as are 429 and 5xx; every other status fails fast.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	status, ok := apperrors.StatusOf(err)
	if !ok {
		return true
	}
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// Backoff returns the delay before the retry that leaves retriesLeft-1 attempts.
// The first retry waits BaseDelay and each following one doubles it.
func (c *RetryConfig) Backoff(retriesLeft int) time.Duration {
	return ExponentialBackoff(c.MaxRetries-retriesLeft+1, c.BaseDelay, c.MaxDelay)
}

// ExponentialBackoff calculates base * 2^(attempt-1), capped at maxDelay when maxDelay > 0
func ExponentialBackoff(attempt int, baseDelay time.Duration, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if maxDelay > 0 && delay > maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
