package requestqueue

import (
	"fmt"
	"time"

	"github.com/jrjohn/arcana-request-queue/internal/resilience"
)

// RetryPlacement decides where a request waiting for a retry re-enters the pending list
type RetryPlacement string

const (
	// RetryFront puts the retried request at the head, ahead of every priority.
	RetryFront RetryPlacement = "front"
	// RetryByPriority reinserts the request with the same ordering as a fresh enqueue.
	RetryByPriority RetryPlacement = "priority"
)

// RequestDefaults are applied to every call before its options
type RequestDefaults struct {
	Priority   int           `mapstructure:"priority"`
	MaxRetries int           `mapstructure:"max_retries"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Config holds request queue configuration
type Config struct {
	Concurrency    int                             `mapstructure:"concurrency"`
	RateLimit      int                             `mapstructure:"rate_limit"`
	RateWindow     time.Duration                   `mapstructure:"rate_window"`
	CacheCapacity  int                             `mapstructure:"cache_capacity"`
	DedupWindow    time.Duration                   `mapstructure:"dedup_window"`
	BackoffBase    time.Duration                   `mapstructure:"backoff_base"`
	BackoffMax     time.Duration                   `mapstructure:"backoff_max"`
	RetryPlacement RetryPlacement                  `mapstructure:"retry_placement"`
	Breaker        resilience.CircuitBreakerConfig `mapstructure:"breaker"`
	Defaults       RequestDefaults                 `mapstructure:"defaults"`

	// Circuits overrides Breaker for named categories. Unset fields fall back to Breaker.
	Circuits []resilience.CircuitBreakerConfig `mapstructure:"circuits"`
}

// DefaultConfig returns default request queue configuration
func DefaultConfig() Config {
	limiter := resilience.DefaultRateLimiterConfig("requestqueue")
	retry := resilience.DefaultRetryConfig()

	return Config{
		Concurrency:    5,
		RateLimit:      limiter.Rate,
		RateWindow:     limiter.Period,
		CacheCapacity:  1000,
		DedupWindow:    30 * time.Second,
		BackoffBase:    retry.BaseDelay,
		BackoffMax:     retry.MaxDelay,
		RetryPlacement: RetryFront,
		Breaker:        *resilience.DefaultCircuitBreakerConfig(resilience.DefaultCategory),
		Defaults: RequestDefaults{
			Priority:   1,
			MaxRetries: retry.MaxRetries,
			CacheTTL:   time.Minute,
		},
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.RateLimit < 1 {
		return fmt.Errorf("rate limit must be at least 1, got %d", c.RateLimit)
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("rate window must be positive")
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("cache capacity must be at least 1, got %d", c.CacheCapacity)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be at least 1, got %d", c.Breaker.FailureThreshold)
	}
	switch c.RetryPlacement {
	case RetryFront, RetryByPriority:
	default:
		return fmt.Errorf("unknown retry placement %q", c.RetryPlacement)
	}
	if c.Defaults.MaxRetries < 0 {
		return fmt.Errorf("default max retries must not be negative")
	}
	seen := make(map[string]bool, len(c.Circuits))
	for _, circuit := range c.Circuits {
		if circuit.Name == "" {
			return fmt.Errorf("circuit override needs a category name")
		}
		if seen[circuit.Name] {
			return fmt.Errorf("duplicate circuit override for %q", circuit.Name)
		}
		seen[circuit.Name] = true
		if circuit.FailureThreshold < 0 || circuit.ResetTimeout < 0 {
			return fmt.Errorf("circuit %q: threshold and reset timeout must not be negative", circuit.Name)
		}
	}
	return nil
}
