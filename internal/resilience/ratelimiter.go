package resilience

import (
	"sync"
	"time"
)

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	Name   string        `mapstructure:"name"`
	Rate   int           `mapstructure:"rate"`   // requests per period
	Period time.Duration `mapstructure:"period"` // window length
}

// DefaultRateLimiterConfig returns default configuration
func DefaultRateLimiterConfig(name string) *RateLimiterConfig {
	return &RateLimiterConfig{
		Name:   name,
		Rate:   50,
		Period: time.Second,
	}
}

// RateLimiterMetrics holds rate limiter metrics
type RateLimiterMetrics struct {
	AllowedRequests  int64 `json:"allowed_requests"`
	RejectedRequests int64 `json:"rejected_requests"`
}

// SlidingWindowLimiter admits at most Rate events within any trailing Period.
type SlidingWindowLimiter struct {
	rate       int
	period     time.Duration
	timestamps []time.Time
	metrics    RateLimiterMetrics
	mutex      sync.Mutex
	now        func() time.Time
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter
func NewSlidingWindowLimiter(config *RateLimiterConfig) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		rate:       config.Rate,
		period:     config.Period,
		timestamps: make([]time.Time, 0, config.Rate),
		now:        time.Now,
	}
}

// Allow records an event and returns true if the window has room for it
func (l *SlidingWindowLimiter) Allow() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.timestamps) < l.rate {
		l.timestamps = append(l.timestamps, now)
		l.metrics.AllowedRequests++
		return true
	}

	l.metrics.RejectedRequests++
	return false
}

// prune drops timestamps outside the window (must be called with mutex held)
func (l *SlidingWindowLimiter) prune(now time.Time) {
	windowStart := now.Add(-l.period)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(windowStart) {
		i++
	}
	if i > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[i:]...)
	}
}

// Count returns the number of events inside the current window without mutating state
func (l *SlidingWindowLimiter) Count() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	windowStart := l.now().Add(-l.period)
	n := 0
	for _, ts := range l.timestamps {
		if ts.After(windowStart) {
			n++
		}
	}
	return n
}

// RetryAfter returns how long until Allow can next succeed, zero if it can now
func (l *SlidingWindowLimiter) RetryAfter() time.Duration {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.rate <= 0 {
		return l.period
	}
	now := l.now()
	l.prune(now)
	if len(l.timestamps) < l.rate {
		return 0
	}
	// the window frees up as soon as enough of the oldest events age out
	idx := len(l.timestamps) - l.rate
	return l.timestamps[idx].Add(l.period).Sub(now)
}

// SetRate changes the number of events admitted per period
func (l *SlidingWindowLimiter) SetRate(rate int) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.rate = rate
}

// Rate returns the configured rate
func (l *SlidingWindowLimiter) Rate() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.rate
}

// Metrics returns current metrics
func (l *SlidingWindowLimiter) Metrics() RateLimiterMetrics {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.metrics
}
