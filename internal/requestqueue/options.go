package requestqueue

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type options struct {
	priority    int
	maxRetries  int
	cacheTTL    time.Duration
	skipCache   bool
	deduplicate bool
	timeout     time.Duration
	category    string
}

// Option configures a single call to Do, Enqueue or QueuedFetch.
type Option func(*options)

// WithPriority sets the priority; larger values are dispatched first.
func WithPriority(p int) Option {
	return func(o *options) {
		o.priority = p
	}
}

// WithMaxRetries sets how many retries follow the first attempt.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.maxRetries = n
	}
}

// WithCacheTTL sets how long a successful result stays cached. Zero disables the write.
func WithCacheTTL(d time.Duration) Option {
	return func(o *options) {
		o.cacheTTL = d
	}
}

// SkipCache bypasses the cache read. A successful result is still written.
func SkipCache() Option {
	return func(o *options) {
		o.skipCache = true
	}
}

// WithDeduplicate controls whether concurrent calls with the same key share one execution.
func WithDeduplicate(enabled bool) Option {
	return func(o *options) {
		o.deduplicate = enabled
	}
}

// WithTimeout bounds each attempt. The slot is released when it fires even if
// the operation ignores its context.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithCategory selects the circuit breaker that tracks this call's failures.
func WithCategory(name string) Option {
	return func(o *options) {
		o.category = name
	}
}

// QueueOption configures a Queue at construction.
type QueueOption func(*Queue)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) QueueOption {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) QueueOption {
	return func(q *Queue) {
		if r != nil {
			q.recorder = r
		}
	}
}

// WithTracer sets the tracer used for per-attempt spans
func WithTracer(t trace.Tracer) QueueOption {
	return func(q *Queue) {
		if t != nil {
			q.tracer = t
		}
	}
}
