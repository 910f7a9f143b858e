// Package requestqueue schedules caller-supplied operations under a concurrency
// cap and a sliding-window rate limit, with response caching, in-flight
// deduplication, retry with exponential backoff and circuit breaking.
package requestqueue

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-request-queue/internal/resilience"
	apperrors "github.com/jrjohn/arcana-request-queue/pkg/errors"
)

// Func is the queued operation. The context carries the caller's values but
// is not cancelled when the caller stops waiting; it ends only on timeout.
type Func func(ctx context.Context) (any, error)

// ErrTypeMismatch is returned by Enqueue when a cached or shared result has another type.
var ErrTypeMismatch = &apperrors.AppError{
	Code:    apperrors.CodeTypeMismatch,
	Message: "requestqueue: result type does not match",
}

// ErrClosed settles requests still queued or backing off when the queue closes,
// and rejects new work afterwards.
var ErrClosed = &apperrors.AppError{
	Code:    apperrors.CodeServiceUnavailable,
	Message: "requestqueue: queue closed",
	Status:  http.StatusServiceUnavailable,
}

// call is the outcome shared by every caller waiting on one execution
type call struct {
	key     string
	done    chan struct{}
	val     any
	err     error
	created time.Time
	waiters int
	settled bool
	req     *request
}

type request struct {
	id         string
	key        string
	fn         Func
	ctx        context.Context
	call       *call
	priority   int
	retries    int
	maxRetries int
	cacheTTL   time.Duration
	timeout    time.Duration
	category   string
	queued     bool
}

// Stats is a point-in-time snapshot of the queue.
//
// CircuitOpen is the state of the default breaker as last recorded. Breakers
// close lazily, so CircuitResetDue is set when that open breaker would close
// on the next request.
type Stats struct {
	Pending            int                                         `json:"pending"`
	Active             int                                         `json:"active"`
	CacheSize          int                                         `json:"cache_size"`
	CircuitOpen        bool                                        `json:"circuit_open"`
	CircuitResetDue    bool                                        `json:"circuit_reset_due"`
	RequestsLastSecond int                                         `json:"requests_last_second"`
	Circuits           map[string]string                           `json:"circuits"`
	CircuitMetrics     map[string]resilience.CircuitBreakerMetrics `json:"circuit_metrics"`
	Limiter            resilience.RateLimiterMetrics               `json:"limiter"`
}

// Queue is a request scheduler. Construct one per upstream with New and share it.
type Queue struct {
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
	tracer   trace.Tracer
	now      func() time.Time

	// ends backoff sleeps on Close
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closed      bool
	pending     []*request
	active      int
	concurrency int
	inflight    map[string]*call
	wakeup      *time.Timer

	limiter  *resilience.SlidingWindowLimiter
	cache    *responseCache
	breakers *resilience.CircuitBreakerRegistry
}

// New creates a queue. Unset limits in cfg fall back to DefaultConfig; request
// defaults are taken as given.
func New(cfg Config, opts ...QueueOption) *Queue {
	cfg = withDefaults(cfg)

	q := &Queue{
		cfg:         cfg,
		logger:      zap.NewNop(),
		recorder:    nopRecorder{},
		tracer:      otel.Tracer("requestqueue"),
		now:         time.Now,
		concurrency: cfg.Concurrency,
		inflight:    make(map[string]*call),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())

	q.limiter = resilience.NewSlidingWindowLimiter(&resilience.RateLimiterConfig{
		Name:   "requestqueue",
		Rate:   cfg.RateLimit,
		Period: cfg.RateWindow,
	})
	q.cache = newResponseCache(cfg.CacheCapacity, func() time.Time { return q.now() })
	breakerCfg := cfg.Breaker
	q.breakers = resilience.NewCircuitBreakerRegistry(&breakerCfg, q.logger)
	for _, circuit := range cfg.Circuits {
		if circuit.FailureThreshold < 1 {
			circuit.FailureThreshold = breakerCfg.FailureThreshold
		}
		if circuit.ResetTimeout <= 0 {
			circuit.ResetTimeout = breakerCfg.ResetTimeout
		}
		q.breakers.RegisterConfig(&circuit)
	}
	// created eagerly so Stats never has to create it
	q.breakers.Get(resilience.DefaultCategory)

	q.logger.Info("Request queue initialized",
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int("rate_limit", cfg.RateLimit),
		zap.Duration("rate_window", cfg.RateWindow),
		zap.Int("cache_capacity", cfg.CacheCapacity),
		zap.String("retry_placement", string(cfg.RetryPlacement)),
	)
	return q
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.RateLimit < 1 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.CacheCapacity < 1 {
		cfg.CacheCapacity = def.CacheCapacity
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = def.DedupWindow
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.RetryPlacement == "" {
		cfg.RetryPlacement = def.RetryPlacement
	}
	if cfg.Breaker.FailureThreshold < 1 {
		cfg.Breaker.FailureThreshold = def.Breaker.FailureThreshold
	}
	if cfg.Breaker.ResetTimeout <= 0 {
		cfg.Breaker.ResetTimeout = def.Breaker.ResetTimeout
	}
	return cfg
}

func (q *Queue) requestOptions(opts []Option) *options {
	o := &options{
		priority:    q.cfg.Defaults.Priority,
		maxRetries:  q.cfg.Defaults.MaxRetries,
		cacheTTL:    q.cfg.Defaults.CacheTTL,
		timeout:     q.cfg.Defaults.Timeout,
		deduplicate: true,
		category:    resilience.DefaultCategory,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.category == "" {
		o.category = resilience.DefaultCategory
	}
	return o
}

// Do runs fn under the queue's policies and blocks until it settles or ctx is done.
//
// In order: a fresh cache entry for key is returned without queueing; a
// deduplicating call joins an in-flight execution for key started within the
// dedup window; an open circuit rejects with ErrServiceUnavailable; otherwise
// the request is queued by priority.
func (q *Queue) Do(ctx context.Context, key string, fn Func, opts ...Option) (any, error) {
	o := q.requestOptions(opts)

	if !o.skipCache {
		if v, ok := q.cache.Get(key); ok {
			q.recorder.RecordCacheHit(ctx)
			return v, nil
		}
		q.recorder.RecordCacheMiss(ctx)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	if o.deduplicate {
		if c, ok := q.inflight[key]; ok && q.now().Sub(c.created) < q.cfg.DedupWindow {
			c.waiters++
			q.mu.Unlock()
			q.recorder.RecordDedupJoin(ctx)
			return q.wait(ctx, c)
		}
	}

	if err := q.breakers.Get(o.category).Allow(); err != nil {
		q.mu.Unlock()
		q.logger.Warn("Request rejected, circuit open",
			zap.String("key", key),
			zap.String("category", o.category),
		)
		q.recorder.RecordCircuitRejected(ctx, o.category)
		return nil, err
	}

	c := &call{
		key:     key,
		done:    make(chan struct{}),
		created: q.now(),
		waiters: 1,
	}
	req := &request{
		id:         uuid.NewString(),
		key:        key,
		fn:         fn,
		ctx:        context.WithoutCancel(ctx),
		call:       c,
		priority:   o.priority,
		retries:    o.maxRetries,
		maxRetries: o.maxRetries,
		cacheTTL:   o.cacheTTL,
		timeout:    o.timeout,
		category:   o.category,
	}
	c.req = req

	q.insertByPriorityLocked(req)
	if o.deduplicate {
		q.inflight[key] = c
	}
	q.logger.Debug("Request enqueued",
		zap.String("id", req.id),
		zap.String("key", key),
		zap.Int("priority", req.priority),
		zap.Int("pending", len(q.pending)),
	)
	q.drainLocked()
	q.mu.Unlock()

	q.recorder.RecordEnqueued(ctx, o.priority)
	return q.wait(ctx, c)
}

func (q *Queue) wait(ctx context.Context, c *call) (any, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
	}

	select {
	case <-c.done:
		return c.val, c.err
	default:
	}
	q.leave(c, ctx.Err())
	return nil, ctx.Err()
}

// leave drops one waiter; the last one out withdraws a request that has not been dispatched
func (q *Queue) leave(c *call, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	c.waiters--
	if c.waiters > 0 || c.settled || c.req == nil || !c.req.queued {
		return
	}
	q.removePendingLocked(c.req)
	q.logger.Debug("Request withdrawn before dispatch",
		zap.String("id", c.req.id),
		zap.String("key", c.key),
		zap.Error(cause),
	)
	q.settleLocked(c, nil, cause)
}

// insertByPriorityLocked places req before the first request with a strictly lower priority
func (q *Queue) insertByPriorityLocked(req *request) {
	idx := len(q.pending)
	for i, r := range q.pending {
		if r.priority < req.priority {
			idx = i
			break
		}
	}
	q.pending = slices.Insert(q.pending, idx, req)
	req.queued = true
}

func (q *Queue) removePendingLocked(req *request) {
	if i := slices.Index(q.pending, req); i >= 0 {
		q.pending = slices.Delete(q.pending, i, i+1)
	}
	req.queued = false
}

// drainLocked dispatches from the head while a slot is free and the limiter admits.
// When only the limiter blocks it arms a timer so the queue does not stall.
func (q *Queue) drainLocked() {
	if q.closed {
		return
	}
	for len(q.pending) > 0 && q.active < q.concurrency {
		if !q.limiter.Allow() {
			q.armWakeupLocked()
			return
		}

		req := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		req.queued = false
		q.active++

		q.logger.Debug("Request dispatched",
			zap.String("id", req.id),
			zap.String("key", req.key),
			zap.Int("priority", req.priority),
			zap.Int("active", q.active),
		)
		go q.run(req)
	}
}

func (q *Queue) armWakeupLocked() {
	if q.wakeup != nil {
		return
	}
	delay := q.limiter.RetryAfter()
	if delay <= 0 {
		delay = time.Millisecond
	}
	q.wakeup = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.wakeup = nil
		q.drainLocked()
	})
}

func (q *Queue) run(req *request) {
	defer func() {
		q.mu.Lock()
		q.active--
		q.drainLocked()
		q.mu.Unlock()
	}()
	q.execute(req)
}

func (q *Queue) execute(req *request) {
	breaker := q.breakers.Get(req.category)

	start := time.Now()
	val, err := q.attempt(req)
	q.recorder.RecordAttempt(req.ctx, req.category, time.Since(start), err)

	if err == nil {
		breaker.RecordSuccess()
		if req.cacheTTL > 0 {
			q.cache.Set(req.key, val, req.cacheTTL)
		}
		q.settle(req.call, val, nil)
		return
	}

	breaker.RecordFailure()

	if req.retries > 0 && resilience.IsRetryable(err) {
		policy := resilience.RetryConfig{
			MaxRetries: req.maxRetries,
			BaseDelay:  q.cfg.BackoffBase,
			MaxDelay:   q.cfg.BackoffMax,
		}
		delay := policy.Backoff(req.retries)
		q.logger.Debug("Request failed, retrying",
			zap.String("id", req.id),
			zap.String("key", req.key),
			zap.Int("retries_left", req.retries),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		q.recorder.RecordRetry(req.ctx, req.category)

		// the slot stays held for the whole backoff
		if resilience.Sleep(q.ctx, delay) != nil {
			q.settle(req.call, nil, ErrClosed)
			return
		}

		q.mu.Lock()
		defer q.mu.Unlock()
		req.retries--
		if q.closed {
			q.settleLocked(req.call, nil, ErrClosed)
			return
		}
		if req.call.waiters <= 0 {
			q.settleLocked(req.call, nil, context.Canceled)
			return
		}
		q.requeueLocked(req)
		q.drainLocked()
		return
	}

	q.logger.Debug("Request failed",
		zap.String("id", req.id),
		zap.String("key", req.key),
		zap.Bool("retryable", resilience.IsRetryable(err)),
		zap.Int("breaker_failures", breaker.Failures()),
		zap.Error(err),
	)
	q.settle(req.call, nil, err)
}

func (q *Queue) requeueLocked(req *request) {
	if q.cfg.RetryPlacement == RetryByPriority {
		q.insertByPriorityLocked(req)
		return
	}
	q.pending = slices.Insert(q.pending, 0, req)
	req.queued = true
}

// attempt runs the operation once inside a span, enforcing the request timeout
func (q *Queue) attempt(req *request) (any, error) {
	ctx, span := q.tracer.Start(req.ctx, "requestqueue.execute",
		trace.WithAttributes(
			attribute.String("requestqueue.id", req.id),
			attribute.String("requestqueue.key", req.key),
			attribute.String("requestqueue.category", req.category),
			attribute.Int("requestqueue.priority", req.priority),
			attribute.Int("requestqueue.attempt", req.maxRetries-req.retries+1),
		),
	)
	defer span.End()

	val, err := q.invoke(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return val, err
}

func (q *Queue) invoke(ctx context.Context, req *request) (any, error) {
	if req.timeout <= 0 {
		return q.safeCall(ctx, req)
	}

	ctx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	type result struct {
		val any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		val, err := q.safeCall(ctx, req)
		ch <- result{val, err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("requestqueue: %s timed out after %s: %w", req.key, req.timeout, ctx.Err())
	}
}

func (q *Queue) safeCall(ctx context.Context, req *request) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Queued operation panicked",
				zap.String("id", req.id),
				zap.String("key", req.key),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("requestqueue: operation panicked: %v", r)
		}
	}()
	return req.fn(ctx)
}

func (q *Queue) settle(c *call, val any, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.settleLocked(c, val, err)
}

func (q *Queue) settleLocked(c *call, val any, err error) {
	if c.settled {
		return
	}
	c.settled = true
	c.val = val
	c.err = err
	close(c.done)
	if q.inflight[c.key] == c {
		delete(q.inflight, c.key)
	}
}

// Stats returns a snapshot without side effects
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	pending := len(q.pending)
	active := q.active
	q.mu.Unlock()

	circuits := make(map[string]string)
	for name, state := range q.breakers.States() {
		circuits[name] = state.String()
	}
	breaker := q.breakers.Get(resilience.DefaultCategory)

	return Stats{
		Pending:            pending,
		Active:             active,
		CacheSize:          q.cache.Len(),
		CircuitOpen:        breaker.IsOpen(),
		CircuitResetDue:    breaker.ResetDue(),
		RequestsLastSecond: q.limiter.Count(),
		Circuits:           circuits,
		CircuitMetrics:     q.breakers.GetMetrics(),
		Limiter:            q.limiter.Metrics(),
	}
}

// ClearCache drops every cached result. Queued and running requests are unaffected.
func (q *Queue) ClearCache() {
	q.cache.Clear()
	q.logger.Info("Request cache cleared")
}

// PurgeExpired removes expired cache entries and returns how many were dropped
func (q *Queue) PurgeExpired() int {
	return q.cache.PurgeExpired()
}

// ResetCircuits closes every circuit breaker
func (q *Queue) ResetCircuits() {
	q.breakers.Reset()
}

// SetLimits changes the concurrency cap and the rate limit; values below 1 are ignored
func (q *Queue) SetLimits(concurrency, rateLimit int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if concurrency >= 1 {
		q.concurrency = concurrency
	}
	if rateLimit >= 1 {
		q.limiter.SetRate(rateLimit)
	}
	q.logger.Info("Request queue limits updated",
		zap.Int("concurrency", q.concurrency),
		zap.Int("rate_limit", q.limiter.Rate()),
	)
	q.drainLocked()
}

// Close stops the queue. Pending requests and requests waiting out a retry
// backoff settle with ErrClosed; running attempts finish. Calls to Do that are
// not answered from the cache fail with ErrClosed afterwards.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cancel()
	if q.wakeup != nil {
		q.wakeup.Stop()
		q.wakeup = nil
	}

	dropped := len(q.pending)
	for _, req := range q.pending {
		req.queued = false
		q.settleLocked(req.call, nil, ErrClosed)
	}
	q.pending = nil

	q.logger.Info("Request queue closed",
		zap.Int("dropped", dropped),
		zap.Int("active", q.active),
	)
}

// Enqueue is the typed form of Do.
func Enqueue[T any](ctx context.Context, q *Queue, key string, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	var zero T
	v, err := q.Do(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, opts...)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, ErrTypeMismatch.WithMessage(fmt.Sprintf("requestqueue: %s holds %T, want %T", key, v, zero))
	}
	return t, nil
}
