package resilience

import (
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/jrjohn/arcana-request-queue/pkg/errors"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned by Allow while the breaker is open and its reset timeout has not elapsed.
var ErrCircuitOpen = apperrors.ErrServiceUnavailable

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Name             string        `mapstructure:"name"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// DefaultCircuitBreakerConfig returns default configuration
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreakerMetrics holds circuit breaker metrics
type CircuitBreakerMetrics struct {
	SuccessfulCalls  int64 `json:"successful_calls"`
	FailedCalls      int64 `json:"failed_calls"`
	RejectedCalls    int64 `json:"rejected_calls"`
	StateTransitions int64 `json:"state_transitions"`
}

// CircuitBreaker counts failures and rejects work once FailureThreshold is reached.
//
// There is no background timer: an open breaker closes only when Allow observes that
// ResetTimeout has passed since the last failure. A success zeroes the failure count
// but leaves an open breaker open.
type CircuitBreaker struct {
	config      *CircuitBreakerConfig
	state       State
	failures    int
	lastFailure time.Time
	metrics     CircuitBreakerMetrics
	mutex       sync.Mutex
	logger      *zap.Logger
	now         func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		logger: logger.With(zap.String("circuit_breaker", config.Name)),
		now:    time.Now,
	}
}

// Allow reports whether new work may start, closing an open breaker whose reset timeout elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateClosed {
		return nil
	}
	if cb.now().Sub(cb.lastFailure) > cb.config.ResetTimeout {
		cb.failures = 0
		cb.transitionTo(StateClosed)
		return nil
	}
	cb.metrics.RejectedCalls++
	return ErrCircuitOpen
}

// RecordSuccess resets the failure count
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.metrics.SuccessfulCalls++
	cb.failures = 0
}

// RecordFailure counts a failure and opens the breaker at the threshold
func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.metrics.FailedCalls++
	cb.failures++
	cb.lastFailure = cb.now()
	if cb.failures >= cb.config.FailureThreshold {
		cb.transitionTo(StateOpen)
	}
}

// transitionTo must be called with mutex held
func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.metrics.StateTransitions++

	cb.logger.Info("Circuit breaker state transition",
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
		zap.Int("failures", cb.failures),
	)
}

// State returns the current state without evaluating the reset timeout
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// IsOpen reports whether the breaker is currently open
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// ResetDue reports whether the breaker is open and its reset timeout has elapsed,
// so the next Allow would close it. It does not change state.
func (cb *CircuitBreaker) ResetDue() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state == StateOpen && cb.now().Sub(cb.lastFailure) > cb.config.ResetTimeout
}

// Failures returns the failure count since the last reset or success
func (cb *CircuitBreaker) Failures() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failures
}

// Metrics returns the current metrics
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.metrics
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.failures = 0
	cb.transitionTo(StateClosed)
}
