package resilience

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/jrjohn/arcana-request-queue/pkg/errors"
)

func newTestLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

// fakeClock is advanced by hand in breaker and limiter tests
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	}, newTestLogger())
	cb.now = clock.Now
	return cb, clock
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State.String() = %v, want %v", got, tt.expected)
		}
	}
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("test")
	if cfg.Name != "test" {
		t.Errorf("Name = %v, want test", cfg.Name)
	}
	if cfg.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %v, want 5", cfg.FailureThreshold)
	}
	if cfg.ResetTimeout != 30*time.Second {
		t.Errorf("ResetTimeout = %v, want 30s", cfg.ResetTimeout)
	}
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"), nil)

	if cb.State() != StateClosed {
		t.Errorf("Initial state = %v, want CLOSED", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() on closed breaker = %v", err)
	}
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.IsOpen() {
		t.Fatal("breaker opened before threshold")
	}

	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatal("breaker should be open after 3 failures")
	}

	err := cb.Allow()
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
	if !apperrors.Is(err, apperrors.ErrServiceUnavailable) {
		t.Error("circuit open error should be a service unavailable error")
	}
	if got := cb.Metrics().RejectedCalls; got != 1 {
		t.Errorf("RejectedCalls = %d, want 1", got)
	}
}

func TestCircuitBreaker_LazyResetAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(2, 30*time.Second)
	cb.RecordFailure()
	cb.RecordFailure()

	clock.Advance(30 * time.Second)
	if err := cb.Allow(); err == nil {
		t.Fatal("Allow() must still reject at exactly the reset timeout")
	}
	// nothing closes the breaker between calls
	if !cb.IsOpen() {
		t.Fatal("breaker closed without an Allow() call")
	}

	clock.Advance(time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after timeout = %v", err)
	}
	if cb.IsOpen() {
		t.Error("breaker should be closed after lazy reset")
	}
	if cb.Failures() != 0 {
		t.Errorf("Failures() = %d, want 0 after reset", cb.Failures())
	}
}

func TestCircuitBreaker_ResetDue(t *testing.T) {
	cb, clock := newTestBreaker(1, 30*time.Second)
	if cb.ResetDue() {
		t.Fatal("ResetDue() = true on a closed breaker")
	}

	cb.RecordFailure()
	clock.Advance(30 * time.Second)
	if cb.ResetDue() {
		t.Fatal("ResetDue() = true at exactly the reset timeout")
	}

	clock.Advance(time.Millisecond)
	for i := 0; i < 2; i++ {
		if !cb.ResetDue() {
			t.Fatal("ResetDue() = false after the reset timeout")
		}
	}
	if !cb.IsOpen() {
		t.Error("ResetDue() must not close the breaker")
	}
	if m := cb.Metrics(); m.StateTransitions != 1 || m.RejectedCalls != 0 {
		t.Errorf("Metrics() = %+v, want one transition and no rejections", m)
	}

	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v once the reset is due", err)
	}
	if cb.ResetDue() {
		t.Error("ResetDue() = true after the breaker closed")
	}
}

func TestCircuitBreaker_SuccessDoesNotCloseOpenBreaker(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()

	cb.RecordSuccess()

	if !cb.IsOpen() {
		t.Error("a success must not close an open breaker")
	}
	if cb.Failures() != 0 {
		t.Errorf("Failures() = %d, want 0 after success", cb.Failures())
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.IsOpen() {
		t.Error("failures interrupted by a success should not reach the threshold")
	}
}

func TestCircuitBreaker_FailureWhileOpenExtendsWindow(t *testing.T) {
	cb, clock := newTestBreaker(1, 10*time.Second)
	cb.RecordFailure()

	clock.Advance(8 * time.Second)
	cb.RecordFailure()

	clock.Advance(5 * time.Second)
	if err := cb.Allow(); err == nil {
		t.Error("late failure should push the reset out")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	cb.RecordFailure()
	cb.Reset()

	if cb.IsOpen() {
		t.Error("Reset() should close the breaker")
	}
	m := cb.Metrics()
	if m.StateTransitions != 2 {
		t.Errorf("StateTransitions = %d, want 2", m.StateTransitions)
	}
	if m.FailedCalls != 1 {
		t.Errorf("FailedCalls = %d, want 1", m.FailedCalls)
	}
}
