package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	apperrors "github.com/jrjohn/arcana-request-queue/pkg/errors"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %v, want 3", cfg.MaxRetries)
	}
	if cfg.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", cfg.BaseDelay)
	}
}

func TestIsRetryable(t *testing.T) {
	status := func(code int) error {
		return apperrors.NewHTTPError(code, http.MethodGet, "http://upstream")
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network error", errors.New("connection refused"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"429", status(http.StatusTooManyRequests), true},
		{"500", status(http.StatusInternalServerError), true},
		{"503 wrapped", fmt.Errorf("call: %w", status(http.StatusServiceUnavailable)), true},
		{"599", status(599), true},
		{"400", status(http.StatusBadRequest), false},
		{"401", status(http.StatusUnauthorized), false},
		{"404", status(http.StatusNotFound), false},
		{"600", status(600), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryConfig_Backoff(t *testing.T) {
	cfg := &RetryConfig{MaxRetries: 3, BaseDelay: time.Second}

	tests := []struct {
		retriesLeft int
		want        time.Duration
	}{
		{3, time.Second},
		{2, 2 * time.Second},
		{1, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := cfg.Backoff(tt.retriesLeft); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.retriesLeft, got, tt.want)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		max     time.Duration
		want    time.Duration
	}{
		{0, 0, 100 * time.Millisecond},
		{1, 0, 100 * time.Millisecond},
		{4, 0, 800 * time.Millisecond},
		{4, 500 * time.Millisecond, 500 * time.Millisecond},
		{40, time.Second, time.Second},
	}
	for _, tt := range tests {
		if got := ExponentialBackoff(tt.attempt, 100*time.Millisecond, tt.max); got != tt.want {
			t.Errorf("ExponentialBackoff(%d, max=%v) = %v, want %v", tt.attempt, tt.max, got, tt.want)
		}
	}
}

func TestSleep(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("Sleep() = %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Sleep() returned early")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() on cancelled ctx = %v, want context.Canceled", err)
	}
}
