package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name: "error without wrapped error",
			appErr: &AppError{
				Code:    CodeBadRequest,
				Message: "bad request",
			},
			expected: "bad request",
		},
		{
			name: "error with wrapped error",
			appErr: &AppError{
				Code:    CodeInternalError,
				Message: "internal error",
				Err:     errors.New("upstream closed connection"),
			},
			expected: "internal error: upstream closed connection",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appErr.Error(); got != tt.expected {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	appErr := Wrap(originalErr, ErrInternalError)

	if unwrapped := appErr.Unwrap(); unwrapped != originalErr {
		t.Errorf("AppError.Unwrap() = %v, want %v", unwrapped, originalErr)
	}
	if !errors.Is(appErr, originalErr) {
		t.Error("errors.Is should find the wrapped error")
	}
}

func TestNewHTTPError(t *testing.T) {
	err := NewHTTPError(http.StatusNotFound, http.MethodGet, "http://upstream/items/1")

	if err.Code != CodeUpstream {
		t.Errorf("Code = %v, want %v", err.Code, CodeUpstream)
	}
	if err.Status != http.StatusNotFound {
		t.Errorf("Status = %v, want 404", err.Status)
	}
	want := "GET http://upstream/items/1: HTTP 404 Not Found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

type statusOnly int

func (s statusOnly) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusOnly) StatusCode() int { return int(s) }

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantOK     bool
	}{
		{"plain error has no status", errors.New("connection reset"), 0, false},
		{"context error has no status", context.DeadlineExceeded, 0, false},
		{"app error", NewHTTPError(503, "GET", "/x"), 503, true},
		{"wrapped app error", fmt.Errorf("fetch: %w", NewHTTPError(429, "GET", "/x")), 429, true},
		{"zero status counts as absent", &AppError{Code: CodeInternalError}, 0, false},
		{"foreign status coder", statusOnly(404), 404, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, ok := StatusOf(tt.err)
			if status != tt.wantStatus || ok != tt.wantOK {
				t.Errorf("StatusOf() = (%d, %v), want (%d, %v)", status, ok, tt.wantStatus, tt.wantOK)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("enqueue: %w", ErrServiceUnavailable)
	if !Is(err, ErrServiceUnavailable) {
		t.Error("Is() should match service unavailable")
	}
	if Is(err, ErrBadRequest) {
		t.Error("Is() should not match bad request")
	}
	if Is(errors.New("other"), ErrServiceUnavailable) {
		t.Error("Is() should not match a plain error")
	}
}

func TestGetStatus(t *testing.T) {
	if got := GetStatus(ErrServiceUnavailable); got != http.StatusServiceUnavailable {
		t.Errorf("GetStatus() = %d, want 503", got)
	}
	if got := GetStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("GetStatus() = %d, want 500", got)
	}
}

func TestWithMessage(t *testing.T) {
	err := ErrBadRequest.WithMessage("missing key")
	if err.Message != "missing key" || err.Code != CodeBadRequest || err.Status != http.StatusBadRequest {
		t.Errorf("WithMessage() = %+v", err)
	}
	if ErrBadRequest.Message != "bad request" {
		t.Error("WithMessage() must not mutate the original")
	}
}

func TestWithError(t *testing.T) {
	cause := errors.New("cause")
	err := ErrServiceUnavailable.WithError(cause)
	if err.Err != cause {
		t.Errorf("WithError() Err = %v, want %v", err.Err, cause)
	}
	if ErrServiceUnavailable.Err != nil {
		t.Error("WithError() must not mutate the original")
	}
}
