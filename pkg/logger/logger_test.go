package logger

import (
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		level  zapcore.Level
	}{
		{"development console", Config{Level: "debug", Development: true, Encoding: "console"}, zapcore.DebugLevel},
		{"production json", Config{Level: "info", Encoding: "json"}, zapcore.InfoLevel},
		{"invalid level falls back to info", Config{Level: "loud", Encoding: "json"}, zapcore.InfoLevel},
		{"error level", Config{Level: "error"}, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if logger == nil {
				t.Fatal("New() returned nil logger")
			}
			if !logger.Core().Enabled(tt.level) {
				t.Errorf("level %v should be enabled", tt.level)
			}
			if tt.level > zapcore.DebugLevel && logger.Core().Enabled(tt.level-1) {
				t.Errorf("level %v should be disabled", tt.level-1)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	oldLevel := os.Getenv("ARCANA_LOG_LEVEL")
	oldEnv := os.Getenv("APP_ENV")
	defer os.Setenv("ARCANA_LOG_LEVEL", oldLevel)
	defer os.Setenv("APP_ENV", oldEnv)

	os.Setenv("ARCANA_LOG_LEVEL", "warn")
	os.Setenv("APP_ENV", "production")

	logger := Default()
	if logger == nil {
		t.Fatal("Default() returned nil")
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be enabled")
	}
}

func TestComponent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	Component(base, "requestqueue", zap.String("instance", "a")).Info("dispatch")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].LoggerName != "requestqueue" {
		t.Errorf("LoggerName = %q, want requestqueue", entries[0].LoggerName)
	}
	if entries[0].ContextMap()["instance"] != "a" {
		t.Errorf("instance field = %v, want a", entries[0].ContextMap()["instance"])
	}
}

func TestComponent_NilLogger(t *testing.T) {
	logger := Component(nil, "x")
	if logger == nil {
		t.Fatal("Component(nil) returned nil")
	}
	logger.Info("dropped")
}
