package logger

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"invalid", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tc := range testCases {
		result := ParseLevel(tc.input)
		if result != tc.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tc.input, result, tc.expected)
		}
	}
}

func TestZapLogging(t *testing.T) {
	jsonLogger := NewFromConfig("info", "json")
	textLogger := NewFromConfig("debug", "text")

	// These should not panic
	jsonLogger.Info("test message", String("key1", "value1"), Int("key2", 42))
	textLogger.Debug("debug message", String("component", "test"), Bool("ok", true))
	textLogger.Warn("slow write", Duration("took", time.Second), Int64("bytes", 1<<20))
}

func TestWithCollection(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := Wrap(zap.New(core))

	log.WithCollection("users").Info("opened")
	log.WithFields(String("backend", "file")).Error("write failed", Error(errors.New("boom")))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["collection"]; got != "users" {
		t.Errorf("expected collection field 'users', got %v", got)
	}
	if got := entries[1].ContextMap()["backend"]; got != "file" {
		t.Errorf("expected backend field 'file', got %v", got)
	}
}

func TestDefaultLogger(t *testing.T) {
	original := GetDefault()
	defer SetDefault(original)

	nop := NewNop()
	SetDefault(nop)
	if GetDefault() != nop {
		t.Error("expected SetDefault to replace the default logger")
	}
	if OrDefault(nil) != nop {
		t.Error("expected OrDefault(nil) to return the default logger")
	}

	other := NewNop()
	if OrDefault(other) != other {
		t.Error("expected OrDefault to keep a non-nil logger")
	}
}
