package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"none", LogLevelNone},
		{"off", LogLevelNone},
		{"error", LogLevelError},
		{"warn", LogLevelWarn},
		{"warning", LogLevelWarn},
		{"info", LogLevelInfo},
		{"debug", LogLevelDebug},
		{"DEBUG", LogLevelDebug},
		{"bogus", LogLevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestDefaultLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger("migrate")
	l.SetOutput(&buf)
	l.SetLevel(LogLevelWarn)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below level should be suppressed, got: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("messages at or above level should be logged, got: %s", out)
	}
	if !strings.Contains(out, "migrate") {
		t.Errorf("prefix missing from output: %s", out)
	}
}

func TestNullLogger(t *testing.T) {
	l := NewNullLogger()
	l.Info("should not panic")
	l.SetLevel(LogLevelDebug)
	if l.GetLevel() != LogLevelDebug {
		t.Errorf("GetLevel() = %v, want %v", l.GetLevel(), LogLevelDebug)
	}
}
