package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

// TestJSONLoggerLevels tests that messages below the configured level are dropped
func TestJSONLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d: %q", len(lines), buf.String())
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Failed to parse log entry: %v", err)
	}
	if entry.Level != "WARN" {
		t.Errorf("Expected level WARN, got %s", entry.Level)
	}
	if entry.Message != "warn message" {
		t.Errorf("Expected message 'warn message', got %q", entry.Message)
	}
}

// TestWithFields tests that child loggers carry pre-set fields
func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	child := logger.With(Component("controller"), ProcessID("proc-1"))
	child.Info("worker registered", Address("10.0.0.1:4500"))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log entry: %v", err)
	}

	if entry.Fields["component"] != "controller" {
		t.Errorf("Expected component 'controller', got %v", entry.Fields["component"])
	}
	if entry.Fields["process_id"] != "proc-1" {
		t.Errorf("Expected process_id 'proc-1', got %v", entry.Fields["process_id"])
	}
	if entry.Fields["address"] != "10.0.0.1:4500" {
		t.Errorf("Expected address field, got %v", entry.Fields["address"])
	}
}

// TestErrorField tests the error field constructor with nil errors
func TestErrorField(t *testing.T) {
	f := Error(nil)
	if f.Value != nil {
		t.Errorf("Expected nil value for nil error, got %v", f.Value)
	}
}
