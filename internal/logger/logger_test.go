package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func captureOutput(t *testing.T, level LogLevel) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(WARN)
	})
	return &buf
}

func lastEntry(t *testing.T, output string) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("Expected valid JSON log entry, got error: %v (%q)", err, output)
	}
	return entry
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name     string
		logFunc  func(string, ...map[string]interface{})
		expected string
	}{
		{"debug", Debug, "debug"},
		{"info", Info, "info"},
		{"warn", Warn, "warning"},
		{"error", Error, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureOutput(t, DEBUG)

			tt.logFunc("test message", map[string]interface{}{"order_id": "o1"})

			entry := lastEntry(t, buf.String())
			if entry["level"] != tt.expected {
				t.Errorf("Expected level %s, got %v", tt.expected, entry["level"])
			}
			if entry["message"] != "test message" {
				t.Errorf("Expected message 'test message', got %v", entry["message"])
			}
			if entry["order_id"] != "o1" {
				t.Errorf("Expected order_id=o1, got %v", entry["order_id"])
			}
			if _, ok := entry["timestamp"]; !ok {
				t.Error("Expected timestamp field")
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t, WARN)

	Debug("hidden")
	Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected no output below WARN, got %q", buf.String())
	}

	Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("Expected warn output, got %q", buf.String())
	}
}

func TestSensitiveFieldsAreRedacted(t *testing.T) {
	buf := captureOutput(t, INFO)

	Info("license allocated", map[string]interface{}{
		"license_key":    "RING0-ABCD-EFGH-JKLM-NPQR",
		"webhook_secret": "short",
		"signature":      12345,
		"order_number":   "STRIPE-1234ABCD",
	})

	entry := lastEntry(t, buf.String())
	if entry["license_key"] != "RIN...PQR" {
		t.Errorf("Expected partially masked license_key, got %v", entry["license_key"])
	}
	if entry["webhook_secret"] != "[REDACTED]" {
		t.Errorf("Expected short secret to be redacted, got %v", entry["webhook_secret"])
	}
	if entry["signature"] != "[REDACTED]" {
		t.Errorf("Expected non-string signature to be redacted, got %v", entry["signature"])
	}
	if entry["order_number"] != "STRIPE-1234ABCD" {
		t.Errorf("Expected order_number untouched, got %v", entry["order_number"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Error", ERROR},
		{"", INFO},
		{"verbose", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestMergeFields(t *testing.T) {
	merged := mergeFields(
		map[string]interface{}{"a": 1, "b": 2},
		map[string]interface{}{"b": 3},
	)
	if merged["a"] != 1 || merged["b"] != 3 {
		t.Errorf("Expected later maps to win, got %v", merged)
	}
}
