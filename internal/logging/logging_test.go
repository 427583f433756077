package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "warn", FormatJSON)
	if err != nil {
		t.Fatal(err)
	}

	logger.Info().Msg("hidden")
	logger.Warn().Str("tag", "PH-01").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line above the level, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Expected JSON output: %v", err)
	}
	if entry["tag"] != "PH-01" || entry["level"] != "warn" || entry["time"] == nil {
		t.Errorf("Unexpected entry %v", entry)
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "", FormatConsole)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info().Msg("hello")
	if !strings.Contains(buf.String(), "hello") || strings.HasPrefix(buf.String(), "{") {
		t.Errorf("Expected console output, got %q", buf.String())
	}
}

func TestNewInvalid(t *testing.T) {
	if _, err := NewWithWriter(&bytes.Buffer{}, "loud", FormatJSON); err == nil {
		t.Error("Expected invalid level error")
	}
	if _, err := NewWithWriter(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("Expected invalid format error")
	}
}
