package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range tests {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestJSONOutputCarriesService(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Options{Service: "frontdesk-service", Level: "info"}, &buf)
	logger.Debug("hidden")
	logger.Info("ticket issued", "number", "G001")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["service"] != "frontdesk-service" || entry["number"] != "G001" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frontdesk.log")
	var buf bytes.Buffer
	logger := newLogger(Options{Format: "text", File: path, MaxSizeMB: 1}, &buf)
	logger.Warn("print failed", "kind", "slip")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "print failed") || !strings.Contains(buf.String(), "kind=slip") {
		t.Fatalf("expected the entry in both outputs, got file=%q stdout=%q", data, buf.String())
	}
}
