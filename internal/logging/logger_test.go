package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.With("session", "default").Info("session started", "pid", 42)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v: %q", err, buf.String())
	}
	if entry["msg"] != "session started" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["session"] != "default" {
		t.Errorf("session = %v", entry["session"])
	}
	if entry["pid"] != float64(42) {
		t.Errorf("pid = %v", entry["pid"])
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("below-level messages logged: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn message missing: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	if got := formatValue(errors.New("boom")); got != "boom" {
		t.Errorf("error value = %q", got)
	}
	if got := formatValue(3); got != "3" {
		t.Errorf("int value = %q", got)
	}
}

func TestInitSentry_EmptyDSN(t *testing.T) {
	cleanup, err := InitSentry(SentryConfig{})
	if err != nil {
		t.Fatalf("InitSentry: %v", err)
	}
	cleanup()
	if sentryEnabled {
		t.Error("sentry enabled without DSN")
	}
}
