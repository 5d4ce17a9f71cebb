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
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"info", "info", slog.LevelInfo},
		{"debug", "debug", slog.LevelDebug},
		{"trace", "trace", LevelTrace},
		{"uppercase INFO", "INFO", slog.LevelInfo},
		{"uppercase TRACE", "TRACE", LevelTrace},
		{"unknown defaults to info", "unknown", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		logAtDebug bool
		logAtInfo  bool
	}{
		{"info filters debug", "info", false, true},
		{"debug passes debug", "debug", true, true},
		{"trace passes debug", "trace", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)

			logger.Debug("debug message")
			hasDebug := strings.Contains(buf.String(), "debug message")
			if hasDebug != tt.logAtDebug {
				t.Errorf("debug message visible = %v, want %v (buf: %q)", hasDebug, tt.logAtDebug, buf.String())
			}

			buf.Reset()
			logger.Info("info message")
			hasInfo := strings.Contains(buf.String(), "info message")
			if hasInfo != tt.logAtInfo {
				t.Errorf("info message visible = %v, want %v (buf: %q)", hasInfo, tt.logAtInfo, buf.String())
			}
		})
	}
}

func TestLevelTrace(t *testing.T) {
	// Trace should be below debug (more verbose)
	if LevelTrace >= slog.LevelDebug {
		t.Errorf("LevelTrace (%d) should be less than LevelDebug (%d)", LevelTrace, slog.LevelDebug)
	}
}

func TestNewIterationLogger_InfoLevel(t *testing.T) {
	dir := t.TempDir()
	il := NewIterationLogger(dir, "info")

	// At info level, the iteration logger should be nil
	if il != nil {
		t.Error("expected nil IterationLogger at info level")
	}

	// Nil logger should still be safe to use
	il.Log(map[string]any{"iteration": 0})

	path := filepath.Join(dir, "iterations.jsonl")
	if _, err := os.Stat(path); err == nil {
		t.Error("iterations.jsonl should not exist at info level")
	}
}

func TestNewIterationLogger_DebugLevel(t *testing.T) {
	dir := t.TempDir()
	il := NewIterationLogger(dir, "debug")
	defer il.Close()

	il.Log(map[string]any{"iteration": 3, "threshold": 0.42, "weight": 0.75})

	path := filepath.Join(dir, "iterations.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read iterations.jsonl: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("failed to parse JSONL entry: %v", err)
	}

	if entry["threshold"] != 0.42 {
		t.Errorf("threshold = %v, want 0.42", entry["threshold"])
	}
	if entry["weight"] != 0.75 {
		t.Errorf("weight = %v, want 0.75", entry["weight"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in iteration log entry")
	}
}

func TestIterationLogger_MultipleWrites(t *testing.T) {
	dir := t.TempDir()
	il := NewIterationLogger(dir, "debug")
	defer il.Close()

	il.Log(map[string]any{"iteration": 0})
	il.Log(map[string]any{"iteration": 1})

	path := filepath.Join(dir, "iterations.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read iterations.jsonl: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), string(data))
	}

	var first, second map[string]any
	json.Unmarshal([]byte(lines[0]), &first)
	json.Unmarshal([]byte(lines[1]), &second)

	if first["iteration"] != float64(0) {
		t.Errorf("first iteration = %v, want 0", first["iteration"])
	}
	if second["iteration"] != float64(1) {
		t.Errorf("second iteration = %v, want 1", second["iteration"])
	}
}

func TestIterationLogger_NilSafety(t *testing.T) {
	// nil IterationLogger should not panic
	var il *IterationLogger
	il.Log(map[string]any{"iteration": 0})
	il.Close()
}

func TestIterationLogger_DoesNotMutateCallerMap(t *testing.T) {
	dir := t.TempDir()
	il := NewIterationLogger(dir, "debug")
	defer il.Close()

	event := map[string]any{"iteration": 0}
	il.Log(event)

	if _, hasTime := event["time"]; hasTime {
		t.Error("Log() should not mutate caller's map, but 'time' was injected")
	}
}

func TestIterationLogger_LogAfterClose(t *testing.T) {
	dir := t.TempDir()
	il := NewIterationLogger(dir, "debug")

	il.Log(map[string]any{"iteration": 0})
	il.Close()

	// Should be a no-op, not panic or error
	il.Log(map[string]any{"iteration": 1})
}

func TestNewIterationLogger_CreatesDir(t *testing.T) {
	base := t.TempDir()
	nestedDir := filepath.Join(base, "sub", "dir")

	il := NewIterationLogger(nestedDir, "debug")
	if il == nil {
		t.Fatal("expected non-nil IterationLogger when dir needs creation")
	}
	defer il.Close()

	il.Log(map[string]any{"iteration": 0})

	path := filepath.Join(nestedDir, "iterations.jsonl")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("iterations.jsonl should exist after dir creation: %v", err)
	}
}
