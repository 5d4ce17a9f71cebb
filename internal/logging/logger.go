// Package logging provides leveled logging and iteration tracing for the
// splitting estimator. It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - An IterationLogger for structured JSONL traces of selection rounds
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug for per-trajectory logging.
// At this level, individual clone draws and restart points are included.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// IterationLogger writes per-iteration estimator diagnostics to a JSONL
// file, one selection round per line. It is safe for concurrent use. A nil
// IterationLogger is safe to use; all methods are no-ops on nil receiver.
type IterationLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewIterationLogger creates an iteration logger writing to
// dir/iterations.jsonl. At "info" level (the default), returns nil — no file
// is created. At "debug" or "trace" level, the file is opened for append.
// Returns nil if the file cannot be opened. All methods are nil-safe.
func NewIterationLogger(dir string, level string) *IterationLogger {
	lvl := ParseLevel(level)
	if lvl == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	path := filepath.Join(dir, "iterations.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &IterationLogger{file: f}
}

// Log writes one selection round as a single JSONL line.
// A "time" field is added automatically. The caller's map is not mutated.
// Safe to call on nil receiver.
func (il *IterationLogger) Log(event map[string]any) {
	if il == nil || il.file == nil {
		return
	}

	// Copy to avoid mutating caller's map
	entry := make(map[string]any, len(event)+1)
	for k, v := range event {
		entry[k] = v
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	il.mu.Lock()
	defer il.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = il.file.Write(data)
}

// Close closes the underlying file. Safe to call on nil receiver.
func (il *IterationLogger) Close() {
	if il == nil || il.file == nil {
		return
	}

	il.mu.Lock()
	defer il.mu.Unlock()

	il.file.Close()
	il.file = nil
}
