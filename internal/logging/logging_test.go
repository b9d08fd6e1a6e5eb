package logging

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")

	logger, cleanup, err := New("info", "json", path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("run finished", zap.Int("inserted", 3))
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (debug filtered), got %d: %q", len(lines), data)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["message"] != "run finished" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v", entry["level"])
	}
	if entry["inserted"] != float64(3) {
		t.Errorf("inserted = %v", entry["inserted"])
	}
}

func TestNew_InvalidSettings(t *testing.T) {
	if _, _, err := New("loud", "json", "stderr"); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, _, err := New("info", "xml", "stderr"); err == nil {
		t.Error("expected error for invalid format")
	}
	if _, _, err := New("info", "console", filepath.Join(t.TempDir(), "missing", "dir", "x.log")); err == nil {
		t.Error("expected error for unwritable output")
	}
}

func TestNew_CleanupClosesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")

	logger, cleanup, err := New("info", "console", path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("before close")
	cleanup()
	cleanup() // second call is a no-op

	logger = logger.WithOptions(zap.ErrorOutput(zapcore.AddSync(io.Discard)))
	logger.Info("after close")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "before close") {
		t.Errorf("flushed entry missing: %q", data)
	}
	if strings.Contains(string(data), "after close") {
		t.Errorf("log file still writable after cleanup: %q", data)
	}
}

func TestNew_CleanupOnStandardStreams(t *testing.T) {
	_, cleanup, err := New("info", "console", "stderr")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cleanup()
	if _, err := os.Stderr.Stat(); err != nil {
		t.Errorf("stderr must stay open: %v", err)
	}
}
