package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	cfg := config.Baseline().Audit
	cfg.Path = filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	logger.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %q is not JSON: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestNewLoggerRequiresPath(t *testing.T) {
	if _, err := NewLogger(config.AuditConfig{}); err == nil {
		t.Fatal("NewLogger() succeeded without a path")
	}
}

func TestLogAction(t *testing.T) {
	logger := newTestLogger(t)
	ctx := WithUser(context.Background(), "operator-1")

	logger.LogAction(ctx, "turn", "forklift", map[string]interface{}{"deg": 90.0}, nil, 1500*time.Millisecond)
	logger.LogAction(context.Background(), "move", "forklift", nil,
		fmt.Errorf("tick 3: %w", adapter.ErrTelemetryUnavailable), 3*time.Millisecond)

	entries := readEntries(t, logger.GetFilePath())
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	first := entries[0]
	if first.User != "operator-1" || first.Action != "turn" || first.RobotID != "forklift" {
		t.Errorf("first entry = %+v", first)
	}
	if first.Outcome != OutcomeSuccess || first.Code != "SUCCESS" || first.LatencyMs != 1500 {
		t.Errorf("first outcome = %s/%s/%v", first.Outcome, first.Code, first.LatencyMs)
	}
	if first.Params["deg"] != 90.0 {
		t.Errorf("params = %v", first.Params)
	}
	if !first.Timestamp.Equal(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", first.Timestamp)
	}

	second := entries[1]
	if second.User != "system" || second.Outcome != OutcomeFailure || second.Code != "TELEMETRY_UNAVAILABLE" {
		t.Errorf("second entry = %+v", second)
	}
	if second.Error == "" || second.Params == nil {
		t.Errorf("second entry missing error or params: %+v", second)
	}
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "SUCCESS"},
		{context.Canceled, "CANCELED"},
		{fmt.Errorf("move: %w", context.DeadlineExceeded), "TIMEOUT"},
		{&adapter.PortError{Code: adapter.ErrActuatorWrite, Channel: "hako_cmd_game"}, "ACTUATOR_WRITE_FAILURE"},
		{adapter.ErrCameraTimeout, "CAMERA_TIMEOUT"},
		{errors.New("boom"), "ERROR"},
	}
	for _, tt := range tests {
		if got := CodeFor(tt.err); got != tt.want {
			t.Errorf("CodeFor(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestRotateKeepsBackup(t *testing.T) {
	logger := newTestLogger(t)
	logger.LogAction(context.Background(), "stop", "forklift", nil, nil, 0)

	if err := logger.Rotate(); err != nil {
		t.Fatalf("Rotate() failed: %v", err)
	}
	logger.LogAction(context.Background(), "lift", "forklift", nil, nil, 0)

	files, err := os.ReadDir(filepath.Dir(logger.GetFilePath()))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("found %d files after rotate, want active + backup", len(files))
	}
	if entries := readEntries(t, logger.GetFilePath()); len(entries) != 1 || entries[0].Action != "lift" {
		t.Errorf("active file entries = %+v", entries)
	}
}
