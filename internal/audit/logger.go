package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/adapter"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
)

// Outcomes.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
)

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time              `json:"ts"`
	User      string                 `json:"user"`
	RobotID   string                 `json:"robotId"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params"`
	Outcome   string                 `json:"outcome"`
	Code      string                 `json:"code"`
	LatencyMs float64                `json:"latencyMs"`
	Error     string                 `json:"error,omitempty"`
}

type userKey struct{}

// WithUser attaches the acting user to ctx.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the acting user, or "system".
func UserFromContext(ctx context.Context) string {
	if user, ok := ctx.Value(userKey{}).(string); ok && user != "" {
		return user
	}
	return "system"
}

// Logger appends entries to a size-rotated file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      *lumberjack.Logger
	now      func() time.Time
}

// NewLogger opens the audit log described by cfg.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit path must be set")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return &Logger{
		filePath: cfg.Path,
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
		now: time.Now,
	}, nil
}

// LogAction records one action. A nil err is a success.
func (l *Logger) LogAction(ctx context.Context, action, robotID string, params map[string]interface{}, err error, latency time.Duration) {
	if params == nil {
		params = map[string]interface{}{}
	}
	entry := Entry{
		Timestamp: l.now().UTC(),
		User:      UserFromContext(ctx),
		RobotID:   robotID,
		Action:    action,
		Params:    params,
		Outcome:   OutcomeSuccess,
		Code:      CodeFor(err),
		LatencyMs: float64(latency) / float64(time.Millisecond),
	}
	if err != nil {
		entry.Outcome = OutcomeFailure
		entry.Error = err.Error()
	}
	l.writeEntry(entry)
}

// CodeFor maps an error to its audit code.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, context.Canceled):
		return "CANCELED"
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	}
	if code := adapter.CodeOf(err); code != nil {
		return code.Error()
	}
	return "ERROR"
}

func (l *Logger) writeEntry(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

// GetFilePath returns the active log file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}

// Rotate starts a new file, keeping the old one as a backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Rotate()
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
