// Package state persists the solved-problem snapshot between cycles.
//
// The snapshot is always written as a whole. Both drivers make a save atomic
// so a crash mid-write never leaves a snapshot that Load cannot read.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "simlog/pkg/logx"
)

// Store is the persistence API used by the reconciler.
type Store interface {
	// Exists reports whether a snapshot was ever saved.
	Exists(ctx context.Context) (bool, error)
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
	Close() error
}

// Config configures the state store.
//
// Driver values:
//   - "file" (default): JSON document written atomically (temp + rename)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// CorruptStateError reports a persisted snapshot that does not have the
// expected shape. It is never recovered from automatically.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt state %s: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

// IsCorrupt reports whether err is (or wraps) a *CorruptStateError.
func IsCorrupt(err error) bool {
	var ce *CorruptStateError
	return errors.As(err, &ce)
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("state.path is required")
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown state driver: " + driver)
	}
}
