package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	logx "simlog/pkg/logx"
)

// fileStore keeps the snapshot as a single JSON document.
//
// Saves go through atomic.WriteFile: the new content is written to a temp
// file in the same directory, synced, and renamed over the old one.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Exists(ctx context.Context) (bool, error) {
	_ = ctx
	st, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if st.IsDir() {
		return false, &CorruptStateError{Path: s.path, Err: errors.New("is a directory")}
	}
	return true, nil
}

func (s *fileStore) Load(ctx context.Context) (Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	snap, err := Decode(b)
	if err != nil {
		return nil, &CorruptStateError{Path: s.path, Err: err}
	}
	s.log.Debug("state loaded", logx.String("path", s.path), logx.Int("entries", snap.Len()))
	return snap, nil
}

func (s *fileStore) Save(ctx context.Context, snap Snapshot) error {
	_ = ctx
	b, err := Encode(snap)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomic.WriteFile(s.path, bytes.NewReader(b)); err != nil {
		return fmt.Errorf("write state %s: %w", s.path, err)
	}
	s.log.Debug("state saved", logx.String("path", s.path), logx.Int("entries", snap.Len()), logx.Int("bytes", len(b)))
	return nil
}

func (s *fileStore) Close() error { return nil }
