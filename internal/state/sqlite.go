package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	logx "simlog/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const metaSavedAt = "saved_at"

// sqliteStore keeps the snapshot in three tables (contests, users, solved).
// Save replaces every row inside a single transaction.
type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	path string
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, &CorruptStateError{Path: path, Err: fmt.Errorf("migrate: %w", err)}
	}
	return &sqliteStore{db: db, log: log, path: path}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Exists(ctx context.Context) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaSavedAt).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &CorruptStateError{Path: s.path, Err: err}
	}
	return true, nil
}

func (s *sqliteStore) Load(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{}
	corrupt := func(err error) error { return &CorruptStateError{Path: s.path, Err: err} }

	rows, err := s.db.QueryContext(ctx, `SELECT contest_id FROM contests`)
	if err != nil {
		return nil, corrupt(err)
	}
	for rows.Next() {
		var cid int
		if err := rows.Scan(&cid); err != nil {
			rows.Close()
			return nil, corrupt(err)
		}
		snap[cid] = map[string]SolvedSet{}
	}
	if err := closeRows(rows); err != nil {
		return nil, corrupt(err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT contest_id, user_name FROM users`)
	if err != nil {
		return nil, corrupt(err)
	}
	for rows.Next() {
		var cid int
		var name string
		if err := rows.Scan(&cid, &name); err != nil {
			rows.Close()
			return nil, corrupt(err)
		}
		snap.Touch(cid, name)
	}
	if err := closeRows(rows); err != nil {
		return nil, corrupt(err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT contest_id, user_name, problem_id FROM solved`)
	if err != nil {
		return nil, corrupt(err)
	}
	for rows.Next() {
		var cid, pid int
		var name string
		if err := rows.Scan(&cid, &name, &pid); err != nil {
			rows.Close()
			return nil, corrupt(err)
		}
		snap.Add(cid, name, pid)
	}
	if err := closeRows(rows); err != nil {
		return nil, corrupt(err)
	}

	s.log.Debug("state loaded", logx.String("path", s.path), logx.Int("entries", snap.Len()))
	return snap, nil
}

func (s *sqliteStore) Save(ctx context.Context, snap Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, q := range []string{`DELETE FROM solved`, `DELETE FROM users`, `DELETE FROM contests`} {
		if _, err = tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}

	insContest, err := tx.PrepareContext(ctx, `INSERT INTO contests(contest_id) VALUES(?)`)
	if err != nil {
		return err
	}
	defer insContest.Close()
	insUser, err := tx.PrepareContext(ctx, `INSERT INTO users(contest_id, user_name) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer insUser.Close()
	insSolved, err := tx.PrepareContext(ctx, `INSERT INTO solved(contest_id, user_name, problem_id) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer insSolved.Close()

	for cid, users := range snap {
		if _, err = insContest.ExecContext(ctx, cid); err != nil {
			return err
		}
		for name, set := range users {
			if _, err = insUser.ExecContext(ctx, cid, name); err != nil {
				return err
			}
			for pid := range set {
				if _, err = insSolved.ExecContext(ctx, cid, name, pid); err != nil {
					return err
				}
			}
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaSavedAt, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("state saved", logx.String("path", s.path), logx.Int("entries", snap.Len()))
	return nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}
