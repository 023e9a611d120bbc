package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"notisched/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshot (
	id       INTEGER PRIMARY KEY CHECK (id = 1),
	version  INTEGER NOT NULL,
	payload  TEXT    NOT NULL,
	checksum TEXT    NOT NULL,
	saved_at TEXT    NOT NULL
);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for sqlite driver")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Save(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}

	rec.Version = RecordVersion
	rec.Checksum = ""
	sum, err := checksumRecord(rec)
	if err != nil {
		return fmt.Errorf("checksum record: %w", err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshot(id, version, payload, checksum, saved_at) VALUES(1,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   version=excluded.version, payload=excluded.payload,
		   checksum=excluded.checksum, saved_at=excluded.saved_at`,
		rec.Version, string(payload), sum, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) Load(ctx context.Context) (Record, bool, error) {
	if s == nil || s.db == nil {
		return Record{}, false, ErrClosed
	}

	var payload, sum string
	err := s.db.QueryRowContext(ctx, `SELECT payload, checksum FROM snapshot WHERE id = 1`).Scan(&payload, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		s.discard(ctx, "unparseable", err)
		return Record{}, false, nil
	}
	rec.Checksum = ""
	got, err := checksumRecord(rec)
	if err != nil || got != sum {
		s.discard(ctx, "checksum mismatch", err)
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *sqliteStore) discard(ctx context.Context, reason string, err error) {
	s.log.Warn("discarding corrupted store row", logx.String("reason", reason), logx.Err(err))
	_, _ = s.db.ExecContext(ctx, `DELETE FROM snapshot WHERE id = 1`)
}
