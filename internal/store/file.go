package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"notisched/pkg/logx"
)

// fileStore keeps the record as a single JSON document.
//
// Writes go to <path>.tmp first and are renamed over the primary file, so a
// crash mid-write leaves the previous record intact.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for file driver")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Save(ctx context.Context, rec Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	rec.Version = RecordVersion
	rec.Checksum = ""
	sum, err := checksumRecord(rec)
	if err != nil {
		return fmt.Errorf("checksum record: %w", err)
	}
	rec.Checksum = sum

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Load(ctx context.Context) (Record, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, false, ErrClosed
	}

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		// First run.
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}

	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		s.discardLocked("unparseable", err)
		return Record{}, false, nil
	}

	if rec.Checksum == "" && rec.Version == 0 {
		// Legacy pre-checksum format: migrate once by rewriting in place.
		s.log.Info("migrating legacy store record", logx.Int("entries", len(rec.Entries)))
		rec.Version = RecordVersion
		s.mu.Unlock()
		err := s.Save(ctx, rec)
		s.mu.Lock()
		if err != nil {
			s.log.Warn("legacy record rewrite failed", logx.Err(err))
		}
		return rec, true, nil
	}

	want := rec.Checksum
	rec.Checksum = ""
	got, err := checksumRecord(rec)
	if err != nil || got != want {
		s.discardLocked("checksum mismatch", err)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// discardLocked removes a corrupted record so the next run starts clean.
func (s *fileStore) discardLocked(reason string, err error) {
	s.log.Warn("discarding corrupted store record",
		logx.String("reason", reason),
		logx.String("path", s.path),
		logx.Err(err))
	_ = os.Remove(s.path)
}

// checksumRecord hashes the canonical serialization of rec. The caller must
// blank the Checksum field first.
func checksumRecord(rec Record) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
