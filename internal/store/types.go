// Package store persists the scheduler's durable state: the registry
// snapshot, return-notification config, and the last-foreground timestamp.
//
// Drivers:
//   - "file": versioned JSON document, checksum-verified, atomic replace
//   - "sqlite": single-row snapshot table (modernc.org/sqlite)
//
// A corrupted record is discarded on load; the system starts empty rather
// than trusting bad data.
package store

import (
	"context"
	"errors"

	"notisched/internal/kit"
)

const RecordVersion = 1

var (
	ErrDisabled = errors.New("store disabled")
	ErrClosed   = errors.New("store closed")
)

// Entry is one persisted (identifier, platform handle) pair, in registry
// insertion order.
type Entry struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
}

// Record is the durable snapshot. Checksum covers the serialized record with
// the checksum field itself left empty.
type Record struct {
	Version        int              `json:"version"`
	Entries        []Entry          `json:"entries"`
	Return         kit.ReturnConfig `json:"return"`
	LastForeground int64            `json:"last_foreground"`
	Checksum       string           `json:"checksum,omitempty"`
}

// Config selects and configures a driver.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout int // sqlite busy timeout, milliseconds; 0 means default
}

// Store is the persistence driver API.
type Store interface {
	// Save overwrites the durable record.
	Save(ctx context.Context, rec Record) error
	// Load reads the durable record. ok is false when there is no usable
	// record (first run, or a corrupted one that was discarded).
	Load(ctx context.Context) (rec Record, ok bool, err error)
	Close() error
}
