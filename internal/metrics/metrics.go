// Package metrics accumulates hot-path counters lock-free and folds them
// periodically into an aggregate snapshot for operators.
package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"notisched/pkg/logx"
)

const DefaultFoldInterval = time.Second

// Counters are incremented from any goroutine without locks. Pool and queue
// counters live on their owning components and arrive at fold time via Extra.
type Counters struct {
	Scheduled atomic.Uint64
	Cancelled atomic.Uint64
	Errors    atomic.Uint64

	persistNanos atomic.Int64
	persistCount atomic.Uint64
}

// ObservePersistLatency records one completed flush.
func (c *Counters) ObservePersistLatency(d time.Duration) {
	c.persistNanos.Add(int64(d))
	c.persistCount.Add(1)
}

// Extra carries point-in-time values owned by other components, folded into
// the snapshot alongside the counters.
type Extra struct {
	PoolHits    uint64
	PoolMisses  uint64
	QueueDrops  uint64
	QueuePanics uint64
	QueueLen    int
	Registry    int
}

// Snapshot is the folded aggregate.
type Snapshot struct {
	FoldedAt time.Time `json:"folded_at"`

	Scheduled  uint64 `json:"scheduled"`
	Cancelled  uint64 `json:"cancelled"`
	Errors     uint64 `json:"errors"`
	PoolHits   uint64 `json:"pool_hits"`
	PoolMisses uint64 `json:"pool_misses"`
	QueueDrops uint64 `json:"queue_drops"`

	QueueLen      int `json:"queue_len"`
	RegistryCount int `json:"registry_count"`

	AvgPersistLatency time.Duration `json:"avg_persist_latency_ns"`
	HeapAllocBytes    uint64        `json:"heap_alloc_bytes"`
	NumGoroutine      int           `json:"num_goroutine"`
}

// Service owns the counters and the last folded snapshot.
type Service struct {
	log logx.Logger
	c   Counters

	mu   sync.Mutex
	last Snapshot
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log}
}

// Counters returns the shared counter block for hot-path increments.
func (s *Service) Counters() *Counters { return &s.c }

// Fold reads the counters plus the supplied extras into a new snapshot.
// Called from the tick loop roughly once per second.
func (s *Service) Fold(now time.Time, ext Extra) Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	var avg time.Duration
	if n := s.c.persistCount.Load(); n > 0 {
		avg = time.Duration(s.c.persistNanos.Load() / int64(n))
	}

	snap := Snapshot{
		FoldedAt:          now,
		Scheduled:         s.c.Scheduled.Load(),
		Cancelled:         s.c.Cancelled.Load(),
		Errors:            s.c.Errors.Load() + ext.QueuePanics,
		PoolHits:          ext.PoolHits,
		PoolMisses:        ext.PoolMisses,
		QueueDrops:        ext.QueueDrops,
		QueueLen:          ext.QueueLen,
		RegistryCount:     ext.Registry,
		AvgPersistLatency: avg,
		HeapAllocBytes:    mem.HeapAlloc,
		NumGoroutine:      runtime.NumGoroutine(),
	}

	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
	return snap
}

// Snapshot returns the most recently folded aggregate.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// WriteFile serializes the last snapshot to path (temp file + rename).
func (s *Service) WriteFile(path string) error {
	snap := s.Snapshot()

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
