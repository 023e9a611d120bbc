package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"notisched/pkg/logx"
)

func TestFoldAggregates(t *testing.T) {
	s := New(logx.Nop())
	c := s.Counters()

	c.Scheduled.Add(3)
	c.Cancelled.Add(1)
	c.Errors.Add(2)
	c.ObservePersistLatency(10 * time.Millisecond)
	c.ObservePersistLatency(30 * time.Millisecond)

	now := time.Now()
	snap := s.Fold(now, Extra{PoolHits: 5, PoolMisses: 2, QueueDrops: 1, QueuePanics: 4, QueueLen: 4, Registry: 7})

	if snap.Scheduled != 3 || snap.Cancelled != 1 {
		t.Fatalf("counter fold mismatch: %+v", snap)
	}
	if snap.Errors != 6 {
		t.Fatalf("queue panics must count as system errors: %+v", snap)
	}
	if snap.PoolHits != 5 || snap.PoolMisses != 2 || snap.QueueDrops != 1 {
		t.Fatalf("extra fold mismatch: %+v", snap)
	}
	if snap.AvgPersistLatency != 20*time.Millisecond {
		t.Fatalf("expected 20ms average latency, got %v", snap.AvgPersistLatency)
	}
	if !snap.FoldedAt.Equal(now) {
		t.Fatalf("fold timestamp mismatch")
	}
	if got := s.Snapshot(); got != snap {
		t.Fatalf("Snapshot must return the last fold")
	}
}

func TestWriteFile(t *testing.T) {
	s := New(logx.Nop())
	s.Counters().Scheduled.Add(9)
	s.Fold(time.Now(), Extra{})

	path := filepath.Join(t.TempDir(), "metrics", "snapshot.json")
	if err := s.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Scheduled != 9 {
		t.Fatalf("round-trip mismatch: %+v", snap)
	}
}
