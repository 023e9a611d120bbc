package logx

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// throttleWriter is a zerolog sink wrapper that rate-limits warn-and-above
// lines with a token bucket. Trace..info lines pass through untouched.
//
// When the bucket is empty the line is dropped and counted; a summary line is
// emitted at most once per reporting interval so operators still see that
// suppression happened.
type throttleWriter struct {
	next zerolog.LevelWriter
	lim  *rate.Limiter

	suppressed atomic.Uint64
	lastReport atomic.Int64 // unix nano
}

const throttleReportEvery = 10 * time.Second

func newThrottleWriter(next zerolog.LevelWriter, linesPerSec int) *throttleWriter {
	return &throttleWriter{
		next: next,
		lim:  rate.NewLimiter(rate.Limit(linesPerSec), linesPerSec),
	}
}

func (w *throttleWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *throttleWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return w.next.WriteLevel(level, p)
	}
	if w.lim.Allow() {
		return w.next.WriteLevel(level, p)
	}

	n := w.suppressed.Add(1)

	// Best-effort summary, at most once per interval.
	now := time.Now().UnixNano()
	last := w.lastReport.Load()
	if now-last >= int64(throttleReportEvery) && w.lastReport.CompareAndSwap(last, now) {
		summary := []byte(`{"level":"warn","message":"log throttle active","suppressed_total":` +
			itoa(n) + "}\n")
		_, _ = w.next.WriteLevel(zerolog.WarnLevel, summary)
	}
	return len(p), nil
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
