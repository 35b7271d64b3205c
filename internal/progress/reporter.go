// Package progress tracks per-chunk and aggregate byte counters and turns
// them into time-windowed speed estimates, gated by a minimum report
// interval so callers don't get flooded with emissions.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eth-stack/easydl/internal/chunk"
)

// Total is the aggregate progress across every chunk.
type Total struct {
	Bytes      int64
	Percentage float64
	Speed      int64
}

// Detail is one chunk's progress, in plan order.
type Detail struct {
	ID         int
	Bytes      int64
	Percentage float64
	Speed      int64
}

// Reporter accumulates byte counts for a set of chunks and emits throttled
// progress snapshots. The zero value is not usable; build one with New.
type Reporter struct {
	interval  time.Duration
	totalSize int64
	emit      func(Total, []Detail)

	mu       sync.Mutex
	states   []*chunk.State
	totalRef struct {
		bytes int64
		at    time.Time
	}
	totalBytes int64
	totalSpeed int64
	lastEmit   time.Time
}

// New creates a reporter for a resource of totalSize bytes. emit is called
// with a consistent snapshot of all chunks every time a report is due; it
// may be nil, in which case reports are computed but dropped.
func New(totalSize int64, interval time.Duration, states []*chunk.State, emit func(Total, []Detail)) *Reporter {
	if interval <= 0 {
		interval = 2500 * time.Millisecond
	}
	now := time.Now()
	r := &Reporter{
		interval:  interval,
		totalSize: totalSize,
		states:    states,
		emit:      emit,
		lastEmit:  now,
	}
	r.totalRef.at = now
	return r
}

// Observe records n additional bytes written to chunk id and, if the
// report interval has elapsed, emits a new snapshot.
func (r *Reporter) Observe(id int, n int64) {
	r.forState(id, func(s *chunk.State) {
		s.AddBytes(n)
	})
	atomic.AddInt64(&r.totalBytes, n)
	r.maybeEmit(false)
}

// Flush forces an emission regardless of the interval gate, used on chunk
// completion, and zeroes the completed chunk's speed.
func (r *Reporter) Flush(id int) {
	r.maybeEmit(true)
	r.forState(id, func(s *chunk.State) {
		s.SetSpeed(0)
	})
}

func (r *Reporter) forState(id int, fn func(*chunk.State)) {
	for _, s := range r.states {
		if s.Range.ID == id {
			fn(s)
			return
		}
	}
}

func (r *Reporter) maybeEmit(force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if !force && now.Sub(r.lastEmit) < r.interval {
		return
	}

	elapsedMs := now.Sub(r.totalRef.at).Milliseconds()
	totalBytes := atomic.LoadInt64(&r.totalBytes)
	if elapsedMs > 0 {
		r.totalSpeed = 1000 * (totalBytes - r.totalRef.bytes) / elapsedMs
	}
	r.totalRef.bytes = totalBytes
	r.totalRef.at = now
	r.lastEmit = now

	details := make([]Detail, len(r.states))
	for i, s := range r.states {
		prevBytes, prevAt := s.Snapshot(now)
		elapsed := now.Sub(prevAt).Milliseconds()
		if elapsed > 0 {
			s.SetSpeed(1000 * (s.Bytes() - prevBytes) / elapsed)
		}
		details[i] = Detail{
			ID:         s.Range.ID,
			Bytes:      s.Bytes(),
			Percentage: s.Percentage(),
			Speed:      s.Speed(),
		}
	}

	var pct float64
	if r.totalSize > 0 {
		pct = 100 * float64(totalBytes) / float64(r.totalSize)
	}

	if r.emit != nil {
		r.emit(Total{Bytes: totalBytes, Percentage: pct, Speed: r.totalSpeed}, details)
	}
}

// TotalBytes returns the current aggregate byte count.
func (r *Reporter) TotalBytes() int64 {
	return atomic.LoadInt64(&r.totalBytes)
}
