package chunk

import (
	"sync/atomic"
	"time"
)

// reference is the (bytes, time) snapshot speed is computed against.
type reference struct {
	bytes int64
	at    time.Time
}

// State is the runtime transfer state of one planned Range. bytes is
// mutated only by the worker that owns this chunk (and by the reporter on
// that same goroutine), per the single-writer rule in the concurrency
// model.
type State struct {
	Range Range

	bytes    int64 // atomic: bytes written so far this session
	speed    int64 // atomic: bytes/second, updated on the reporter's window
	totalLen int64 // atomic: Range.Len(), or the size discovered later when Range was planned before the resource's length was known

	ref reference

	// IsResume marks a chunk recovered from a prior session's on-disk
	// chunk file rather than downloaded fresh this run.
	IsResume bool
}

// NewState creates fresh runtime state for r.
func NewState(r Range) *State {
	return &State{Range: r, totalLen: r.Len(), ref: reference{at: time.Now()}}
}

// SetTotalLen updates the length Percentage divides against, used by
// single-request mode once the response reveals a size the original plan
// didn't have (no prior Content-Length, see RangeNotHonored/§9b fallback).
func (s *State) SetTotalLen(n int64) {
	atomic.StoreInt64(&s.totalLen, n)
}

// AddBytes records n additional bytes written to the chunk's file.
func (s *State) AddBytes(n int64) int64 {
	return atomic.AddInt64(&s.bytes, n)
}

// SetBytes sets the absolute byte count, used when a resumed chunk is
// marked complete without transferring anything this session.
func (s *State) SetBytes(n int64) {
	atomic.StoreInt64(&s.bytes, n)
}

// Bytes returns the bytes written so far this session.
func (s *State) Bytes() int64 {
	return atomic.LoadInt64(&s.bytes)
}

// Percentage returns 100*bytes/totalLen, or 100 for a zero-length total.
func (s *State) Percentage() float64 {
	total := atomic.LoadInt64(&s.totalLen)
	if total <= 0 {
		return 100
	}
	return 100 * float64(s.Bytes()) / float64(total)
}

// SetSpeed stores the most recently computed bytes/second estimate.
func (s *State) SetSpeed(bps int64) {
	atomic.StoreInt64(&s.speed, bps)
}

// Speed returns the last computed bytes/second estimate.
func (s *State) Speed() int64 {
	return atomic.LoadInt64(&s.speed)
}

// Snapshot takes a new (bytes, time) reference point and returns the
// previous one, for the reporter's windowed speed calculation.
func (s *State) Snapshot(now time.Time) (prevBytes int64, prevAt time.Time) {
	prevBytes, prevAt = s.ref.bytes, s.ref.at
	s.ref = reference{bytes: s.Bytes(), at: now}
	return
}
