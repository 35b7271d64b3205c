// Package chunk plans the byte ranges a download is split into and tracks
// each range's runtime transfer state. Planning is pure and deterministic:
// the same (size, connections, chunkSize) always yields the same Plan.
package chunk

import (
	"fmt"

	"github.com/eth-stack/easydl/internal/errors"
)

// Range is a half-open-by-index, inclusive-by-byte slice of the resource:
// bytes [Lo, Hi]. ID is its position in planning order and never changes.
type Range struct {
	ID    int
	Lo    int64
	Hi    int64
}

// Len returns the number of bytes the range covers.
func (r Range) Len() int64 {
	return r.Hi - r.Lo + 1
}

// Plan is the ordered, contiguous, gap-free, overlap-free tiling of
// [0, size) produced by BuildPlan.
type Plan struct {
	TotalSize int64
	Ranges    []Range
}

// BuildPlan derives the chunk ranges for a resource of the given size, to be
// downloaded over at most `connections` concurrent workers using a chunk
// size of `chunkSize` bytes (already resolved from the caller's policy —
// a fixed value or the result of calling their size-to-bytes function).
//
// chunkSize is shrunk to size/connections only when the chunk size the
// caller asked for would produce more ranges than there are connections
// to serve them; a chunk size that already fits within the connection
// budget (even if that means fewer ranges than connections) is left
// alone. After the lengths are built, a too-small tail range is
// rebalanced by borrowing bytes from its predecessor.
func BuildPlan(size int64, connections int, chunkSize int64) (Plan, error) {
	if size <= 0 {
		return Plan{}, errors.NewInvalidDestinationError("plan", fmt.Errorf("size must be positive, got %d", size))
	}
	if connections <= 0 {
		connections = 1
	}
	if chunkSize <= 0 {
		chunkSize = 1
	}

	cs := chunkSize
	var extra int64

	if size/cs > int64(connections) {
		cs = size / int64(connections)
		if cs <= 0 {
			cs = 1
		}
		extra = size % int64(connections)
	}

	var n int64
	if extra > 0 {
		n = size / cs
	} else {
		n = ceilDiv(size, cs)
	}
	if n <= 0 {
		n = 1
	}

	lengths := make([]int64, n)
	for i := int64(0); i < n-1; i++ {
		lengths[i] = cs
	}
	lengths[n-1] = size - (n-1)*cs - extra

	for i := int64(0); i < extra && i < n; i++ {
		lengths[i]++
	}

	if n > 1 && lengths[n-1] < cs/2 {
		move := cs/2 - lengths[n-1]
		lengths[n-2] -= move
		lengths[n-1] += move
	}

	ranges := make([]Range, n)
	offset := int64(0)
	for i, l := range lengths {
		ranges[i] = Range{ID: i, Lo: offset, Hi: offset + l - 1}
		offset += l
	}

	return Plan{TotalSize: size, Ranges: ranges}, nil
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
