// Package resume inspects on-disk chunk files left by a previous session
// and classifies each planned range as already complete, still pending,
// or on-disk-corrupt.
package resume

import (
	"fmt"

	"github.com/eth-stack/easydl/internal/chunk"
	"github.com/eth-stack/easydl/internal/errors"
	"github.com/eth-stack/easydl/internal/filesystem"
)

// ChunkFile returns the path of the final chunk file for id under dest.
func ChunkFile(dest string, id int) string {
	return fmt.Sprintf("%s.$$%d", dest, id)
}

// PartFile returns the path of the in-progress chunk file for id under dest.
func PartFile(dest string, id int) string {
	return fmt.Sprintf("%s.$$%d$PART", dest, id)
}

// Result is the outcome of scanning one planned chunk.
type Result struct {
	Range    chunk.Range
	Complete bool
}

// Scan classifies every range in plan against the on-disk chunk files
// under dest, deleting any chunk file whose size is less than its range
// (not trusted) so the next attempt starts clean. It returns an
// on-disk-inconsistency error the moment it finds a chunk file larger
// than its range.
func Scan(fsys filesystem.FileSystem, dest string, plan chunk.Plan) ([]Result, error) {
	results := make([]Result, len(plan.Ranges))

	for i, r := range plan.Ranges {
		results[i] = Result{Range: r}

		path := ChunkFile(dest, r.ID)
		info, exists, err := fsys.Stat(path)
		if err != nil {
			return nil, errors.NewFilesystemError(path, err)
		}
		if !exists {
			continue
		}

		size := info.Size()
		switch {
		case size == r.Len():
			results[i].Complete = true
		case size > r.Len():
			return nil, errors.NewOnDiskInconsistencyError(path, size, r.Len())
		default:
			if err := fsys.DeleteFile(path); err != nil {
				return nil, errors.NewFilesystemError(path, err)
			}
		}
	}

	return results, nil
}

// Pending returns the ranges from results that still need to be
// downloaded, in plan order.
func Pending(results []Result) []chunk.Range {
	var out []chunk.Range
	for _, r := range results {
		if !r.Complete {
			out = append(out, r.Range)
		}
	}
	return out
}
