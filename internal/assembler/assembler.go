// Package assembler concatenates completed chunk files into the final
// output, in plan order, then deletes them.
package assembler

import (
	"context"
	"io"

	"github.com/eth-stack/easydl/internal/chunk"
	"github.com/eth-stack/easydl/internal/errors"
	"github.com/eth-stack/easydl/internal/filesystem"
	"github.com/eth-stack/easydl/internal/resume"
)

// ProgressFunc is called after each chunk is copied into the output, with
// the cumulative percentage of chunks assembled so far.
type ProgressFunc func(percentage float64)

// Assemble opens dest for write and streams every chunk file named by
// plan, in order, into it. On success it deletes every chunk file. On any
// I/O error it aborts without deleting — the chunks are retained so a
// later session can resume — and returns the error.
func Assemble(ctx context.Context, fsys filesystem.FileSystem, dest string, plan chunk.Plan, onProgress ProgressFunc) error {
	out, err := fsys.CreateFile(dest)
	if err != nil {
		return errors.NewFilesystemError(dest, err)
	}
	defer out.Close()

	total := len(plan.Ranges)
	for i, r := range plan.Ranges {
		if ctx.Err() != nil {
			return errors.NewCancelledError(dest, ctx.Err())
		}

		path := resume.ChunkFile(dest, r.ID)
		if err := copyChunk(fsys, out, path); err != nil {
			return err
		}

		if onProgress != nil {
			onProgress(100 * float64(i+1) / float64(total))
		}
	}

	for _, r := range plan.Ranges {
		path := resume.ChunkFile(dest, r.ID)
		if err := fsys.DeleteFile(path); err != nil {
			return errors.NewFilesystemError(path, err)
		}
	}

	return nil
}

func copyChunk(fsys filesystem.FileSystem, out io.Writer, path string) error {
	in, err := fsys.OpenFile(path)
	if err != nil {
		return errors.NewFilesystemError(path, err)
	}
	defer in.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.NewFilesystemError(path, err)
	}
	return nil
}
