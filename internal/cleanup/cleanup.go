// Package cleanup is the external utility that scans a directory for
// orphan chunk files left behind by sessions that were never resumed —
// destroy() deliberately does not remove them itself.
package cleanup

import (
	"path/filepath"
	"regexp"

	"github.com/eth-stack/easydl/internal/filesystem"
	"github.com/eth-stack/easydl/internal/logger"
)

// chunkFilePattern matches both the final (`P.$$<id>`) and in-progress
// (`P.$$<id>$PART`) chunk file naming convention.
var chunkFilePattern = regexp.MustCompile(`^(.+)\.\$\$[0-9]+(\$PART)?$`)

// IsChunkFile reports whether name (a base filename, not a full path)
// matches the chunk file naming convention.
func IsChunkFile(name string) bool {
	return chunkFilePattern.MatchString(name)
}

// Scan lists every orphan chunk file under dir, across all downloads.
func Scan(fsys filesystem.FileSystem, dir string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if IsChunkFile(entry.Name()) {
			orphans = append(orphans, filepath.Join(dir, entry.Name()))
		}
	}
	return orphans, nil
}

// Remove deletes every orphan chunk file found under dir, returning the
// count removed. It logs but does not abort on a per-file delete failure.
func Remove(fsys filesystem.FileSystem, dir string) (int, error) {
	orphans, err := Scan(fsys, dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range orphans {
		if err := fsys.DeleteFile(path); err != nil {
			logger.Warnf("failed to remove orphan chunk file %s: %v", path, err)
			continue
		}
		removed++
	}
	return removed, nil
}
