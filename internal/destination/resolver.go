// Package destination normalizes a caller-supplied path into the actual
// file a download will be written to, applying the configured
// exist-behavior policy.
package destination

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/eth-stack/easydl/internal/errors"
	"github.com/eth-stack/easydl/internal/filesystem"
)

// ExistBehavior controls what happens when the resolved destination path
// already names a file.
type ExistBehavior int

const (
	// NewFile renames the destination with a "(COPY)" suffix until a
	// free name is found.
	NewFile ExistBehavior = iota
	// Overwrite accepts the existing path as-is.
	Overwrite
	// Ignore aborts the download silently, leaving the existing file
	// untouched.
	Ignore
)

// Result is the outcome of resolving a destination path.
type Result struct {
	// Path is the final path to write to. Empty iff Skip is true.
	Path string
	// Skip is true when the Ignore policy found an existing file; the
	// caller should abort without error.
	Skip bool
}

// Resolve normalizes dest against fsys using urlForName to derive a
// filename when dest names a directory.
func Resolve(fsys filesystem.FileSystem, dest string, behavior ExistBehavior, urlForName func() string) (Result, error) {
	path := dest

	for {
		isDir, err := fsys.IsDir(path)
		if err != nil {
			return Result{}, errors.NewFilesystemError(path, err)
		}
		if isDir {
			path = filepath.Join(path, filenameFromURL(urlForName()))
			continue
		}

		_, exists, err := fsys.Stat(path)
		if err != nil {
			return Result{}, errors.NewFilesystemError(path, err)
		}
		if !exists {
			break
		}

		switch behavior {
		case NewFile:
			path = nextCopyName(path)
			continue
		case Ignore:
			return Result{Skip: true}, nil
		case Overwrite:
			// fall through, accept path as-is
		}
		break
	}

	parent := filepath.Dir(path)
	isDir, err := fsys.IsDir(parent)
	if err != nil {
		return Result{}, errors.NewFilesystemError(parent, err)
	}
	if !isDir {
		return Result{}, errors.NewInvalidDestinationError(parent, fmt.Errorf("parent directory does not exist or is not a directory"))
	}

	return Result{Path: path}, nil
}

func filenameFromURL(u string) string {
	u = strings.TrimRight(u, "/")
	idx := strings.LastIndexByte(u, '/')
	name := u
	if idx >= 0 {
		name = u[idx+1:]
	}
	if qi := strings.IndexByte(name, '?'); qi >= 0 {
		name = name[:qi]
	}
	if name == "" {
		name = "download"
	}
	return name
}

// nextCopyName finds the next "<stem>(COPY)<ext>", "<stem>(COPY 2)<ext>", …
// candidate for path. It only produces the next candidate; the caller
// loops until it finds one that doesn't exist.
func nextCopyName(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	const marker = "(COPY"
	if idx := strings.LastIndex(stem, marker); idx >= 0 && strings.HasSuffix(stem, ")") {
		inner := stem[idx+len(marker) : len(stem)-1]
		inner = strings.TrimSpace(inner)
		n := 1
		if inner != "" {
			fmt.Sscanf(inner, "%d", &n)
		}
		stem = fmt.Sprintf("%s(COPY %d)", stem[:idx], n+1)
	} else {
		stem = stem + "(COPY)"
	}

	return filepath.Join(dir, stem+ext)
}
