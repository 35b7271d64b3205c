package cleanup_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eth-stack/easydl/internal/cleanup"
	"github.com/eth-stack/easydl/internal/filesystem"
)

func TestIsChunkFile(t *testing.T) {
	cases := map[string]bool{
		"archive.zip.$$0":       true,
		"archive.zip.$$12$PART": true,
		"archive.zip":           false,
		"archive.zip.$$":        false,
		"archive.zip.$$a":       false,
	}
	for name, want := range cases {
		if got := cleanup.IsChunkFile(name); got != want {
			t.Errorf("IsChunkFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestScanFindsOnlyChunkFiles(t *testing.T) {
	dir := t.TempDir()
	names := []string{"archive.zip.$$0", "archive.zip.$$1$PART", "archive.zip", "readme.txt"}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	orphans, err := cleanup.Scan(filesystem.NewOSFileSystem(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(orphans) != 2 {
		t.Fatalf("expected 2 orphan chunk files, got %d: %v", len(orphans), orphans)
	}
}

func TestRemoveDeletesOrphansAndReportsCount(t *testing.T) {
	dir := t.TempDir()
	names := []string{"archive.zip.$$0", "archive.zip.$$1$PART", "archive.zip"}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	n, err := cleanup.Remove(filesystem.NewOSFileSystem(), dir)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "archive.zip")); err != nil {
		t.Errorf("expected non-chunk file to survive cleanup: %v", err)
	}
}
