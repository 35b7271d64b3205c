package filesystem_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/eth-stack/easydl/internal/filesystem"
)

func TestCreateFile(t *testing.T) {
	fsys := filesystem.NewOSFileSystem()
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "subdir", "testfile.txt")

	file, err := fsys.CreateFile(filePath)
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}

	content := []byte("hello world")
	if _, err := file.Write(content); err != nil {
		t.Fatalf("Writing to file failed: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("Closing file failed: %v", err)
	}

	_, exists, err := fsys.Stat(filePath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !exists {
		t.Fatalf("Expected file to exist after creation")
	}
}

func TestOpenFile(t *testing.T) {
	fsys := filesystem.NewOSFileSystem()
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "testfile.txt")

	content := []byte("test content")
	if err := os.WriteFile(filePath, content, 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	file, err := fsys.OpenFile(filePath)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	defer file.Close()

	readContent, err := io.ReadAll(file)
	if err != nil {
		t.Fatalf("Reading file failed: %v", err)
	}

	if string(readContent) != string(content) {
		t.Errorf("Expected content %q, got %q", content, readContent)
	}
}

func TestDeleteFile(t *testing.T) {
	fsys := filesystem.NewOSFileSystem()
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "testfile.txt")

	if err := os.WriteFile(filePath, []byte("to be deleted"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if err := fsys.DeleteFile(filePath); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}

	_, exists, err := fsys.Stat(filePath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if exists {
		t.Fatalf("Expected file to be deleted")
	}
}

func TestDeleteFileNotExistIsNotAnError(t *testing.T) {
	fsys := filesystem.NewOSFileSystem()
	tempDir := t.TempDir()

	if err := fsys.DeleteFile(filepath.Join(tempDir, "missing.txt")); err != nil {
		t.Fatalf("DeleteFile on a missing file should not error, got: %v", err)
	}
}

func TestEnsureDirectory(t *testing.T) {
	fsys := filesystem.NewOSFileSystem()
	tempDir := t.TempDir()
	dirPath := filepath.Join(tempDir, "newdir")

	if err := fsys.EnsureDirectory(dirPath); err != nil {
		t.Fatalf("EnsureDirectory failed: %v", err)
	}

	isDir, err := fsys.IsDir(dirPath)
	if err != nil {
		t.Fatalf("IsDir failed: %v", err)
	}
	if !isDir {
		t.Fatalf("Expected %s to be a directory", dirPath)
	}
}

func TestStatAbsentForNotFound(t *testing.T) {
	fsys := filesystem.NewOSFileSystem()
	tempDir := t.TempDir()
	existingFile := filepath.Join(tempDir, "existing.txt")
	nonExistingFile := filepath.Join(tempDir, "nonexisting.txt")

	if err := os.WriteFile(existingFile, []byte("data"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	info, exists, err := fsys.Stat(existingFile)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !exists || info.Name() != "existing.txt" {
		t.Fatalf("Expected file %s to exist", existingFile)
	}

	info, exists, err = fsys.Stat(nonExistingFile)
	if err != nil {
		t.Fatalf("Stat failed for non-existing file: %v", err)
	}
	if exists || info != nil {
		t.Fatalf("Expected Stat to report absent for %s", nonExistingFile)
	}
}

func TestRename(t *testing.T) {
	fsys := filesystem.NewOSFileSystem()
	tempDir := t.TempDir()
	oldPath := filepath.Join(tempDir, "old.part")
	newPath := filepath.Join(tempDir, "new.final")

	if err := os.WriteFile(oldPath, []byte("chunk bytes"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if err := fsys.Rename(oldPath, newPath); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	if _, exists, _ := fsys.Stat(oldPath); exists {
		t.Fatalf("old path should no longer exist after rename")
	}
	if _, exists, _ := fsys.Stat(newPath); !exists {
		t.Fatalf("new path should exist after rename")
	}
}

func TestReadDir(t *testing.T) {
	fsys := filesystem.NewOSFileSystem()
	tempDir := t.TempDir()

	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(tempDir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
	}

	entries, err := fsys.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}
