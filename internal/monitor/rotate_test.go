package monitor

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotateFile_NoopBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pane.log")
	os.WriteFile(path, []byte("small"), 0o600)

	rotateFile(path, 1024, 3, slog.Default())

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected no rotation, got %d entries", len(entries))
	}
}

func TestRotateFile_RotatesAndTruncatesInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pane.log")
	os.WriteFile(path, []byte(strings.Repeat("a", 100)), 0o600)

	rotateFile(path, 10, 3, slog.Default())

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected original file (same inode) to still exist: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected original file truncated to 0, got %d", info.Size())
	}

	entries, _ := os.ReadDir(dir)
	rotatedCount := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pane.log.") {
			rotatedCount++
		}
	}
	if rotatedCount != 1 {
		t.Fatalf("expected exactly one rotated file, got %d", rotatedCount)
	}
}

func TestPruneRotations_KeepsOnlyRetainCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pane.log")
	os.WriteFile(path, []byte("x"), 0o600)
	for _, suffix := range []string{"100", "200", "300", "400"} {
		os.WriteFile(path+"."+suffix, []byte("old"), 0o600)
	}

	pruneRotations(path, 2, slog.Default())

	entries, _ := os.ReadDir(dir)
	rotatedCount := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pane.log.") {
			rotatedCount++
		}
	}
	if rotatedCount != 2 {
		t.Fatalf("expected 2 rotations retained, got %d", rotatedCount)
	}
}
