package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// rotateFile implements spec.md §5's rotation contract: copy the current
// content to "<path>.<epochMs>", then truncate path in place so writers
// holding an open fd (tmux's pipe-pane, or a hook producer appending to
// the event log) keep writing to the same inode after a brief window
// instead of a file that's been renamed out from under them.
func rotateFile(path string, maxBytes int64, retain int, logger *slog.Logger) {
	if maxBytes <= 0 {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() <= maxBytes {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("rotate: read failed", "path", path, "err", err)
		return
	}

	rotated := fmt.Sprintf("%s.%d", path, time.Now().UnixMilli())
	if err := os.WriteFile(rotated, data, 0o600); err != nil {
		logger.Warn("rotate: write failed", "path", path, "rotated", rotated, "err", err)
		return
	}
	if err := os.Truncate(path, 0); err != nil {
		logger.Warn("rotate: truncate failed", "path", path, "err", err)
	}

	pruneRotations(path, retain, logger)
}

func pruneRotations(path string, retain int, logger *slog.Logger) {
	dir := filepath.Dir(path)
	prefix := filepath.Base(path) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var rotations []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			rotations = append(rotations, e.Name())
		}
	}
	if len(rotations) <= retain {
		return
	}
	sort.Strings(rotations) // epochMs suffixes sort chronologically as strings
	for _, name := range rotations[:len(rotations)-retain] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			logger.Warn("rotate: prune failed", "file", name, "err", err)
		}
	}
}
