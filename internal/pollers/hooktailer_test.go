package pollers

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHookTailer_DeliversCompleteLinesOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "claude.jsonl")
	writeFile(t, path, `{"a":1}`+"\n"+`{"a":2}`+"\n"+`{"a":3`)

	var lines []string
	h := NewHookTailer(path)
	h.OnLine = func(line string) { lines = append(lines, line) }
	h.Tick()

	if len(lines) != 2 {
		t.Fatalf("expected 2 complete lines delivered, got %d: %v", len(lines), lines)
	}
	if lines[0] != `{"a":1}` || lines[1] != `{"a":2}` {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestHookTailer_BuffersPartialLineAcrossTicks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "claude.jsonl")
	writeFile(t, path, `{"a":1`)

	var lines []string
	h := NewHookTailer(path)
	h.OnLine = func(line string) { lines = append(lines, line) }
	h.Tick()
	if len(lines) != 0 {
		t.Fatalf("expected no lines yet, got %v", lines)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("}\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	h.Tick()
	if len(lines) != 1 || lines[0] != `{"a":1}` {
		t.Fatalf("expected the buffered fragment completed, got %v", lines)
	}
}

func TestHookTailer_ResetsOffsetOnShrink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "claude.jsonl")
	writeFile(t, path, `{"a":1}`+"\n"+`{"a":2}`+"\n")

	var lines []string
	h := NewHookTailer(path)
	h.OnLine = func(line string) { lines = append(lines, line) }
	h.Tick()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines before rotation, got %v", lines)
	}

	writeFile(t, path, `{"a":3}`+"\n")
	h.Tick()
	if len(lines) != 3 || lines[2] != `{"a":3}` {
		t.Fatalf("expected rotation to reset offset and re-read from 0, got %v", lines)
	}
}

func TestHookTailer_MissingFileTolerated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.jsonl")

	h := NewHookTailer(path)
	if ok := h.Tick(); !ok {
		t.Fatal("expected Tick to run even when the file is missing")
	}
}
