package pollers

import (
	"os"
	"strings"
	"sync"
)

// LineListener receives one complete line from the tailed file, in order.
type LineListener func(line string)

// HookTailer tails a single append-only JSONL file, tolerating rotation by
// resetting its offset whenever the file shrinks. Non-overlap rule is
// identical to LogPoller: a Tick is skipped if the previous one has not
// finished.
type HookTailer struct {
	path string

	mu      sync.Mutex
	offset  int64
	buffer  strings.Builder
	ticking bool

	OnLine LineListener
}

func NewHookTailer(path string) *HookTailer {
	return &HookTailer{path: path}
}

// Tick reads any newly appended bytes and delivers complete lines to
// OnLine synchronously. Returns false without doing any I/O if a previous
// Tick is still running.
func (h *HookTailer) Tick() bool {
	h.mu.Lock()
	if h.ticking {
		h.mu.Unlock()
		return false
	}
	h.ticking = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.ticking = false
		h.mu.Unlock()
	}()

	h.tick()
	return true
}

func (h *HookTailer) tick() {
	info, err := os.Stat(h.path)
	if err != nil {
		// missing hook file: treated as FileIOTransient, retried next tick
		return
	}
	size := info.Size()

	h.mu.Lock()
	offset := h.offset
	h.mu.Unlock()

	if size < offset {
		h.mu.Lock()
		h.offset = 0
		h.buffer.Reset()
		h.mu.Unlock()
		offset = 0
	}
	if size == offset {
		return
	}

	f, err := os.Open(h.path)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return
	}
	chunk := make([]byte, size-offset)
	n, err := f.Read(chunk)
	if err != nil && n == 0 {
		return
	}
	chunk = chunk[:n]

	h.mu.Lock()
	h.buffer.Write(chunk)
	combined := h.buffer.String()
	h.buffer.Reset()

	lines := strings.Split(combined, "\n")
	complete := lines[:len(lines)-1]
	h.buffer.WriteString(lines[len(lines)-1])
	h.offset = offset + int64(n)
	h.mu.Unlock()

	for _, line := range complete {
		if line == "" {
			continue
		}
		if h.OnLine != nil {
			h.OnLine(line)
		}
	}
}
