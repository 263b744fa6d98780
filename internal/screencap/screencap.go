// Package screencap implements the opaque screen-capture RPC
// (getScreenCapture in spec.md §6): it wraps adapter.CaptureTail and caches
// the last capture per pane, capped in size like the teacher's file viewer
// caps text reads.
package screencap

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// maxCaptureSize bounds the cached capture the same way the teacher's
// filebrowser bounds a text file read, to keep a pathologically wide/tall
// alt-screen pane from growing the in-memory cache without limit.
const maxCaptureSize = 1024 * 1024 // 1MB

// Capturer abstracts the single adapter call this package depends on, so
// tests can substitute a fake instead of a real multiplexer/PTY backend.
type Capturer interface {
	CaptureTail(ctx context.Context, paneID string, useAlt bool) ([]byte, error)
}

// Result is the opaque capture payload returned to the transport. Callers
// only see ok/error per spec.md §7 ScreenCaptureFailed; the raw bytes are
// not interpreted (no image encoding, no MIME sniffing) by this package.
type Result struct {
	PaneID     string
	Data       []byte
	Truncated  bool
	CapturedAt time.Time
}

type cacheEntry struct {
	result Result
	err    error
}

// Store caches the most recent successful capture per pane so a transient
// adapter failure can still serve the last known-good screen.
type Store struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger, entries: make(map[string]cacheEntry)}
}

// Capture fetches a fresh tail capture for paneID via cap, falling back to
// the last cached successful capture on failure. It never returns an error
// to the caller directly: ScreenCaptureFailed is represented by (Result{},
// false), matching spec.md §7's {ok:false, error:{code:"INTERNAL"}} shape.
func (s *Store) Capture(ctx context.Context, cap Capturer, paneID string, useAlt bool, now time.Time) (Result, bool) {
	raw, err := cap.CaptureTail(ctx, paneID, useAlt)
	if err != nil {
		s.logger.Warn("screen capture failed", "pane", paneID, "err", err)
		return s.fallback(paneID)
	}

	truncated := false
	if len(raw) > maxCaptureSize {
		raw = raw[len(raw)-maxCaptureSize:]
		truncated = true
	}

	result := Result{PaneID: paneID, Data: raw, Truncated: truncated, CapturedAt: now}

	s.mu.Lock()
	s.entries[paneID] = cacheEntry{result: result}
	s.mu.Unlock()

	return result, true
}

func (s *Store) fallback(paneID string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[paneID]
	if !ok {
		return Result{}, false
	}
	return entry.result, true
}

// Forget drops the cached capture for a pane, called when the pane leaves
// the registry so the cache doesn't grow for dead panes.
func (s *Store) Forget(paneID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, paneID)
}
