// Package fingerprint normalizes a captured pane tail into a stable,
// comparable string so the Monitor Loop can detect screen refreshes that
// never touch a log file (curses-style redraws).
package fingerprint

import "strings"

// DefaultLines is the default tail depth sampled from a pane capture.
const DefaultLines = 20

// Normalize strips carriage returns, right-trims each line, drops
// trailing blank lines, then collapses the result to exactly the last n
// lines (padding with nothing if the capture has fewer).
func Normalize(raw []byte, n int) string {
	if n <= 0 {
		n = DefaultLines
	}
	text := strings.ReplaceAll(string(raw), "\r", "")
	lines := strings.Split(text, "\n")

	for len(lines) > 0 && strings.TrimRight(lines[len(lines)-1], " \t") == "" {
		lines = lines[:len(lines)-1]
	}

	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return strings.Join(lines, "\n")
}

// Sampler tracks the last normalized fingerprint per pane and reports
// whether a new capture differs from it.
type Sampler struct {
	lines int
	last  map[string]string
}

func NewSampler(lines int) *Sampler {
	if lines <= 0 {
		lines = DefaultLines
	}
	return &Sampler{lines: lines, last: make(map[string]string)}
}

// Changed normalizes raw and reports whether it differs from the pane's
// previously recorded fingerprint, updating the stored value either way.
// The first observation of a pane has nothing to diff against, so it
// reports false rather than manufacturing a spurious change.
func (s *Sampler) Changed(paneID string, raw []byte) bool {
	next := Normalize(raw, s.lines)
	prev, ok := s.last[paneID]
	s.last[paneID] = next
	return ok && prev != next
}

// Forget drops a pane's stored fingerprint, e.g. when it leaves the registry.
func (s *Sampler) Forget(paneID string) {
	delete(s.last, paneID)
}
