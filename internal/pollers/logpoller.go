// Package pollers implements the Log Activity Poller and the JSONL Hook
// Tailer: the two asynchronous input sources that feed pane activity into
// the Monitor Loop between ticks.
package pollers

import (
	"os"
	"sync"
)

// ActivityListener is invoked synchronously, in-tick, once per pane whose
// registered log file grew since the previous tick.
type ActivityListener func(paneID string)

// LogPoller detects append-only growth in per-pane log files. It is
// single-threaded cooperative: Tick is expected to be called from one
// goroutine at fixed intervals, and a Tick skips entirely if the previous
// one is still running (no overlap, per the registered-file contract).
type LogPoller struct {
	mu        sync.Mutex
	baselines map[string]fileBaseline // paneID -> baseline
	ticking   bool

	OnActivity ActivityListener
}

type fileBaseline struct {
	path string
	size int64
}

func NewLogPoller() *LogPoller {
	return &LogPoller{baselines: make(map[string]fileBaseline)}
}

// Register associates paneID with path, replacing any previous path
// registered for this pane. A registration for a new path starts with no
// baseline, so its first Tick observation establishes one without
// emitting; registering the same path again keeps the existing baseline.
func (p *LogPoller) Register(paneID, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.baselines[paneID]; ok && cur.path == path {
		return
	}
	p.baselines[paneID] = fileBaseline{path: path, size: -1}
}

// Unregister removes paneID's registration, if any.
func (p *LogPoller) Unregister(paneID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.baselines, paneID)
}

// Tick stats every registered file once and emits activity for growth. It
// is a no-op (returns false) if a previous Tick is still in flight.
func (p *LogPoller) Tick() bool {
	p.mu.Lock()
	if p.ticking {
		p.mu.Unlock()
		return false
	}
	p.ticking = true
	snapshot := make(map[string]fileBaseline, len(p.baselines))
	for id, b := range p.baselines {
		snapshot[id] = b
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.ticking = false
		p.mu.Unlock()
	}()

	for paneID, baseline := range snapshot {
		p.pollOne(paneID, baseline)
	}
	return true
}

func (p *LogPoller) pollOne(paneID string, baseline fileBaseline) {
	info, err := os.Stat(baseline.path)
	if err != nil {
		// missing file is tolerated silently; leave baseline as-is so a
		// recreated file is compared against the last known size
		return
	}
	size := info.Size()

	switch {
	case baseline.size < 0:
		p.setBaseline(paneID, baseline.path, size)
	case size > baseline.size:
		p.setBaseline(paneID, baseline.path, size)
		if p.OnActivity != nil {
			p.OnActivity(paneID)
		}
	case size < baseline.size:
		// rotated or truncated: reset without emitting
		p.setBaseline(paneID, baseline.path, size)
	}
}

func (p *LogPoller) setBaseline(paneID, path string, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// only write back if still registered to the same path: a concurrent
	// Register call may have repointed this pane mid-tick
	if cur, ok := p.baselines[paneID]; ok && cur.path == path {
		p.baselines[paneID] = fileBaseline{path: path, size: size}
	}
}
