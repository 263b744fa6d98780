package monitor

import (
	"context"
	"time"

	"github.com/loppo-llc/vde-monitor/internal/adapter"
	"github.com/loppo-llc/vde-monitor/internal/registry"
	"github.com/loppo-llc/vde-monitor/internal/screencap"
	"github.com/loppo-llc/vde-monitor/internal/timeline"
)

// Snapshot returns every currently registered pane's SessionDetail.
func (m *Monitor) Snapshot() []registry.SessionDetail {
	return m.registry.Snapshot()
}

// Poll runs one Monitor Loop tick immediately. It is meant for manual
// refresh callers (tests, an administrative CLI) before Start is called;
// calling it while the regular ticker from Start is also running would
// violate the one-writer-at-a-time tick model spec.md §5 requires.
func (m *Monitor) Poll(ctx context.Context) {
	m.tick(ctx, time.Now())
}

// GetDetail returns one pane's SessionDetail, if registered.
func (m *Monitor) GetDetail(paneID string) (registry.SessionDetail, bool) {
	return m.registry.GetDetail(paneID)
}

// OnChanged subscribes to registry change events, for the Broadcaster.
func (m *Monitor) OnChanged(cb registry.ChangedFunc) {
	m.registry.OnChanged(cb)
}

// OnRemoved subscribes to registry removal events, for the Broadcaster.
func (m *Monitor) OnRemoved(cb registry.RemovedFunc) {
	m.registry.OnRemoved(cb)
}

// GetStateTimeline serves getStateTimeline(paneId, range, limit).
func (m *Monitor) GetStateTimeline(paneID string, r timeline.Range, limit int, now time.Time) timeline.TimelineView {
	return m.timeline.GetTimeline(paneID, r, limit, now)
}

// GetScreenCapture serves getScreenCapture(paneId): a fresh capture via the
// adapter, falling back to the last cached one on failure. ok=false with
// no panic maps directly to the transport's ScreenCaptureFailed response.
func (m *Monitor) GetScreenCapture(ctx context.Context, paneID string) (screencap.Result, bool) {
	if _, known := m.registry.GetDetail(paneID); !known {
		return screencap.Result{}, false
	}
	captureCtx, cancel := context.WithTimeout(ctx, m.cfg.AdapterTimeout*4)
	defer cancel()
	return m.capture.Capture(captureCtx, m.adapter, paneID, m.paneUsesAltScreen(paneID), time.Now())
}

func (m *Monitor) paneUsesAltScreen(paneID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.lastPanes {
		if p.PaneID == paneID {
			return p.AlternateOn
		}
	}
	return false
}

// SetCustomTitle serves setCustomTitle(paneId, title|null). It applies the
// change and saves a snapshot before returning, per spec.md §5's two-entry-point
// serialization rule for transport-originated mutations.
func (m *Monitor) SetCustomTitle(paneID string, title *string) {
	m.mu.Lock()
	if title == nil {
		delete(m.customTitles, paneID)
	} else {
		m.customTitles[paneID] = *title
	}
	m.mu.Unlock()

	if detail, ok := m.registry.GetDetail(paneID); ok {
		detail.CustomTitle = title
		m.registry.Update(detail)
	}
	m.saveSnapshot(time.Now())
}

// RecordInput serves recordInput(paneId, at?): the transport's only other
// registry-adjacent mutation entry point.
func (m *Monitor) RecordInput(paneID string, at *time.Time) {
	when := time.Now()
	if at != nil {
		when = *at
	}
	m.paneStates.MarkInput(paneID, when)
	m.saveSnapshot(time.Now())
}

// HandleHookEvent feeds one already-framed hook JSON line into the same
// path the JSONL Hook Tailer uses, for transports that receive hook
// events over a side channel (e.g. a local Unix socket) instead of the
// tailed file.
func (m *Monitor) HandleHookEvent(ctx context.Context, line string) {
	m.handleHookLine(line)
}

// SendText, SendKeys, and SendRaw pass a transport- or MCP-originated
// keystroke injection straight to the adapter (spec.md §4.1: "used by the
// transport, not by the monitor loop"), then record it as input through
// the one entry point that may mutate panestate from outside the tick.
func (m *Monitor) SendText(ctx context.Context, paneID, text string, pressEnter bool) adapter.SendResult {
	res := m.adapter.SendText(ctx, paneID, text, pressEnter)
	if res.OK {
		m.RecordInput(paneID, nil)
	}
	return res
}

func (m *Monitor) SendKeys(ctx context.Context, paneID string, keys []string) adapter.SendResult {
	res := m.adapter.SendKeys(ctx, paneID, keys)
	if res.OK {
		m.RecordInput(paneID, nil)
	}
	return res
}

func (m *Monitor) SendRaw(ctx context.Context, paneID string, items []adapter.SendItem, unsafe bool) adapter.SendResult {
	res := m.adapter.SendRaw(ctx, paneID, items, unsafe)
	if res.OK {
		m.RecordInput(paneID, nil)
	}
	return res
}

// KillPane passes through to the adapter; it is not a registry mutation
// itself (the next tick's missing-pane sweep removes it from the
// registry and closes its timeline).
func (m *Monitor) KillPane(ctx context.Context, paneID string) error {
	return m.adapter.KillPane(ctx, paneID)
}

func (m *Monitor) getCustomTitle(paneID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.customTitles[paneID]
	return t, ok
}

func (m *Monitor) clearCustomTitle(paneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.customTitles, paneID)
}
