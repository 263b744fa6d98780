// Package monitor implements the Monitor Loop: the single writer that
// drives Adapter.listPanes on a fixed tick, folds in Log Poller and Hook
// Tailer activity, recomputes pane state via the Estimator, and publishes
// the result to the Session Registry and Timeline Store before persisting
// a snapshot. It is the coordination point every other core package feeds
// into.
package monitor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loppo-llc/vde-monitor/internal/adapter"
	"github.com/loppo-llc/vde-monitor/internal/classify"
	"github.com/loppo-llc/vde-monitor/internal/estimator"
	"github.com/loppo-llc/vde-monitor/internal/fingerprint"
	"github.com/loppo-llc/vde-monitor/internal/git"
	"github.com/loppo-llc/vde-monitor/internal/panestate"
	"github.com/loppo-llc/vde-monitor/internal/persistence"
	"github.com/loppo-llc/vde-monitor/internal/pollers"
	"github.com/loppo-llc/vde-monitor/internal/registry"
	"github.com/loppo-llc/vde-monitor/internal/screencap"
	"github.com/loppo-llc/vde-monitor/internal/timeline"
)

// Config bundles every tunable of the Monitor Loop and its feeder tasks.
type Config struct {
	PollInterval time.Duration

	PaneLogDir       string
	MaxPaneLogBytes  int64
	RetainRotations  int
	EventLogPath     string
	MaxEventLogBytes int64

	StatePath string

	Thresholds estimator.Thresholds

	FingerprintLines int
	TimelineEventCap int

	AdapterTimeout time.Duration
}

// DefaultConfig returns the tuning the teacher's own defaults map to:
// a 1s tick, generous but bounded log sizes, and a 15s runningMs default
// (estimator.go narrows it to 10s for codex panes).
func DefaultConfig(appDir string) Config {
	return Config{
		PollInterval:     time.Second,
		PaneLogDir:       filepath.Join(appDir, "panes"),
		MaxPaneLogBytes:  10 * 1024 * 1024,
		RetainRotations:  3,
		EventLogPath:     filepath.Join(appDir, "events", "claude.jsonl"),
		MaxEventLogBytes: 5 * 1024 * 1024,
		StatePath:        filepath.Join(appDir, "state.json"),
		Thresholds: estimator.Thresholds{
			RunningMs:  15000,
			InactiveMs: 300000,
		},
		FingerprintLines: fingerprint.DefaultLines,
		TimelineEventCap: timeline.DefaultEventCap,
		AdapterTimeout:   3 * time.Second,
	}
}

// ChangeObserver receives one call per pane whose (state, reason) changed
// on a given tick. notify.Dispatcher implements this directly.
type ChangeObserver interface {
	Observe(paneID, nextState, reason, source string, now time.Time)
}

// Monitor owns every core package instance and drives the Monitor Loop.
type Monitor struct {
	logger *slog.Logger
	cfg    Config

	adapter    adapter.Capability
	classifier *classify.Classifier
	logPoller  *pollers.LogPoller
	hookTailer *pollers.HookTailer
	sampler    *fingerprint.Sampler
	paneStates *panestate.Store
	registry   *registry.Registry
	timeline   *timeline.Store
	persist    *persistence.Store
	capture    *screencap.Store
	gitMgr     *git.Manager

	observer ChangeObserver

	mu            sync.Mutex
	customTitles  map[string]string
	restoredState map[string]persistence.PersistedSession
	lastPanes     []adapter.PaneInfo
	saveMu        sync.Mutex

	runMu    sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	pollDone chan struct{}
	hookDone chan struct{}
}

// New wires every core package together. backend is the already-constructed
// multiplexer (or local) adapter; the caller owns its lifecycle.
func New(cfg Config, backend adapter.Capability, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		logger:        logger,
		cfg:           cfg,
		adapter:       backend,
		classifier:    classify.New(),
		logPoller:     pollers.NewLogPoller(),
		hookTailer:    pollers.NewHookTailer(cfg.EventLogPath),
		sampler:       fingerprint.NewSampler(cfg.FingerprintLines),
		paneStates:    panestate.NewStore(),
		registry:      registry.New(),
		timeline:      timeline.NewStoreWithCap(cfg.TimelineEventCap),
		persist:       persistence.NewStore(cfg.StatePath, logger),
		capture:       screencap.New(logger),
		gitMgr:        git.New(logger),
		customTitles:  make(map[string]string),
		restoredState: make(map[string]persistence.PersistedSession),
	}
	m.logPoller.OnActivity = func(paneID string) {
		m.paneStates.MarkOutput(paneID, time.Now())
	}
	m.hookTailer.OnLine = m.handleHookLine
	m.loadPersisted()
	return m
}

// SetObserver wires a Notification Dispatcher (or any other change
// observer) into the loop. Must be called before Start.
func (m *Monitor) SetObserver(o ChangeObserver) {
	m.observer = o
}

// loadPersisted restores the prior snapshot so the first tick for each
// known pane can apply the restore-override rule exactly once.
func (m *Monitor) loadPersisted() {
	doc, err := m.persist.Load()
	if err != nil {
		m.logger.Warn("failed to load persisted state, starting empty", "err", err)
		return
	}
	for paneID, sess := range doc.Sessions {
		m.restoredState[paneID] = sess
		if sess.CustomTitle != nil {
			m.customTitles[paneID] = *sess.CustomTitle
		}
		if sess.LastOutputAt != nil {
			if t, perr := time.Parse(time.RFC3339, *sess.LastOutputAt); perr == nil {
				m.paneStates.MarkOutput(paneID, t)
			}
		}
		if sess.LastInputAt != nil {
			if t, perr := time.Parse(time.RFC3339, *sess.LastInputAt); perr == nil {
				m.paneStates.MarkInput(paneID, t)
			}
		}
	}
	restoredTimeline := make(map[string][]timeline.Event, len(doc.Timeline))
	for paneID, events := range doc.Timeline {
		converted := make([]timeline.Event, 0, len(events))
		for _, e := range events {
			started, perr := time.Parse(time.RFC3339, e.StartedAt)
			if perr != nil {
				continue
			}
			var ended *time.Time
			if e.EndedAt != nil {
				if t, eerr := time.Parse(time.RFC3339, *e.EndedAt); eerr == nil {
					ended = &t
				}
			}
			converted = append(converted, timeline.Event{
				ID: e.ID, PaneID: e.PaneID, State: e.State, Reason: e.Reason,
				RepoRoot: e.RepoRoot, StartedAt: started, EndedAt: ended,
				Source: timeline.Source(e.Source),
			})
		}
		restoredTimeline[paneID] = converted
	}
	m.timeline.Restore(restoredTimeline)
}

// Start launches the Monitor Loop and its two feeder tasks. It is
// idempotent while already running.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.pollDone = make(chan struct{})
	m.hookDone = make(chan struct{})

	go m.runLoop(ctx, m.stopCh, m.doneCh, m.tickOnce)
	go m.runLoop(ctx, m.stopCh, m.pollDone, func(context.Context) { m.logPoller.Tick() })
	go m.runLoop(ctx, m.stopCh, m.hookDone, func(context.Context) { m.hookTailer.Tick() })
}

// Stop halts all three tickers and waits for in-flight ticks to complete.
// Idempotent: calling Stop when not running is a no-op.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	<-m.doneCh
	<-m.pollDone
	<-m.hookDone
	m.running = false
}

func (m *Monitor) runLoop(ctx context.Context, stopCh, doneCh chan struct{}, tick func(context.Context)) {
	defer close(doneCh)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (m *Monitor) tickOnce(ctx context.Context) {
	m.tick(ctx, time.Now())
}

func (m *Monitor) tick(ctx context.Context, now time.Time) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.AdapterTimeout)
	defer cancel()

	panes, err := m.adapter.ListPanes(callCtx)
	if err != nil {
		m.logger.Warn("listPanes failed, skipping tick", "err", err)
		return
	}

	m.mu.Lock()
	m.lastPanes = panes
	m.mu.Unlock()

	active := make(map[string]struct{}, len(panes))
	for _, pane := range panes {
		result := m.classifier.Classify(pane)
		if result.Ignore || result.Kind == classify.Unknown {
			continue
		}
		active[pane.PaneID] = struct{}{}
		m.processPane(callCtx, pane, result, now)
	}

	for _, paneID := range m.registry.RemoveMissing(active) {
		m.timeline.ClosePane(paneID, &now)
		m.paneStates.Remove(paneID)
		m.capture.Forget(paneID)
		m.clearCustomTitle(paneID)
	}

	rotateFile(m.cfg.EventLogPath, m.cfg.MaxEventLogBytes, m.cfg.RetainRotations, m.logger)

	m.saveSnapshot(now)
}

func (m *Monitor) processPane(ctx context.Context, pane adapter.PaneInfo, result classify.Result, now time.Time) {
	paneID := pane.PaneID

	logPath := m.paneLogPath(paneID)
	m.ensurePaneLog(ctx, pane, logPath)

	if !pane.PaneDead {
		if raw, err := m.adapter.CaptureTail(ctx, paneID, pane.AlternateOn); err == nil && raw != nil {
			if m.sampler.Changed(paneID, raw) {
				m.paneStates.MarkOutput(paneID, now)
			}
		}
	}

	rec := m.paneStates.Snapshot(paneID)

	in := estimator.Input{
		PaneDead:     pane.PaneDead,
		LastOutputAt: rec.LastOutputAt,
		Thresholds:   m.cfg.Thresholds,
		Agent:        string(result.Kind),
	}
	if rec.HookSignal != nil {
		in.HookSignal = &estimator.HookSignal{
			State:  estimator.StateValue(rec.HookSignal.State),
			Reason: rec.HookSignal.Reason,
			At:     rec.HookSignal.At,
		}
	}

	m.mu.Lock()
	if persisted, ok := m.restoredState[paneID]; ok {
		in.Restore = true
		in.RestoredState = estimator.StateValue(persisted.State)
		delete(m.restoredState, paneID)
	}
	m.mu.Unlock()

	out := estimator.Estimate(in, now)

	repoRoot := ""
	if root, err := m.gitMgr.RepoRoot(pane.CurrentPath); err == nil {
		repoRoot = root
	}

	var customTitle *string
	if t, ok := m.getCustomTitle(paneID); ok {
		customTitle = &t
	}

	detail := registry.SessionDetail{
		PaneID:       paneID,
		SessionName:  pane.SessionName,
		WindowIndex:  pane.WindowIndex,
		PaneIndex:    pane.PaneIndex,
		Title:        stripTitlePrefix(pane.PaneTitle),
		CustomTitle:  customTitle,
		RepoRoot:     repoRoot,
		Agent:        string(result.Kind),
		State:        string(out.State),
		StateReason:  out.Reason,
		LastMessage:  rec.LastMessage,
		LastOutputAt: timePtrToString(rec.LastOutputAt),
		LastEventAt:  timePtrToString(rec.LastEventAt),
		LastInputAt:  timePtrToString(rec.LastInputAt),
		PipeAttached: pane.PanePipe != "" && pane.PipeTagValue == "1",
		PipeConflict: adapter.HasConflict(pane),
		StartCommand: pane.PaneStartCommand,
		PanePid:      pane.PanePid,
	}

	prev, hadPrev := m.registry.GetDetail(paneID)
	changed := !hadPrev || prev.State != detail.State || prev.StateReason != detail.StateReason
	m.registry.Update(detail)

	if changed {
		source := sourceFor(detail.StateReason, in.Restore)
		m.timeline.Record(timeline.RecordInput{
			PaneID:   paneID,
			State:    detail.State,
			Reason:   detail.StateReason,
			At:       &now,
			Source:   timeline.Source(source),
			RepoRoot: repoRoot,
		})
		if m.observer != nil {
			m.observer.Observe(paneID, detail.State, detail.StateReason, source, now)
		}
	}
}

// sourceFor classifies a stateReason into the timeline/dispatcher source
// taxonomy: a "hook:*" prefix means the hook tailer produced it, the
// literal reason "restored" (or an in-flight restore) means the snapshot
// loader did, and everything else came from ordinary polling.
func sourceFor(reason string, restore bool) string {
	switch {
	case restore || reason == "restored":
		return "restore"
	case strings.HasPrefix(reason, "hook:"):
		return "hook"
	default:
		return "poll"
	}
}

func (m *Monitor) ensurePaneLog(ctx context.Context, pane adapter.PaneInfo, logPath string) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
		m.logger.Warn("cannot create pane log directory", "pane", pane.PaneID, "err", err)
		return
	}
	if pane.PanePipe == "" && pane.PipeTagValue != "1" {
		if _, err := m.adapter.AttachPipe(ctx, pane.PaneID, logPath, pane); err != nil {
			m.logger.Warn("pipe attach failed", "pane", pane.PaneID, "err", err)
		}
	}
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		if f, ferr := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY, 0o600); ferr == nil {
			f.Close()
		}
	}
	m.logPoller.Register(pane.PaneID, logPath)
	rotateFile(logPath, m.cfg.MaxPaneLogBytes, m.cfg.RetainRotations, m.logger)
}

func (m *Monitor) paneLogPath(paneID string) string {
	return filepath.Join(m.cfg.PaneLogDir, safePaneID(paneID)+".log")
}

func safePaneID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func timePtrToString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
