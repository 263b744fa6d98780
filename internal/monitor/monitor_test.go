package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loppo-llc/vde-monitor/internal/adapter"
)

type fakeAdapter struct {
	panes   []adapter.PaneInfo
	capture map[string][]byte
}

func (f *fakeAdapter) ListPanes(ctx context.Context) ([]adapter.PaneInfo, error) {
	return f.panes, nil
}
func (f *fakeAdapter) ReadUserOption(ctx context.Context, paneID, key string) (string, error) {
	return "", nil
}
func (f *fakeAdapter) AttachPipe(ctx context.Context, paneID, logPath string, current adapter.PaneInfo) (adapter.AttachResult, error) {
	return adapter.AttachResult{Attached: true}, nil
}
func (f *fakeAdapter) HasConflict(current adapter.PaneInfo) bool {
	return adapter.HasConflict(current)
}
func (f *fakeAdapter) CaptureTail(ctx context.Context, paneID string, useAlt bool) ([]byte, error) {
	return f.capture[paneID], nil
}
func (f *fakeAdapter) SendText(ctx context.Context, paneID, text string, pressEnter bool) adapter.SendResult {
	return adapter.SendResult{OK: true}
}
func (f *fakeAdapter) SendKeys(ctx context.Context, paneID string, keys []string) adapter.SendResult {
	return adapter.SendResult{OK: true}
}
func (f *fakeAdapter) SendRaw(ctx context.Context, paneID string, items []adapter.SendItem, unsafe bool) adapter.SendResult {
	return adapter.SendResult{OK: true}
}
func (f *fakeAdapter) KillPane(ctx context.Context, paneID string) error { return nil }

func testMonitor(t *testing.T, panes []adapter.PaneInfo) (*Monitor, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.PollInterval = time.Hour // tests call tick directly, never via the ticker
	backend := &fakeAdapter{panes: panes, capture: map[string][]byte{}}
	m := New(cfg, backend, nil)
	return m, dir
}

func TestTick_RegistersClassifiedPane(t *testing.T) {
	panes := []adapter.PaneInfo{
		{PaneID: "%1", CurrentCommand: "claude", PaneTitle: "claude"},
	}
	m, _ := testMonitor(t, panes)

	m.tick(context.Background(), time.Unix(1000, 0))

	detail, ok := m.GetDetail("%1")
	if !ok {
		t.Fatal("expected pane %1 to be registered")
	}
	if detail.Agent != "claude" {
		t.Fatalf("expected agent claude, got %q", detail.Agent)
	}
}

func TestTick_FirstObservationWithContentStaysColdStart(t *testing.T) {
	panes := []adapter.PaneInfo{
		{PaneID: "%1", CurrentCommand: "claude", PaneTitle: "claude"},
	}
	m, _ := testMonitor(t, panes)
	m.adapter.(*fakeAdapter).capture["%1"] = []byte("existing screen content\n")

	m.tick(context.Background(), time.Unix(1000, 0))

	detail, ok := m.GetDetail("%1")
	if !ok {
		t.Fatal("expected pane %1 to be registered")
	}
	if detail.State != "UNKNOWN" || detail.StateReason != "no_output" {
		t.Fatalf("expected a fresh pane's first capture not to count as output, got state=%q reason=%q", detail.State, detail.StateReason)
	}

	m.adapter.(*fakeAdapter).capture["%1"] = []byte("new screen content\n")
	m.tick(context.Background(), time.Unix(1001, 0))
	detail, _ = m.GetDetail("%1")
	if detail.StateReason == "no_output" {
		t.Fatal("expected a subsequent tick with genuinely new content to record output")
	}
}

func TestTick_SkipsUnknownPane(t *testing.T) {
	panes := []adapter.PaneInfo{
		{PaneID: "%1", CurrentCommand: "bash", PaneTitle: "bash"},
	}
	m, _ := testMonitor(t, panes)

	m.tick(context.Background(), time.Unix(1000, 0))

	if _, ok := m.GetDetail("%1"); ok {
		t.Fatal("expected unknown-agent pane to be skipped")
	}
}

func TestTick_RemovesMissingPaneAndClosesTimeline(t *testing.T) {
	panes := []adapter.PaneInfo{
		{PaneID: "%1", CurrentCommand: "claude", PaneTitle: "claude"},
	}
	m, _ := testMonitor(t, panes)
	m.tick(context.Background(), time.Unix(1000, 0))

	m.adapter.(*fakeAdapter).panes = nil
	m.tick(context.Background(), time.Unix(1001, 0))

	if _, ok := m.GetDetail("%1"); ok {
		t.Fatal("expected pane %1 to be removed once missing from listPanes")
	}
	view := m.GetStateTimeline("%1", "1h", 10, time.Unix(1002, 0))
	if view.Current != nil {
		t.Fatal("expected no current timeline event for a removed pane")
	}
}

func TestTick_PersistsSnapshotToDisk(t *testing.T) {
	panes := []adapter.PaneInfo{
		{PaneID: "%1", CurrentCommand: "claude", PaneTitle: "claude"},
	}
	m, dir := testMonitor(t, panes)
	m.tick(context.Background(), time.Unix(1000, 0))

	if _, err := os.Stat(filepath.Join(dir, "state.json")); err != nil {
		t.Fatalf("expected state.json to exist: %v", err)
	}
}

func TestSetCustomTitle_AppliesAndClears(t *testing.T) {
	panes := []adapter.PaneInfo{
		{PaneID: "%1", CurrentCommand: "claude", PaneTitle: "claude"},
	}
	m, _ := testMonitor(t, panes)
	m.tick(context.Background(), time.Unix(1000, 0))

	title := "my session"
	m.SetCustomTitle("%1", &title)
	detail, _ := m.GetDetail("%1")
	if detail.CustomTitle == nil || *detail.CustomTitle != title {
		t.Fatalf("expected custom title to be applied, got %+v", detail.CustomTitle)
	}

	m.SetCustomTitle("%1", nil)
	detail, _ = m.GetDetail("%1")
	if detail.CustomTitle != nil {
		t.Fatal("expected custom title to be cleared")
	}
}

func TestSendText_RecordsInputOnSuccess(t *testing.T) {
	panes := []adapter.PaneInfo{
		{PaneID: "%1", CurrentCommand: "claude", PaneTitle: "claude"},
	}
	m, _ := testMonitor(t, panes)
	m.tick(context.Background(), time.Unix(1000, 0))

	res := m.SendText(context.Background(), "%1", "hello", true)
	if !res.OK {
		t.Fatalf("expected send to succeed, got %+v", res)
	}
	rec := m.paneStates.Snapshot("%1")
	if rec.LastInputAt == nil {
		t.Fatal("expected SendText to record an input timestamp")
	}
}

func TestSafePaneID_ReplacesUnsafeChars(t *testing.T) {
	if got := safePaneID("%3"); got != "_3" {
		t.Fatalf("expected _3, got %q", got)
	}
}

func TestSourceFor_ClassifiesReasonPrefix(t *testing.T) {
	cases := []struct {
		reason  string
		restore bool
		want    string
	}{
		{"hook:stop", false, "hook"},
		{"recent_output", false, "poll"},
		{"restored", false, "restore"},
		{"recent_output", true, "restore"},
	}
	for _, c := range cases {
		if got := sourceFor(c.reason, c.restore); got != c.want {
			t.Errorf("sourceFor(%q, %v) = %q, want %q", c.reason, c.restore, got, c.want)
		}
	}
}
