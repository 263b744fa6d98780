package monitor

import (
	"encoding/json"
	"testing"

	"github.com/loppo-llc/vde-monitor/internal/adapter"
	"github.com/loppo-llc/vde-monitor/internal/estimator"
)

func TestHookState_NotificationPermissionPrompt(t *testing.T) {
	state, ok := hookState(hookNotification, notifPermissionPrompt)
	if !ok || state != estimator.WaitingPermission {
		t.Fatalf("got (%v, %v)", state, ok)
	}
}

func TestHookState_NotificationOtherTypeDropped(t *testing.T) {
	if _, ok := hookState(hookNotification, "elicitation_dialog"); ok {
		t.Fatal("expected non-permission-prompt notifications to be dropped")
	}
}

func TestHookState_StopMapsToWaitingInput(t *testing.T) {
	state, ok := hookState(hookStop, "")
	if !ok || state != estimator.WaitingInput {
		t.Fatalf("got (%v, %v)", state, ok)
	}
}

func TestHookState_ToolEventsMapToRunning(t *testing.T) {
	for _, ev := range []string{hookUserPromptSubmit, hookPreToolUse, hookPostToolUse} {
		state, ok := hookState(ev, "")
		if !ok || state != estimator.Running {
			t.Fatalf("%s: got (%v, %v)", ev, state, ok)
		}
	}
}

func TestHookState_UnknownEventDropped(t *testing.T) {
	if _, ok := hookState("SessionStart", ""); ok {
		t.Fatal("expected unmapped event to be dropped")
	}
}

func TestBuildToolDetail_BashIncludesCommand(t *testing.T) {
	input, _ := json.Marshal(map[string]string{"command": "echo hello"})
	detail := buildToolDetail(hookPreToolUse, "Bash", input)
	if detail != "Bash: echo hello" {
		t.Fatalf("got %q", detail)
	}
}

func TestBuildToolDetail_PostToolUseIsGeneric(t *testing.T) {
	detail := buildToolDetail(hookPostToolUse, "Bash", nil)
	if detail != "finished Bash" {
		t.Fatalf("got %q", detail)
	}
}

func TestBuildToolDetail_EditUsesBaseName(t *testing.T) {
	input, _ := json.Marshal(map[string]string{"file_path": "/repo/internal/foo.go"})
	detail := buildToolDetail(hookPreToolUse, "Edit", input)
	if detail != "Edit foo.go" {
		t.Fatalf("got %q", detail)
	}
}

func TestStripTitlePrefix_RemovesLeadingGlyph(t *testing.T) {
	if got := stripTitlePrefix("✳ claude"); got != "claude" {
		t.Fatalf("got %q", got)
	}
}

func TestStripTitlePrefix_LeavesPlainTitleAlone(t *testing.T) {
	if got := stripTitlePrefix("claude"); got != "claude" {
		t.Fatalf("got %q", got)
	}
}

func TestResolvePaneID_PrefersExplicitTmuxPane(t *testing.T) {
	m := &Monitor{}
	if got := m.resolvePaneID("%7", "ttys001", "/repo"); got != "%7" {
		t.Fatalf("got %q", got)
	}
}

func TestResolvePaneID_FallsBackToUniqueTTYMatch(t *testing.T) {
	m := &Monitor{lastPanes: []adapter.PaneInfo{
		{PaneID: "%1", PaneTty: "ttys001"},
		{PaneID: "%2", PaneTty: "ttys002"},
	}}
	if got := m.resolvePaneID("", "ttys002", ""); got != "%2" {
		t.Fatalf("got %q", got)
	}
}

func TestResolvePaneID_AmbiguousTTYDropped(t *testing.T) {
	m := &Monitor{lastPanes: []adapter.PaneInfo{
		{PaneID: "%1", PaneTty: "ttys001"},
		{PaneID: "%2", PaneTty: "ttys001"},
	}}
	if got := m.resolvePaneID("", "ttys001", ""); got != "" {
		t.Fatalf("expected ambiguous match to be dropped, got %q", got)
	}
}

func TestResolvePaneID_FallsBackToUniqueCWDMatch(t *testing.T) {
	m := &Monitor{lastPanes: []adapter.PaneInfo{
		{PaneID: "%1", CurrentPath: "/repo/a"},
		{PaneID: "%2", CurrentPath: "/repo/b"},
	}}
	if got := m.resolvePaneID("", "", "/repo/b"); got != "%2" {
		t.Fatalf("got %q", got)
	}
}
