package estimator

import (
	"testing"
	"time"
)

var baseNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestEstimate_PaneDeadWins(t *testing.T) {
	in := Input{PaneDead: true, HookSignal: &HookSignal{State: Running, At: baseNow}}
	r := Estimate(in, baseNow)
	if r.State != Shell || r.Reason != "pane_dead" {
		t.Fatalf("got %+v, want SHELL/pane_dead", r)
	}
}

func TestEstimate_HookSignalBeatsOutputTimers(t *testing.T) {
	old := baseNow.Add(-time.Hour)
	in := Input{
		LastOutputAt: &old,
		HookSignal:   &HookSignal{State: WaitingPermission, Reason: "permission_prompt", At: baseNow},
		Thresholds:   Thresholds{RunningMs: 5000, InactiveMs: 60000},
	}
	r := Estimate(in, baseNow)
	if r.State != WaitingPermission || r.Reason != "permission_prompt" {
		t.Fatalf("got %+v, want WAITING_PERMISSION/permission_prompt", r)
	}
}

func TestEstimate_NoOutputIsUnknown(t *testing.T) {
	r := Estimate(Input{Thresholds: Thresholds{RunningMs: 5000, InactiveMs: 60000}}, baseNow)
	if r.State != Unknown || r.Reason != "no_output" {
		t.Fatalf("got %+v, want UNKNOWN/no_output", r)
	}
}

func TestEstimate_RecentOutputIsRunning(t *testing.T) {
	recent := baseNow.Add(-2 * time.Second)
	in := Input{LastOutputAt: &recent, Thresholds: Thresholds{RunningMs: 5000, InactiveMs: 60000}}
	r := Estimate(in, baseNow)
	if r.State != Running || r.Reason != "recent_output" {
		t.Fatalf("got %+v, want RUNNING/recent_output", r)
	}
}

func TestEstimate_StaleWithinInactiveIsWaitingInput(t *testing.T) {
	stale := baseNow.Add(-30 * time.Second)
	in := Input{LastOutputAt: &stale, Thresholds: Thresholds{RunningMs: 5000, InactiveMs: 60000}}
	r := Estimate(in, baseNow)
	if r.State != WaitingInput || r.Reason != "idle" {
		t.Fatalf("got %+v, want WAITING_INPUT/idle", r)
	}
}

func TestEstimate_VeryStaleIsShell(t *testing.T) {
	ancient := baseNow.Add(-time.Hour)
	in := Input{LastOutputAt: &ancient, Thresholds: Thresholds{RunningMs: 5000, InactiveMs: 60000}}
	r := Estimate(in, baseNow)
	if r.State != Shell || r.Reason != "inactive_timeout" {
		t.Fatalf("got %+v, want SHELL/inactive_timeout", r)
	}
}

func TestEstimate_CodexRunningMsClampedTo10s(t *testing.T) {
	elapsed15s := baseNow.Add(-15 * time.Second)
	in := Input{
		LastOutputAt: &elapsed15s,
		Thresholds:   Thresholds{RunningMs: 60000, InactiveMs: 120000},
		Agent:        "codex",
	}
	r := Estimate(in, baseNow)
	if r.State != WaitingInput {
		t.Fatalf("got %+v, want WAITING_INPUT because codex clamps runningMs to 10s", r)
	}
}

func TestEstimate_NonCodexNotClamped(t *testing.T) {
	elapsed15s := baseNow.Add(-15 * time.Second)
	in := Input{
		LastOutputAt: &elapsed15s,
		Thresholds:   Thresholds{RunningMs: 60000, InactiveMs: 120000},
		Agent:        "claude",
	}
	r := Estimate(in, baseNow)
	if r.State != Running {
		t.Fatalf("got %+v, want RUNNING since only codex clamps runningMs", r)
	}
}

func TestEstimate_RestoreOverridesEverything(t *testing.T) {
	in := Input{
		PaneDead:      true,
		Restore:       true,
		RestoredState: WaitingPermission,
	}
	r := Estimate(in, baseNow)
	if r.State != WaitingPermission || r.Reason != "restored" {
		t.Fatalf("got %+v, want WAITING_PERMISSION/restored overriding pane_dead", r)
	}
}
