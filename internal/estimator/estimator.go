// Package estimator implements the State Estimator: a pure function from a
// pane's current signals to (state, reason). It has no dependency on the
// registry, the adapter, or wall-clock sources beyond the `now` it is given.
package estimator

import "time"

// StateValue is the classified runtime state of a pane.
type StateValue string

const (
	Running           StateValue = "RUNNING"
	WaitingInput      StateValue = "WAITING_INPUT"
	WaitingPermission StateValue = "WAITING_PERMISSION"
	Shell             StateValue = "SHELL"
	Unknown           StateValue = "UNKNOWN"
)

// HookSignal mirrors panestate.HookSignal without importing it, keeping
// this package dependency-free.
type HookSignal struct {
	State  StateValue
	Reason string
	At     time.Time
}

// Thresholds bounds how long a pane is considered RUNNING vs WAITING_INPUT
// vs SHELL after its last observed output.
type Thresholds struct {
	RunningMs  int64
	InactiveMs int64
}

// Input is every signal the Estimator consumes for one pane.
type Input struct {
	PaneDead     bool
	LastOutputAt *time.Time
	HookSignal   *HookSignal
	Thresholds   Thresholds
	Agent        string // "codex", "claude", "unknown"

	// Restore is true for exactly the first estimation of a pane after a
	// restart; when true it overrides every other rule and RestoredState
	// (the state persisted before the restart) is returned verbatim.
	Restore       bool
	RestoredState StateValue
}

// Result is the estimator's output.
type Result struct {
	State  StateValue
	Reason string
}

// Estimate applies the precedence rules in order; the first that matches
// wins. now is passed in explicitly so the function stays pure.
func Estimate(in Input, now time.Time) Result {
	if in.Restore {
		state := in.RestoredState
		if state == "" {
			state = Unknown
		}
		return Result{State: state, Reason: "restored"}
	}

	if in.PaneDead {
		return Result{State: Shell, Reason: "pane_dead"}
	}

	if in.HookSignal != nil {
		return Result{State: in.HookSignal.State, Reason: in.HookSignal.Reason}
	}

	if in.LastOutputAt == nil {
		return Result{State: Unknown, Reason: "no_output"}
	}

	thresholds := in.Thresholds
	if in.Agent == "codex" && thresholds.RunningMs > 10000 {
		thresholds.RunningMs = 10000
	}

	elapsed := now.Sub(*in.LastOutputAt).Milliseconds()
	switch {
	case elapsed <= thresholds.RunningMs:
		return Result{State: Running, Reason: "recent_output"}
	case elapsed <= thresholds.InactiveMs:
		return Result{State: WaitingInput, Reason: "idle"}
	default:
		return Result{State: Shell, Reason: "inactive_timeout"}
	}
}
