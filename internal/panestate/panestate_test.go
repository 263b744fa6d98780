package panestate

import (
	"testing"
	"time"
)

func TestMarkOutput_AdvancesMonotonically(t *testing.T) {
	s := NewStore()
	t1 := time.Unix(100, 0)
	t2 := time.Unix(50, 0) // earlier than t1

	s.MarkOutput("%1", t1)
	s.MarkOutput("%1", t2)

	rec := s.Snapshot("%1")
	if !rec.LastOutputAt.Equal(t1) {
		t.Fatalf("expected lastOutputAt to stay at %v, got %v", t1, rec.LastOutputAt)
	}
}

func TestMarkOutput_ClearsStaleHookSignal(t *testing.T) {
	s := NewStore()
	hookAt := time.Unix(100, 0)
	s.MarkHookSignal("%1", HookSignal{State: "RUNNING", Reason: "hook:stop", At: hookAt})

	s.MarkOutput("%1", time.Unix(200, 0))

	rec := s.Snapshot("%1")
	if rec.HookSignal != nil {
		t.Fatal("expected hook signal to be cleared by newer output")
	}
}

func TestMarkHookSignal_ReplacesNotMerges(t *testing.T) {
	s := NewStore()
	s.MarkHookSignal("%1", HookSignal{State: "RUNNING", Reason: "hook:pretooluse", At: time.Unix(1, 0)})
	s.MarkHookSignal("%1", HookSignal{State: "WAITING_INPUT", Reason: "hook:stop", At: time.Unix(2, 0)})

	rec := s.Snapshot("%1")
	if rec.HookSignal.State != "WAITING_INPUT" || rec.HookSignal.Reason != "hook:stop" {
		t.Fatalf("expected latest signal to fully replace prior one, got %+v", rec.HookSignal)
	}
}

func TestMarkHookSignal_SetsLastEventAt(t *testing.T) {
	s := NewStore()
	at := time.Unix(42, 0)
	s.MarkHookSignal("%1", HookSignal{State: "RUNNING", Reason: "hook:stop", At: at})

	rec := s.Snapshot("%1")
	if rec.LastEventAt == nil || !rec.LastEventAt.Equal(at) {
		t.Fatalf("expected lastEventAt %v, got %v", at, rec.LastEventAt)
	}
}

func TestMarkHookSignal_DroppedWhenOlderThanOutput(t *testing.T) {
	s := NewStore()
	s.MarkOutput("%1", time.Unix(100, 0))
	s.MarkHookSignal("%1", HookSignal{State: "RUNNING", Reason: "hook:pretooluse", At: time.Unix(50, 0)})

	rec := s.Snapshot("%1")
	if rec.HookSignal != nil {
		t.Fatal("expected stale hook signal (older than output) to be dropped")
	}
}

func TestRemove_DropsRecord(t *testing.T) {
	s := NewStore()
	s.MarkOutput("%1", time.Unix(1, 0))
	s.Remove("%1")

	rec := s.Snapshot("%1")
	if rec.LastOutputAt != nil {
		t.Fatal("expected a fresh empty record after Remove")
	}
}
