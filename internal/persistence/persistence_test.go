package persistence

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewStore(path, nil)

	msg := "waiting on approval"
	doc := Document{
		Sessions: map[string]PersistedSession{
			"%1": {State: "WAITING_PERMISSION", StateReason: "permission_prompt", LastMessage: &msg},
		},
		Timeline: map[string][]TimelineEvent{
			"%1": {{ID: "1", PaneID: "%1", State: "WAITING_PERMISSION", Reason: "permission_prompt", StartedAt: "2026-01-01T00:00:00Z", Source: "hook"}},
		},
	}

	if err := s.Save(doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Version != CurrentVersion {
		t.Fatalf("got version %d, want %d", got.Version, CurrentVersion)
	}
	if got.Sessions["%1"].State != "WAITING_PERMISSION" {
		t.Fatalf("unexpected session: %+v", got.Sessions["%1"])
	}
	if len(got.Timeline["%1"]) != 1 {
		t.Fatalf("expected 1 timeline event, got %d", len(got.Timeline["%1"]))
	}
}

func TestSave_WritesWithOwnerOnlyPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewStore(path, nil)

	if err := s.Save(Document{Sessions: map[string]PersistedSession{}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("got perm %o, want 0600", info.Mode().Perm())
	}
}

func TestLoad_MissingFileReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "missing.json"), nil)

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if doc.Version != 0 {
		t.Fatalf("expected zero-value document, got %+v", doc)
	}
}

func TestLoad_RejectsWrongVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte(`{"version":1,"sessions":{},"timeline":{}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path, nil)
	if _, err := s.Load(); err == nil {
		t.Fatal("expected an error for version != 2")
	}
}

func TestLoad_DropsTimelineEventsMissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	raw := `{"version":2,"sessions":{},"timeline":{"%1":[
		{"id":"1","paneId":"%1","state":"RUNNING","reason":"x","startedAt":"2026-01-01T00:00:00Z","source":"poll"},
		{"id":"2","paneId":"","state":"RUNNING","reason":"x","startedAt":"2026-01-01T00:00:00Z","source":"poll"}
	]}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	s := NewStore(path, nil)
	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Timeline["%1"]) != 1 {
		t.Fatalf("expected the malformed event to be dropped, got %d events", len(doc.Timeline["%1"]))
	}
}
