package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loppo-llc/vde-monitor/internal/adapter"
	"github.com/loppo-llc/vde-monitor/internal/broadcast"
	"github.com/loppo-llc/vde-monitor/internal/monitor"
)

type fakeAdapter struct {
	panes []adapter.PaneInfo
}

func (f *fakeAdapter) ListPanes(ctx context.Context) ([]adapter.PaneInfo, error) { return f.panes, nil }
func (f *fakeAdapter) ReadUserOption(ctx context.Context, paneID, key string) (string, error) {
	return "", nil
}
func (f *fakeAdapter) AttachPipe(ctx context.Context, paneID, logPath string, current adapter.PaneInfo) (adapter.AttachResult, error) {
	return adapter.AttachResult{Attached: true}, nil
}
func (f *fakeAdapter) HasConflict(current adapter.PaneInfo) bool { return adapter.HasConflict(current) }
func (f *fakeAdapter) CaptureTail(ctx context.Context, paneID string, useAlt bool) ([]byte, error) {
	return []byte("screen contents"), nil
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

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	stateDir := t.TempDir()
	cfg := monitor.DefaultConfig(t.TempDir())
	backend := &fakeAdapter{panes: []adapter.PaneInfo{
		{PaneID: "%1", CurrentCommand: "claude", PaneTitle: "claude"},
	}}
	m := monitor.New(cfg, backend, nil)
	m.Poll(context.Background())

	srv, err := New(Config{
		Addr:      "127.0.0.1:0",
		StateDir:  stateDir,
		Logger:    nil,
		Version:   "test",
		Monitor:   m,
		Broadcast: broadcast.NewHub(nil),
	})
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}

	token := srv.auth.token
	return srv, token
}

func authed(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHandleListSessions_ReturnsRegisteredPanes(t *testing.T) {
	srv, token := testServer(t)
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil), token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Sessions []map[string]any `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(body.Sessions))
	}
}

func TestHandleGetSession_UnknownPaneReturns404(t *testing.T) {
	srv, token := testServer(t)
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/nope", nil), token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlePatchSession_SetsCustomTitle(t *testing.T) {
	srv, token := testServer(t)
	req := authed(httptest.NewRequest(http.MethodPatch, "/api/v1/sessions/%251", strings.NewReader(`{"customTitle":"renamed"}`)), token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "renamed") {
		t.Fatalf("expected response to reflect the new title, got %s", rec.Body.String())
	}
}

func TestHandleSendText_InvokesAdapterSend(t *testing.T) {
	srv, token := testServer(t)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/sessions/%251/send", strings.NewReader(`{"text":"hello","pressEnter":true}`)), token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandlePushVAPID_UnavailableWithoutDispatcher(t *testing.T) {
	srv, token := testServer(t)
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/push/vapid", nil), token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no dispatcher configured, got %d", rec.Code)
	}
}

func TestRoutes_RejectMissingToken(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no token, got %d", rec.Code)
	}
}
