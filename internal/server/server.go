package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/loppo-llc/vde-monitor/internal/broadcast"
	gitpkg "github.com/loppo-llc/vde-monitor/internal/git"
	"github.com/loppo-llc/vde-monitor/internal/monitor"
	"github.com/loppo-llc/vde-monitor/internal/notify"
	"github.com/loppo-llc/vde-monitor/internal/timeline"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/coder/websocket"
)

// Server is the thin net/http transport in front of the Monitor facade:
// it owns no agent-session state of its own, routing every request
// straight to monitor/broadcast/notify/git.
type Server struct {
	monitor   *monitor.Monitor
	broadcast *broadcast.Hub
	notify    *notify.Dispatcher
	git       *gitpkg.Manager
	auth      *Auth

	logger  *slog.Logger
	httpSrv *http.Server
	version string
}

// Config bundles the already-constructed core collaborators this
// transport routes to; main.go owns their lifecycle.
type Config struct {
	Addr      string
	StateDir  string
	DevMode   bool
	Logger    *slog.Logger
	Version   string
	Monitor   *monitor.Monitor
	Broadcast *broadcast.Hub
	Notify    *notify.Dispatcher // nil disables the /push/* routes
}

func New(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	auth, err := NewAuth(cfg.StateDir, logger)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		monitor:   cfg.Monitor,
		broadcast: cfg.Broadcast,
		notify:    cfg.Notify,
		git:       gitpkg.New(logger),
		auth:      auth,
		logger:    logger,
		version:   cfg.Version,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/pair/start", auth.handleStartPairing(cfg.StateDir))
	mux.HandleFunc("POST /api/v1/pair/complete", auth.handleCompletePairing())

	mux.HandleFunc("GET /api/v1/info", s.handleInfo)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", s.handlePatchSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/input", s.handleRecordInput)
	mux.HandleFunc("POST /api/v1/sessions/{id}/send", s.handleSendText)
	mux.HandleFunc("POST /api/v1/sessions/{id}/kill", s.handleKillPane)
	mux.HandleFunc("GET /api/v1/sessions/{id}/timeline", s.handleGetTimeline)
	mux.HandleFunc("GET /api/v1/sessions/{id}/capture", s.handleGetCapture)
	mux.HandleFunc("GET /api/v1/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/v1/git/status", s.handleGitStatus)
	mux.HandleFunc("GET /api/v1/git/log", s.handleGitLog)
	mux.HandleFunc("GET /api/v1/git/diff", s.handleGitDiff)
	mux.HandleFunc("POST /api/v1/git/exec", s.handleGitExec)

	mux.HandleFunc("GET /api/v1/push/vapid", s.handleVAPIDKey)
	mux.HandleFunc("POST /api/v1/push/subscribe", s.handlePushSubscribe)
	mux.HandleFunc("POST /api/v1/push/unsubscribe", s.handlePushUnsubscribe)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           auth.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server started", "addr", ln.Addr().String())
	return s.httpSrv.Serve(ln)
}

func (s *Server) ServeTLS(ln net.Listener, certFile, keyFile string) error {
	s.logger.Info("server started (TLS)", "addr", ln.Addr().String())
	return s.httpSrv.ServeTLS(ln, certFile, keyFile)
}

func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) SetTLSConfig(tlsCfg *tls.Config) {
	s.httpSrv.TLSConfig = tlsCfg
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down...")
	s.monitor.Stop()
	if s.notify != nil {
		s.notify.WaitIdle()
	}
	return s.httpSrv.Shutdown(ctx)
}

// --- Session handlers ---

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"version":  s.version,
		"hostname": hostname,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{"sessions": s.monitor.Snapshot()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	detail, ok := s.monitor.GetDetail(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no session for pane: "+id)
		return
	}
	writeJSONResponse(w, http.StatusOK, detail)
}

func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.monitor.GetDetail(id); !ok {
		writeError(w, http.StatusNotFound, "not_found", "no session for pane: "+id)
		return
	}

	var req struct {
		CustomTitle *string `json:"customTitle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	s.monitor.SetCustomTitle(id, req.CustomTitle)

	detail, _ := s.monitor.GetDetail(id)
	writeJSONResponse(w, http.StatusOK, detail)
}

func (s *Server) handleRecordInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		At *string `json:"at"`
	}
	json.NewDecoder(r.Body).Decode(&req) // empty body is valid: "at" defaults to now

	var at *time.Time
	if req.At != nil {
		if t, err := time.Parse(time.RFC3339, *req.At); err == nil {
			at = &t
		}
	}
	s.monitor.RecordInput(id, at)
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Text       string `json:"text"`
		PressEnter bool   `json:"pressEnter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	res := s.monitor.SendText(r.Context(), id, req.Text, req.PressEnter)
	if !res.OK {
		writeError(w, http.StatusBadGateway, "send_failed", res.Error)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleKillPane(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.monitor.KillPane(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, "kill_failed", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rng := timeline.Range(r.URL.Query().Get("range"))
	if rng == "" {
		rng = "1h"
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	view := s.monitor.GetStateTimeline(id, rng, limit, time.Now())
	writeJSONResponse(w, http.StatusOK, view)
}

func (s *Server) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, ok := s.monitor.GetScreenCapture(r.Context(), id)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "capture_unavailable", "no screen capture available for pane: "+id)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if result.Truncated {
		w.Header().Set("X-Capture-Truncated", "true")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(result.Data)
}

// --- WebSocket handler ---

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"100.*.*.*", "*.ts.net", "localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	s.broadcast.Serve(r.Context(), conn)
}

// --- Git handlers ---

func (s *Server) handleGitStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.git.Status(r.URL.Query().Get("workDir"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

func (s *Server) handleGitLog(w http.ResponseWriter, r *http.Request) {
	workDir := r.URL.Query().Get("workDir")
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	result, err := s.git.Log(workDir, limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

func (s *Server) handleGitDiff(w http.ResponseWriter, r *http.Request) {
	result, err := s.git.Diff(r.URL.Query().Get("workDir"), r.URL.Query().Get("ref"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

func (s *Server) handleGitExec(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkDir string   `json:"workDir"`
		Args    []string `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	result, err := s.git.Exec(req.WorkDir, req.Args)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

// --- Push notification handlers ---

func (s *Server) handleVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if s.notify == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "push notifications not configured")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"publicKey": s.notify.VAPIDPublic})
}

func (s *Server) handlePushSubscribe(w http.ResponseWriter, r *http.Request) {
	if s.notify == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "push notifications not configured")
		return
	}
	var req struct {
		PaneIDs []string              `json:"paneIds"`
		WebPush *webpush.Subscription `json:"webPush"`
		Slack   *notify.SlackTarget   `json:"slack"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid subscription")
		return
	}
	if req.WebPush == nil && req.Slack == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "subscription needs a webPush or slack target")
		return
	}

	sub := &notify.Subscription{
		ID:      uuid.New().String(),
		PaneIDs: req.PaneIDs,
		WebPush: req.WebPush,
		Slack:   req.Slack,
	}
	s.notify.Subscribe(sub)
	writeJSONResponse(w, http.StatusOK, map[string]string{"id": sub.ID})
}

func (s *Server) handlePushUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if s.notify == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "push notifications not configured")
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request")
		return
	}
	s.notify.Unsubscribe(req.ID)
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Helpers ---

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSONResponse(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
