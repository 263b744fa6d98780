package adapter

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Local is a degraded Capability backend for hosts with neither tmux nor
// wezterm installed: it manages a small set of directly-spawned PTY
// processes and reports each as a single-pane "session". There is no
// pipe-pane equivalent (AttachPipe always no-ops); the monitor relies on
// fingerprint sampling alone for panes on this backend.
type Local struct {
	mu      sync.Mutex
	procs   map[string]*localProc
	nextID  int
	newProc func(workDir, command string, args []string) (*localProc, error)
}

type localProc struct {
	paneID    string
	command   string
	args      []string
	workDir   string
	pid       int
	tty       string
	dead      bool
	startedAt time.Time

	write func([]byte) (int, error)
	tail  func(maxLines int) ([]byte, error)
	kill  func() error
}

func NewLocal() *Local {
	l := &Local{procs: make(map[string]*localProc)}
	l.newProc = l.spawn
	return l
}

// Spawn starts a new locally-hosted pane running command with args in
// workDir. Returns the opaque pane ID assigned to it.
func (l *Local) Spawn(workDir, command string, args []string) (string, error) {
	l.mu.Lock()
	l.nextID++
	id := fmt.Sprintf("local%d", l.nextID)
	l.mu.Unlock()

	p, err := l.newProc(workDir, command, args)
	if err != nil {
		return "", err
	}
	p.paneID = id

	l.mu.Lock()
	l.procs[id] = p
	l.mu.Unlock()
	return id, nil
}

func (l *Local) ListPanes(ctx context.Context) ([]PaneInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	panes := make([]PaneInfo, 0, len(l.procs))
	for id, p := range l.procs {
		panes = append(panes, PaneInfo{
			PaneID:           id,
			SessionName:      id,
			WindowIndex:      0,
			PaneIndex:        0,
			PaneActive:       true,
			CurrentCommand:   p.command,
			CurrentPath:      p.workDir,
			PaneTty:          p.tty,
			PaneTitle:        p.command,
			PanePid:          p.pid,
			PaneStartCommand: p.command,
			PaneDead:         p.dead,
			AlternateOn:      false,
		})
	}
	return panes, nil
}

func (l *Local) ReadUserOption(ctx context.Context, paneID, key string) (string, error) {
	return "", nil
}

func (l *Local) AttachPipe(ctx context.Context, paneID, logPath string, current PaneInfo) (AttachResult, error) {
	return AttachResult{Attached: false, Conflict: false}, nil
}

func (l *Local) HasConflict(current PaneInfo) bool {
	return false
}

func (l *Local) CaptureTail(ctx context.Context, paneID string, useAlt bool) ([]byte, error) {
	l.mu.Lock()
	p, ok := l.procs[paneID]
	l.mu.Unlock()
	if !ok || p.tail == nil {
		return nil, fmt.Errorf("adapter/local: unknown pane %s", paneID)
	}
	return p.tail(200)
}

func (l *Local) SendText(ctx context.Context, paneID, text string, pressEnter bool) SendResult {
	l.mu.Lock()
	p, ok := l.procs[paneID]
	l.mu.Unlock()
	if !ok || p.write == nil {
		return SendResult{Error: "unknown pane"}
	}
	if pressEnter {
		text += "\r"
	}
	if _, err := p.write([]byte(text)); err != nil {
		return SendResult{Error: err.Error()}
	}
	return SendResult{OK: true}
}

func (l *Local) SendKeys(ctx context.Context, paneID string, keys []string) SendResult {
	var payload string
	for _, k := range keys {
		switch k {
		case "Enter":
			payload += "\r"
		case "Tab":
			payload += "\t"
		case "Escape":
			payload += "\x1b"
		default:
			payload += k
		}
	}
	return l.SendText(ctx, paneID, payload, false)
}

func (l *Local) SendRaw(ctx context.Context, paneID string, items []SendItem, unsafe bool) SendResult {
	var payload string
	for _, it := range items {
		if it.Key != "" {
			payload += it.Key
		} else {
			payload += it.Text
		}
	}
	return l.SendText(ctx, paneID, payload, false)
}

func (l *Local) KillPane(ctx context.Context, paneID string) error {
	l.mu.Lock()
	p, ok := l.procs[paneID]
	if ok {
		delete(l.procs, paneID)
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("adapter/local: unknown pane %s", paneID)
	}
	if p.kill != nil {
		return p.kill()
	}
	return nil
}

// defaultEnv appends TERM so agent CLIs render correctly under a bare PTY.
func defaultEnv() []string {
	return append(os.Environ(), "TERM=xterm-256color")
}
