// Package classify derives an AgentKind for a pane from its metadata and,
// when metadata alone is inconclusive, a process-tree probe. It is a pure
// function plus a small set of short-TTL caches; results never flow back
// into the registry directly, only through the Monitor Loop.
package classify

import (
	"strings"
	"sync"
	"time"

	ps "github.com/mitchellh/go-ps"

	"github.com/loppo-llc/vde-monitor/internal/adapter"
)

// AgentKind identifies which supported agent, if any, a pane hosts.
type AgentKind string

const (
	Codex   AgentKind = "codex"
	Claude  AgentKind = "claude"
	Unknown AgentKind = "unknown"
)

// Result is the outcome of classifying one pane.
type Result struct {
	Kind   AgentKind
	Ignore bool // true when the pane hosts a bare editor and must be skipped entirely
}

var editorBinaries = map[string]struct{}{
	"vim":     {},
	"nvim":    {},
	"vi":      {},
	"gvim":    {},
	"nvim-qt": {},
	"neovim":  {},
}

const cacheTTL = 5 * time.Second

// ProcessLister abstracts github.com/mitchellh/go-ps for testability.
type ProcessLister interface {
	FindProcess(pid int) (ps.Process, error)
	Processes() ([]ps.Process, error)
}

type osLister struct{}

func (osLister) FindProcess(pid int) (ps.Process, error) { return ps.FindProcess(pid) }
func (osLister) Processes() ([]ps.Process, error)        { return ps.Processes() }

// Classifier caches pid→command, tty→agent and the global process snapshot
// for cacheTTL so a busy Monitor Loop tick over many panes doesn't re-walk
// the OS process table per pane.
type Classifier struct {
	lister ProcessLister

	mu         sync.Mutex
	pidCmd     map[int]cacheEntry
	ttyAgent   map[string]agentCacheEntry
	procSnap   []ps.Process
	procSnapAt time.Time
}

type cacheEntry struct {
	cmd string
	at  time.Time
}

type agentCacheEntry struct {
	kind AgentKind
	at   time.Time
}

func New() *Classifier {
	return &Classifier{
		lister:   osLister{},
		pidCmd:   make(map[int]cacheEntry),
		ttyAgent: make(map[string]agentCacheEntry),
	}
}

// NewWithLister is used by tests to substitute a fake ProcessLister.
func NewWithLister(l ProcessLister) *Classifier {
	c := New()
	c.lister = l
	return c
}

// Classify applies the five-step classifier rule from pane metadata and,
// when needed, a process-tree probe rooted at pane.PanePid.
func (c *Classifier) Classify(pane adapter.PaneInfo) Result {
	if k := matchSubstr(pane.CurrentCommand, pane.PaneStartCommand, pane.PaneTitle); k != Unknown {
		return Result{Kind: k}
	}

	if cmd := c.commandForPid(pane.PanePid); cmd != "" {
		if k := matchSubstr(cmd); k != Unknown {
			return Result{Kind: k}
		}
	}

	if k := c.walkProcessTree(pane.PanePid); k != Unknown {
		return Result{Kind: k}
	}

	if k := c.ttyAttachedAgent(pane.PaneTty); k != Unknown {
		return Result{Kind: k}
	}

	if isEditorForeground(pane.CurrentCommand) && !hasAgentHint(pane.CurrentCommand, pane.PaneTitle) {
		return Result{Kind: Unknown, Ignore: true}
	}

	return Result{Kind: Unknown}
}

func matchSubstr(fields ...string) AgentKind {
	for _, f := range fields {
		lower := strings.ToLower(f)
		if strings.Contains(lower, string(Codex)) {
			return Codex
		}
		if strings.Contains(lower, string(Claude)) {
			return Claude
		}
	}
	return Unknown
}

func isEditorForeground(currentCommand string) bool {
	base := currentCommand
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	if sp := strings.IndexByte(base, ' '); sp >= 0 {
		base = base[:sp]
	}
	_, known := editorBinaries[strings.ToLower(base)]
	return known
}

func hasAgentHint(fields ...string) bool {
	return matchSubstr(fields...) != Unknown
}

func (c *Classifier) commandForPid(pid int) string {
	if pid <= 0 {
		return ""
	}
	c.mu.Lock()
	if e, ok := c.pidCmd[pid]; ok && time.Since(e.at) < cacheTTL {
		c.mu.Unlock()
		return e.cmd
	}
	c.mu.Unlock()

	proc, err := c.lister.FindProcess(pid)
	cmd := ""
	if err == nil && proc != nil {
		cmd = proc.Executable()
	}

	c.mu.Lock()
	c.pidCmd[pid] = cacheEntry{cmd: cmd, at: time.Now()}
	c.mu.Unlock()
	return cmd
}

// walkProcessTree descends from rootPid through the process snapshot
// looking for any descendant whose command matches codex/claude. go-ps
// only exposes parent links, so we invert the snapshot into a
// parent→children map once per refresh.
func (c *Classifier) walkProcessTree(rootPid int) AgentKind {
	if rootPid <= 0 {
		return Unknown
	}
	snap := c.snapshot()

	children := make(map[int][]ps.Process, len(snap))
	for _, p := range snap {
		children[p.PPid()] = append(children[p.PPid()], p)
	}

	visited := make(map[int]bool)
	queue := []int{rootPid}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if visited[pid] {
			continue
		}
		visited[pid] = true
		for _, child := range children[pid] {
			if k := matchSubstr(child.Executable()); k != Unknown {
				return k
			}
			queue = append(queue, child.Pid())
		}
	}
	return Unknown
}

// paneTTYDeviceFunc and processTTYDeviceFunc resolve a tty path / pid to
// the kernel device number backing its controlling terminal. They are
// package vars (rather than direct calls) so tests can substitute fake
// device numbers without real ttys or /proc entries; production code
// gets the platform-specific implementation from classify_linux.go or
// classify_other.go.
var (
	paneTTYDeviceFunc    = platformPaneTTYDevice
	processTTYDeviceFunc = platformProcessTTYDevice
)

// ttyAttachedAgent enumerates the cached process snapshot for processes
// whose controlling tty matches the pane's, matching by executable name
// among only those processes (spec step 4: "enumerate processes attached
// to paneTty and match"). If the pane's tty can't be resolved to a device
// number (e.g. non-Linux, or the tty path no longer exists), it reports
// Unknown rather than falling back to a host-wide scan.
func (c *Classifier) ttyAttachedAgent(tty string) AgentKind {
	if tty == "" {
		return Unknown
	}
	c.mu.Lock()
	if e, ok := c.ttyAgent[tty]; ok && time.Since(e.at) < cacheTTL {
		c.mu.Unlock()
		return e.kind
	}
	c.mu.Unlock()

	kind := Unknown
	if dev, ok := paneTTYDeviceFunc(tty); ok {
		for _, p := range c.snapshot() {
			pdev, ok := processTTYDeviceFunc(p.Pid())
			if !ok || pdev != dev {
				continue
			}
			if k := matchSubstr(p.Executable()); k != Unknown {
				kind = k
				break
			}
		}
	}

	c.mu.Lock()
	c.ttyAgent[tty] = agentCacheEntry{kind: kind, at: time.Now()}
	c.mu.Unlock()
	return kind
}

func (c *Classifier) snapshot() []ps.Process {
	c.mu.Lock()
	if c.procSnap != nil && time.Since(c.procSnapAt) < cacheTTL {
		snap := c.procSnap
		c.mu.Unlock()
		return snap
	}
	c.mu.Unlock()

	procs, err := c.lister.Processes()
	if err != nil {
		procs = nil
	}

	c.mu.Lock()
	c.procSnap = procs
	c.procSnapAt = time.Now()
	c.mu.Unlock()
	return procs
}
