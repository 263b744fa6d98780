package monitor

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/loppo-llc/vde-monitor/internal/adapter"
	"github.com/loppo-llc/vde-monitor/internal/estimator"
	"github.com/loppo-llc/vde-monitor/internal/panestate"
)

// rawHookEvent is the JSONL schema from spec.md §6: hook_event_name and ts
// are required, the rest are optional pane-resolution hints. Unknown
// fields are ignored by encoding/json already; tool_name/tool_input are
// read opportunistically to enrich stateReason (§5 supplemented behavior),
// not part of the required schema.
type rawHookEvent struct {
	HookEventName    string          `json:"hook_event_name"`
	TS               string          `json:"ts"`
	TmuxPane         string          `json:"tmux_pane"`
	TTY              string          `json:"tty"`
	CWD              string          `json:"cwd"`
	NotificationType string          `json:"notification_type"`
	ToolName         string          `json:"tool_name"`
	ToolInput        json.RawMessage `json:"tool_input"`
}

const (
	hookNotification     = "Notification"
	hookStop             = "Stop"
	hookUserPromptSubmit = "UserPromptSubmit"
	hookPreToolUse       = "PreToolUse"
	hookPostToolUse      = "PostToolUse"

	notifPermissionPrompt = "permission_prompt"
)

// handleHookLine is the JSONL Hook Tailer's line listener. It runs between
// Monitor Loop ticks on its own ticker; per spec.md §5 it only updates
// paneState.hookSignal/lastEventAt, never registry.update directly.
func (m *Monitor) handleHookLine(line string) {
	var ev rawHookEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return // ParseError: dropped silently
	}
	if ev.HookEventName == "" || ev.TS == "" {
		return
	}
	at, err := time.Parse(time.RFC3339, ev.TS)
	if err != nil {
		return
	}

	state, ok := hookState(ev.HookEventName, ev.NotificationType)
	if !ok {
		return
	}

	paneID := m.resolvePaneID(ev.TmuxPane, ev.TTY, ev.CWD)
	if paneID == "" {
		return
	}

	reason := hookReason(ev.HookEventName, ev.ToolName, ev.ToolInput)
	m.paneStates.MarkHookSignal(paneID, panestate.HookSignal{
		State:  string(state),
		Reason: reason,
		At:     at,
	})
}

func hookState(eventName, notificationType string) (estimator.StateValue, bool) {
	switch eventName {
	case hookNotification:
		if notificationType == notifPermissionPrompt {
			return estimator.WaitingPermission, true
		}
		return "", false
	case hookStop:
		return estimator.WaitingInput, true
	case hookUserPromptSubmit, hookPreToolUse, hookPostToolUse:
		return estimator.Running, true
	default:
		return "", false
	}
}

// hookReason builds the stateReason string. The "hook:" prefix is what
// sourceFor uses to classify the resulting timeline entry as source=hook;
// the optional tool-detail suffix enriches it beyond the bare event kind.
func hookReason(eventName, toolName string, toolInput json.RawMessage) string {
	base := "hook:" + strings.ToLower(eventName)
	detail := buildToolDetail(eventName, toolName, toolInput)
	if detail == "" {
		return base
	}
	return base + ": " + detail
}

// buildToolDetail renders a short human-readable summary of the tool call
// a PreToolUse/PostToolUse hook reports, adapted from ccmonitor's
// buildToolDetail (other_examples/…ccmonitor…hook.go).
func buildToolDetail(eventName, toolName string, toolInput json.RawMessage) string {
	if toolName == "" {
		return ""
	}
	if eventName == hookPostToolUse {
		return fmt.Sprintf("finished %s", toolName)
	}

	var input map[string]any
	if len(toolInput) > 0 {
		json.Unmarshal(toolInput, &input) // best-effort
	}
	field := func(key string) string {
		if input == nil {
			return ""
		}
		s, _ := input[key].(string)
		return s
	}

	switch toolName {
	case "Bash":
		cmd := field("command")
		if len(cmd) > 80 {
			cmd = cmd[:80]
		}
		if cmd == "" {
			return "Bash"
		}
		return "Bash: " + cmd
	case "Edit", "Write", "Read":
		if fp := field("file_path"); fp != "" {
			return toolName + " " + filepath.Base(fp)
		}
		return toolName
	case "Glob":
		if p := field("pattern"); p != "" {
			return "Glob " + p
		}
		return "Glob"
	case "Grep":
		if p := field("pattern"); p != "" {
			return "Grep " + p
		}
		return "Grep"
	case "Task":
		if d := field("description"); d != "" {
			return "Task: " + d
		}
		return "Task"
	default:
		return toolName
	}
}

// resolvePaneID implements the hook→pane mapping order from spec.md §3:
// prefer an explicit tmux_pane, else exactly-one pane matching tty, else
// exactly-one pane matching cwd, else drop.
func (m *Monitor) resolvePaneID(tmuxPane, tty, cwd string) string {
	if tmuxPane != "" {
		return tmuxPane
	}

	m.mu.Lock()
	panes := m.lastPanes
	m.mu.Unlock()

	if tty != "" {
		if id, ok := uniquePaneMatch(panes, func(p adapter.PaneInfo) bool { return p.PaneTty == tty }); ok {
			return id
		}
	}
	if cwd != "" {
		if id, ok := uniquePaneMatch(panes, func(p adapter.PaneInfo) bool { return p.CurrentPath == cwd }); ok {
			return id
		}
	}
	return ""
}

// uniquePaneMatch returns the single pane matching pred, or ("", false) if
// zero or more than one pane matches (an ambiguous hook→pane mapping is
// dropped rather than guessed, per spec.md §3).
func uniquePaneMatch(panes []adapter.PaneInfo, pred func(adapter.PaneInfo) bool) (string, bool) {
	match := ""
	count := 0
	for _, p := range panes {
		if pred(p) {
			count++
			match = p.PaneID
		}
	}
	if count != 1 {
		return "", false
	}
	return match, true
}

// stripTitlePrefix removes a leading status glyph (Claude Code prefixes
// pane titles with a symbol like "✳ " that varies by platform/encoding),
// adapted from ccmonitor's stripTitlePrefix.
func stripTitlePrefix(title string) string {
	i := strings.IndexFunc(title, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	})
	if i > 0 {
		return title[i:]
	}
	return title
}
