package adapter

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// metadataTimeout bounds tmux metadata calls (list-panes, show-options, ...).
const metadataTimeout = 3 * time.Second

// captureTimeout bounds the heavier capture-pane call.
const captureTimeout = 8 * time.Second

// tmuxListFormat is the single list-panes -F format string used to pull a
// full snapshot in one subprocess invocation.
const tmuxListFormat = "#{pane_id}\t#{session_name}\t#{window_index}\t#{pane_index}\t#{pane_active}\t" +
	"#{pane_current_command}\t#{pane_current_path}\t#{pane_tty}\t#{pane_title}\t#{pane_pid}\t" +
	"#{pane_start_command}\t#{pane_dead}\t#{alternate_on}\t#{window_activity}\t#{pane_pipe}\t" +
	"#{@vde-monitor_pipe}"

// Tmux is the tmux-backed Capability implementation.
type Tmux struct {
	// SocketName/SocketPath select a non-default tmux server; both empty
	// means the default socket.
	SocketName string
	SocketPath string
}

func NewTmux(socketName, socketPath string) *Tmux {
	return &Tmux{SocketName: socketName, SocketPath: socketPath}
}

func (t *Tmux) baseArgs() []string {
	var args []string
	if t.SocketPath != "" {
		args = append(args, "-S", t.SocketPath)
	} else if t.SocketName != "" {
		args = append(args, "-L", t.SocketName)
	}
	return args
}

func (t *Tmux) command(ctx context.Context, args ...string) *exec.Cmd {
	full := append(append([]string{}, t.baseArgs()...), args...)
	return exec.CommandContext(ctx, "tmux", full...)
}

func (t *Tmux) ListPanes(ctx context.Context) ([]PaneInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	out, err := t.command(ctx, "list-panes", "-a", "-F", tmuxListFormat).Output()
	if err != nil {
		return nil, fmt.Errorf("%w: tmux list-panes: %v", ErrBackendUnavailable, err)
	}

	var panes []PaneInfo
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 16)
		if len(parts) != 16 {
			continue
		}
		win, _ := strconv.Atoi(parts[2])
		idx, _ := strconv.Atoi(parts[3])
		pid, _ := strconv.Atoi(parts[9])
		var activity *int64
		if v, err := strconv.ParseInt(parts[13], 10, 64); err == nil {
			activity = &v
		}
		panes = append(panes, PaneInfo{
			PaneID:           parts[0],
			SessionName:      parts[1],
			WindowIndex:      win,
			PaneIndex:        idx,
			PaneActive:       parts[4] == "1",
			CurrentCommand:   parts[5],
			CurrentPath:      parts[6],
			PaneTty:          parts[7],
			PaneTitle:        parts[8],
			PanePid:          pid,
			PaneStartCommand: parts[10],
			PaneDead:         parts[11] == "1",
			AlternateOn:      parts[12] == "1",
			WindowActivity:   activity,
			PanePipe:         parts[14],
			PipeTagValue:     parts[15],
		})
	}

	return panes, nil
}

func (t *Tmux) ReadUserOption(ctx context.Context, paneID, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	out, err := t.command(ctx, "show-options", "-p", "-t", paneID, "-v", key).Output()
	if err != nil {
		// tmux exits non-zero when the option is unset; treat as empty.
		return "", nil
	}
	return strings.TrimSpace(string(out)), nil
}

func (t *Tmux) AttachPipe(ctx context.Context, paneID, logPath string, current PaneInfo) (AttachResult, error) {
	if current.PanePipe != "" || current.PipeTagValue == "1" {
		return AttachResult{Attached: current.PipeTagValue == "1", Conflict: HasConflict(current)}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	cmd := t.command(ctx, "pipe-pane", "-t", paneID, "-o", fmt.Sprintf("cat >> %s", shellQuote(logPath)))
	if err := cmd.Run(); err != nil {
		return AttachResult{}, fmt.Errorf("tmux pipe-pane: %w", err)
	}

	setCmd := t.command(ctx, "set-option", "-p", "-t", paneID, PipeTagKey, "1")
	if err := setCmd.Run(); err != nil {
		return AttachResult{Attached: true}, fmt.Errorf("tmux set-option pipe tag: %w", err)
	}

	return AttachResult{Attached: true, Conflict: false}, nil
}

func (t *Tmux) HasConflict(current PaneInfo) bool {
	return HasConflict(current)
}

func (t *Tmux) CaptureTail(ctx context.Context, paneID string, useAlt bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	args := []string{"capture-pane", "-p", "-t", paneID}
	if useAlt {
		args = append(args, "-a")
	}
	out, err := t.command(ctx, args...).Output()
	if err != nil {
		if useAlt {
			// no alternate screen: fall back to the primary screen
			return t.CaptureTail(ctx, paneID, false)
		}
		return nil, err
	}
	return out, nil
}

func (t *Tmux) SendText(ctx context.Context, paneID, text string, pressEnter bool) SendResult {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	args := []string{"send-keys", "-t", paneID, "-l", text}
	if err := t.command(ctx, args...).Run(); err != nil {
		return SendResult{Error: err.Error()}
	}
	if pressEnter {
		if err := t.command(ctx, "send-keys", "-t", paneID, "Enter").Run(); err != nil {
			return SendResult{Error: err.Error()}
		}
	}
	return SendResult{OK: true}
}

func (t *Tmux) SendKeys(ctx context.Context, paneID string, keys []string) SendResult {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	args := append([]string{"send-keys", "-t", paneID}, keys...)
	if err := t.command(ctx, args...).Run(); err != nil {
		return SendResult{Error: err.Error()}
	}
	return SendResult{OK: true}
}

func (t *Tmux) SendRaw(ctx context.Context, paneID string, items []SendItem, unsafe bool) SendResult {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	for _, it := range items {
		var args []string
		if it.Key != "" {
			args = []string{"send-keys", "-t", paneID, it.Key}
		} else if unsafe {
			args = []string{"send-keys", "-t", paneID, it.Text}
		} else {
			args = []string{"send-keys", "-t", paneID, "-l", it.Text}
		}
		if err := t.command(ctx, args...).Run(); err != nil {
			return SendResult{Error: err.Error()}
		}
	}
	return SendResult{OK: true}
}

func (t *Tmux) KillPane(ctx context.Context, paneID string) error {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	return t.command(ctx, "kill-pane", "-t", paneID).Run()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
