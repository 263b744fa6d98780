package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Wezterm is the wezterm-backed Capability implementation, driven entirely
// through `wezterm cli`. Wezterm has no pipe-pane equivalent, so AttachPipe
// always reports a conflict-free no-op; the monitor falls back to fingerprint
// sampling alone for panes hosted by this backend.
type Wezterm struct {
	// Binary allows overriding the wezterm executable name (e.g. "wezterm.exe").
	Binary string
}

func NewWezterm() *Wezterm {
	return &Wezterm{Binary: "wezterm"}
}

func (w *Wezterm) bin() string {
	if w.Binary != "" {
		return w.Binary
	}
	return "wezterm"
}

type weztermPane struct {
	PaneID          int    `json:"pane_id"`
	TabID           int    `json:"tab_id"`
	WindowID        int    `json:"window_id"`
	WorkspaceName   string `json:"workspace"`
	Title           string `json:"title"`
	Cwd             string `json:"cwd"`
	CursorX         int    `json:"cursor_x"`
	CursorY         int    `json:"cursor_y"`
	IsActive        bool   `json:"is_active"`
	IsZoomed        bool   `json:"is_zoomed"`
	TtyName         string `json:"tty_name"`
	PaneIndex       int    `json:"pane_index"`
	LeftColRowIndex int    `json:"top_row"`
}

func (w *Wezterm) ListPanes(ctx context.Context) ([]PaneInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, w.bin(), "cli", "list", "--format", "json").Output()
	if err != nil {
		return nil, fmt.Errorf("%w: wezterm cli list: %v", ErrBackendUnavailable, err)
	}

	var raw []weztermPane
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("%w: wezterm cli list: parse: %v", ErrBackendUnavailable, err)
	}

	panes := make([]PaneInfo, 0, len(raw))
	for _, p := range raw {
		paneID := fmt.Sprintf("%d", p.PaneID)
		panes = append(panes, PaneInfo{
			PaneID:         paneID,
			SessionName:    p.WorkspaceName,
			WindowIndex:    p.WindowID,
			PaneIndex:      p.PaneIndex,
			PaneActive:     p.IsActive,
			CurrentCommand: "",
			CurrentPath:    strings.TrimPrefix(p.Cwd, "file://"),
			PaneTty:        p.TtyName,
			PaneTitle:      p.Title,
			PaneDead:       false,
			AlternateOn:    false,
		})
	}
	return panes, nil
}

func (w *Wezterm) ReadUserOption(ctx context.Context, paneID, key string) (string, error) {
	// wezterm has no per-pane user-option store reachable from the CLI;
	// the pipe tag concept does not apply to this backend.
	return "", nil
}

func (w *Wezterm) AttachPipe(ctx context.Context, paneID, logPath string, current PaneInfo) (AttachResult, error) {
	return AttachResult{Attached: false, Conflict: false}, nil
}

func (w *Wezterm) HasConflict(current PaneInfo) bool {
	return false
}

// CaptureTail reads the pane's currently displayed screen with
// "wezterm cli get-text". useAlt adds --escapes, so the capture keeps
// its escape sequences; it does not select a screen buffer.
func (w *Wezterm) CaptureTail(ctx context.Context, paneID string, useAlt bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	args := []string{"cli", "get-text", "--pane-id", paneID}
	if useAlt {
		args = append(args, "--escapes")
	}
	out, err := exec.CommandContext(ctx, w.bin(), args...).Output()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (w *Wezterm) SendText(ctx context.Context, paneID, text string, pressEnter bool) SendResult {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if pressEnter {
		text += "\r"
	}
	cmd := exec.CommandContext(ctx, w.bin(), "cli", "send-text", "--pane-id", paneID, "--no-paste")
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return SendResult{Error: err.Error()}
	}
	return SendResult{OK: true}
}

func (w *Wezterm) SendKeys(ctx context.Context, paneID string, keys []string) SendResult {
	// wezterm's CLI has no key-name sender; approximate by sending raw text
	// for the subset of keys we understand.
	mapped := make([]string, 0, len(keys))
	for _, k := range keys {
		switch k {
		case "Enter":
			mapped = append(mapped, "\r")
		case "Tab":
			mapped = append(mapped, "\t")
		case "Escape":
			mapped = append(mapped, "\x1b")
		default:
			mapped = append(mapped, k)
		}
	}
	return w.SendText(ctx, paneID, strings.Join(mapped, ""), false)
}

func (w *Wezterm) SendRaw(ctx context.Context, paneID string, items []SendItem, unsafe bool) SendResult {
	var b strings.Builder
	for _, it := range items {
		if it.Key != "" {
			b.WriteString(it.Key)
		} else {
			b.WriteString(it.Text)
		}
	}
	return w.SendText(ctx, paneID, b.String(), false)
}

func (w *Wezterm) KillPane(ctx context.Context, paneID string) error {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	return exec.CommandContext(ctx, w.bin(), "cli", "kill-pane", "--pane-id", paneID).Run()
}
