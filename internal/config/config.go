// Package config parses the vde-monitor command line and an optional
// JSON override file into a Config, then projects that into the
// per-package configs the rest of the module expects.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loppo-llc/vde-monitor/internal/monitor"
)

// Config is the fully resolved bootstrap configuration: flag defaults,
// overridden by flags actually passed, then overridden again by
// <StateDir>/config.json if present.
type Config struct {
	Port        int
	Dev         bool
	Local       bool
	ShowVersion bool

	// Backend selects the Multiplexer Adapter: "tmux", "wezterm", or
	// "local". Empty means auto-detect (tmux, then wezterm, then local).
	Backend        string
	TmuxSocketName string
	TmuxSocketPath string

	StateDir string

	PollInterval     time.Duration
	MaxPaneLogBytes  int64
	RetainRotations  int
	MaxEventLogBytes int64
}

// Default mirrors the teacher's own flag defaults (-port 8080, local mode
// off by default) plus the monitor-specific defaults monitor.DefaultConfig
// would pick for a fresh install.
func Default() Config {
	return Config{
		Port:             8080,
		Backend:          "",
		StateDir:         defaultStateDir(),
		PollInterval:     time.Second,
		MaxPaneLogBytes:  10 * 1024 * 1024,
		RetainRotations:  3,
		MaxEventLogBytes: 5 * 1024 * 1024,
	}
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "vde-monitor")
	}
	return ".vde-monitor"
}

// ParseFlags parses args (typically os.Args[1:]) against cfg, following the
// names and usage strings of cmd/kojo/main.go's own -port/-dev/-local/
// -version flags, extended with the monitor-specific ones spec.md §5/§4.10
// introduce. It mutates a copy of Default() and returns it.
func ParseFlags(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("vde-monitor", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "port number (auto-increments if busy)")
	fs.BoolVar(&cfg.Dev, "dev", false, "enable dev mode (verbose logging)")
	fs.BoolVar(&cfg.Local, "local", false, "listen on localhost only (no Tailscale)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "show version")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "multiplexer backend: tmux, wezterm, or local (auto-detect if empty)")
	fs.StringVar(&cfg.TmuxSocketName, "tmux-socket-name", "", "tmux socket name (passed to tmux -L)")
	fs.StringVar(&cfg.TmuxSocketPath, "tmux-socket-path", "", "tmux socket path (passed to tmux -S)")
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "directory for pane logs, event log, and persisted state")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Monitor Loop / Log Poller / Hook Tailer tick interval")
	fs.Int64Var(&cfg.MaxPaneLogBytes, "max-pane-log-bytes", cfg.MaxPaneLogBytes, "pane log rotation threshold")
	fs.IntVar(&cfg.RetainRotations, "retain-rotations", cfg.RetainRotations, "rotated log files kept per pane/event log")
	fs.Int64Var(&cfg.MaxEventLogBytes, "max-event-log-bytes", cfg.MaxEventLogBytes, "hook event log rotation threshold")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := applyOverrideFile(&cfg, filepath.Join(cfg.StateDir, "config.json")); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// override mirrors a subset of Config as pointers, so a JSON document only
// needs to name the fields it wants to change; everything else keeps the
// flag-resolved value. Matches the read-if-exists-else-default shape of
// notify.LoadOrGenerateVAPID, minus the generate-and-save half: this file
// is operator-maintained, not produced by the program.
type override struct {
	Backend          *string `json:"backend,omitempty"`
	TmuxSocketName   *string `json:"tmuxSocketName,omitempty"`
	TmuxSocketPath   *string `json:"tmuxSocketPath,omitempty"`
	PollIntervalMs   *int64  `json:"pollIntervalMs,omitempty"`
	MaxPaneLogBytes  *int64  `json:"maxPaneLogBytes,omitempty"`
	RetainRotations  *int    `json:"retainRotations,omitempty"`
	MaxEventLogBytes *int64  `json:"maxEventLogBytes,omitempty"`
}

func applyOverrideFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read override file: %w", err)
	}

	var o override
	if err := json.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("config: parse override file %s: %w", path, err)
	}

	if o.Backend != nil {
		cfg.Backend = *o.Backend
	}
	if o.TmuxSocketName != nil {
		cfg.TmuxSocketName = *o.TmuxSocketName
	}
	if o.TmuxSocketPath != nil {
		cfg.TmuxSocketPath = *o.TmuxSocketPath
	}
	if o.PollIntervalMs != nil {
		cfg.PollInterval = time.Duration(*o.PollIntervalMs) * time.Millisecond
	}
	if o.MaxPaneLogBytes != nil {
		cfg.MaxPaneLogBytes = *o.MaxPaneLogBytes
	}
	if o.RetainRotations != nil {
		cfg.RetainRotations = *o.RetainRotations
	}
	if o.MaxEventLogBytes != nil {
		cfg.MaxEventLogBytes = *o.MaxEventLogBytes
	}
	return nil
}

// MonitorConfig projects Config into monitor.Config, starting from
// monitor.DefaultConfig(StateDir) so every path/threshold monitor.go
// doesn't expose as a flag still gets its sensible default.
func (c Config) MonitorConfig() monitor.Config {
	mc := monitor.DefaultConfig(c.StateDir)
	mc.PollInterval = c.PollInterval
	mc.MaxPaneLogBytes = c.MaxPaneLogBytes
	mc.RetainRotations = c.RetainRotations
	mc.MaxEventLogBytes = c.MaxEventLogBytes
	return mc
}
