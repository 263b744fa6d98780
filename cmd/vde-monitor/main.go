package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tailscale.com/tsnet"

	"github.com/loppo-llc/vde-monitor/internal/adapter"
	"github.com/loppo-llc/vde-monitor/internal/broadcast"
	"github.com/loppo-llc/vde-monitor/internal/config"
	"github.com/loppo-llc/vde-monitor/internal/maintenance"
	"github.com/loppo-llc/vde-monitor/internal/mcpserver"
	"github.com/loppo-llc/vde-monitor/internal/monitor"
	"github.com/loppo-llc/vde-monitor/internal/notify"
	"github.com/loppo-llc/vde-monitor/internal/server"
)

var version = "0.1.0"

func main() {
	var flagArgs []string
	for _, a := range os.Args[1:] {
		if a != "-mcp" && a != "--mcp" {
			flagArgs = append(flagArgs, a)
		}
	}
	cfg, err := config.ParseFlags(flagArgs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.ShowVersion {
		fmt.Println("vde-monitor", version)
		return
	}

	logLevel := slog.LevelInfo
	if cfg.Dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if mcpMode(os.Args[1:]) {
		runMCP(cfg, logger)
		return
	}

	backend, err := selectBackend(cfg)
	if err != nil {
		logger.Error("failed to select backend", "err", err)
		os.Exit(1)
	}

	m := monitor.New(cfg.MonitorConfig(), backend, logger)

	var dispatcher *notify.Dispatcher
	if keys, err := notify.LoadOrGenerateVAPID(cfg.StateDir); err != nil {
		logger.Warn("push notifications disabled: failed to load VAPID keys", "err", err)
	} else {
		dispatcher = notify.NewDispatcher(keys, logger)
		if token := os.Getenv("VDE_MONITOR_SLACK_TOKEN"); token != "" {
			dispatcher.SetSlackPoster(notify.NewSlackPoster(token))
		}
		m.SetObserver(dispatcher)
	}

	hub := broadcast.NewHub(logger)
	hub.WireMonitor(m)

	srv, err := server.New(server.Config{
		Addr:      fmt.Sprintf(":%d", cfg.Port),
		StateDir:  cfg.StateDir,
		DevMode:   cfg.Dev,
		Logger:    logger,
		Version:   version,
		Monitor:   m,
		Broadcast: hub,
		Notify:    dispatcher,
	})
	if err != nil {
		logger.Error("failed to build server", "err", err)
		os.Exit(1)
	}

	mcfg := cfg.MonitorConfig()
	compactor := maintenance.New(maintenance.DefaultConfig(mcfg.PaneLogDir, filepath.Dir(mcfg.EventLogPath)), logger)
	if err := compactor.Start(); err != nil {
		logger.Warn("maintenance scheduler disabled", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m.Start(ctx)

	var tsServer *tsnet.Server
	if cfg.Local || cfg.Dev {
		ln, err := listenWithFallback("127.0.0.1", cfg.Port, 10, logger)
		if err != nil {
			logger.Error("failed to listen", "err", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "\n  vde-monitor v%s running at:\n\n    http://%s\n\n", version, ln.Addr().String())
		go func() {
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Error("server error", "err", err)
				os.Exit(1)
			}
		}()
	} else {
		tsServer = &tsnet.Server{
			Hostname: "vde-monitor",
			Logf:     func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) },
		}

		ln, err := tsServer.ListenTLS("tcp", fmt.Sprintf(":%d", cfg.Port))
		if err != nil {
			logger.Error("failed to listen on tailscale", "err", err)
			os.Exit(1)
		}

		fmt.Fprintf(os.Stderr, "\n  vde-monitor v%s running at:\n\n", version)
		if lc, lcErr := tsServer.LocalClient(); lcErr == nil && lc != nil {
			if status, statusErr := lc.Status(ctx); statusErr == nil && status.Self != nil {
				dnsName := strings.TrimSuffix(status.Self.DNSName, ".")
				if dnsName != "" {
					fmt.Fprintf(os.Stderr, "    https://%s:%d\n", dnsName, cfg.Port)
				}
				for _, ip := range status.TailscaleIPs {
					fmt.Fprintf(os.Stderr, "    https://%s:%d\n", ip, cfg.Port)
				}
			}
		}
		fmt.Fprintln(os.Stderr)

		go func() {
			srv.SetTLSConfig(&tls.Config{})
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				logger.Error("server error", "err", err)
				os.Exit(1)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	compactor.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	if tsServer != nil {
		tsServer.Close()
	}
}

// mcpMode reports whether vde-monitor was invoked as a local MCP tool
// subprocess (an agent's MCP client spawns "vde-monitor -mcp" directly,
// bypassing the flag.FlagSet config.ParseFlags otherwise owns).
func mcpMode(args []string) bool {
	for _, a := range args {
		if a == "-mcp" || a == "--mcp" {
			return true
		}
	}
	return false
}

func runMCP(cfg config.Config, logger *slog.Logger) {
	backend, err := selectBackend(cfg)
	if err != nil {
		logger.Error("failed to select backend", "err", err)
		os.Exit(1)
	}
	m := monitor.New(cfg.MonitorConfig(), backend, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	m.Start(ctx)

	s := mcpserver.New(m, version, logger)
	if err := mcpserver.Serve(ctx, s); err != nil {
		logger.Error("mcp server error", "err", err)
		os.Exit(1)
	}
}

func selectBackend(cfg config.Config) (adapter.Capability, error) {
	switch cfg.Backend {
	case "tmux":
		return adapter.NewTmux(cfg.TmuxSocketName, cfg.TmuxSocketPath), nil
	case "wezterm":
		return adapter.NewWezterm(), nil
	case "local":
		return adapter.NewLocal(), nil
	case "":
		return autoDetectBackend(cfg), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want tmux, wezterm, or local)", cfg.Backend)
	}
}

// autoDetectBackend prefers tmux (TMUX is set when we're running inside a
// tmux client), then wezterm (WEZTERM_PANE set the same way), falling back
// to the local pty adapter for a bare shell with no multiplexer at all.
func autoDetectBackend(cfg config.Config) adapter.Capability {
	if os.Getenv("TMUX") != "" {
		return adapter.NewTmux(cfg.TmuxSocketName, cfg.TmuxSocketPath)
	}
	if os.Getenv("WEZTERM_PANE") != "" {
		return adapter.NewWezterm()
	}
	return adapter.NewLocal()
}

func listenWithFallback(host string, startPort, maxAttempts int, logger *slog.Logger) (net.Listener, error) {
	for i := range maxAttempts {
		port := startPort + i
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			if i > 0 {
				logger.Info("port was busy, using fallback", "requested", startPort, "actual", port)
			}
			return ln, nil
		}
		if !strings.Contains(err.Error(), "address already in use") {
			return nil, err
		}
	}
	return nil, fmt.Errorf("all ports %d-%d are in use", startPort, startPort+maxAttempts-1)
}
