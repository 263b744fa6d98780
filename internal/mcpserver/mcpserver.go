// Package mcpserver exposes a subset of the Monitor facade as MCP tools
// (github.com/mark3labs/mcp-go), so another agent process can list
// sessions, inspect their timelines, drive keystrokes, and read a pane's
// screen without reimplementing the adapter/registry wiring itself.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loppo-llc/vde-monitor/internal/monitor"
	"github.com/loppo-llc/vde-monitor/internal/timeline"
)

const serverName = "vde-monitor"

// New builds an MCP server wrapping m's facade. version is surfaced in
// the server's initialize response.
func New(m *monitor.Monitor, version string, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := server.NewMCPServer(serverName, version)

	s.AddTool(mcp.NewTool("listSessions",
		mcp.WithDescription("List every agent session currently monitored across tmux/wezterm/local panes"),
	), listSessionsHandler(m))

	s.AddTool(mcp.NewTool("getSession",
		mcp.WithDescription("Get the full SessionDetail for one pane"),
		mcp.WithString("paneId", mcp.Required(), mcp.Description("pane identifier, e.g. %3")),
	), getSessionHandler(m))

	s.AddTool(mcp.NewTool("getStateTimeline",
		mcp.WithDescription("Get the recent state-transition history for one pane"),
		mcp.WithString("paneId", mcp.Required()),
		mcp.WithString("range", mcp.Description("lookback window: 1h, 6h, 24h, or 7d (default 1h)")),
		mcp.WithNumber("limit", mcp.Description("max events returned (default 50)")),
	), getStateTimelineHandler(m))

	s.AddTool(mcp.NewTool("sendText",
		mcp.WithDescription("Type text into a pane, optionally pressing Enter afterward"),
		mcp.WithString("paneId", mcp.Required()),
		mcp.WithString("text", mcp.Required()),
		mcp.WithBoolean("pressEnter", mcp.Description("press Enter after typing (default true)")),
	), sendTextHandler(m))

	s.AddTool(mcp.NewTool("captureScreen",
		mcp.WithDescription("Capture the current visible contents of a pane's screen"),
		mcp.WithString("paneId", mcp.Required()),
	), captureScreenHandler(m, logger))

	return s
}

// Serve runs the MCP server over stdio until ctx is cancelled or stdin
// closes, matching the local-tool-process convention MCP clients expect
// (the agent's MCP client config spawns "vde-monitor -mcp" and talks to
// it over its stdin/stdout).
func Serve(ctx context.Context, s *server.MCPServer) error {
	return server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout)
}

func listSessionsHandler(m *monitor.Monitor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		data, err := json.Marshal(m.Snapshot())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func getSessionHandler(m *monitor.Monitor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		paneID, err := req.RequireString("paneId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		detail, ok := m.GetDetail(paneID)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("no session for pane %s", paneID)), nil
		}
		data, err := json.Marshal(detail)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func getStateTimelineHandler(m *monitor.Monitor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		paneID, err := req.RequireString("paneId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rng := timeline.Range(req.GetString("range", "1h"))
		limit := req.GetInt("limit", 50)

		view := m.GetStateTimeline(paneID, rng, limit, time.Now())
		data, err := json.Marshal(view)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func sendTextHandler(m *monitor.Monitor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		paneID, err := req.RequireString("paneId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		pressEnter := req.GetBool("pressEnter", true)

		res := m.SendText(ctx, paneID, text, pressEnter)
		if !res.OK {
			return mcp.NewToolResultError(res.Error), nil
		}
		return mcp.NewToolResultText("ok"), nil
	}
}

func captureScreenHandler(m *monitor.Monitor, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		paneID, err := req.RequireString("paneId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result, ok := m.GetScreenCapture(ctx, paneID)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("capture unavailable for pane %s", paneID)), nil
		}
		text := string(result.Data)
		if result.Truncated {
			logger.Warn("captureScreen: result truncated", "pane", paneID)
			text = "[truncated]\n" + text
		}
		return mcp.NewToolResultText(text), nil
	}
}
