package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
)

const instructions = "Tools for the teamhub dashboard: inspect the hub connection, " +
	"list and create tasks, post chat messages and review agent activity. " +
	"Data may be stale while the connection is down."

// MCPServer serves the dashboard tools over stdio.
type MCPServer struct {
	Server *server.MCPServer
}

func NewMCPServer(version string) *MCPServer {
	s := server.NewMCPServer("teamhub", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	return &MCPServer{Server: s}
}

// Run serves on stdin/stdout until stdin closes or ctx is cancelled.
// Logs must not go to stdout while it runs.
func (s *MCPServer) Run(ctx context.Context) error {
	slog.Info("Started stdio MCP server")
	defer slog.Info("Shut down stdio MCP server")
	return server.NewStdioServer(s.Server).Listen(ctx, os.Stdin, os.Stdout)
}
