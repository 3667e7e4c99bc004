// Package mcp exposes the intake and diagnosis pipeline as Model Context
// Protocol tools so assistants can drive an interview end to end.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/setup"
)

// Server wraps the MCP SDK server around a built application.
type Server struct {
	app       *setup.App
	mcpServer *mcp.Server
	logger    *logrus.Logger
	exportDir string
}

// Option configures the MCP server.
type Option func(*Server)

// WithExportDir sets where export_reports writes its files.
func WithExportDir(dir string) Option {
	return func(s *Server) { s.exportDir = dir }
}

// NewServer creates the MCP server and registers every tool.
func NewServer(app *setup.App, opts ...Option) *Server {
	s := &Server{
		app:    app,
		logger: app.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	serverInfo := &mcp.Implementation{
		Name:    app.Config.MCP.ServerName,
		Version: app.Config.MCP.ServerVersion,
	}
	if serverInfo.Name == "" {
		serverInfo.Name = "symptom-intake-server"
	}
	if serverInfo.Version == "" {
		serverInfo.Version = "dev"
	}
	s.mcpServer = mcp.NewServer(serverInfo, nil)
	s.registerTools()

	s.logger.WithFields(logrus.Fields{
		"name":    serverInfo.Name,
		"version": serverInfo.Version,
	}).Info("MCP server initialized")
	return s
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "generate_intake_steps",
		Description: "Screen a chief complaint and return the ordered interview steps with symptom hints.",
	}, s.handleGenerateSteps)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "analyze_answers",
		Description: "Run the diagnosis pipeline on a completed answer set and return the structured report.",
	}, s.handleAnalyze)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "pipeline_status",
		Description: "Report classifier, reasoning service and integration availability.",
	}, s.handleStatus)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_report",
		Description: "Fetch a stored report by ID as JSON or Markdown.",
	}, s.handleGetReport)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_reports",
		Description: "List stored report summaries, newest first.",
	}, s.handleListReports)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "export_reports",
		Description: "Write every stored report to a JSON file in the export directory.",
	}, s.handleExportReports)
}

// Start serves the tools over stdio until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
