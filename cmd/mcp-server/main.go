// Command mcp-server runs the pipeline without external databases: SQLite
// history, in-memory caches, built-in classifiers. Tools are served over
// stdio; SYMPTOM_INTAKE_TRANSPORT=http serves the HTTP API instead.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/api"
	"github.com/symptom-intake-server/internal/config"
	"github.com/symptom-intake-server/internal/mcp"
	"github.com/symptom-intake-server/internal/setup"
)

func main() {
	lite := config.LoadLiteConfig()
	cfg := lite.Domain()
	logger := setup.NewLogger(cfg.Logging)

	if err := lite.EnsureDataDir(); err != nil {
		logger.WithError(err).Fatal("Failed to create data directory")
	}
	if err := config.Validate(cfg); err != nil {
		logger.WithError(err).Fatal("Configuration validation failed")
	}

	logger.WithFields(logrus.Fields{
		"transport": lite.Transport,
		"data_dir":  lite.DataDir,
	}).Info("Starting symptom intake MCP server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := setup.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build services")
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.WithError(err).Warn("Shutdown finished with errors")
		}
	}()

	switch lite.Transport {
	case "http":
		err = api.NewServer(app).Start(ctx)
	default:
		err = mcp.NewServer(app, mcp.WithExportDir(lite.ExportDir())).Start(ctx)
	}
	if err != nil {
		logger.WithError(err).Error("Server failed")
		return
	}

	logger.Info("MCP server stopped")
}
