// Command server runs the symptom intake HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/symptom-intake-server/internal/api"
	"github.com/symptom-intake-server/internal/config"
	"github.com/symptom-intake-server/internal/setup"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		bootLogger().WithError(err).Fatal("Failed to load configuration")
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		bootLogger().WithError(err).Fatal("Configuration validation failed")
	}

	cfg := configManager.GetConfig()
	logger := setup.NewLogger(cfg.Logging)
	logger.WithField("environment", cfg.Environment).Info("Starting symptom intake server")

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

	server := api.NewServer(app)
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		return
	}

	logger.Info("Server stopped")
}
