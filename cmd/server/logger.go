package main

import (
	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/setup"
)

// bootLogger logs failures that happen before configuration is available.
func bootLogger() *logrus.Logger {
	return setup.NewLogger(domain.LoggingConfig{Level: "info", Format: "text", Output: "stderr"})
}
