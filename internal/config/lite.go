// Package config loads service configuration. The server reads config.yaml
// and SYMPTOM_INTAKE_* variables through viper; the MCP binary uses the
// env-only LiteConfig with a local data directory.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/symptom-intake-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	DataDir string // Base directory for the history database and exports

	SessionTTL    time.Duration // Idle interview lifetime
	MaxSessions   int
	CacheMaxItems int // In-process report cache entries

	RefineTimeout time.Duration // Bound on the reasoning re-rank

	Transport string // stdio or http
	HTTPPort  int

	LogLevel  string
	LogFormat string
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()

	return &LiteConfig{
		DataDir:       filepath.Join(homeDir, ".symptom-intake"),
		SessionTTL:    time.Hour,
		MaxSessions:   1000,
		CacheMaxItems: 1000,
		RefineTimeout: 12 * time.Second,
		Transport:     "stdio",
		HTTPPort:      8081,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv(EnvPrefix + "_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvPrefix + "_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv(EnvPrefix + "_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSessions = n
		}
	}
	if v := os.Getenv(EnvPrefix + "_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SessionTTL = d
		}
	}
	if v := os.Getenv(EnvPrefix + "_REFINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RefineTimeout = d
		}
	}

	if v := os.Getenv(EnvPrefix + "_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv(EnvPrefix + "_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv(EnvPrefix + "_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// HistoryDBPath returns the path to the report history SQLite database.
func (c *LiteConfig) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// Domain expands the lite settings into a full configuration: SQLite
// history, no Postgres, no Redis, built-in classifier artifacts.
func (c *LiteConfig) Domain() *domain.Config {
	return &domain.Config{
		Environment: "development",
		Server: domain.ServerConfig{
			Host:           "127.0.0.1",
			Port:           c.HTTPPort,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   time.Minute,
			IdleTimeout:    2 * time.Minute,
			RequestTimeout: time.Minute,
			SessionTTL:     c.SessionTTL,
			MaxSessions:    c.MaxSessions,
		},
		Cache: domain.CacheConfig{
			LocalEntries:  c.CacheMaxItems,
			ScreenEntries: 512,
		},
		Logging: domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"},
		Models: domain.ModelsConfig{
			Weights:      map[string]float64{"forest": 0.5, "margin": 0.5},
			TopK:         5,
			TieEpsilon:   1e-9,
			MinCandidate: 0.01,
		},
		Reasoning: domain.ReasoningConfig{
			MaxTokens:       2048,
			Temperature:     0.2,
			RefineTimeout:   c.RefineTimeout,
			ScreenTimeout:   5 * time.Second,
			RetryAttempts:   3,
			RequestsPerMin:  30,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Integrations: domain.IntegrationsConfig{
			History: domain.HistoryConfig{Enabled: true, Backend: "sqlite", SQLitePath: c.HistoryDBPath()},
		},
		MCP: domain.MCPConfig{
			ServerName:     "symptom-intake",
			ServerVersion:  "1.0.0",
			TransportType:  c.Transport,
			HTTPHost:       "127.0.0.1",
			HTTPPort:       c.HTTPPort,
			RequestTimeout: time.Minute,
		},
	}
}
