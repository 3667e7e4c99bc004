package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment  string             `mapstructure:"environment"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Models       ModelsConfig       `mapstructure:"models"`
	Reasoning    ReasoningConfig    `mapstructure:"reasoning"`
	Integrations IntegrationsConfig `mapstructure:"integrations"`
	MCP          MCPConfig          `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TLSEnabled     bool          `mapstructure:"tls_enabled"`
	CertFile       string        `mapstructure:"cert_file"`
	KeyFile        string        `mapstructure:"key_file"`
	// SessionTTL bounds how long an idle interview session is kept.
	SessionTTL  time.Duration `mapstructure:"session_ttl"`
	MaxSessions int           `mapstructure:"max_sessions"`
}

// DatabaseConfig represents database connection configuration.
// An empty Host disables the Postgres-backed history and analytics sinks.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	// RedisURL enables the shared run cache when set.
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	// LocalEntries caps the in-process run cache.
	LocalEntries int `mapstructure:"local_entries"`
	// ScreenEntries caps the complaint screening cache.
	ScreenEntries int `mapstructure:"screen_entries"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ModelsConfig locates the classifier artifacts and the combination policy.
type ModelsConfig struct {
	// ForestPath and MarginPath are artifact files; empty selects the built-in artifact.
	ForestPath string `mapstructure:"forest_path"`
	MarginPath string `mapstructure:"margin_path"`
	// Weights maps classifier name to its combination weight.
	Weights map[string]float64 `mapstructure:"weights"`
	// Priority is the tie-break classifier; empty picks the higher validation accuracy.
	Priority     string  `mapstructure:"priority"`
	TopK         int     `mapstructure:"top_k"`
	TieEpsilon   float64 `mapstructure:"tie_epsilon"`
	MinCandidate float64 `mapstructure:"min_candidate"`
}

// ReasoningConfig configures the generative reasoning service.
// An empty Provider with no discoverable API key disables it.
type ReasoningConfig struct {
	Provider       string        `mapstructure:"provider"`
	Model          string        `mapstructure:"model"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
	RefineTimeout  time.Duration `mapstructure:"refine_timeout"`
	ScreenTimeout  time.Duration `mapstructure:"screen_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RequestsPerMin int           `mapstructure:"requests_per_min"`
	// BreakerFailures consecutive failures open the circuit for BreakerCooldown.
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// IntegrationsConfig enables optional report sinks.
type IntegrationsConfig struct {
	History   HistoryConfig   `mapstructure:"history"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Notary    NotaryConfig    `mapstructure:"notary"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Speech    SpeechConfig    `mapstructure:"speech"`
}

// HistoryConfig selects the report history store.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is "sqlite" or "postgres".
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ArchiveConfig points at an S3-compatible bucket.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

// NotaryConfig configures the report hash ledger stream.
type NotaryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream"`
	MaxLen  int64  `mapstructure:"max_len"`
}

// AnalyticsConfig toggles the aggregate analytics sink.
type AnalyticsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SpeechConfig configures the text-to-speech client.
type SpeechConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	VoiceID   string        `mapstructure:"voice_id"`
	ModelID   string        `mapstructure:"model_id"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit int           `mapstructure:"rate_limit"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName     string        `mapstructure:"server_name"`
	ServerVersion  string        `mapstructure:"server_version"`
	TransportType  string        `mapstructure:"transport_type"` // "stdio", "http"
	HTTPPort       int           `mapstructure:"http_port"`
	HTTPHost       string        `mapstructure:"http_host"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}
