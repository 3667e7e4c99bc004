package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/symptom-intake-server/internal/domain"
)

// EnvPrefix is prepended to every environment override, e.g.
// SYMPTOM_INTAKE_SERVER_PORT for server.port.
const EnvPrefix = "SYMPTOM_INTAKE"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	config *domain.Config
	paths  []string
}

// NewManager loads .env, the optional config.yaml and the environment.
func NewManager(searchPaths ...string) (*Manager, error) {
	if len(searchPaths) == 0 {
		searchPaths = []string{".", "./config", "/etc/symptom-intake/"}
	}
	_ = godotenv.Load()

	m := &Manager{paths: searchPaths}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

func (m *Manager) loadConfig() error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range m.paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// A missing file is fine; defaults and the environment still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "45s")
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.session_ttl", "1h")
	v.SetDefault("server.max_sessions", 10000)

	// Database defaults. No host means no Postgres sinks.
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "symptom_intake")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.migrations_path", "migrations")

	// Cache defaults
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")
	v.SetDefault("cache.local_entries", 1024)
	v.SetDefault("cache.screen_entries", 512)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Model defaults
	v.SetDefault("models.forest_path", "")
	v.SetDefault("models.margin_path", "")
	v.SetDefault("models.weights", map[string]float64{"forest": 0.5, "margin": 0.5})
	v.SetDefault("models.priority", "")
	v.SetDefault("models.top_k", 5)
	v.SetDefault("models.tie_epsilon", 1e-9)
	v.SetDefault("models.min_candidate", 0.01)

	// Reasoning defaults
	v.SetDefault("reasoning.provider", "")
	v.SetDefault("reasoning.model", "")
	v.SetDefault("reasoning.api_key", "")
	v.SetDefault("reasoning.base_url", "")
	v.SetDefault("reasoning.max_tokens", 2048)
	v.SetDefault("reasoning.temperature", 0.2)
	v.SetDefault("reasoning.refine_timeout", "12s")
	v.SetDefault("reasoning.screen_timeout", "5s")
	v.SetDefault("reasoning.retry_attempts", 3)
	v.SetDefault("reasoning.requests_per_min", 30)
	v.SetDefault("reasoning.breaker_failures", 5)
	v.SetDefault("reasoning.breaker_cooldown", "30s")

	// Integration defaults
	v.SetDefault("integrations.history.enabled", true)
	v.SetDefault("integrations.history.backend", "sqlite")
	v.SetDefault("integrations.history.sqlite_path", "data/history.db")
	v.SetDefault("integrations.archive.enabled", false)
	v.SetDefault("integrations.archive.region", "us-east-1")
	v.SetDefault("integrations.archive.use_ssl", true)
	v.SetDefault("integrations.archive.prefix", "reports")
	v.SetDefault("integrations.notary.enabled", false)
	v.SetDefault("integrations.notary.stream", "symptom-intake:ledger")
	v.SetDefault("integrations.notary.max_len", 100000)
	v.SetDefault("integrations.analytics.enabled", false)
	v.SetDefault("integrations.speech.enabled", false)
	v.SetDefault("integrations.speech.base_url", "https://api.elevenlabs.io")
	v.SetDefault("integrations.speech.model_id", "eleven_multilingual_v2")
	v.SetDefault("integrations.speech.timeout", "30s")
	v.SetDefault("integrations.speech.rate_limit", 2)

	// MCP defaults
	v.SetDefault("mcp.server_name", "symptom-intake")
	v.SetDefault("mcp.server_version", "1.0.0")
	v.SetDefault("mcp.transport_type", "stdio")
	v.SetDefault("mcp.http_host", "127.0.0.1")
	v.SetDefault("mcp.http_port", 8081)
	v.SetDefault("mcp.request_timeout", "60s")

	// These keys have no defaults worth writing down but must still be
	// visible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"integrations.archive.endpoint", "integrations.archive.bucket",
		"integrations.archive.access_key", "integrations.archive.secret_key",
		"integrations.speech.api_key", "integrations.speech.voice_id",
		"server.cert_file", "server.key_file",
	} {
		v.SetDefault(key, "")
	}
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a loaded configuration for values the services cannot start with.
func Validate(config *domain.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.TLSEnabled && (config.Server.CertFile == "" || config.Server.KeyFile == "") {
		return fmt.Errorf("TLS requires cert_file and key_file")
	}

	if config.Database.Host != "" {
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	if config.Models.TopK < 1 {
		return fmt.Errorf("models.top_k must be at least 1, got %d", config.Models.TopK)
	}
	if err := validateWeights(config.Models.Weights); err != nil {
		return err
	}
	if config.Reasoning.RefineTimeout <= 0 {
		return fmt.Errorf("reasoning.refine_timeout must be positive")
	}

	integ := config.Integrations
	if integ.History.Enabled {
		switch integ.History.Backend {
		case "sqlite":
			if integ.History.SQLitePath == "" {
				return fmt.Errorf("history sqlite_path is required")
			}
		case "postgres":
			if config.Database.Host == "" {
				return fmt.Errorf("postgres history requires database.host")
			}
		default:
			return fmt.Errorf("unknown history backend %q", integ.History.Backend)
		}
	}
	if integ.Analytics.Enabled && config.Database.Host == "" {
		return fmt.Errorf("analytics requires database.host")
	}
	if integ.Notary.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("notary requires cache.redis_url")
	}
	if integ.Archive.Enabled && (integ.Archive.Endpoint == "" || integ.Archive.Bucket == "") {
		return fmt.Errorf("archive requires endpoint and bucket")
	}
	if integ.Speech.Enabled && integ.Speech.VoiceID == "" {
		return fmt.Errorf("speech requires voice_id")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// classifierNames are the ensemble slots a weight can be configured for.
var classifierNames = []string{"forest", "margin"}

// validateWeights rejects weight maps the ensemble cannot honour. An unweighted
// classifier shares whatever the configured weights leave below 1, so the
// configured weights must leave some.
func validateWeights(weights map[string]float64) error {
	assigned := 0.0
	for name, w := range weights {
		if w < 0 {
			return fmt.Errorf("negative weight %v for classifier %s", w, name)
		}
		assigned += w
	}
	if len(weights) == 0 {
		return nil
	}
	var missing []string
	for _, name := range classifierNames {
		if weights[name] <= 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 && assigned >= 1 {
		return fmt.Errorf("models.weights sum to %v and leave no share for unweighted classifiers %v", assigned, missing)
	}
	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.EqualFold(m.config.Environment, "production")
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
