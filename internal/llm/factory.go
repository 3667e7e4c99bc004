package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/domain"
)

// ErrNotConfigured means no provider was named and no API key was found in the environment.
var ErrNotConfigured = errors.New("no reasoning provider configured")

// Provider names accepted in configuration.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Discover fills Provider and APIKey from the conventional environment variables when the
// configuration leaves them empty. Keys are probed in the order Gemini, OpenAI, Anthropic.
func Discover(cfg domain.ReasoningConfig) (domain.ReasoningConfig, bool) {
	if cfg.Provider != "" {
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv(envKey(cfg.Provider))
		}
		return cfg, cfg.Provider == ProviderMock || cfg.APIKey != ""
	}
	for _, p := range []string{ProviderGemini, ProviderOpenAI, ProviderAnthropic} {
		if key := os.Getenv(envKey(p)); key != "" {
			cfg.Provider, cfg.APIKey = p, key
			return cfg, true
		}
	}
	return cfg, false
}

func envKey(provider string) string {
	switch provider {
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	}
	return ""
}

// NewProvider builds the configured backend and wraps it: guard (breaker and quota) → retry →
// logging → backend.
func NewProvider(ctx context.Context, cfg domain.ReasoningConfig, logger *logrus.Logger) (*Guarded, error) {
	cfg, ok := Discover(cfg)
	if !ok {
		return nil, ErrNotConfigured
	}

	var (
		base Provider
		err  error
	)
	switch cfg.Provider {
	case ProviderGemini:
		base, err = NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		base, err = NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderAnthropic:
		base, err = NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderMock:
		base = NewMockProvider()
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	retry := DefaultRetryConfig()
	if cfg.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.RetryAttempts
	}
	guarded := WithGuard(WithRetry(WithLogging(base, logger), retry, logger), GuardConfig{
		FailureThreshold:  uint32(max(cfg.BreakerFailures, 0)),
		Cooldown:          cfg.BreakerCooldown,
		RequestsPerMinute: cfg.RequestsPerMin,
	}, logger)

	logger.WithFields(logrus.Fields{
		"provider": cfg.Provider,
		"model":    guarded.ModelID(),
	}).Info("Reasoning provider initialized")
	return guarded, nil
}
