package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardConfig configures the breaker and quota in front of a provider.
type GuardConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold uint32
	// Cooldown is how long the circuit stays open before a probe is let through.
	Cooldown time.Duration
	// RequestsPerMinute caps call volume; zero disables the quota.
	RequestsPerMinute int
}

// Guarded wraps a provider with a circuit breaker and a request quota. It is the
// availability signal for the rest of the system.
type Guarded struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// WithGuard builds a Guarded provider.
func WithGuard(p Provider, config GuardConfig, logger *logrus.Logger) *Guarded {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 3
	}
	if config.Cooldown == 0 {
		config.Cooldown = 30 * time.Second
	}

	g := &Guarded{inner: p, logger: logger}
	if config.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60), config.RequestsPerMinute)
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reasoning:" + p.ModelID(),
		MaxRequests: 1,
		Timeout:     config.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		// Caller cancellations and bad output say nothing about backend health.
		IsSuccessful: func(err error) bool {
			var invalid *ErrInvalidResponse
			return err == nil || errors.Is(err, context.Canceled) || errors.As(err, &invalid)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Reasoning circuit breaker state changed")
		},
	})
	return g
}

// Available is false while the circuit is open.
func (g *Guarded) Available() bool {
	return g.breaker.State() != gobreaker.StateOpen
}

// State reports the breaker state as text.
func (g *Guarded) State() string { return g.breaker.State().String() }

func (g *Guarded) ModelID() string { return g.inner.ModelID() }

func (g *Guarded) Generate(ctx context.Context, req Request) (*Response, error) {
	if g.limiter != nil && !g.limiter.Allow() {
		return nil, &ErrRateLimit{
			RetryAfter: time.Minute / time.Duration(max(int(g.limiter.Burst()), 1)),
			Err:        errors.New("local request quota exhausted"),
		}
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Generate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &ErrProviderUnavailable{Err: err}
		}
		return nil, err
	}
	return out.(*Response), nil
}
