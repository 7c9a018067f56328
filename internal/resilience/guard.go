package resilience

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// GuardConfig configures a [Guard].
type GuardConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// RequestsPerSecond caps the outbound call rate. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter bucket size. Defaults to 1 when limiting is on.
	Burst int
}

// Guard runs calls to one provider through a client-side rate limiter and a
// circuit breaker, in that order.
type Guard struct {
	breaker *CircuitBreaker
	limiter *rate.Limiter
}

// NewGuard creates a Guard named name.
func NewGuard(name string, cfg GuardConfig) *Guard {
	cbCfg := cfg.CircuitBreaker
	cbCfg.Name = name
	g := &Guard{breaker: NewCircuitBreaker(cbCfg)}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return g
}

// Breaker returns the guard's circuit breaker.
func (g *Guard) Breaker() *CircuitBreaker { return g.breaker }

// Do waits for a rate-limit token, then runs fn through the breaker. A wait
// that cannot finish before ctx's deadline fails immediately.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	return g.breaker.Execute(func() error { return fn(ctx) })
}
