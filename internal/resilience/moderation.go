package resilience

import (
	"context"

	"github.com/MrWong99/hushgate/pkg/provider"
	"github.com/MrWong99/hushgate/pkg/provider/moderation"
)

// ModerationGuard implements [moderation.Provider] by running every call
// through a [Guard]. Rejections by the limiter or breaker surface as
// *provider.Error so callers handle them like any other provider failure.
type ModerationGuard struct {
	name  string
	p     moderation.Provider
	guard *Guard
}

// Compile-time interface assertion.
var _ moderation.Provider = (*ModerationGuard)(nil)

// NewModerationGuard wraps p.
func NewModerationGuard(p moderation.Provider, name string, cfg GuardConfig) *ModerationGuard {
	return &ModerationGuard{name: name, p: p, guard: NewGuard(name, cfg)}
}

// Classify implements [moderation.Provider].
func (m *ModerationGuard) Classify(ctx context.Context, text string) (moderation.Scores, error) {
	var scores moderation.Scores
	err := m.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		scores, err = m.p.Classify(ctx, text)
		return err
	})
	if err != nil {
		return nil, provider.Wrap(m.name, "classify", err)
	}
	return scores, nil
}

// Breaker returns the circuit breaker, for readiness checks.
func (m *ModerationGuard) Breaker() *CircuitBreaker { return m.guard.Breaker() }
