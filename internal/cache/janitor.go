package cache

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is the default period between janitor sweeps.
const DefaultSweepInterval = time.Minute

// Sweeper is anything the [Janitor] can sweep.
type Sweeper interface {
	// Sweep removes expired entries and returns how many were removed.
	Sweep() int
}

// Sweepers sweeps several targets as one.
type Sweepers []Sweeper

// Sweep sweeps every target and returns the total removed.
func (s Sweepers) Sweep() int {
	n := 0
	for _, t := range s {
		n += t.Sweep()
	}
	return n
}

// Janitor periodically removes expired entries from a cache, independently of
// request traffic.
type Janitor struct {
	target   Sweeper
	interval time.Duration
}

// NewJanitor creates a Janitor for target. A non-positive interval selects
// [DefaultSweepInterval].
func NewJanitor(target Sweeper, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Janitor{target: target, interval: interval}
}

// Interval returns the sweep period.
func (j *Janitor) Interval() time.Duration { return j.interval }

// Run sweeps on every tick until ctx is cancelled. It always returns nil so it
// can be supervised by an errgroup alongside servers.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := j.target.Sweep(); n > 0 {
				slog.Debug("cache sweep removed expired entries", "removed", n)
			}
		}
	}
}
