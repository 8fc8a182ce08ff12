// Package ratelimit paces repeated page actions such as inbox reloads so a
// polling loop never hammers the remote site.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kuitang/virtru-e2e/internal/poll"
)

// Config defines the pacing for one kind of action.
type Config struct {
	Interval time.Duration // Minimum spacing between actions once the burst is spent
	Burst    int           // Actions allowed back-to-back
}

// Pacer spaces one kind of action and sleeps on the supplied clock, so the
// same pacing works against wall time and against a fake clock in tests.
type Pacer struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	clock   poll.Clock
}

// NewPacer creates a pacer with the given configuration.
func NewPacer(config Config, clock poll.Clock) *Pacer {
	if clock == nil {
		clock = poll.RealClock{}
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	limit := rate.Inf
	if config.Interval > 0 {
		limit = rate.Every(config.Interval)
	}
	return &Pacer{limiter: rate.NewLimiter(limit, config.Burst), clock: clock}
}

// Delay reserves one action and returns how long the caller must wait
// before performing it.
func (p *Pacer) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	r := p.limiter.ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	return r.DelayFrom(now)
}

// Wait blocks on the pacer clock until the next action may run.
func (p *Pacer) Wait(ctx context.Context) error {
	d := p.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	return p.clock.Sleep(ctx, d)
}
