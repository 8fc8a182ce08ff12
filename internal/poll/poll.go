// Package poll provides the one deadline-based polling loop used by every
// convergence procedure in the harness, plus the clock it runs against.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrDeadline is returned by Until when the predicate never held before the deadline.
var ErrDeadline = errors.New("poll: deadline exceeded")

// Clock abstracts time so convergence loops can be driven by a fake in tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options configures Until.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Func is one polling iteration. Returning done=true stops the loop with success;
// a non-nil error stops it and is returned unchanged.
type Func func(ctx context.Context) (done bool, err error)

// Until calls fn repeatedly until it reports done, returns an error, the
// deadline elapses or ctx is cancelled. The elapsed time is recomputed on
// every iteration and the interval is fixed: no jitter, no growth.
func Until(ctx context.Context, clock Clock, opts Options, fn Func) error {
	if clock == nil {
		clock = RealClock{}
	}
	start := clock.Now()
	for clock.Now().Sub(start) < opts.Timeout {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := clock.Sleep(ctx, opts.Interval); err != nil {
			return err
		}
	}
	return ErrDeadline
}
