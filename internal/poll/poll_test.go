package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestUntil_SucceedsWhenPredicateHolds(t *testing.T) {
	t.Parallel()
	clock := NewFakeClock(epoch)
	calls := 0
	err := Until(context.Background(), clock, Options{Timeout: 5 * time.Second, Interval: 200 * time.Millisecond}, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	if err != nil {
		t.Fatalf("Until returned %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if got := len(clock.Sleeps()); got != 2 {
		t.Fatalf("sleeps = %d, want 2", got)
	}
}

func TestUntil_PropagatesPredicateError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	err := Until(context.Background(), NewFakeClock(epoch), Options{Timeout: time.Second, Interval: time.Millisecond}, func(context.Context) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Until error = %v, want boom", err)
	}
}

func TestUntil_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Until(ctx, NewFakeClock(epoch), Options{Timeout: time.Second, Interval: time.Millisecond}, func(context.Context) (bool, error) {
		t.Fatal("predicate must not run after cancellation")
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Until error = %v, want context.Canceled", err)
	}
}

func TestRealClock_SleepHonoursContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (RealClock{}).Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep error = %v, want context.Canceled", err)
	}
}

// The loop runs ceil(timeout/interval) times when the predicate never holds.
func testUntil_DeadlineBoundsIterations(t *rapid.T) {
	timeoutMS := rapid.IntRange(1, 5000).Draw(t, "timeout_ms")
	intervalMS := rapid.IntRange(1, 1000).Draw(t, "interval_ms")
	clock := NewFakeClock(epoch)
	calls := 0
	err := Until(context.Background(), clock, Options{
		Timeout:  time.Duration(timeoutMS) * time.Millisecond,
		Interval: time.Duration(intervalMS) * time.Millisecond,
	}, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, ErrDeadline) {
		t.Fatalf("Until error = %v, want ErrDeadline", err)
	}
	want := (timeoutMS + intervalMS - 1) / intervalMS
	if calls != want {
		t.Fatalf("calls = %d, want %d (timeout=%dms interval=%dms)", calls, want, timeoutMS, intervalMS)
	}
	for _, d := range clock.Sleeps() {
		if d != time.Duration(intervalMS)*time.Millisecond {
			t.Fatalf("interval drifted: %v", d)
		}
	}
}

func TestUntil_DeadlineBoundsIterations(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testUntil_DeadlineBoundsIterations)
}
