package pwdom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"pgregory.net/rapid"

	"github.com/kuitang/virtru-e2e/internal/dom"
)

func TestMapErr(t *testing.T) {
	t.Parallel()
	if mapErr(nil) != nil {
		t.Fatal("nil must stay nil")
	}
	for _, err := range []error{
		errors.New("Target page, context or browser has been closed"),
		errors.New("locator.click: Target closed"),
		playwright.ErrTargetClosed,
	} {
		got := mapErr(err)
		if !errors.Is(got, dom.ErrClosed) {
			t.Errorf("mapErr(%v) = %v, want dom.ErrClosed", err, got)
		}
	}

	other := errors.New("strict mode violation")
	if got := mapErr(other); got != other {
		t.Errorf("mapErr changed unrelated error: %v", got)
	}
}

func TestCtxTimeout(t *testing.T) {
	t.Parallel()
	if got := ctxTimeout(context.Background(), 3*time.Second); got != 3*time.Second {
		t.Fatalf("no deadline: %v", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	if got := ctxTimeout(ctx, 3*time.Second); got != 3*time.Second {
		t.Fatalf("far deadline: %v", got)
	}
	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	if got := ctxTimeout(expired, 3*time.Second); got != time.Millisecond {
		t.Fatalf("expired deadline: %v", got)
	}
}

func testCtxTimeout_NeverExceedsRequest(t *rapid.T) {
	d := time.Duration(rapid.Int64Range(1, int64(time.Hour)).Draw(t, "d"))
	left := time.Duration(rapid.Int64Range(int64(time.Second), int64(2*time.Hour)).Draw(t, "left"))
	ctx, cancel := context.WithTimeout(context.Background(), left)
	defer cancel()
	got := ctxTimeout(ctx, d)
	if got > d || got <= 0 {
		t.Fatalf("ctxTimeout(%v left, %v) = %v", left, d, got)
	}
}

func TestCtxTimeout_NeverExceedsRequest(t *testing.T) {
	rapid.Check(t, testCtxTimeout_NeverExceedsRequest)
}

func TestLocatorString(t *testing.T) {
	t.Parallel()
	l := &locator{chain: []dom.Selector{dom.CSS("div.a")}, prefix: "frame(css=iframe)"}
	got := l.Locate(dom.CSS("span")).String()
	if got != "frame(css=iframe) >> css=div.a >> css=span" {
		t.Fatalf("String() = %q", got)
	}
	if len(l.chain) != 1 {
		t.Fatal("Locate must not mutate the parent chain")
	}
}
