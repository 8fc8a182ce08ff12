// Package probe answers "is X visible right now" and "click X if so" against
// a live document. Absence is a normal outcome here: every lookup, timeout or
// detach error collapses to false and is only logged at debug level.
package probe

import (
	"context"
	"strings"
	"time"

	"github.com/kuitang/virtru-e2e/internal/dom"
	"github.com/kuitang/virtru-e2e/internal/obs"
	"github.com/kuitang/virtru-e2e/internal/poll"
)

const (
	// DefaultVisibleTimeout bounds the visibility check in ClickIfVisible.
	DefaultVisibleTimeout = 1500 * time.Millisecond
	// DefaultSettle is slept after every click to absorb animations.
	DefaultSettle = 500 * time.Millisecond
)

// ClickOptions tunes ClickIfVisible.
type ClickOptions struct {
	EnsureVisible  bool // scroll into view before clicking
	Force          bool // skip actionability checks
	VisibleTimeout time.Duration
}

// Strategy is an ordered list of selector layers tried until one yields a
// visible match: role+name first, then attribute/class heuristics, then text.
type Strategy []dom.Selector

// Match is the uniform result of resolving a Strategy.
type Match struct {
	Visible bool
	Locator dom.Locator
	Layer   int
}

// Engine runs probes against a page with a fixed settle delay.
type Engine struct {
	clock  poll.Clock
	settle time.Duration
}

// New returns an Engine using clock for settle delays.
func New(clock poll.Clock) *Engine {
	if clock == nil {
		clock = poll.RealClock{}
	}
	return &Engine{clock: clock, settle: DefaultSettle}
}

// Clock returns the engine clock.
func (e *Engine) Clock() poll.Clock { return e.clock }

// Sleep waits d, ignoring cancellation; callers observe ctx on their next probe.
func (e *Engine) Sleep(ctx context.Context, d time.Duration) {
	_ = e.clock.Sleep(ctx, d)
}

// IsVisible reports whether loc is visible within timeout. Never fails.
func (e *Engine) IsVisible(ctx context.Context, loc dom.Locator, timeout time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	visible, err := loc.Visible(ctx, timeout)
	if err != nil {
		obs.From(ctx).Debug("probe_visible_error", "pkg", "probe", "locator", loc.String(), "error", err.Error())
		return false
	}
	return visible
}

// ClickIfVisible clicks loc when it is visible and reports whether a click was
// attempted. Click errors are swallowed: clicking a node that detached between
// the check and the click is expected.
func (e *Engine) ClickIfVisible(ctx context.Context, loc dom.Locator, opts ClickOptions) bool {
	timeout := opts.VisibleTimeout
	if timeout <= 0 {
		timeout = DefaultVisibleTimeout
	}
	if !e.IsVisible(ctx, loc, timeout) {
		return false
	}
	if opts.EnsureVisible {
		_ = loc.ScrollIntoView(ctx)
	}
	if err := loc.Click(ctx, dom.ClickOptions{Force: opts.Force}); err != nil {
		obs.From(ctx).Debug("probe_click_error", "pkg", "probe", "locator", loc.String(), "error", err.Error())
	}
	e.Sleep(ctx, e.settle)
	return true
}

// Resolve tries each layer of strategy inside scope and returns the first
// visible one. An empty Match (Visible=false) means nothing matched.
func (e *Engine) Resolve(ctx context.Context, scope dom.Scope, strategy Strategy, timeout time.Duration) Match {
	candidates := make([]dom.Locator, len(strategy))
	for i, sel := range strategy {
		candidates[i] = scope.Locate(sel)
	}
	return e.First(ctx, candidates, timeout)
}

// First returns the first visible locator among candidates, which may come
// from different scopes (a dialog, then the whole page).
func (e *Engine) First(ctx context.Context, candidates []dom.Locator, timeout time.Duration) Match {
	for i, loc := range candidates {
		if e.IsVisible(ctx, loc, timeout) {
			return Match{Visible: true, Locator: loc, Layer: i}
		}
	}
	return Match{Layer: -1}
}

// ClickFirst resolves strategy and clicks the winning layer.
func (e *Engine) ClickFirst(ctx context.Context, scope dom.Scope, strategy Strategy, opts ClickOptions) bool {
	timeout := opts.VisibleTimeout
	if timeout <= 0 {
		timeout = DefaultVisibleTimeout
	}
	m := e.Resolve(ctx, scope, strategy, timeout)
	if !m.Visible {
		return false
	}
	if opts.EnsureVisible {
		_ = m.Locator.ScrollIntoView(ctx)
	}
	if err := m.Locator.Click(ctx, dom.ClickOptions{Force: opts.Force}); err != nil {
		obs.From(ctx).Debug("probe_click_error", "pkg", "probe", "locator", m.Locator.String(), "error", err.Error())
	}
	e.Sleep(ctx, e.settle)
	return true
}

// Attr returns the attribute value, or "" when absent or unreadable.
func (e *Engine) Attr(ctx context.Context, loc dom.Locator, name string) string {
	v, ok, err := loc.Attr(ctx, name)
	if err != nil || !ok {
		return ""
	}
	return v
}

// InnerText returns trimmed rendered text, or "" on any failure.
func (e *Engine) InnerText(ctx context.Context, loc dom.Locator) string {
	text, err := loc.InnerText(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// TextContent returns trimmed text content, or "" on any failure.
func (e *Engine) TextContent(ctx context.Context, loc dom.Locator) string {
	text, err := loc.TextContent(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
