// Package pwdom adapts playwright-go pages, frames and locators to the dom
// interfaces used by the probe engine and the page objects.
package pwdom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/virtru-e2e/internal/dom"
	"github.com/kuitang/virtru-e2e/internal/obs"
)

// DefaultActionTimeout bounds clicks, fills and reads that take no timeout.
const DefaultActionTimeout = 10 * time.Second

// Opener returns a fresh tab in the same browser context.
type Opener func() (playwright.Page, error)

// Page implements dom.Page on top of a playwright tab. When the tab is closed
// under it (the extension sometimes does this after sending) and an Opener is
// set, the next Goto continues in a new tab.
type Page struct {
	mu   sync.Mutex
	pg   playwright.Page
	open Opener
}

// NewPage wraps pg. open may be nil.
func NewPage(pg playwright.Page, open Opener) *Page {
	return &Page{pg: pg, open: open}
}

// Current returns the playwright tab currently backing the page.
func (p *Page) Current() playwright.Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pg
}

func (p *Page) Locate(sel dom.Selector) dom.Locator {
	b := pageBuilder(p.Current())
	return &locator{build: b, root: b, chain: []dom.Selector{sel}}
}

func (p *Page) Frame(sel dom.Selector) dom.Scope {
	pg := p.Current()
	var fl playwright.FrameLocator
	if sel.CSS != "" {
		fl = pg.FrameLocator(sel.CSS).First()
	} else {
		fl = resolve(pageBuilder(pg), pageBuilder(pg), sel).First().ContentFrame()
	}
	return &frameScope{build: frameBuilder(fl), desc: "frame(" + sel.String() + ")"}
}

func (p *Page) Goto(ctx context.Context, url string) error {
	p.mu.Lock()
	if p.pg.IsClosed() && p.open != nil {
		fresh, err := p.open()
		if err != nil {
			p.mu.Unlock()
			return mapErr(err)
		}
		obs.Pkg("pwdom").Info("page_reopened", "url", url)
		p.pg = fresh
	}
	pg := p.pg
	p.mu.Unlock()

	_, err := pg.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   ms(ctxTimeout(ctx, 60*time.Second)),
	})
	return mapErr(err)
}

func (p *Page) Reload(ctx context.Context) error {
	_, err := p.Current().Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   ms(ctxTimeout(ctx, 60*time.Second)),
	})
	return mapErr(err)
}

func (p *Page) Press(_ context.Context, key string) error {
	return mapErr(p.Current().Keyboard().Press(key))
}

func (p *Page) IsClosed() bool { return p.Current().IsClosed() }

func (p *Page) Screenshot(context.Context) ([]byte, error) {
	b, err := p.Current().Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
	return b, mapErr(err)
}

func (p *Page) URL() string { return p.Current().URL() }

// =============================================================================
// Selector translation
// =============================================================================

// builder creates base locators relative to a page, frame or element.
type builder struct {
	css         func(string) playwright.Locator
	role        func(playwright.AriaRole, any) playwright.Locator
	text        func(any) playwright.Locator
	placeholder func(any) playwright.Locator
	label       func(any) playwright.Locator
}

func pageBuilder(pg playwright.Page) builder {
	return builder{
		css: func(s string) playwright.Locator { return pg.Locator(s) },
		role: func(r playwright.AriaRole, name any) playwright.Locator {
			return pg.GetByRole(r, playwright.PageGetByRoleOptions{Name: name})
		},
		text:        func(t any) playwright.Locator { return pg.GetByText(t) },
		placeholder: func(t any) playwright.Locator { return pg.GetByPlaceholder(t) },
		label:       func(t any) playwright.Locator { return pg.GetByLabel(t) },
	}
}

func frameBuilder(fl playwright.FrameLocator) builder {
	return builder{
		css: func(s string) playwright.Locator { return fl.Locator(s) },
		role: func(r playwright.AriaRole, name any) playwright.Locator {
			return fl.GetByRole(r, playwright.FrameLocatorGetByRoleOptions{Name: name})
		},
		text:        func(t any) playwright.Locator { return fl.GetByText(t) },
		placeholder: func(t any) playwright.Locator { return fl.GetByPlaceholder(t) },
		label:       func(t any) playwright.Locator { return fl.GetByLabel(t) },
	}
}

func locatorBuilder(l playwright.Locator) builder {
	return builder{
		css: func(s string) playwright.Locator { return l.Locator(s) },
		role: func(r playwright.AriaRole, name any) playwright.Locator {
			return l.GetByRole(r, playwright.LocatorGetByRoleOptions{Name: name})
		},
		text:        func(t any) playwright.Locator { return l.GetByText(t) },
		placeholder: func(t any) playwright.Locator { return l.GetByPlaceholder(t) },
		label:       func(t any) playwright.Locator { return l.GetByLabel(t) },
	}
}

// resolve turns sel into a playwright locator under b. Has filters are built
// from root so the inner locator lives in the same frame as the outer one.
func resolve(b, root builder, sel dom.Selector) playwright.Locator {
	var l playwright.Locator
	switch {
	case sel.CSS != "":
		l = b.css(sel.CSS)
	case sel.Role != "":
		var name any
		if sel.Name != nil {
			name = sel.Name
		}
		l = b.role(playwright.AriaRole(sel.Role), name)
	case sel.Text != nil:
		l = b.text(sel.Text)
	case sel.Placeholder != "":
		l = b.placeholder(sel.Placeholder)
	case sel.Label != nil:
		l = b.label(sel.Label)
	default:
		l = b.css("*")
	}
	if sel.HasText != nil {
		l = l.Filter(playwright.LocatorFilterOptions{HasText: sel.HasText})
	}
	if sel.Has != nil {
		l = l.Filter(playwright.LocatorFilterOptions{Has: resolve(root, root, *sel.Has)})
	}
	if sel.Last {
		return l.Last()
	}
	return l.First()
}

type frameScope struct {
	build builder
	desc  string
}

func (f *frameScope) Locate(sel dom.Selector) dom.Locator {
	return &locator{build: f.build, root: f.build, chain: []dom.Selector{sel}, prefix: f.desc}
}

// =============================================================================
// Locator
// =============================================================================

// locator re-resolves its selector chain on every call.
type locator struct {
	build  builder
	root   builder
	chain  []dom.Selector
	prefix string
}

func (l *locator) pw() playwright.Locator {
	b := l.build
	var out playwright.Locator
	for _, sel := range l.chain {
		out = resolve(b, l.root, sel)
		b = locatorBuilder(out)
	}
	return out
}

func (l *locator) Locate(sel dom.Selector) dom.Locator {
	chain := append(append([]dom.Selector(nil), l.chain...), sel)
	return &locator{build: l.build, root: l.root, chain: chain, prefix: l.prefix}
}

func (l *locator) String() string {
	s := l.prefix
	for _, sel := range l.chain {
		if s != "" {
			s += " >> "
		}
		s += sel.String()
	}
	return s
}

func (l *locator) Visible(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		v, err := l.pw().IsVisible()
		return v, mapErr(err)
	}
	err := l.wait(ctx, playwright.WaitForSelectorStateVisible, timeout)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return false, nil
	}
	return false, err
}

func (l *locator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	return l.wait(ctx, playwright.WaitForSelectorStateVisible, timeout)
}

func (l *locator) WaitAttached(ctx context.Context, timeout time.Duration) error {
	return l.wait(ctx, playwright.WaitForSelectorStateAttached, timeout)
}

func (l *locator) WaitHidden(ctx context.Context, timeout time.Duration) error {
	return l.wait(ctx, playwright.WaitForSelectorStateHidden, timeout)
}

func (l *locator) wait(ctx context.Context, state *playwright.WaitForSelectorState, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := l.pw().WaitFor(playwright.LocatorWaitForOptions{
		State:   state,
		Timeout: ms(ctxTimeout(ctx, timeout)),
	})
	return mapErr(err)
}

func (l *locator) ScrollIntoView(ctx context.Context) error {
	return mapErr(l.pw().ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
		Timeout: ms(ctxTimeout(ctx, DefaultActionTimeout)),
	}))
}

func (l *locator) Click(ctx context.Context, opts dom.ClickOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	return mapErr(l.pw().Click(playwright.LocatorClickOptions{
		Force:   playwright.Bool(opts.Force),
		Timeout: ms(ctxTimeout(ctx, timeout)),
	}))
}

func (l *locator) Fill(ctx context.Context, value string) error {
	return mapErr(l.pw().Fill(value, playwright.LocatorFillOptions{
		Timeout: ms(ctxTimeout(ctx, DefaultActionTimeout)),
	}))
}

// readTimeout bounds text reads on an element that is already attached.
const readTimeout = 500 * time.Millisecond

// attrScript distinguishes a missing attribute (null) from an empty one. It
// runs over the matched list so a missing element resolves at once.
const attrScript = `(els, name) => els.length && els[0].hasAttribute(name) ? els[0].getAttribute(name) : null`

func (l *locator) Attr(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	v, err := l.pw().EvaluateAll(attrScript, name)
	if err != nil {
		return "", false, mapErr(err)
	}
	s, ok := v.(string)
	return s, ok, nil
}

// attached reports whether the locator currently matches an element.
func (l *locator) attached(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	n, err := l.pw().Count()
	return n > 0, mapErr(err)
}

func (l *locator) InnerText(ctx context.Context) (string, error) {
	if ok, err := l.attached(ctx); !ok {
		return "", err
	}
	s, err := l.pw().InnerText(playwright.LocatorInnerTextOptions{
		Timeout: ms(ctxTimeout(ctx, readTimeout)),
	})
	return s, mapErr(err)
}

func (l *locator) TextContent(ctx context.Context) (string, error) {
	if ok, err := l.attached(ctx); !ok {
		return "", err
	}
	s, err := l.pw().TextContent(playwright.LocatorTextContentOptions{
		Timeout: ms(ctxTimeout(ctx, readTimeout)),
	})
	return s, mapErr(err)
}

// =============================================================================
// Helpers
// =============================================================================

// mapErr tags driver errors that mean the tab or context went away with
// dom.ErrClosed, keeping the driver message.
func mapErr(err error) error {
	if err == nil || errors.Is(err, dom.ErrClosed) {
		return err
	}
	if errors.Is(err, playwright.ErrTargetClosed) || dom.IsClosed(err) {
		return fmt.Errorf("%w: %v", dom.ErrClosed, err)
	}
	return err
}

// ctxTimeout caps d by the time left on ctx.
func ctxTimeout(ctx context.Context, d time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < d {
			if left < time.Millisecond {
				return time.Millisecond
			}
			return left
		}
	}
	return d
}

func ms(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

var (
	_ dom.Page    = (*Page)(nil)
	_ dom.Locator = (*locator)(nil)
	_ dom.Scope   = (*frameScope)(nil)
)
