// Package domtest provides an in-memory dom.Page for exercising convergence
// logic without a browser. Elements are registered under the key produced by
// Key/InFrame from the same selectors production code uses, and are looked up
// afresh on every call, like the real driver.
package domtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/virtru-e2e/internal/dom"
)

// ErrNoElement mimics a driver timeout while waiting for a missing element.
var ErrNoElement = errors.New("domtest: element not found")

const sep = " | "

// Key joins a selector chain (outermost first) into a fake DOM key.
func Key(sels ...dom.Selector) string {
	parts := make([]string, len(sels))
	for i, s := range sels {
		parts[i] = s.String()
	}
	return strings.Join(parts, sep)
}

// InFrame joins a selector chain located inside the frame matched by frame.
func InFrame(frame dom.Selector, sels ...dom.Selector) string {
	return "frame(" + frame.String() + ")" + sep + Key(sels...)
}

// Node is a fake element.
type Node struct {
	Visible  bool
	Attrs    map[string]string
	Text     string
	Value    string
	ClickErr error
	// VisibleErr makes visibility checks fail, like a detached handle.
	VisibleErr error
	// OnClick runs after the click is recorded; it may mutate the page.
	OnClick func(p *Page)
}

// Page is a fake dom.Page.
type Page struct {
	mu      sync.Mutex
	nodes   map[string]*Node
	clicks  []string
	presses []string
	fills   map[string]string
	gotos   []string
	reloads int
	closed  bool
	url     string

	// ReopenOnGoto makes Goto on a closed page succeed and reopen it, like a
	// session page that replaces a tab the extension closed.
	ReopenOnGoto bool

	OnGoto   func(p *Page, url string)
	OnReload func(p *Page)
	OnPress  func(p *Page, key string)
}

// NewPage returns an empty fake page.
func NewPage() *Page {
	return &Page{
		nodes: make(map[string]*Node),
		fills: make(map[string]string),
	}
}

// Set registers (or replaces) the node at key and returns it.
func (p *Page) Set(key string, n *Node) *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n.Attrs == nil {
		n.Attrs = map[string]string{}
	}
	p.nodes[key] = n
	return n
}

// Remove detaches the node at key.
func (p *Page) Remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.nodes, key)
}

// Node returns the node at key, or nil.
func (p *Page) Node(key string) *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodes[key]
}

// SetVisible toggles visibility of the node at key, if present.
func (p *Page) SetVisible(key string, visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.nodes[key]; ok {
		n.Visible = visible
	}
}

// SetAttr sets an attribute on the node at key, if present.
func (p *Page) SetAttr(key, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.nodes[key]; ok {
		n.Attrs[name] = value
	}
}

// Close marks the page closed; every later call fails with dom.ErrClosed.
func (p *Page) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Reopen clears the closed flag, as if the tab came back after a reload.
func (p *Page) Reopen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = false
}

// Clicks returns the keys clicked so far, in order.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// ClickCount returns how often key was clicked.
func (p *Page) ClickCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.clicks {
		if k == key {
			n++
		}
	}
	return n
}

// Presses returns the keyboard keys pressed so far.
func (p *Page) Presses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.presses...)
}

// Filled returns the value filled into key.
func (p *Page) Filled(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills[key]
}

// Gotos returns the URLs navigated to.
func (p *Page) Gotos() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.gotos...)
}

// Reloads returns the number of reloads.
func (p *Page) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

func (p *Page) Locate(sel dom.Selector) dom.Locator {
	return &locator{page: p, key: sel.String()}
}

func (p *Page) Frame(sel dom.Selector) dom.Scope {
	return frame{page: p, prefix: "frame(" + sel.String() + ")"}
}

func (p *Page) Goto(_ context.Context, url string) error {
	p.mu.Lock()
	if p.closed && p.ReopenOnGoto {
		p.closed = false
	}
	if p.closed {
		p.mu.Unlock()
		return dom.ErrClosed
	}
	p.gotos = append(p.gotos, url)
	p.url = url
	hook := p.OnGoto
	p.mu.Unlock()
	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *Page) Reload(context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return dom.ErrClosed
	}
	p.reloads++
	hook := p.OnReload
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Press(_ context.Context, key string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return dom.ErrClosed
	}
	p.presses = append(p.presses, key)
	hook := p.OnPress
	p.mu.Unlock()
	if hook != nil {
		hook(p, key)
	}
	return nil
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Screenshot(context.Context) ([]byte, error) {
	if p.IsClosed() {
		return nil, dom.ErrClosed
	}
	return []byte("\x89PNG fake"), nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// lookup returns the node at key, dom.ErrClosed, or (nil, nil) when absent.
func (p *Page) lookup(key string) (*Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, dom.ErrClosed
	}
	return p.nodes[key], nil
}

type frame struct {
	page   *Page
	prefix string
}

func (f frame) Locate(sel dom.Selector) dom.Locator {
	return &locator{page: f.page, key: f.prefix + sep + sel.String()}
}

type locator struct {
	page *Page
	key  string
}

func (l *locator) String() string { return l.key }

func (l *locator) Locate(sel dom.Selector) dom.Locator {
	return &locator{page: l.page, key: l.key + sep + sel.String()}
}

func (l *locator) Visible(context.Context, time.Duration) (bool, error) {
	n, err := l.page.lookup(l.key)
	if err != nil {
		return false, err
	}
	if n == nil {
		return false, nil
	}
	if n.VisibleErr != nil {
		return false, n.VisibleErr
	}
	return n.Visible, nil
}

func (l *locator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	visible, err := l.Visible(ctx, timeout)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("waiting for %s to be visible: %w", l.key, ErrNoElement)
	}
	return nil
}

func (l *locator) WaitAttached(context.Context, time.Duration) error {
	n, err := l.page.lookup(l.key)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("waiting for %s to be attached: %w", l.key, ErrNoElement)
	}
	return nil
}

func (l *locator) WaitHidden(ctx context.Context, timeout time.Duration) error {
	visible, err := l.Visible(ctx, timeout)
	if err != nil {
		return err
	}
	if visible {
		return fmt.Errorf("waiting for %s to be hidden: still visible", l.key)
	}
	return nil
}

func (l *locator) ScrollIntoView(context.Context) error {
	n, err := l.page.lookup(l.key)
	if err != nil {
		return err
	}
	if n == nil {
		return ErrNoElement
	}
	return nil
}

func (l *locator) Click(_ context.Context, opts dom.ClickOptions) error {
	n, err := l.page.lookup(l.key)
	if err != nil {
		return err
	}
	if n == nil || (!n.Visible && !opts.Force) {
		return fmt.Errorf("click %s: %w", l.key, ErrNoElement)
	}
	if n.ClickErr != nil {
		return n.ClickErr
	}
	l.page.mu.Lock()
	l.page.clicks = append(l.page.clicks, l.key)
	l.page.mu.Unlock()
	if n.OnClick != nil {
		n.OnClick(l.page)
	}
	return nil
}

func (l *locator) Fill(_ context.Context, value string) error {
	n, err := l.page.lookup(l.key)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("fill %s: %w", l.key, ErrNoElement)
	}
	l.page.mu.Lock()
	n.Value = value
	l.page.fills[l.key] = value
	l.page.mu.Unlock()
	return nil
}

func (l *locator) Attr(_ context.Context, name string) (string, bool, error) {
	n, err := l.page.lookup(l.key)
	if err != nil {
		return "", false, err
	}
	if n == nil {
		return "", false, nil
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	v, ok := n.Attrs[name]
	return v, ok, nil
}

func (l *locator) InnerText(context.Context) (string, error) {
	n, err := l.page.lookup(l.key)
	if err != nil {
		return "", err
	}
	if n == nil {
		return "", nil
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	return n.Text, nil
}

func (l *locator) TextContent(ctx context.Context) (string, error) {
	return l.InnerText(ctx)
}
