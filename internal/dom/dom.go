// Package dom models the live webmail document as re-resolvable locators.
// Nothing here caches a node: every call re-queries the document, so callers
// survive the re-renders and reloads the extension triggers.
package dom

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrClosed reports that the page, context or browser went away under a call.
var ErrClosed = errors.New("dom: page, context or browser has been closed")

// closedSignatures are the driver messages that mean the target is gone.
var closedSignatures = []string{
	"page, context or browser has been closed",
	"target closed",
	"target page, context or browser has been closed",
	"browser has been closed",
}

// IsClosed reports whether err carries a page/context-closed signature.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range closedSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// ClickOptions tunes a click.
type ClickOptions struct {
	Force   bool
	Timeout time.Duration
}

// Scope is anything elements can be located in: a page, a frame or an element.
type Scope interface {
	Locate(sel Selector) Locator
}

// Locator is a lazily resolved element reference.
type Locator interface {
	Scope

	Visible(ctx context.Context, timeout time.Duration) (bool, error)
	WaitVisible(ctx context.Context, timeout time.Duration) error
	WaitAttached(ctx context.Context, timeout time.Duration) error
	WaitHidden(ctx context.Context, timeout time.Duration) error
	ScrollIntoView(ctx context.Context) error
	Click(ctx context.Context, opts ClickOptions) error
	Fill(ctx context.Context, value string) error
	// Attr returns the attribute value and whether it is present. Reads do
	// not wait: a missing element reads as absent with a nil error.
	Attr(ctx context.Context, name string) (string, bool, error)
	// InnerText returns rendered text; TextContent returns raw text content.
	// Both return "" for a missing element.
	InnerText(ctx context.Context) (string, error)
	TextContent(ctx context.Context) (string, error)
	String() string
}

// Page is the top-level document plus the page-wide actions the harness needs.
type Page interface {
	Scope

	// Goto navigates the tab. Session-backed pages open a fresh tab first when
	// the previous one was closed under them.
	Goto(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Press(ctx context.Context, key string) error
	// Frame returns a scope inside the first embedded frame matching sel.
	Frame(sel Selector) Scope
	IsClosed() bool
	Screenshot(ctx context.Context) ([]byte, error)
	URL() string
}
