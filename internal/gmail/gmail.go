// Package gmail wraps the Gmail web UI (inbox, compose window, opened
// message) as page objects whose every action goes through the probe engine
// and the onboarding reconciler.
package gmail

import (
	"errors"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/kuitang/virtru-e2e/internal/dom"
	"github.com/kuitang/virtru-e2e/internal/probe"
)

var (
	// ErrToggleActivation is returned when the secure toggle never reports on.
	ErrToggleActivation = errors.New("gmail: virtru toggle did not report on")
	// ErrDecryptionTimeout is returned when no decrypted body appeared in time.
	ErrDecryptionTimeout = errors.New("gmail: decryption timeout")
	// ErrMessageNotFound is returned when no inbox row matched the subject.
	ErrMessageNotFound = errors.New("gmail: message not found")
)

// DefaultBaseURL is the Gmail origin.
const DefaultBaseURL = "https://mail.google.com"

// Options configures the page objects.
type Options struct {
	BaseURL        string
	ToggleTimeout  time.Duration
	ReloadInterval time.Duration
	// GOOS picks the send shortcut; empty means runtime.GOOS.
	GOOS string
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.ToggleTimeout <= 0 {
		o.ToggleTimeout = 30 * time.Second
	}
	if o.ReloadInterval <= 0 {
		o.ReloadInterval = 2 * time.Second
	}
	if o.GOOS == "" {
		o.GOOS = runtime.GOOS
	}
	return o
}

// InboxURL returns the inbox URL for base.
func InboxURL(base string) string {
	return strings.TrimRight(base, "/") + "/mail/u/0/#inbox"
}

// SendShortcut returns the keyboard chord that sends a draft on goos.
func SendShortcut(goos string) string {
	if goos == "darwin" {
		return "Meta+Enter"
	}
	return "Control+Enter"
}

func ci(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + pattern)
}

// EncryptedPattern matches text that is still the encrypted wrapper rather
// than a decrypted body.
var EncryptedPattern = ci(`unlock message|virtru metadata|unencrypted introduction|view my encrypted message`)

const toFieldCSS = `textarea[name="to"], input[aria-label="To recipients"]`

// Inbox and login.
var (
	ComposeButton = dom.Role("button", ci(`compose`))
	EmailField    = dom.Role("textbox", ci(`email|phone`))
	NextButton    = dom.Role("button", ci(`next`))
	PasswordField = dom.Label(ci(`enter your password`))
	inboxRowCSS   = `tr[role="row"] td span[class][data-hovercard-id], tr[role="row"]`
)

// InboxRow matches the inbox row whose text contains subject.
func InboxRow(subject string) dom.Selector {
	return dom.CSS(inboxRowCSS).Filter(ci(regexp.QuoteMeta(subject)))
}

// Compose window.
var (
	NewMessageDialog = dom.CSS(`div[role="dialog"]`).Filter(ci(`new message`))
	ToField          = dom.CSS(`input[aria-label="To recipients"], textarea[name="to"]`)
	ComposeDialog    = dom.CSS(`div[role="dialog"]`).Having(dom.CSS(toFieldCSS)).LastMatch()
	DialogToggle     = dom.CSS(`div.virtru-toggle[aria-label="Virtru secure toggle"]`).LastMatch()
	SecureSendButton = dom.Role("button", ci(`(secure send|send securely)`))
	StatusContainer  = dom.CSS(`.virtru-secure-mode-on, .virtru-secure-mode-off`)
	ProtectionLabel  = dom.CSS(`.virtru-label`).Filter(ci(`virtru protection`))
	OffLabel         = dom.CSS(`.virtru-secure-mode-off .virtru-label`)
	FullScreenButton = dom.CSS(`[aria-label="Full screen"], [data-tooltip*="Full screen"]`)
	RecipientField   = dom.CSS(toFieldCSS)
	SubjectField     = dom.Placeholder("Subject")
	BodyField        = dom.CSS(`div[aria-label="Message Body"]`)
	SendButton       = dom.Role("button", ci(`(secure send|send)`))
	MessageSent      = dom.Text(ci(`message sent`))

	activatePattern      = ci(`activate`)
	donePattern          = ci(`done`)
	activatedPattern     = ci(`email address is activated`)
	secureMessagePattern = ci(`secure message`)
)

// Opened message.
var (
	SubjectHeading = dom.CSS(`h2[data-attribute="subject"], h2.hP, div[role="heading"][data-legacy-message-id]`)
	SecureFrame    = dom.CSS(`iframe[src*="secure.virtru.com"], iframe[title*="Virtru"]`)
	FrameBody      = dom.CSS(`[data-testid="secure-message-body"], .formatted-text, .virtru-sender-body, [data-virtru-component="secure-message-body"]`)
	InlineBody     = dom.CSS(`.virtru-sender-body, .virtru-email-body, .virtru-secure-message-body, [data-testid="virtru-message-body"], [data-virtru-component="secure-message-body"]`)
	ProtectedBadge = dom.Text(ci(`your message,\s*protected by virtru`))
	SecuredMark    = dom.Text(ci(`secured by virtru`))
)

// FallbackBodies are generic Gmail body containers, most specific first.
var FallbackBodies = []dom.Selector{
	dom.CSS(`div[role="listitem"] div[dir="ltr"]`),
	dom.CSS(`div[data-message-id] div[dir="ltr"]`),
	dom.CSS(`div[role="article"] div[dir="ltr"]`),
	dom.CSS(`.a3s.aiL div[dir="ltr"]`),
	dom.CSS(`.a3s.aiL`),
	dom.CSS(`div[aria-label="Message Body"]`),
}

// UnlockStrategy locates the control that reveals an encrypted message.
var UnlockStrategy = probe.Strategy{
	dom.Role("button", ci(`unlock message`)),
	dom.Role("button", ci(`view secure message`)),
	dom.Role("button", ci(`view message`)),
	dom.Role("link", ci(`unlock message`)),
	dom.Role("link", ci(`view secure message`)),
	dom.Text(ci(`unlock message`)),
	dom.Text(ci(`view secure message`)),
	dom.CSS(`[data-testid*="unlock"]`),
}
