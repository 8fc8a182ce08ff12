package gmail

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kuitang/virtru-e2e/internal/dom"
	"github.com/kuitang/virtru-e2e/internal/errs"
	"github.com/kuitang/virtru-e2e/internal/logutil"
	"github.com/kuitang/virtru-e2e/internal/obs"
	"github.com/kuitang/virtru-e2e/internal/poll"
	"github.com/kuitang/virtru-e2e/internal/probe"
)

// Message is an opened Gmail conversation.
type Message struct {
	page  dom.Page
	probe *probe.Engine
}

// NewMessage returns the message page object for page.
func NewMessage(page dom.Page, engine *probe.Engine) *Message {
	return &Message{page: page, probe: engine}
}

// Subject returns the trimmed subject heading.
func (m *Message) Subject(ctx context.Context, timeout time.Duration) (string, error) {
	heading := m.page.Locate(SubjectHeading)
	if err := heading.WaitVisible(ctx, timeout); err != nil {
		return "", errs.Wrap(errs.NotFound, "message subject not visible", err)
	}
	text, err := heading.TextContent(ctx)
	if err != nil {
		return "", errs.Wrap(errs.Internal, "read message subject", err)
	}
	return strings.TrimSpace(text), nil
}

// WaitForDecryption returns the decrypted body once one of the body sources
// yields text that is not the encrypted wrapper. Each round tries the secure
// iframe, unlock controls on the page, inline Virtru containers and then the
// generic Gmail body.
func (m *Message) WaitForDecryption(ctx context.Context, timeout time.Duration) (string, error) {
	var body, source string
	err := poll.Until(ctx, m.probe.Clock(), poll.Options{Timeout: timeout, Interval: 250 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		if text := m.frameBody(ctx); text != "" {
			body, source = text, "frame"
			return true, nil
		}
		m.unlock(ctx, m.page)
		if text := m.inlineBody(ctx); text != "" {
			body, source = text, "inline"
			return true, nil
		}
		if text := m.fallbackBody(ctx); text != "" {
			body, source = text, "fallback"
			return true, nil
		}
		if !m.unlock(ctx, m.page) {
			m.probe.Sleep(ctx, 750*time.Millisecond)
		}
		return false, nil
	})
	switch {
	case err == nil:
		obs.From(ctx).Info("message_decrypted", "pkg", "gmail",
			"source", source, "body", logutil.TruncateForLog(body, 120))
		return body, nil
	case errors.Is(err, poll.ErrDeadline):
		return "", errs.Wrap(errs.DeadlineExceeded, "decryption timeout: body text did not appear", ErrDecryptionTimeout)
	default:
		return "", err
	}
}

// HasProtectionBadge polls for the Virtru badge or watermark. Never fails.
func (m *Message) HasProtectionBadge(ctx context.Context, timeout time.Duration) bool {
	badge := m.page.Locate(ProtectedBadge)
	mark := m.page.Locate(SecuredMark)
	err := poll.Until(ctx, m.probe.Clock(), poll.Options{Timeout: timeout, Interval: 250 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		return m.probe.IsVisible(ctx, badge, 500*time.Millisecond) ||
			m.probe.IsVisible(ctx, mark, 500*time.Millisecond), nil
	})
	return err == nil
}

// decrypted trims text and rejects the still-encrypted wrapper.
func decrypted(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || EncryptedPattern.MatchString(text) {
		return ""
	}
	return text
}

func (m *Message) frameBody(ctx context.Context) string {
	if !m.probe.IsVisible(ctx, m.page.Locate(SecureFrame), 500*time.Millisecond) {
		return ""
	}
	frame := m.page.Frame(SecureFrame)
	m.unlock(ctx, frame)
	return decrypted(m.probe.InnerText(ctx, frame.Locate(FrameBody)))
}

func (m *Message) inlineBody(ctx context.Context) string {
	container := m.page.Locate(InlineBody)
	if !m.probe.IsVisible(ctx, container, 500*time.Millisecond) {
		return ""
	}
	return decrypted(m.probe.InnerText(ctx, container))
}

func (m *Message) fallbackBody(ctx context.Context) string {
	for _, sel := range FallbackBodies {
		loc := m.page.Locate(sel)
		if !m.probe.IsVisible(ctx, loc, 500*time.Millisecond) {
			continue
		}
		if text := decrypted(m.probe.InnerText(ctx, loc)); text != "" {
			return text
		}
	}
	return ""
}

// unlock clicks the first visible unlock control in scope and reports
// whether there was one.
func (m *Message) unlock(ctx context.Context, scope dom.Scope) bool {
	return m.probe.ClickFirst(ctx, scope, UnlockStrategy, probe.ClickOptions{
		EnsureVisible:  true,
		VisibleTimeout: 200 * time.Millisecond,
	})
}
