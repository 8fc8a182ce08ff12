package gmail

import (
	"context"
	"time"

	"github.com/kuitang/virtru-e2e/internal/dom"
	"github.com/kuitang/virtru-e2e/internal/errs"
	"github.com/kuitang/virtru-e2e/internal/obs"
	"github.com/kuitang/virtru-e2e/internal/onboarding"
	"github.com/kuitang/virtru-e2e/internal/probe"
)

// MaxSendAttempts bounds Send: the first attempt plus one replay after the
// tab was closed under the send confirmation.
const MaxSendAttempts = 2

// Draft is what Send types into the compose window.
type Draft struct {
	To      string
	Subject string
	Body    string
}

// Compose is the Gmail compose window with the Virtru toggle.
type Compose struct {
	page      dom.Page
	probe     *probe.Engine
	recon     *onboarding.Reconciler
	opts      Options
	inspector *ToggleInspector
}

// NewCompose returns the compose page object for page.
func NewCompose(page dom.Page, engine *probe.Engine, opts Options) *Compose {
	return &Compose{
		page:  page,
		probe: engine,
		recon: onboarding.New(page, engine),
		opts:  opts.withDefaults(),
	}
}

// Open clicks Compose and waits for the recipient field. It also enlarges
// the window so the extension renders its full toolbar.
func (c *Compose) Open(ctx context.Context) error {
	if err := c.page.Locate(ComposeButton).Click(ctx, dom.ClickOptions{}); err != nil {
		return errs.Wrap(errs.FailedPrecondition, "click Compose", err)
	}
	_ = c.page.Locate(NewMessageDialog).WaitVisible(ctx, 15*time.Second)
	if err := c.page.Locate(ToField).WaitVisible(ctx, 15*time.Second); err != nil {
		return errs.Wrap(errs.NotFound, "compose form did not open", err)
	}
	c.inspector = nil

	full := c.page.Locate(FullScreenButton)
	if c.probe.IsVisible(ctx, full, 2*time.Second) {
		_ = full.Click(ctx, dom.ClickOptions{})
		c.probe.Sleep(ctx, 500*time.Millisecond)
	}
	return nil
}

// ToggleOn converges the compose window to protection on. It performs no
// clicks when protection is already on.
func (c *Compose) ToggleOn(ctx context.Context) error {
	log := obs.From(ctx).With("pkg", "gmail")

	c.recon.EnsureCleared(ctx, onboarding.DefaultIterations)
	c.recon.DismissActivationIfPresent(ctx)
	if _, err := c.recon.EnsureToggleVisible(ctx, c.opts.ToggleTimeout); err != nil {
		return err
	}

	dialog := c.page.Locate(ComposeDialog)
	if err := dialog.WaitVisible(ctx, 15*time.Second); err != nil {
		return errs.Wrap(errs.NotFound, "compose dialog not visible", err)
	}
	toggle, err := c.findToggle(ctx, dialog)
	if err != nil {
		return err
	}
	_ = toggle.ScrollIntoView(ctx)
	if c.inspector == nil {
		c.inspector = NewToggleInspector(c.probe, dialog, toggle)
	}

	if err := c.ensureOn(ctx, dialog, toggle); err != nil {
		if c.page.IsClosed() {
			return err
		}
		log.Warn("toggle_retry", "error", err.Error())
		c.recon.EnsureCleared(ctx, onboarding.DefaultIterations)
		c.recon.DismissActivationIfPresent(ctx)
		toggle, err = c.findToggle(ctx, dialog)
		if err != nil {
			return err
		}
		c.inspector.Retarget(toggle)
		if err := c.ensureOn(ctx, dialog, toggle); err != nil {
			return err
		}
	}
	c.recon.DismissModal(ctx, donePattern, activatedPattern)
	log.Info("toggle_on")
	return nil
}

// State reads the toggle state of the open compose window.
func (c *Compose) State(ctx context.Context) ToggleState {
	if c.inspector == nil {
		return ToggleUnknown
	}
	return c.inspector.Read(ctx)
}

func (c *Compose) findToggle(ctx context.Context, dialog dom.Locator) (dom.Locator, error) {
	toggle := dialog.Locate(DialogToggle)
	if err := toggle.WaitVisible(ctx, 10*time.Second); err != nil {
		return nil, errs.Wrap(errs.NotFound,
			"Virtru secure toggle not found inside compose dialog", onboarding.ErrToggleNotFound)
	}
	return toggle, nil
}

func (c *Compose) ensureOn(ctx context.Context, dialog, toggle dom.Locator) error {
	if c.inspector.Read(ctx) == ToggleOn {
		return nil
	}
	candidates := []dom.Locator{
		toggle,
		dialog.Locate(StatusContainer),
		dialog.Locate(OffLabel),
	}
	for _, candidate := range candidates {
		if !c.probe.IsVisible(ctx, candidate, 200*time.Millisecond) {
			continue
		}
		_ = candidate.Click(ctx, dom.ClickOptions{Force: true})
		if c.inspector.WaitForOn(ctx, 5*time.Second) {
			return nil
		}
	}
	return errs.Wrap(errs.DeadlineExceeded, "Virtru toggle did not report ON", ErrToggleActivation)
}

// Send fills and sends d, then waits for Gmail's confirmation. When the tab
// is closed under the confirmation wait (the extension reloads it after its
// first secure send) the whole compose sequence is replayed once.
func (c *Compose) Send(ctx context.Context, d Draft) error {
	log := obs.From(ctx).With("pkg", "gmail")
	for attempt := 1; ; attempt++ {
		if err := c.fill(ctx, d); err != nil {
			return err
		}
		err := c.confirm(ctx)
		if err == nil {
			log.Info("message_sent", "attempt", attempt)
			return nil
		}
		if !dom.IsClosed(err) || attempt >= MaxSendAttempts {
			return err
		}
		log.Warn("send_replay", "attempt", attempt, "error", err.Error())
		if err := c.replay(ctx); err != nil {
			return err
		}
	}
}

func (c *Compose) replay(ctx context.Context) error {
	if err := c.page.Goto(ctx, InboxURL(c.opts.BaseURL)); err != nil {
		return errs.Wrap(errs.Unavailable, "reopen inbox for send replay", err)
	}
	c.recon.EnsureCleared(ctx, onboarding.DefaultIterations)
	if err := c.Open(ctx); err != nil {
		return err
	}
	return c.ToggleOn(ctx)
}

func (c *Compose) fill(ctx context.Context, d Draft) error {
	c.recon.DismissModal(ctx, activatePattern, nil)

	to := c.page.Locate(RecipientField)
	if err := to.WaitAttached(ctx, 15*time.Second); err != nil {
		return errs.Wrap(errs.NotFound, "recipient field not found", err)
	}
	if err := to.Fill(ctx, d.To); err != nil {
		return errs.Wrap(errs.FailedPrecondition, "fill recipient", err)
	}
	if err := c.page.Press(ctx, "Enter"); err != nil {
		return errs.Wrap(errs.FailedPrecondition, "confirm recipient", err)
	}
	if err := c.page.Locate(SubjectField).Fill(ctx, d.Subject); err != nil {
		return errs.Wrap(errs.FailedPrecondition, "fill subject", err)
	}
	body := c.page.Locate(BodyField)
	if err := body.Click(ctx, dom.ClickOptions{}); err != nil {
		return errs.Wrap(errs.FailedPrecondition, "focus body", err)
	}
	if err := body.Fill(ctx, d.Body); err != nil {
		return errs.Wrap(errs.FailedPrecondition, "fill body", err)
	}

	send := c.page.Locate(SendButton)
	_ = send.ScrollIntoView(ctx)
	if c.probe.IsVisible(ctx, send, 2*time.Second) {
		if err := send.Click(ctx, dom.ClickOptions{}); err != nil {
			return errs.Wrap(errs.FailedPrecondition, "click send", err)
		}
		return nil
	}
	if err := c.page.Press(ctx, SendShortcut(c.opts.GOOS)); err != nil {
		return errs.Wrap(errs.FailedPrecondition, "send shortcut", err)
	}
	return nil
}

func (c *Compose) confirm(ctx context.Context) error {
	if err := c.page.Locate(MessageSent).WaitVisible(ctx, 15*time.Second); err != nil {
		return errs.Wrap(errs.DeadlineExceeded, "waiting for send confirmation", err)
	}
	c.recon.DismissModal(ctx, donePattern, secureMessagePattern)
	return nil
}
