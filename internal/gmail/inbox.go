package gmail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kuitang/virtru-e2e/internal/dom"
	"github.com/kuitang/virtru-e2e/internal/errs"
	"github.com/kuitang/virtru-e2e/internal/obs"
	"github.com/kuitang/virtru-e2e/internal/onboarding"
	"github.com/kuitang/virtru-e2e/internal/poll"
	"github.com/kuitang/virtru-e2e/internal/probe"
	"github.com/kuitang/virtru-e2e/internal/ratelimit"
)

// Inbox is the Gmail inbox and login screen.
type Inbox struct {
	page  dom.Page
	probe *probe.Engine
	recon *onboarding.Reconciler
	opts  Options
	pacer *ratelimit.Pacer
}

// NewInbox returns the inbox page object for page.
func NewInbox(page dom.Page, engine *probe.Engine, opts Options) *Inbox {
	opts = opts.withDefaults()
	return &Inbox{
		page:  page,
		probe: engine,
		recon: onboarding.New(page, engine),
		opts:  opts,
		pacer: ratelimit.NewPacer(ratelimit.Config{
			Interval: opts.ReloadInterval,
			Burst:    1,
		}, engine.Clock()),
	}
}

// Goto opens the inbox.
func (i *Inbox) Goto(ctx context.Context) error {
	if err := i.page.Goto(ctx, InboxURL(i.opts.BaseURL)); err != nil {
		return errs.Wrap(errs.Unavailable, "open inbox", err)
	}
	return nil
}

// IsLoggedIn reports whether the Compose button shows up within 5s.
func (i *Inbox) IsLoggedIn(ctx context.Context) bool {
	return i.probe.IsVisible(ctx, i.page.Locate(ComposeButton), 5*time.Second)
}

// Login signs in through the Google account screens and waits for the inbox.
func (i *Inbox) Login(ctx context.Context, user, pass string) error {
	if user == "" || pass == "" {
		return errs.New(errs.InvalidArgument, "login requires GMAIL_USER and GMAIL_PASS")
	}
	if err := i.page.Goto(ctx, i.opts.BaseURL+"/"); err != nil {
		return errs.Wrap(errs.Unavailable, "open login page", err)
	}
	steps := []struct {
		name string
		do   func() error
	}{
		{"fill email", func() error { return i.page.Locate(EmailField).Fill(ctx, user) }},
		{"submit email", func() error { return i.page.Locate(NextButton).Click(ctx, dom.ClickOptions{}) }},
		{"fill password", func() error { return i.page.Locate(PasswordField).Fill(ctx, pass) }},
		{"submit password", func() error { return i.page.Locate(NextButton).Click(ctx, dom.ClickOptions{}) }},
	}
	for _, s := range steps {
		if err := s.do(); err != nil {
			return errs.Wrap(errs.FailedPrecondition, "login: "+s.name, err)
		}
	}
	if err := i.page.Locate(ComposeButton).WaitVisible(ctx, 30*time.Second); err != nil {
		return errs.Wrap(errs.DeadlineExceeded, "inbox did not load after login", err)
	}
	obs.From(ctx).Info("gmail_logged_in", "pkg", "gmail")
	return nil
}

// CompleteOnboarding clears every onboarding obstacle on the page.
func (i *Inbox) CompleteOnboarding(ctx context.Context) onboarding.ClearResult {
	return i.recon.EnsureCleared(ctx, onboarding.DefaultIterations)
}

// WaitForActivatePrompt reports whether a Virtru Activate prompt appears.
func (i *Inbox) WaitForActivatePrompt(ctx context.Context, timeout time.Duration) bool {
	return i.recon.WaitForActivatePrompt(ctx, timeout)
}

// OpenMessageBySubject polls the inbox for a row containing subject and
// opens it, reloading between polls at most once per reload interval.
func (i *Inbox) OpenMessageBySubject(ctx context.Context, subject string, timeout time.Duration) error {
	log := obs.From(ctx).With("pkg", "gmail")
	row := i.page.Locate(InboxRow(subject))
	attempts := 0

	err := poll.Until(ctx, i.probe.Clock(), poll.Options{Timeout: timeout, Interval: 250 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		attempts++
		if i.probe.IsVisible(ctx, row, 2*time.Second) {
			if err := row.Click(ctx, dom.ClickOptions{}); err != nil {
				log.Debug("inbox_row_click_error", "error", err.Error())
				return false, nil
			}
			return true, nil
		}
		if err := i.pacer.Wait(ctx); err != nil {
			return false, err
		}
		if err := i.page.Reload(ctx); err != nil {
			if dom.IsClosed(err) {
				return false, err
			}
			log.Debug("inbox_reload_error", "error", err.Error())
		}
		return false, nil
	})
	if err == nil {
		log.Info("inbox_message_opened", "subject", subject, "attempts", attempts)
		return nil
	}
	if errors.Is(err, poll.ErrDeadline) {
		return errs.Wrap(errs.NotFound,
			fmt.Sprintf("email with subject %q not found within %s", subject, timeout), ErrMessageNotFound)
	}
	return err
}
