// Package flow sequences the page objects into the send-and-verify scenario
// and asserts on what the recipient sees.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kuitang/virtru-e2e/internal/dom"
	"github.com/kuitang/virtru-e2e/internal/errs"
	"github.com/kuitang/virtru-e2e/internal/gmail"
	"github.com/kuitang/virtru-e2e/internal/obs"
	"github.com/kuitang/virtru-e2e/internal/onboarding"
	"github.com/kuitang/virtru-e2e/internal/poll"
	"github.com/kuitang/virtru-e2e/internal/probe"
)

// ErrAssertion marks a scenario that ran to completion but saw the wrong result.
var ErrAssertion = errors.New("flow: assertion failed")

// DefaultSubjectWait is used by WaitForEmailBySubject when no timeout is given.
const DefaultSubjectWait = 60 * time.Second

// Envelope is what the recipient observed. It is built once at the end of
// the scenario.
type Envelope struct {
	Subject   string
	Body      string
	Protected bool
}

// MessageOpener finds and opens a message by subject.
type MessageOpener interface {
	OpenMessageBySubject(ctx context.Context, subject string, timeout time.Duration) error
}

// Inbox is the inbox surface the scenario drives.
type Inbox interface {
	MessageOpener
	Goto(ctx context.Context) error
	IsLoggedIn(ctx context.Context) bool
	Login(ctx context.Context, user, pass string) error
	CompleteOnboarding(ctx context.Context) onboarding.ClearResult
	WaitForActivatePrompt(ctx context.Context, timeout time.Duration) bool
}

// Composer is the compose surface the scenario drives.
type Composer interface {
	Open(ctx context.Context) error
	ToggleOn(ctx context.Context) error
	Send(ctx context.Context, d gmail.Draft) error
}

// Reader is the opened-message surface the scenario reads.
type Reader interface {
	Subject(ctx context.Context, timeout time.Duration) (string, error)
	WaitForDecryption(ctx context.Context, timeout time.Duration) (string, error)
	HasProtectionBadge(ctx context.Context, timeout time.Duration) bool
}

// Pages bundles the three page objects of one tab.
type Pages struct {
	Inbox   Inbox
	Compose Composer
	Message Reader
}

// NewPages builds the Gmail page objects for page.
func NewPages(page dom.Page, engine *probe.Engine, opts gmail.Options) Pages {
	return Pages{
		Inbox:   gmail.NewInbox(page, engine, opts),
		Compose: gmail.NewCompose(page, engine, opts),
		Message: gmail.NewMessage(page, engine),
	}
}

// WaitForEmailBySubject opens the message with subject, polling the inbox
// until timeout. It rejects an empty subject before touching the inbox.
func WaitForEmailBySubject(ctx context.Context, inbox MessageOpener, subject string, timeout time.Duration) error {
	if subject == "" {
		return errs.New(errs.InvalidArgument, "waitForEmailBySubject requires a non-empty subject")
	}
	if timeout <= 0 {
		timeout = DefaultSubjectWait
	}
	return inbox.OpenMessageBySubject(ctx, subject, timeout)
}

// Params are the scenario inputs.
type Params struct {
	User    string
	Pass    string
	To      string
	Subject string
	Body    string

	ActivatePromptWait time.Duration
	SubjectWait        time.Duration
	DeliveryTimeout    time.Duration
	DecryptTimeout     time.Duration
	BadgeTimeout       time.Duration
}

func (p Params) withDefaults() Params {
	if p.ActivatePromptWait <= 0 {
		p.ActivatePromptWait = 5 * time.Second
	}
	if p.SubjectWait <= 0 {
		p.SubjectWait = 30 * time.Second
	}
	if p.DeliveryTimeout <= 0 {
		p.DeliveryTimeout = 90 * time.Second
	}
	if p.DecryptTimeout <= 0 {
		p.DecryptTimeout = 90 * time.Second
	}
	if p.BadgeTimeout <= 0 {
		p.BadgeTimeout = 10 * time.Second
	}
	return p
}

// StepResult describes one finished scenario step.
type StepResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Observer is notified after every step, for screenshots and reports.
type Observer interface {
	StepDone(ctx context.Context, res StepResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, res StepResult)

func (f ObserverFunc) StepDone(ctx context.Context, res StepResult) { f(ctx, res) }

// Runner runs the send-and-verify scenario against one tab.
type Runner struct {
	pages    Pages
	params   Params
	clock    poll.Clock
	observer Observer
	steps    []StepResult
}

// NewRunner returns a Runner. A nil clock means wall time; a nil observer is allowed.
func NewRunner(pages Pages, params Params, clock poll.Clock, observer Observer) *Runner {
	if clock == nil {
		clock = poll.RealClock{}
	}
	return &Runner{pages: pages, params: params.withDefaults(), clock: clock, observer: observer}
}

// Steps returns the steps run so far.
func (r *Runner) Steps() []StepResult {
	return append([]StepResult(nil), r.steps...)
}

func (r *Runner) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx = obs.WithStep(ctx, name)
	start := r.clock.Now()
	err := fn(ctx)
	res := StepResult{Name: name, Duration: r.clock.Now().Sub(start), Err: err}
	r.steps = append(r.steps, res)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	obs.LogStep(ctx, "flow", obs.StepEvent{Name: name, Outcome: outcome, Duration: res.Duration, Err: err})
	if r.observer != nil {
		r.observer.StepDone(ctx, res)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (r *Runner) onboarding(ctx context.Context) error {
	return r.step(ctx, "onboarding", func(ctx context.Context) error {
		res := r.pages.Inbox.CompleteOnboarding(ctx)
		obs.From(ctx).Debug("onboarding_result", "pkg", "flow",
			"iterations", res.Iterations, "dismissed", res.Dismissed)
		return ctx.Err()
	})
}

// SendAndVerify logs in if needed, sends a protected message, waits for it
// to arrive and reads it back.
func (r *Runner) SendAndVerify(ctx context.Context) (Envelope, error) {
	p := r.params
	inbox := r.pages.Inbox

	if err := r.step(ctx, "open_inbox", inbox.Goto); err != nil {
		return Envelope{}, err
	}
	if !inbox.IsLoggedIn(ctx) {
		if err := r.step(ctx, "login", func(ctx context.Context) error {
			return inbox.Login(ctx, p.User, p.Pass)
		}); err != nil {
			return Envelope{}, err
		}
	}
	if err := r.onboarding(ctx); err != nil {
		return Envelope{}, err
	}
	if inbox.WaitForActivatePrompt(ctx, p.ActivatePromptWait) {
		if err := r.onboarding(ctx); err != nil {
			return Envelope{}, err
		}
	}

	if err := r.step(ctx, "open_compose", r.pages.Compose.Open); err != nil {
		return Envelope{}, err
	}
	if err := r.onboarding(ctx); err != nil {
		return Envelope{}, err
	}
	if err := r.step(ctx, "toggle_on", r.pages.Compose.ToggleOn); err != nil {
		return Envelope{}, err
	}
	if err := r.step(ctx, "send", func(ctx context.Context) error {
		return r.pages.Compose.Send(ctx, gmail.Draft{To: p.To, Subject: p.Subject, Body: p.Body})
	}); err != nil {
		return Envelope{}, err
	}

	if err := r.step(ctx, "reopen_inbox", inbox.Goto); err != nil {
		return Envelope{}, err
	}
	if err := r.onboarding(ctx); err != nil {
		return Envelope{}, err
	}
	if err := r.step(ctx, "await_delivery", func(ctx context.Context) error {
		return WaitForEmailBySubject(ctx, inbox, p.Subject, p.DeliveryTimeout)
	}); err != nil {
		return Envelope{}, err
	}

	var subject, body string
	var protected bool
	if err := r.step(ctx, "read_subject", func(ctx context.Context) (err error) {
		subject, err = r.pages.Message.Subject(ctx, p.SubjectWait)
		return err
	}); err != nil {
		return Envelope{}, err
	}
	if err := r.step(ctx, "decrypt", func(ctx context.Context) (err error) {
		body, err = r.pages.Message.WaitForDecryption(ctx, p.DecryptTimeout)
		return err
	}); err != nil {
		return Envelope{}, err
	}
	_ = r.step(ctx, "protection_badge", func(ctx context.Context) error {
		protected = r.pages.Message.HasProtectionBadge(ctx, p.BadgeTimeout)
		return nil
	})

	return Envelope{Subject: subject, Body: body, Protected: protected}, nil
}

// Verify checks env against what was sent: same subject, protection badge
// present, and the normalized body containing the normalized expected body.
func Verify(env Envelope, wantSubject, wantBody string) error {
	if env.Subject != wantSubject {
		return errs.Wrap(errs.FailedPrecondition,
			fmt.Sprintf("subject mismatch: expected %q, received %q", wantSubject, env.Subject), ErrAssertion)
	}
	if !env.Protected {
		return errs.Wrap(errs.FailedPrecondition, "Virtru protection badge should be present", ErrAssertion)
	}
	if !dom.ContainsNormalized(env.Body, wantBody) {
		return errs.Wrap(errs.FailedPrecondition,
			fmt.Sprintf("decrypted body mismatch: expected to contain %q, received %q",
				dom.Normalize(wantBody), dom.Normalize(env.Body)), ErrAssertion)
	}
	return nil
}
