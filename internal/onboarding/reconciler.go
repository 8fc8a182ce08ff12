// Package onboarding clears the permission prompts and Virtru onboarding
// modals that stand between a freshly loaded Gmail tab and the secure toggle.
//
// The reconciler has no notion of ultimate success. Each pass dismisses the
// obstacles it recognises, and it stops as soon as a pass finds nothing to
// dismiss. Callers decide whether the UI they need is now reachable.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/kuitang/virtru-e2e/internal/dom"
	"github.com/kuitang/virtru-e2e/internal/errs"
	"github.com/kuitang/virtru-e2e/internal/obs"
	"github.com/kuitang/virtru-e2e/internal/poll"
	"github.com/kuitang/virtru-e2e/internal/probe"
)

// ErrToggleNotFound is returned when the secure toggle never became visible.
var ErrToggleNotFound = errors.New("onboarding: virtru secure toggle not found")

// DefaultIterations bounds EnsureCleared.
const DefaultIterations = 10

// State is the obstacle observed during a reconciliation pass.
type State int

const (
	StateBlockedByPermissionPrompt State = iota
	StateBlockedByActivationModal
	StateBlockedByOtherModal
	StateToggleHidden
	StateReady
)

func (s State) String() string {
	switch s {
	case StateBlockedByPermissionPrompt:
		return "blocked_by_permission_prompt"
	case StateBlockedByActivationModal:
		return "blocked_by_activation_modal"
	case StateBlockedByOtherModal:
		return "blocked_by_other_modal"
	case StateToggleHidden:
		return "toggle_hidden"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ClearResult summarises one EnsureCleared call.
type ClearResult struct {
	Iterations int
	Dismissed  int
	Observed   []State
	// FixedPoint is true when the loop ended because a pass dismissed nothing.
	FixedPoint bool
}

func (r *ClearResult) observe(s State) {
	r.Dismissed++
	r.Observed = append(r.Observed, s)
}

// Reconciler dismisses onboarding obstacles on one page.
type Reconciler struct {
	page  dom.Page
	probe *probe.Engine
}

// New returns a Reconciler for page.
func New(page dom.Page, engine *probe.Engine) *Reconciler {
	return &Reconciler{page: page, probe: engine}
}

func (r *Reconciler) clickIfVisible(ctx context.Context, loc dom.Locator) bool {
	return r.probe.ClickIfVisible(ctx, loc, probe.ClickOptions{EnsureVisible: true})
}

// HandlePermissionPrompts answers "mail.google.com wants to" prompts. Reports
// whether anything was clicked.
func (r *Reconciler) HandlePermissionPrompts(ctx context.Context) bool {
	dialog := r.page.Locate(PermissionDialog)
	clicked := false
	for _, loc := range []dom.Locator{
		dialog.Locate(PermissionAllow),
		dialog.Locate(PermissionBlock),
		r.page.Locate(GlobalAllow),
		r.page.Locate(GlobalBlock),
	} {
		if r.clickIfVisible(ctx, loc) {
			clicked = true
		}
	}
	return clicked
}

func (r *Reconciler) findActivationModal(ctx context.Context) dom.Locator {
	m := r.probe.First(ctx, []dom.Locator{
		r.page.Locate(ActivationDialog),
		r.page.Locate(ActivationTextNode).Locate(ActivationPanel),
	}, 200*time.Millisecond)
	if !m.Visible {
		return nil
	}
	return m.Locator
}

// DismissActivationIfPresent closes the one-time "your email address is
// activated" confirmation. Reports whether it was dismissed.
func (r *Reconciler) DismissActivationIfPresent(ctx context.Context) bool {
	modal := r.findActivationModal(ctx)
	if modal == nil {
		return false
	}
	log := obs.From(ctx).With("pkg", "onboarding")
	log.Debug("activation_modal_found", "locator", modal.String())

	r.clickIfVisible(ctx, modal.Locate(DontShowAgain))

	m := r.probe.First(ctx, []dom.Locator{
		modal.Locate(DoneRole),
		modal.Locate(DoneMaterial),
		modal.Locate(CloseOrOkayRole),
		modal.Locate(DoneText),
		r.page.Locate(DoneRole),
		r.page.Locate(DoneTextEngine),
	}, 500*time.Millisecond)
	if m.Visible {
		_ = m.Locator.ScrollIntoView(ctx)
		if err := m.Locator.Click(ctx, dom.ClickOptions{}); err != nil {
			log.Debug("activation_done_click_error", "error", err.Error())
		}
		_ = modal.WaitHidden(ctx, 5*time.Second)
		return true
	}

	for _, key := range []string{"Enter", "Escape"} {
		_ = r.page.Press(ctx, key)
		if !r.probe.IsVisible(ctx, modal, time.Second) {
			log.Debug("activation_modal_closed_by_key", "key", key)
			return true
		}
	}
	return false
}

// DismissModal dismisses a dialog whose text matches modalPattern using a
// button matching buttonPattern. When no such dialog is visible, a global
// button matching buttonPattern is clicked instead. A nil modalPattern means
// ModalPattern.
func (r *Reconciler) DismissModal(ctx context.Context, buttonPattern, modalPattern *regexp.Regexp) bool {
	if modalPattern == nil {
		modalPattern = ModalPattern
	}
	desc := Modal{Container: modalPattern, Button: buttonPattern}
	modal := r.page.Locate(desc.Selector())
	if !r.probe.IsVisible(ctx, modal, time.Second) {
		return r.clickIfVisible(ctx, r.page.Locate(Button(buttonPattern)))
	}

	r.clickIfVisible(ctx, modal.Locate(DontShowAgain))

	candidates := []dom.Locator{
		modal.Locate(Button(buttonPattern)),
		modal.Locate(DoneRole),
		r.page.Locate(DoneRole),
		modal.Locate(ModalPlainButton(buttonPattern)),
		modal.Locate(dom.Text(buttonPattern)),
	}
	for _, candidate := range candidates {
		// A click can reload the tab and drop the dialog; gone counts as dismissed.
		if !r.probe.IsVisible(ctx, modal, 200*time.Millisecond) {
			return true
		}
		if r.clickIfVisible(ctx, candidate) {
			_ = modal.WaitHidden(ctx, 5*time.Second)
			return true
		}
	}
	return r.clickIfVisible(ctx, r.page.Locate(Button(buttonPattern)))
}

// EnsureCleared runs up to iterations reconciliation passes. It stops early
// once a pass dismisses nothing.
func (r *Reconciler) EnsureCleared(ctx context.Context, iterations int) ClearResult {
	log := obs.From(ctx).With("pkg", "onboarding")
	var res ClearResult

	if r.HandlePermissionPrompts(ctx) {
		res.observe(StateBlockedByPermissionPrompt)
	}
	if r.DismissActivationIfPresent(ctx) {
		res.observe(StateBlockedByActivationModal)
	}

	for i := 0; i < iterations; i++ {
		if ctx.Err() != nil {
			break
		}
		res.Iterations++
		handled := false
		for _, pattern := range ButtonPatterns {
			if r.DismissModal(ctx, pattern, nil) {
				log.Debug("onboarding_modal_dismissed", "iteration", i, "button", pattern.String())
				res.observe(StateBlockedByOtherModal)
				handled = true
				break
			}
		}
		if !handled {
			res.FixedPoint = true
			break
		}
		// Dismissing one modal can reveal the activation confirmation.
		if r.DismissActivationIfPresent(ctx) {
			res.observe(StateBlockedByActivationModal)
		}
	}

	if r.clickIfVisible(ctx, r.page.Locate(GlobalActivate)) {
		res.observe(StateBlockedByOtherModal)
	}

	log.Debug("onboarding_cleared",
		"iterations", res.Iterations,
		"dismissed", res.Dismissed,
		"fixed_point", res.FixedPoint,
	)
	return res
}

// EnsureToggleVisible reconciles until the secure toggle is visible or
// timeout elapses, clicking an "Activate Virtru" link whenever one shows up.
// A toggle that never appears (feature disabled, stalled extension) is
// reported as ErrToggleNotFound.
func (r *Reconciler) EnsureToggleVisible(ctx context.Context, timeout time.Duration) (dom.Locator, error) {
	toggle := r.page.Locate(ToggleSelector)
	activate := r.page.Locate(ActivateLink)

	err := poll.Until(ctx, r.probe.Clock(), poll.Options{Timeout: timeout, Interval: 500 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		if r.probe.IsVisible(ctx, toggle, time.Second) {
			return true, nil
		}
		r.EnsureCleared(ctx, 2)
		if r.probe.IsVisible(ctx, activate, time.Second) {
			_ = activate.Click(ctx, dom.ClickOptions{})
			r.probe.Sleep(ctx, 500*time.Millisecond)
		}
		return false, nil
	})
	switch {
	case err == nil:
		obs.From(ctx).Debug("toggle_visible", "pkg", "onboarding", "state", StateReady.String())
		return toggle, nil
	case errors.Is(err, poll.ErrDeadline):
		return nil, errs.Wrap(errs.DeadlineExceeded,
			fmt.Sprintf("Virtru secure toggle did not appear within %s", timeout), ErrToggleNotFound)
	default:
		return nil, err
	}
}

// WaitForActivatePrompt reports whether an Activate button shows up within timeout.
func (r *Reconciler) WaitForActivatePrompt(ctx context.Context, timeout time.Duration) bool {
	inDialog := r.page.Locate(WelcomeDialog).Locate(ModalActivateBtn)
	global := r.page.Locate(GlobalActivate)
	err := poll.Until(ctx, r.probe.Clock(), poll.Options{Timeout: timeout, Interval: 250 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		if r.probe.IsVisible(ctx, inDialog, 500*time.Millisecond) {
			return true, nil
		}
		return r.probe.IsVisible(ctx, global, 500*time.Millisecond), nil
	})
	return err == nil
}
