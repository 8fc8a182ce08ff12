package onboarding

import (
	"regexp"
	"strings"

	"github.com/kuitang/virtru-e2e/internal/dom"
)

// ToggleSelector matches the Virtru secure toggle anywhere on the page.
var ToggleSelector = dom.CSS(`[aria-label*="Virtru secure toggle"], .virtru-toggle, [data-virtru-button="toggle"]`)

// DialogCSS matches every container shape Gmail and Virtru use for modals.
var DialogCSS = strings.Join([]string{
	`div[role="dialog"]`,
	`section[role="dialog"]`,
	`div[role="alertdialog"]`,
	`div[aria-modal="true"]`,
	`div[role="presentation"]`,
	`.virtru-modal`,
	`.modal-dialog`,
}, ", ")

// ButtonCSS matches clickable button-like elements.
const ButtonCSS = `button, [role="button"], div[role="button"]`

var (
	// ModalPattern matches the text of any Virtru-owned dialog.
	ModalPattern = regexp.MustCompile(`(?i)(welcome to virtru|virtru|secure message|email address is activated|your email address is activated)`)
	// ActivationPattern matches the one-time activation confirmation.
	ActivationPattern = regexp.MustCompile(`(?i)your email address is activated`)

	permissionPattern = regexp.MustCompile(`(?i)mail\.google\.com wants to`)
	allowExact        = regexp.MustCompile(`(?i)^allow$`)
	blockExact        = regexp.MustCompile(`(?i)^block$`)
	doneExact         = regexp.MustCompile(`(?i)^done$`)
	closeOrOkay       = regexp.MustCompile(`(?i)close|okay`)
	dontShowAgain     = regexp.MustCompile(`(?i)don't show again`)
	activateAny       = regexp.MustCompile(`(?i)activate`)
	activateVirtru    = regexp.MustCompile(`(?i)activate virtru`)
	welcomeOrActivate = regexp.MustCompile(`(?i)(welcome to virtru|activate)`)
)

// ButtonPatterns are the generic onboarding dismiss buttons, in priority order.
var ButtonPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)activate`),
	regexp.MustCompile(`(?i)done`),
	regexp.MustCompile(`(?i)continue`),
	regexp.MustCompile(`(?i)got it`),
	regexp.MustCompile(`(?i)start`),
	regexp.MustCompile(`(?i)ok`),
	regexp.MustCompile(`(?i)allow`),
}

// Modal pairs a container text pattern with the button that dismisses it.
type Modal struct {
	Container *regexp.Regexp
	Button    *regexp.Regexp
}

// Selector returns the dialog selector for m.
func (m Modal) Selector() dom.Selector {
	return dom.CSS(DialogCSS).Filter(m.Container)
}

// Button returns the button-like selector whose text matches pattern.
func Button(pattern *regexp.Regexp) dom.Selector {
	return dom.CSS(ButtonCSS).Filter(pattern)
}

// Selectors used by the reconciler, exported so tests and page objects can
// address the same elements.
var (
	PermissionDialog = dom.CSS(DialogCSS).Filter(permissionPattern)
	PermissionAllow  = dom.Role("button", allowExact)
	PermissionBlock  = dom.Role("button", blockExact)
	GlobalAllow      = Button(allowExact)
	GlobalBlock      = Button(blockExact)

	ActivationDialog   = dom.CSS(DialogCSS).Filter(ActivationPattern)
	ActivationTextNode = dom.CSS(`xpath=//*[contains(translate(normalize-space(.),"ABCDEFGHIJKLMNOPQRSTUVWXYZ","abcdefghijklmnopqrstuvwxyz"), "your email address is activated")]`)
	ActivationPanel    = dom.CSS(`xpath=ancestor-or-self::*[contains(@role,"dialog") or contains(@class,"modal") or contains(@class,"U26fgb") or contains(@class,"VfPpkd")]`)

	DontShowAgain    = dom.Role("checkbox", dontShowAgain)
	DoneRole         = dom.Role("button", doneExact)
	DoneMaterial     = dom.CSS(ButtonCSS + `, .VfPpkd-LgbsSe`).Filter(doneExact)
	CloseOrOkayRole  = dom.Role("button", closeOrOkay)
	DoneText         = dom.Text(doneExact)
	DoneTextEngine   = dom.CSS(`text=/^done$/i`)
	GlobalActivate   = Button(activateAny)
	ActivateLink     = dom.Role("link", activateVirtru)
	WelcomeDialog    = dom.CSS(`div[role="dialog"]`).Filter(welcomeOrActivate)
	ModalActivateBtn = dom.CSS(`button, [role="button"]`).Filter(activateAny)
)

// ModalPlainButton is the narrower dialog-scoped button matching pattern.
func ModalPlainButton(pattern *regexp.Regexp) dom.Selector {
	return dom.CSS(`button, [role="button"]`).Filter(pattern)
}
