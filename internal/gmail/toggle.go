package gmail

import (
	"context"
	"strings"
	"time"

	"github.com/kuitang/virtru-e2e/internal/dom"
	"github.com/kuitang/virtru-e2e/internal/poll"
	"github.com/kuitang/virtru-e2e/internal/probe"
)

// ToggleState is the inferred protection state of a compose window.
type ToggleState int

const (
	ToggleUnknown ToggleState = iota
	ToggleOff
	ToggleOn
)

func (s ToggleState) String() string {
	switch s {
	case ToggleOn:
		return "on"
	case ToggleOff:
		return "off"
	default:
		return "unknown"
	}
}

// ToggleInspector reads the secure toggle state of one compose window.
// Once it has seen "on" it keeps reporting "on": the extension re-renders
// the toggle while sending and intermediate reads must not look like a
// regression.
type ToggleInspector struct {
	probe      *probe.Engine
	toggle     dom.Locator
	status     dom.Locator
	label      dom.Locator
	secureSend dom.Locator
	latched    bool
}

// NewToggleInspector inspects toggle inside the compose dialog.
func NewToggleInspector(engine *probe.Engine, dialog, toggle dom.Locator) *ToggleInspector {
	return &ToggleInspector{
		probe:      engine,
		toggle:     toggle,
		status:     dialog.Locate(StatusContainer),
		label:      dialog.Locate(ProtectionLabel),
		secureSend: dialog.Locate(SecureSendButton),
	}
}

// Retarget points the inspector at a re-located toggle, keeping the latch.
func (ti *ToggleInspector) Retarget(toggle dom.Locator) {
	ti.toggle = toggle
}

// Read returns the current state.
func (ti *ToggleInspector) Read(ctx context.Context) ToggleState {
	if ti.latched {
		return ToggleOn
	}
	s := ti.read(ctx)
	if s == ToggleOn {
		ti.latched = true
	}
	return s
}

// read evaluates the signals in priority order; the first authoritative one wins.
func (ti *ToggleInspector) read(ctx context.Context) ToggleState {
	switch ti.probe.Attr(ctx, ti.toggle, "aria-pressed") {
	case "true":
		return ToggleOn
	case "false":
		return ToggleOff
	}

	class := ti.probe.Attr(ctx, ti.toggle, "class")
	if strings.Contains(class, "virtru-on") {
		return ToggleOn
	}
	if strings.Contains(class, "virtru-off") {
		return ToggleOff
	}

	container := ti.probe.Attr(ctx, ti.status, "class")
	if strings.Contains(container, "virtru-secure-mode-on") {
		return ToggleOn
	}
	if strings.Contains(container, "virtru-secure-mode-off") {
		return ToggleOff
	}

	label := strings.ToLower(ti.probe.TextContent(ctx, ti.label))
	if strings.Contains(label, "virtru protection on") {
		return ToggleOn
	}
	if strings.Contains(label, "virtru protection off") {
		return ToggleOff
	}

	if ti.probe.IsVisible(ctx, ti.secureSend, 200*time.Millisecond) {
		return ToggleOn
	}
	return ToggleUnknown
}

// WaitForOn polls Read every 200ms until it reports on or timeout elapses.
func (ti *ToggleInspector) WaitForOn(ctx context.Context, timeout time.Duration) bool {
	err := poll.Until(ctx, ti.probe.Clock(), poll.Options{Timeout: timeout, Interval: 200 * time.Millisecond}, func(ctx context.Context) (bool, error) {
		return ti.Read(ctx) == ToggleOn, nil
	})
	return err == nil
}
