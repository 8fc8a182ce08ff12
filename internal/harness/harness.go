// Package harness runs the send-and-verify scenario once per configured
// browser channel, serially, and produces the run report.
package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kuitang/virtru-e2e/internal/artifacts"
	"github.com/kuitang/virtru-e2e/internal/config"
	"github.com/kuitang/virtru-e2e/internal/dom"
	"github.com/kuitang/virtru-e2e/internal/errs"
	"github.com/kuitang/virtru-e2e/internal/flow"
	"github.com/kuitang/virtru-e2e/internal/gmail"
	"github.com/kuitang/virtru-e2e/internal/notify"
	"github.com/kuitang/virtru-e2e/internal/obs"
	"github.com/kuitang/virtru-e2e/internal/poll"
	"github.com/kuitang/virtru-e2e/internal/probe"
	"github.com/kuitang/virtru-e2e/internal/report"
	"github.com/kuitang/virtru-e2e/internal/session"
)

// Browser is one launched browser session.
type Browser interface {
	DOM() dom.Page
	MarkFailed()
	Close() error
	Artifacts() []string
}

// OpenFunc launches a browser for channel.
type OpenFunc func(ctx context.Context, cfg *config.Config, channel string) (Browser, error)

// OpenSession is the OpenFunc backed by a real Playwright session.
func OpenSession(ctx context.Context, cfg *config.Config, channel string) (Browser, error) {
	s, err := session.Open(ctx, cfg, channel)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Harness wires configuration, browsers, artifacts and notification.
type Harness struct {
	cfg      *config.Config
	open     OpenFunc
	recorder *artifacts.Recorder
	sender   notify.Sender
	clock    poll.Clock
}

// New returns a Harness. sender may be nil; a nil clock means wall time.
func New(cfg *config.Config, open OpenFunc, recorder *artifacts.Recorder, sender notify.Sender, clock poll.Clock) *Harness {
	if clock == nil {
		clock = poll.RealClock{}
	}
	return &Harness{cfg: cfg, open: open, recorder: recorder, sender: sender, clock: clock}
}

// Run executes the scenario on every channel, writes the report and returns
// it. The error is non-nil when any channel failed; it carries the first
// failure's code.
func (h *Harness) Run(ctx context.Context) (*report.Report, error) {
	rep := &report.Report{
		RunID:   h.recorder.RunID(),
		Subject: h.cfg.EmailSubject,
		Started: h.clock.Now(),
	}
	var firstErr error
	for _, ch := range h.cfg.Channels {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res := h.runChannel(obs.WithRun(ctx, rep.RunID, ch), ch)
		rep.Channels = append(rep.Channels, res)
		if res.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", ch, res.Err)
		}
	}
	rep.Finished = h.clock.Now()

	h.publish(ctx, rep)
	return rep, firstErr
}

func (h *Harness) runChannel(ctx context.Context, channel string) report.ChannelResult {
	log := obs.From(ctx)
	res := report.ChannelResult{Channel: channel}

	b, err := h.open(ctx, h.cfg, channel)
	if err != nil {
		log.Error("launch_failed", "pkg", "harness", "error", err)
		res.Err = err
		return res
	}

	page := b.DOM()
	h.recorder.Bind(channel, page)
	engine := probe.New(h.clock)
	pages := flow.NewPages(page, engine, gmail.Options{
		BaseURL:        h.cfg.GmailBaseURL,
		ToggleTimeout:  h.cfg.ToggleTimeout,
		ReloadInterval: h.cfg.InboxReloadInterval,
	})
	runner := flow.NewRunner(pages, h.params(), h.clock, h.recorder)

	env, err := runner.SendAndVerify(ctx)
	if err == nil {
		res.Envelope = &env
		err = flow.Verify(env, h.cfg.EmailSubject, h.cfg.EmailBody)
	}
	res.Steps = runner.Steps()
	res.Err = err
	if err != nil {
		b.MarkFailed()
		log.Error("scenario_failed", "pkg", "harness", "error", err)
	} else {
		log.Info("scenario_passed", "pkg", "harness", "subject", env.Subject)
	}

	h.recorder.Bind("", nil)
	if cerr := b.Close(); cerr != nil {
		log.Warn("browser_close_failed", "pkg", "harness", "error", cerr)
	}
	for _, path := range b.Artifacts() {
		if _, aerr := h.recorder.AddFile(ctx, channel, path); aerr != nil {
			log.Warn("artifact_copy_failed", "pkg", "harness", "path", path, "error", aerr)
		}
	}

	for _, a := range h.recorder.Artifacts() {
		if strings.HasPrefix(a.Name, channel+"/") {
			res.Artifacts = append(res.Artifacts, a)
		}
	}
	return res
}

func (h *Harness) params() flow.Params {
	return flow.Params{
		User:            h.cfg.GmailUser,
		Pass:            h.cfg.GmailPass,
		To:              h.cfg.EmailTo,
		Subject:         h.cfg.EmailSubject,
		Body:            h.cfg.EmailBody,
		DeliveryTimeout: h.cfg.DeliveryTimeout,
		DecryptTimeout:  h.cfg.DecryptTimeout,
		BadgeTimeout:    h.cfg.BadgeTimeout,
	}
}

// publish writes the report next to the artifacts and emails it. Failures
// here are logged; they never change the run outcome.
func (h *Harness) publish(ctx context.Context, rep *report.Report) {
	log := obs.From(ctx)
	md := rep.Markdown()
	html := rep.HTML()
	if _, err := h.recorder.Save(ctx, "report.md", []byte(md)); err != nil {
		log.Warn("report_save_failed", "pkg", "harness", "error", err)
	}
	if _, err := h.recorder.Save(ctx, "report.html", []byte(html)); err != nil {
		log.Warn("report_save_failed", "pkg", "harness", "error", err)
	}

	if h.sender == nil || h.cfg.ReportEmailTo == "" {
		return
	}
	msg := notify.Message{To: h.cfg.ReportEmailTo, Subject: rep.Title(), HTML: html, Text: md}
	if err := h.sender.Send(ctx, msg); err != nil {
		log.Warn("report_email_failed", "pkg", "harness", "error", err)
	}
}

// ExitCode maps a Run error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, flow.ErrAssertion) {
		return errs.ExitCode(errs.FailedPrecondition)
	}
	return errs.ExitCode(errs.CodeOf(err))
}

var _ Browser = (*session.Session)(nil)
