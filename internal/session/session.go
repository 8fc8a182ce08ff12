// Package session launches the Chromium-family browser with the Virtru
// extension side-loaded into a throwaway profile. A Session is created per
// scenario, owned by it, and destroyed by Close.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/virtru-e2e/internal/config"
	"github.com/kuitang/virtru-e2e/internal/dom"
	"github.com/kuitang/virtru-e2e/internal/errs"
	"github.com/kuitang/virtru-e2e/internal/obs"
	"github.com/kuitang/virtru-e2e/internal/poll"
	"github.com/kuitang/virtru-e2e/internal/pwdom"
)

// ExtensionReadyTimeout bounds the best-effort wait for the extension.
const ExtensionReadyTimeout = 10 * time.Second

// LaunchArgs are the Chromium flags that side-load the unpacked extension at
// extPath.
func LaunchArgs(extPath string) []string {
	return []string{
		"--disable-extensions-except=" + extPath,
		"--load-extension=" + extPath,
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--window-size=1920,1200",
		"--start-maximized",
	}
}

// autoClosePrefixes are main-frame URLs of tabs the browser or extension opens
// on first run.
var autoClosePrefixes = []string{
	"chrome-extension://",
	"chrome://welcome",
	"chrome://newtab",
	"edge://welcome",
	"edge://newtab",
}

// ShouldAutoClose reports whether a tab at url is a welcome or extension tab
// to close.
func ShouldAutoClose(url string) bool {
	for _, p := range autoClosePrefixes {
		if strings.HasPrefix(url, p) {
			return true
		}
	}
	return strings.Contains(url, "microsoftedge.microsoft.com/addons")
}

// Session is one browser profile with the extension loaded.
type Session struct {
	Channel string
	Page    *pwdom.Page

	pw          *playwright.Playwright
	bctx        playwright.BrowserContext
	userDataDir string
	artifactDir string
	traceMode   string
	videoMode   string

	mu        sync.Mutex
	failed    bool
	closed    bool
	artifacts []string
	videos    []videoFile
}

// videoFile is the part of playwright.Video that Close needs.
type videoFile interface {
	Path() (string, error)
}

// Open launches channel with the extension from cfg and returns a session
// with one fresh tab ready for navigation.
func Open(ctx context.Context, cfg *config.Config, channel string) (*Session, error) {
	log := obs.From(ctx)

	extPath, err := cfg.ResolvedExtensionPath()
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "resolve extension path", err)
	}
	if info, err := os.Stat(extPath); err != nil || !info.IsDir() {
		return nil, errs.New(errs.FailedPrecondition,
			fmt.Sprintf("Virtru extension not found at %s. Did you run \"virtru-e2e fetch-extension\"?", extPath))
	}

	var state *StorageState
	if cfg.StorageStatePath != "" {
		if state, err = LoadStorageState(cfg.StorageStatePath); err != nil {
			return nil, err
		}
	}

	userDataDir, err := os.MkdirTemp("", "pw-virtru-")
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "create profile dir", err)
	}

	s := &Session{
		Channel:     channel,
		userDataDir: userDataDir,
		artifactDir: filepath.Join(cfg.ArtifactsDir, channel),
		traceMode:   cfg.TraceMode,
		videoMode:   cfg.VideoMode,
	}

	s.pw, err = playwright.Run()
	if err != nil {
		_ = os.RemoveAll(userDataDir)
		return nil, errs.Wrap(errs.Unavailable, "start playwright", err)
	}

	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Channel:         playwright.String(channel),
		Headless:        playwright.Bool(cfg.Headless),
		Args:            LaunchArgs(extPath),
		AcceptDownloads: playwright.Bool(true),
		NoViewport:      playwright.Bool(true),
	}
	if s.videoMode != config.ModeOff {
		opts.RecordVideo = &playwright.RecordVideo{
			Dir:  filepath.Join(s.artifactDir, "videos"),
			Size: &playwright.Size{Width: 1280, Height: 720},
		}
	}
	s.bctx, err = s.pw.Chromium.LaunchPersistentContext(userDataDir, opts)
	if err != nil {
		s.teardown()
		return nil, errs.Wrap(errs.Unavailable, fmt.Sprintf("launch %s", channel), err)
	}
	log.Info("browser_launched", "pkg", "session", "channel", channel, "extension", extPath)

	if s.videoMode != config.ModeOff {
		// Tabs closed mid-run (the send replay reloads Gmail) keep their recordings.
		s.bctx.OnPage(s.trackVideo)
		for _, p := range s.bctx.Pages() {
			s.trackVideo(p)
		}
	}

	if state != nil {
		if err := s.restore(state); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	s.waitForExtension(ctx, cfg.ExtensionID)
	s.closeWelcomeTabs(ctx)

	if s.traceMode != config.ModeOff {
		if err := s.bctx.Tracing().Start(playwright.TracingStartOptions{
			Screenshots: playwright.Bool(true),
			Snapshots:   playwright.Bool(true),
			Sources:     playwright.Bool(true),
		}); err != nil {
			log.Warn("trace_start_failed", "pkg", "session", "error", err)
			s.traceMode = config.ModeOff
		}
	}

	pg, err := s.bctx.NewPage()
	if err != nil {
		_ = s.Close()
		return nil, errs.Wrap(errs.Unavailable, "open tab", err)
	}
	_ = pg.BringToFront()
	s.Page = pwdom.NewPage(pg, s.bctx.NewPage)
	return s, nil
}

func (s *Session) restore(state *StorageState) error {
	if cookies := state.PlaywrightCookies(); len(cookies) > 0 {
		if err := s.bctx.AddCookies(cookies); err != nil {
			return errs.Wrap(errs.FailedPrecondition, "restore cookies", err)
		}
	}
	script, err := state.InitScript()
	if err != nil {
		return err
	}
	if script != "" {
		if err := s.bctx.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
			return errs.Wrap(errs.FailedPrecondition, "restore local storage", err)
		}
	}
	return nil
}

// waitForExtension gives the extension up to ExtensionReadyTimeout to start
// a service worker, background page or extension tab. Timing out is logged
// and otherwise ignored.
func (s *Session) waitForExtension(ctx context.Context, extID string) {
	prefix := "chrome-extension://"
	if extID != "" {
		prefix += extID
	}
	err := poll.Until(ctx, poll.RealClock{}, poll.Options{Timeout: ExtensionReadyTimeout, Interval: 250 * time.Millisecond},
		func(context.Context) (bool, error) {
			for _, w := range s.bctx.ServiceWorkers() {
				if strings.HasPrefix(w.URL(), prefix) {
					return true, nil
				}
			}
			for _, p := range append(s.bctx.BackgroundPages(), s.bctx.Pages()...) {
				if strings.HasPrefix(p.URL(), prefix) {
					return true, nil
				}
			}
			return false, nil
		})
	if err != nil {
		obs.From(ctx).Warn("extension_not_detected", "pkg", "session", "timeout", ExtensionReadyTimeout.String())
		return
	}
	obs.From(ctx).Info("extension_ready", "pkg", "session")
}

// closeWelcomeTabs closes first-run tabs now and keeps closing any tab that
// later navigates to one.
func (s *Session) closeWelcomeTabs(ctx context.Context) {
	log := obs.From(ctx)
	for _, p := range s.bctx.Pages() {
		if ShouldAutoClose(p.URL()) {
			log.Debug("auto_close_tab", "pkg", "session", "url", p.URL())
			_ = p.Close()
		}
	}
	s.bctx.OnPage(func(p playwright.Page) {
		p.OnFrameNavigated(func(f playwright.Frame) {
			if f == p.MainFrame() && ShouldAutoClose(f.URL()) {
				_ = p.Close()
			}
		})
	})
}

// DOM returns the scenario tab.
func (s *Session) DOM() dom.Page { return s.Page }

// MarkFailed records that the scenario failed, so retain-on-failure traces
// and videos are kept by Close.
func (s *Session) MarkFailed() {
	s.mu.Lock()
	s.failed = true
	s.mu.Unlock()
}

// Artifacts lists the trace and video files Close kept.
func (s *Session) Artifacts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.artifacts...)
}

// Close stops tracing, closes the browser and removes the profile. It is
// safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	failed := s.failed
	s.mu.Unlock()

	var firstErr error
	keep := func(mode string) bool {
		return mode == config.ModeOn || (mode == config.ModeRetainOnFailure && failed)
	}

	if s.bctx != nil {
		if s.traceMode != config.ModeOff {
			var err error
			if keep(s.traceMode) {
				path := filepath.Join(s.artifactDir, "trace.zip")
				if err = os.MkdirAll(s.artifactDir, 0o755); err == nil {
					err = s.bctx.Tracing().Stop(path)
				}
				if err == nil {
					s.addArtifact(path)
				}
			} else {
				err = s.bctx.Tracing().Stop()
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}

		var videos []string
		if s.videoMode != config.ModeOff {
			for _, p := range s.bctx.Pages() {
				s.trackVideo(p)
			}
			s.mu.Lock()
			tracked := append([]videoFile(nil), s.videos...)
			s.mu.Unlock()
			videos = videoPaths(tracked)
		}
		if err := s.bctx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		for _, v := range videos {
			if keep(s.videoMode) {
				s.addArtifact(v)
			} else {
				_ = os.Remove(v)
			}
		}
	}
	s.teardown()
	return firstErr
}

func (s *Session) trackVideo(p playwright.Page) {
	v := p.Video()
	if v == nil {
		return
	}
	s.mu.Lock()
	s.videos = append(s.videos, v)
	s.mu.Unlock()
}

// videoPaths resolves each recording once, skipping pages that produced no
// frames.
func videoPaths(videos []videoFile) []string {
	seen := make(map[string]bool, len(videos))
	var out []string
	for _, v := range videos {
		path, err := v.Path()
		if err != nil || path == "" || seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}

func (s *Session) addArtifact(path string) {
	s.mu.Lock()
	s.artifacts = append(s.artifacts, path)
	s.mu.Unlock()
}

func (s *Session) teardown() {
	if s.pw != nil {
		_ = s.pw.Stop()
		s.pw = nil
	}
	_ = os.RemoveAll(s.userDataDir)
}
