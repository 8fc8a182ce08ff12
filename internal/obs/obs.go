// Package obs is the harness's structured logger. Records are slog JSON (or
// text for people watching a headed run) and carry the run, browser channel
// and scenario step from the context they were logged under.
package obs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/virtru-e2e/internal/logutil"
)

// Options configures the global logger.
type Options struct {
	Level slog.Level
	Text  bool
}

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
	output   io.Writer = os.Stderr
)

// Init configures the global structured logger. Calling it again replaces
// the logger; test output overrides stay in place.
func Init(opts Options) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = newLogger(output, opts)
	slog.SetDefault(logger)
}

// ParseLevel accepts debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// SetOutputForTests sends JSON debug output to w until the returned func runs.
func SetOutputForTests(w io.Writer) func() {
	loggerMu.Lock()
	prevLogger, prevOutput := logger, output
	output = w
	logger = newLogger(w, Options{Level: slog.LevelDebug})
	slog.SetDefault(logger)
	loggerMu.Unlock()

	return func() {
		loggerMu.Lock()
		defer loggerMu.Unlock()
		logger, output = prevLogger, prevOutput
		if logger == nil {
			logger = newLogger(output, Options{})
		}
		slog.SetDefault(logger)
	}
}

func newLogger(w io.Writer, opts Options) *slog.Logger {
	ho := &slog.HandlerOptions{Level: opts.Level, ReplaceAttr: replaceAttr}
	if opts.Text {
		return slog.New(slog.NewTextHandler(w, ho))
	}
	return slog.New(slog.NewJSONHandler(w, ho))
}

// replaceAttr writes UTC timestamps and masks string values under
// secret-looking keys.
func replaceAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key == slog.TimeKey {
		if t, ok := attr.Value.Any().(time.Time); ok {
			return slog.String(slog.TimeKey, t.UTC().Format(time.RFC3339Nano))
		}
		return attr
	}
	if attr.Value.Kind() == slog.KindString {
		if v := logutil.RedactValue(attr.Key, attr.Value.String()); v != attr.Value.String() {
			return slog.String(attr.Key, v)
		}
	}
	return attr
}

func globalLogger() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	Init(Options{})
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Pkg returns a logger tagged with package name.
func Pkg(pkg string) *slog.Logger {
	return globalLogger().With("pkg", pkg)
}

// =============================================================================
// Run context
// =============================================================================

type runKey struct{}

type runInfo struct {
	runID   string
	channel string
	step    string
}

func infoFrom(ctx context.Context) runInfo {
	if ctx == nil {
		return runInfo{}
	}
	ri, _ := ctx.Value(runKey{}).(runInfo)
	return ri
}

// WithRun scopes ctx to one channel of one run. The step is reset.
func WithRun(ctx context.Context, runID, channel string) context.Context {
	return context.WithValue(ctx, runKey{}, runInfo{
		runID:   strings.TrimSpace(runID),
		channel: strings.TrimSpace(channel),
	})
}

// WithStep records the scenario step ctx is executing.
func WithStep(ctx context.Context, step string) context.Context {
	ri := infoFrom(ctx)
	ri.step = strings.TrimSpace(step)
	return context.WithValue(ctx, runKey{}, ri)
}

// RunID returns the run ctx belongs to, or "".
func RunID(ctx context.Context) string { return infoFrom(ctx).runID }

// Channel returns the browser channel ctx belongs to, or "".
func Channel(ctx context.Context) string { return infoFrom(ctx).channel }

// From returns the global logger with run_id, channel and step attached.
func From(ctx context.Context) *slog.Logger {
	l := globalLogger()
	ri := infoFrom(ctx)
	attrs := make([]any, 0, 6)
	if ri.runID != "" {
		attrs = append(attrs, "run_id", ri.runID)
	}
	if ri.channel != "" {
		attrs = append(attrs, "channel", ri.channel)
	}
	if ri.step != "" {
		attrs = append(attrs, "step", ri.step)
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
