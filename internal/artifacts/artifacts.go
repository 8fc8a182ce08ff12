// Package artifacts records per-step screenshots and other run files to the
// local artifacts directory and, when configured, to an S3 bucket.
package artifacts

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"github.com/kuitang/virtru-e2e/internal/flow"
	"github.com/kuitang/virtru-e2e/internal/obs"
)

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Screenshotter captures the current page.
type Screenshotter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Uploader stores a copy of each artifact remotely. *s3client.Client satisfies it.
type Uploader interface {
	PutObject(ctx context.Context, name string, content []byte, contentType string) error
	URI(name string) string
}

// Artifact is one recorded file.
type Artifact struct {
	Name string // relative to the run directory, slash separated
	Path string // local file
	URI  string // remote location, empty when not uploaded
}

// Recorder writes artifacts under <dir>/<runID>/.
type Recorder struct {
	dir    string
	runID  string
	upload Uploader

	mu      sync.Mutex
	channel string
	page    Screenshotter
	seq     int
	items   []Artifact
}

// NewRecorder returns a Recorder. upload may be nil.
func NewRecorder(dir, runID string, upload Uploader) *Recorder {
	return &Recorder{dir: dir, runID: runID, upload: upload}
}

// RunID returns the run identifier.
func (r *Recorder) RunID() string { return r.runID }

// Dir returns the local run directory.
func (r *Recorder) Dir() string { return filepath.Join(r.dir, r.runID) }

// Bind points step screenshots at page for channel.
func (r *Recorder) Bind(channel string, page Screenshotter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel = channel
	r.page = page
	r.seq = 0
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// StepDone takes a screenshot after every step, passed or failed. Capture
// errors (a closed tab, typically) are logged and dropped.
func (r *Recorder) StepDone(ctx context.Context, res flow.StepResult) {
	r.mu.Lock()
	page, channel := r.page, r.channel
	r.seq++
	seq := r.seq
	r.mu.Unlock()
	if page == nil {
		return
	}

	outcome := "ok"
	if res.Err != nil {
		outcome = "failed"
	}
	png, err := page.Screenshot(ctx)
	if err != nil {
		obs.From(ctx).Warn("screenshot_failed", "pkg", "artifacts", "step", res.Name, "error", err)
		return
	}
	name := fmt.Sprintf("%s/%02d-%s-%s.png", channel, seq, unsafeName.ReplaceAllString(res.Name, "_"), outcome)
	if _, err := r.Save(ctx, name, png); err != nil {
		obs.From(ctx).Warn("screenshot_save_failed", "pkg", "artifacts", "step", res.Name, "error", err)
	}
}

// Save writes data to name under the run directory and uploads it.
func (r *Recorder) Save(ctx context.Context, name string, data []byte) (Artifact, error) {
	local := filepath.Join(r.Dir(), filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return Artifact{}, fmt.Errorf("artifacts: create dir: %w", err)
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("artifacts: write %s: %w", name, err)
	}
	a := Artifact{Name: name, Path: local}

	if r.upload != nil {
		key := r.runID + "/" + name
		if err := r.upload.PutObject(ctx, key, data, contentType(name)); err != nil {
			obs.From(ctx).Warn("artifact_upload_failed", "pkg", "artifacts", "name", name, "error", err)
		} else {
			a.URI = r.upload.URI(key)
		}
	}

	r.mu.Lock()
	r.items = append(r.items, a)
	r.mu.Unlock()
	obs.From(ctx).Debug("artifact_saved", "pkg", "artifacts", "name", name, "uri", a.URI)
	return a, nil
}

// AddFile records an existing file (trace, video) under channel, copying it
// into the run directory when it lives elsewhere.
func (r *Recorder) AddFile(ctx context.Context, channel, path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifacts: read %s: %w", path, err)
	}
	return r.Save(ctx, channel+"/"+filepath.Base(path), data)
}

// Artifacts returns everything recorded so far.
func (r *Recorder) Artifacts() []Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Artifact(nil), r.items...)
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var _ flow.Observer = (*Recorder)(nil)
