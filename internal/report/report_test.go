package report

import (
	"errors"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/kuitang/virtru-e2e/internal/artifacts"
	"github.com/kuitang/virtru-e2e/internal/flow"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleReport() *Report {
	return &Report{
		RunID:    "0b6e6c1e-3a57-4e1f-9d0a-4b8f8f0b2a11",
		Subject:  "Test-123",
		Started:  start,
		Finished: start.Add(95 * time.Second),
		Channels: []ChannelResult{
			{
				Channel: "msedge",
				Steps: []flow.StepResult{
					{Name: "open_inbox", Duration: 1200 * time.Millisecond},
					{Name: "decrypt", Duration: 4 * time.Second},
				},
				Envelope:  &flow.Envelope{Subject: "Test-123", Body: "Hello Secure World", Protected: true},
				Artifacts: []artifacts.Artifact{{Name: "msedge/01-open_inbox-ok.png", Path: "/tmp/a.png"}},
			},
			{
				Channel: "chrome",
				Steps:   []flow.StepResult{{Name: "toggle_on", Err: errors.New("secure toggle | stuck")}},
				Err:     errors.New("toggle_on: secure toggle | stuck"),
			},
		},
	}
}

func TestReport_Markdown(t *testing.T) {
	t.Parallel()
	md := sampleReport().Markdown()
	for _, want := range []string{
		"# [FAIL] virtru-e2e Test-123 (0b6e6c1e)",
		"## msedge: passed",
		"## chrome: failed",
		"| 1 | open_inbox | 1.2s | ok |",
		`secure toggle \| stuck`,
		"- Protected: true",
		"```\nHello Secure World\n```",
		"`msedge/01-open_inbox-ok.png` (/tmp/a.png)",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestReport_Passed(t *testing.T) {
	t.Parallel()
	r := sampleReport()
	if r.Passed() {
		t.Fatal("one channel failed")
	}
	r.Channels = r.Channels[:1]
	if !r.Passed() || !strings.HasPrefix(r.Title(), "[PASS]") {
		t.Fatalf("title = %q", r.Title())
	}
	if (&Report{}).Passed() {
		t.Fatal("a run with no channels did not pass")
	}
}

func TestReport_HTMLSanitizesDecryptedBody(t *testing.T) {
	t.Parallel()
	r := sampleReport()
	r.Channels[0].Envelope.Body = "<script>alert(1)</script><img src=x onerror=alert(2)>"
	r.Channels[1].Err = errors.New(`<a href="javascript:alert(3)">x</a>`)

	out := r.HTML()
	if strings.Contains(out, "<script>") || strings.Contains(out, "<img") || strings.Contains(out, `href="javascript:`) {
		t.Fatalf("unsanitized html:\n%s", out)
	}
	if !strings.Contains(out, "<table>") {
		t.Fatalf("step table missing:\n%s", out)
	}
}

// =============================================================================
// Property: the body fence is never closed early by backticks in the body
// =============================================================================

func testFenced_NeverClosedEarly(t *rapid.T) {
	body := rapid.StringMatching("[a-z `\n]{0,40}").Draw(t, "body")
	out := fenced(body)
	first := strings.Index(out, "\n")
	fence := out[:first]
	if len(fence) < 3 || strings.Trim(fence, "`") != "" {
		t.Fatalf("bad fence %q", fence)
	}
	inner := out[first+1 : len(out)-len(fence)-3]
	if strings.Contains(inner, fence) {
		t.Fatalf("body contains the fence %q:\n%s", fence, out)
	}
}

func TestFenced_NeverClosedEarly(t *testing.T) {
	rapid.Check(t, testFenced_NeverClosedEarly)
}
