// Package report renders the run summary as Markdown and as sanitized HTML
// for the artifacts directory and the optional report email.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/virtru-e2e/internal/artifacts"
	"github.com/kuitang/virtru-e2e/internal/flow"
)

// ChannelResult is the outcome of the scenario on one browser channel.
type ChannelResult struct {
	Channel   string
	Steps     []flow.StepResult
	Envelope  *flow.Envelope
	Err       error
	Artifacts []artifacts.Artifact
}

// Passed reports whether the channel ran clean.
func (c ChannelResult) Passed() bool { return c.Err == nil }

// Report is the whole run.
type Report struct {
	RunID    string
	Subject  string
	Started  time.Time
	Finished time.Time
	Channels []ChannelResult
}

// Passed reports whether every channel passed.
func (r *Report) Passed() bool {
	for _, c := range r.Channels {
		if !c.Passed() {
			return false
		}
	}
	return len(r.Channels) > 0
}

// Title is a one-line summary, used as the email subject.
func (r *Report) Title() string {
	status := "PASS"
	if !r.Passed() {
		status = "FAIL"
	}
	return fmt.Sprintf("[%s] virtru-e2e %s (%s)", status, r.Subject, shortID(r.RunID))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Markdown renders the report.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.Title())
	fmt.Fprintf(&b, "- Run: `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- Started: %s\n", r.Started.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s\n\n", r.Finished.Sub(r.Started).Round(time.Millisecond))

	for _, c := range r.Channels {
		outcome := "passed"
		if !c.Passed() {
			outcome = "failed"
		}
		fmt.Fprintf(&b, "## %s: %s\n\n", c.Channel, outcome)
		if c.Err != nil {
			fmt.Fprintf(&b, "**Error:** %s\n\n", inline(c.Err.Error()))
		}

		if len(c.Steps) > 0 {
			b.WriteString("| # | Step | Duration | Result |\n|---|---|---|---|\n")
			for i, s := range c.Steps {
				result := "ok"
				if s.Err != nil {
					result = inline(s.Err.Error())
				}
				fmt.Fprintf(&b, "| %d | %s | %s | %s |\n", i+1, s.Name, s.Duration.Round(time.Millisecond), result)
			}
			b.WriteString("\n")
		}

		if env := c.Envelope; env != nil {
			fmt.Fprintf(&b, "- Subject: %s\n- Protected: %t\n\n", inline(env.Subject), env.Protected)
			b.WriteString(fenced(env.Body))
		}

		if len(c.Artifacts) > 0 {
			b.WriteString("### Artifacts\n\n")
			for _, a := range c.Artifacts {
				loc := a.Path
				if a.URI != "" {
					loc = a.URI
				}
				fmt.Fprintf(&b, "- `%s` (%s)\n", a.Name, loc)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// HTML renders the report Markdown to sanitized HTML. Decrypted bodies and
// error text come from an untrusted page, so the output always goes through
// the UGC policy.
func (r *Report) HTML() string {
	return string(renderMarkdown([]byte(r.Markdown())))
}

func renderMarkdown(md []byte) []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(md)

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	out := markdown.Render(doc, renderer)

	policy := bluemonday.UGCPolicy()
	policy.AllowElements("pre", "code", "table", "thead", "tbody", "tr", "th", "td")
	return policy.SanitizeBytes(out)
}

// inline flattens text for a table cell or list item.
func inline(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

// fenced wraps body in a code fence longer than any backtick run inside it.
func fenced(body string) string {
	longest, run := 0, 0
	for _, r := range body {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	fence := strings.Repeat("`", max(3, longest+1))
	return fence + "\n" + strings.TrimRight(body, "\n") + "\n" + fence + "\n\n"
}
