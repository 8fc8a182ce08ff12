package dom

import (
	"regexp"
	"strings"
)

// Selector describes how to find an element relative to a Scope. Exactly one
// of CSS, Role, Text, Placeholder or Label chooses the base query; HasText and
// Has narrow it; Last picks the last match instead of the first.
type Selector struct {
	CSS         string         // CSS, xpath= or any playwright selector engine string
	Role        string         // ARIA role, used with Name
	Name        *regexp.Regexp // accessible name for Role
	Text        *regexp.Regexp // visible text
	Placeholder string
	Label       *regexp.Regexp

	HasText *regexp.Regexp // keep only matches containing this text
	Has     *Selector      // keep only matches with a descendant matching this selector
	Last    bool
}

// CSS selects by CSS (or any playwright selector engine string).
func CSS(css string) Selector { return Selector{CSS: css} }

// Role selects by ARIA role and optional accessible name.
func Role(role string, name *regexp.Regexp) Selector { return Selector{Role: role, Name: name} }

// Text selects by visible text.
func Text(re *regexp.Regexp) Selector { return Selector{Text: re} }

// Placeholder selects an input by placeholder text.
func Placeholder(text string) Selector { return Selector{Placeholder: text} }

// Label selects a form control by its label.
func Label(re *regexp.Regexp) Selector { return Selector{Label: re} }

// Filter returns a copy keeping only matches that contain text matching re.
func (s Selector) Filter(re *regexp.Regexp) Selector {
	s.HasText = re
	return s
}

// Having returns a copy keeping only matches with a descendant matching inner.
func (s Selector) Having(inner Selector) Selector {
	s.Has = &inner
	return s
}

// LastMatch returns a copy that resolves to the last match.
func (s Selector) LastMatch() Selector {
	s.Last = true
	return s
}

// String renders a stable description used for logging and as the fake DOM key.
func (s Selector) String() string {
	var b strings.Builder
	switch {
	case s.CSS != "":
		b.WriteString("css=" + s.CSS)
	case s.Role != "":
		b.WriteString("role=" + s.Role)
		if s.Name != nil {
			b.WriteString("[name=/" + s.Name.String() + "/]")
		}
	case s.Text != nil:
		b.WriteString("text=/" + s.Text.String() + "/")
	case s.Placeholder != "":
		b.WriteString("placeholder=" + s.Placeholder)
	case s.Label != nil:
		b.WriteString("label=/" + s.Label.String() + "/")
	default:
		b.WriteString("*")
	}
	if s.HasText != nil {
		b.WriteString(" >> has-text=/" + s.HasText.String() + "/")
	}
	if s.Has != nil {
		b.WriteString(" >> has=(" + s.Has.String() + ")")
	}
	if s.Last {
		b.WriteString(" >> last")
	}
	return b.String()
}
