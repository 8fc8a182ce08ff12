package gmail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/kuitang/virtru-e2e/internal/dom/domtest"
	"github.com/kuitang/virtru-e2e/internal/errs"
	"github.com/kuitang/virtru-e2e/internal/probe"
)

var (
	frameKey     = domtest.Key(SecureFrame)
	frameBodyKey = domtest.InFrame(SecureFrame, FrameBody)
	inlineKey    = domtest.Key(InlineBody)
	unlockKey    = domtest.Key(UnlockStrategy[0])
)

func TestSubject_Trimmed(t *testing.T) {
	t.Parallel()
	page, engine, _ := newFixture()
	page.Set(domtest.Key(SubjectHeading), &domtest.Node{Visible: true, Text: "  Test-123\n"})

	got, err := NewMessage(page, engine).Subject(context.Background(), 30*time.Second)
	if err != nil || got != "Test-123" {
		t.Fatalf("Subject = %q, %v", got, err)
	}
}

func TestSubject_Missing(t *testing.T) {
	t.Parallel()
	page, engine, _ := newFixture()
	_, err := NewMessage(page, engine).Subject(context.Background(), time.Second)
	if errs.CodeOf(err) != errs.NotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestWaitForDecryption_SecureFrame(t *testing.T) {
	t.Parallel()
	page, engine, _ := newFixture()
	page.Set(frameKey, &domtest.Node{Visible: true})
	page.Set(frameBodyKey, &domtest.Node{Visible: true, Text: "\n Hello Secure World \n"})

	got, err := NewMessage(page, engine).WaitForDecryption(context.Background(), 90*time.Second)
	if err != nil || got != "Hello Secure World" {
		t.Fatalf("WaitForDecryption = %q, %v", got, err)
	}
}

func TestWaitForDecryption_UnlockRevealsInlineBody(t *testing.T) {
	t.Parallel()
	page, engine, _ := newFixture()
	page.Set(inlineKey, &domtest.Node{Visible: true, Text: "Click Unlock Message to read"})
	page.Set(unlockKey, &domtest.Node{Visible: true, OnClick: func(p *domtest.Page) {
		p.Remove(unlockKey)
		p.Set(inlineKey, &domtest.Node{Visible: true, Text: "Hello Secure World"})
	}})

	got, err := NewMessage(page, engine).WaitForDecryption(context.Background(), 90*time.Second)
	if err != nil || got != "Hello Secure World" {
		t.Fatalf("WaitForDecryption = %q, %v", got, err)
	}
	if page.ClickCount(unlockKey) != 1 {
		t.Fatalf("clicks = %v", page.Clicks())
	}
}

func TestWaitForDecryption_UnlockSettlesAfterClick(t *testing.T) {
	t.Parallel()
	page, engine, clock := newFixture()
	page.Set(unlockKey, &domtest.Node{Visible: true, OnClick: func(p *domtest.Page) {
		p.Remove(unlockKey)
		p.Set(frameKey, &domtest.Node{Visible: true})
		p.Set(frameBodyKey, &domtest.Node{Visible: true, Text: "Hello Secure World"})
	}})

	got, err := NewMessage(page, engine).WaitForDecryption(context.Background(), 90*time.Second)
	if err != nil || got != "Hello Secure World" {
		t.Fatalf("WaitForDecryption = %q, %v", got, err)
	}
	if page.ClickCount(unlockKey) != 1 {
		t.Fatalf("clicks = %v", page.Clicks())
	}
	settled := false
	for _, d := range clock.Sleeps() {
		if d == probe.DefaultSettle {
			settled = true
		}
	}
	if !settled {
		t.Fatalf("no settle pause after unlock click: %v", clock.Sleeps())
	}
}

func TestWaitForDecryption_FallbackBody(t *testing.T) {
	t.Parallel()
	page, engine, _ := newFixture()
	// An earlier fallback candidate shows the wrapper and must be skipped.
	page.Set(domtest.Key(FallbackBodies[0]), &domtest.Node{Visible: true, Text: "View my encrypted message"})
	page.Set(domtest.Key(FallbackBodies[4]), &domtest.Node{Visible: true, Text: "Hello Secure World"})

	got, err := NewMessage(page, engine).WaitForDecryption(context.Background(), 90*time.Second)
	if err != nil || got != "Hello Secure World" {
		t.Fatalf("WaitForDecryption = %q, %v", got, err)
	}
}

var encryptedPhrases = []string{
	"unlock message",
	"virtru metadata",
	"unencrypted introduction",
	"view my encrypted message",
}

// Property: text carrying any encrypted-wrapper phrase is never returned.
func testWaitForDecryption_NeverReturnsWrapper(t *rapid.T) {
	phrase := rapid.SampledFrom(encryptedPhrases).Draw(t, "phrase")
	if rapid.Bool().Draw(t, "upper") {
		phrase = strings.ToUpper(phrase)
	}
	text := rapid.StringMatching(`[A-Za-z ]{0,20}`).Draw(t, "prefix") + phrase +
		rapid.StringMatching(`[A-Za-z .]{0,20}`).Draw(t, "suffix")

	page, engine, _ := newFixture()
	page.Set(frameKey, &domtest.Node{Visible: true})
	page.Set(frameBodyKey, &domtest.Node{Visible: true, Text: text})
	page.Set(inlineKey, &domtest.Node{Visible: true, Text: text})
	for _, sel := range FallbackBodies {
		page.Set(domtest.Key(sel), &domtest.Node{Visible: true, Text: text})
	}

	got, err := NewMessage(page, engine).WaitForDecryption(context.Background(), 3*time.Second)
	if got != "" {
		t.Fatalf("returned wrapper text %q", got)
	}
	if !errors.Is(err, ErrDecryptionTimeout) || errs.CodeOf(err) != errs.DeadlineExceeded {
		t.Fatalf("err = %v", err)
	}
}

func TestWaitForDecryption_NeverReturnsWrapper(t *testing.T) {
	rapid.Check(t, testWaitForDecryption_NeverReturnsWrapper)
}

func TestWaitForDecryption_CancelledContext(t *testing.T) {
	t.Parallel()
	page, engine, _ := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMessage(page, engine).WaitForDecryption(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestHasProtectionBadge(t *testing.T) {
	t.Parallel()
	page, engine, _ := newFixture()
	m := NewMessage(page, engine)
	if m.HasProtectionBadge(context.Background(), 2*time.Second) {
		t.Fatal("no badge on empty page")
	}
	page.Set(domtest.Key(SecuredMark), &domtest.Node{Visible: true})
	if !m.HasProtectionBadge(context.Background(), 2*time.Second) {
		t.Fatal("watermark should count as protected")
	}
}

func TestHasProtectionBadge_ClosedPageIsFalse(t *testing.T) {
	t.Parallel()
	page, engine, _ := newFixture()
	page.Set(domtest.Key(ProtectedBadge), &domtest.Node{Visible: true})
	page.Close()
	if NewMessage(page, engine).HasProtectionBadge(context.Background(), time.Second) {
		t.Fatal("closed page must read as absent")
	}
}
