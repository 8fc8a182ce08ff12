package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/virtru-e2e/internal/errs"
	"github.com/kuitang/virtru-e2e/internal/gmail"
	"github.com/kuitang/virtru-e2e/internal/onboarding"
	"github.com/kuitang/virtru-e2e/internal/poll"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// =============================================================================
// Fakes
// =============================================================================

type openCall struct {
	subject string
	timeout time.Duration
}

type fakeInbox struct {
	calls          []string
	opens          []openCall
	loggedIn       bool
	activatePrompt bool
	loginErr       error
	openErr        error
}

func (f *fakeInbox) Goto(context.Context) error {
	f.calls = append(f.calls, "goto")
	return nil
}

func (f *fakeInbox) IsLoggedIn(context.Context) bool { return f.loggedIn }

func (f *fakeInbox) Login(_ context.Context, user, pass string) error {
	f.calls = append(f.calls, "login:"+user)
	if f.loginErr != nil {
		return f.loginErr
	}
	f.loggedIn = true
	return nil
}

func (f *fakeInbox) CompleteOnboarding(context.Context) onboarding.ClearResult {
	f.calls = append(f.calls, "onboarding")
	return onboarding.ClearResult{Iterations: 1, FixedPoint: true}
}

func (f *fakeInbox) WaitForActivatePrompt(context.Context, time.Duration) bool {
	prompt := f.activatePrompt
	f.activatePrompt = false
	return prompt
}

func (f *fakeInbox) OpenMessageBySubject(_ context.Context, subject string, timeout time.Duration) error {
	f.calls = append(f.calls, "open:"+subject)
	f.opens = append(f.opens, openCall{subject, timeout})
	return f.openErr
}

type fakeComposer struct {
	calls  []string
	sent   []gmail.Draft
	toggle error
}

func (f *fakeComposer) Open(context.Context) error {
	f.calls = append(f.calls, "open")
	return nil
}

func (f *fakeComposer) ToggleOn(context.Context) error {
	f.calls = append(f.calls, "toggle")
	return f.toggle
}

func (f *fakeComposer) Send(_ context.Context, d gmail.Draft) error {
	f.calls = append(f.calls, "send")
	f.sent = append(f.sent, d)
	return nil
}

type fakeReader struct {
	subject   string
	body      string
	protected bool
	bodyErr   error
}

func (f *fakeReader) Subject(context.Context, time.Duration) (string, error) { return f.subject, nil }

func (f *fakeReader) WaitForDecryption(context.Context, time.Duration) (string, error) {
	return f.body, f.bodyErr
}

func (f *fakeReader) HasProtectionBadge(context.Context, time.Duration) bool { return f.protected }

// =============================================================================
// WaitForEmailBySubject
// =============================================================================

func TestWaitForEmailBySubject_EmptySubject(t *testing.T) {
	t.Parallel()
	inbox := &fakeInbox{}
	err := WaitForEmailBySubject(context.Background(), inbox, "", time.Second)
	require.Error(t, err)
	require.Contains(t, err.Error(), "non-empty subject")
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
	require.Empty(t, inbox.calls, "inbox must not be touched")
}

func TestWaitForEmailBySubject_DelegatesOnce(t *testing.T) {
	t.Parallel()
	inbox := &fakeInbox{}
	require.NoError(t, WaitForEmailBySubject(context.Background(), inbox, "S", 1234*time.Millisecond))
	require.Equal(t, []openCall{{"S", 1234 * time.Millisecond}}, inbox.opens)
}

func TestWaitForEmailBySubject_DefaultTimeoutAndError(t *testing.T) {
	t.Parallel()
	inbox := &fakeInbox{openErr: gmail.ErrMessageNotFound}
	err := WaitForEmailBySubject(context.Background(), inbox, "S", 0)
	require.ErrorIs(t, err, gmail.ErrMessageNotFound)
	require.Equal(t, []openCall{{"S", DefaultSubjectWait}}, inbox.opens)
}

func testWaitForEmailBySubject_Delegation(t *rapid.T) {
	subject := rapid.StringMatching(`[A-Za-z0-9 -]{1,40}`).Draw(t, "subject")
	ms := rapid.IntRange(1, 600_000).Draw(t, "ms")
	inbox := &fakeInbox{}
	if err := WaitForEmailBySubject(context.Background(), inbox, subject, time.Duration(ms)*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inbox.opens) != 1 || inbox.opens[0].subject != subject || inbox.opens[0].timeout != time.Duration(ms)*time.Millisecond {
		t.Fatalf("opens = %+v", inbox.opens)
	}
}

func TestWaitForEmailBySubject_Delegation(t *testing.T) {
	rapid.Check(t, testWaitForEmailBySubject_Delegation)
}

// =============================================================================
// Runner
// =============================================================================

func newScenario(inbox *fakeInbox, reader *fakeReader) (*Runner, *fakeComposer, *[]StepResult) {
	composer := &fakeComposer{}
	var observed []StepResult
	r := NewRunner(
		Pages{Inbox: inbox, Compose: composer, Message: reader},
		Params{User: "u@example.com", Pass: "pw", To: "qa@example.com", Subject: "Test-123", Body: "Hello Secure World"},
		poll.NewFakeClock(epoch),
		ObserverFunc(func(_ context.Context, res StepResult) { observed = append(observed, res) }),
	)
	return r, composer, &observed
}

func TestSendAndVerify_LiteralScenario(t *testing.T) {
	t.Parallel()
	inbox := &fakeInbox{loggedIn: true}
	reader := &fakeReader{subject: "Test-123", body: "  Hello   Secure\n World  ", protected: true}
	r, composer, observed := newScenario(inbox, reader)

	env, err := r.SendAndVerify(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Test-123", env.Subject)
	require.True(t, env.Protected)
	require.NoError(t, Verify(env, "Test-123", "Hello Secure World"))

	require.Equal(t, []gmail.Draft{{To: "qa@example.com", Subject: "Test-123", Body: "Hello Secure World"}}, composer.sent)
	require.Equal(t, []string{"open", "toggle", "send"}, composer.calls)
	require.Equal(t, []string{"goto", "onboarding", "onboarding", "goto", "onboarding", "open:Test-123"}, inbox.calls)

	var names []string
	for _, s := range *observed {
		names = append(names, s.Name)
	}
	require.Equal(t, []string{
		"open_inbox", "onboarding", "open_compose", "onboarding", "toggle_on", "send",
		"reopen_inbox", "onboarding", "await_delivery", "read_subject", "decrypt", "protection_badge",
	}, names)
	require.Len(t, r.Steps(), len(names))
}

func TestSendAndVerify_LogsInAndRepeatsOnboardingOnPrompt(t *testing.T) {
	t.Parallel()
	inbox := &fakeInbox{activatePrompt: true}
	reader := &fakeReader{subject: "Test-123", body: "Hello Secure World", protected: true}
	r, _, _ := newScenario(inbox, reader)

	_, err := r.SendAndVerify(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"goto", "login:u@example.com", "onboarding", "onboarding"}, inbox.calls[:4])
}

func TestSendAndVerify_StopsAtFailingStep(t *testing.T) {
	t.Parallel()
	inbox := &fakeInbox{loggedIn: true}
	r, composer, observed := newScenario(inbox, &fakeReader{})
	composer.toggle = gmail.ErrToggleActivation

	_, err := r.SendAndVerify(context.Background())
	require.ErrorIs(t, err, gmail.ErrToggleActivation)
	require.True(t, strings.HasPrefix(err.Error(), "toggle_on: "))
	require.Equal(t, []string{"open", "toggle"}, composer.calls)

	last := (*observed)[len(*observed)-1]
	require.Equal(t, "toggle_on", last.Name)
	require.ErrorIs(t, last.Err, gmail.ErrToggleActivation)
}

func TestSendAndVerify_DecryptionTimeoutPropagates(t *testing.T) {
	t.Parallel()
	inbox := &fakeInbox{loggedIn: true}
	reader := &fakeReader{subject: "Test-123", bodyErr: gmail.ErrDecryptionTimeout}
	r, _, _ := newScenario(inbox, reader)

	_, err := r.SendAndVerify(context.Background())
	require.ErrorIs(t, err, gmail.ErrDecryptionTimeout)
}

func TestSendAndVerify_EmptySubjectNeverOpensInbox(t *testing.T) {
	t.Parallel()
	inbox := &fakeInbox{loggedIn: true}
	r := NewRunner(Pages{Inbox: inbox, Compose: &fakeComposer{}, Message: &fakeReader{}}, Params{Body: "b"}, nil, nil)

	_, err := r.SendAndVerify(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "non-empty subject")
	for _, c := range inbox.calls {
		require.False(t, strings.HasPrefix(c, "open:"))
	}
}

// =============================================================================
// Verify
// =============================================================================

func TestVerify(t *testing.T) {
	t.Parallel()
	ok := Envelope{Subject: "Test-123", Body: "Hello\nSecure   World", Protected: true}
	require.NoError(t, Verify(ok, "Test-123", "Hello Secure World"))

	cases := map[string]Envelope{
		"subject":   {Subject: "Test-124", Body: ok.Body, Protected: true},
		"protected": {Subject: "Test-123", Body: ok.Body, Protected: false},
		"body":      {Subject: "Test-123", Body: "Hello Secure", Protected: true},
	}
	for name, env := range cases {
		err := Verify(env, "Test-123", "Hello Secure World")
		require.Error(t, err, name)
		require.True(t, errors.Is(err, ErrAssertion), name)
		require.Equal(t, errs.FailedPrecondition, errs.CodeOf(err), name)
	}
}
