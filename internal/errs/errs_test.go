package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	InvalidArgument,
	NotFound,
	DeadlineExceeded,
	FailedPrecondition,
	Unavailable,
	Canceled,
	Internal,
}

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := err.Error(); got != message {
		t.Fatalf("New(...).Error() mismatch: got=%q want=%q", got, message)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func testCodeOf_WrappedTypedError(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	cause := errors.New(rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause"))

	err := Wrap(code, message, cause)
	wrapped := fmt.Errorf("outer: %w", err)

	if got := CodeOf(wrapped); got != code {
		t.Fatalf("CodeOf(wrapped) mismatch: got=%q want=%q", got, code)
	}
	var coded *Error
	if !errors.As(wrapped, &coded) || coded.Message != message {
		t.Fatalf("wrapped coded message mismatch: got=%+v want=%q", coded, message)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("expected wrapped error to unwrap to its cause")
	}
}

func TestCodeOf_WrappedTypedError(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_WrappedTypedError)
}

func TestCodeOf_UntypedDefaultsToInternal(t *testing.T) {
	t.Parallel()
	err := errors.New("boom")
	if got := CodeOf(err); got != Internal {
		t.Fatalf("CodeOf(untyped) = %q, want %q", got, Internal)
	}
	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) = %q, want %q", got, Internal)
	}
}

func TestError_IncludesCauseText(t *testing.T) {
	t.Parallel()
	err := Wrap(DeadlineExceeded, "decryption did not finish", errors.New("deadline after 90s"))
	if got := err.Error(); got != "decryption did not finish: deadline after 90s" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestExitCode_NonZeroForEveryCode(t *testing.T) {
	t.Parallel()
	seen := map[int]Code{}
	for _, code := range allCodes {
		exit := ExitCode(code)
		if exit == 0 {
			t.Fatalf("ExitCode(%q) = 0, want non-zero", code)
		}
		if prev, ok := seen[exit]; ok && code != Internal && prev != Internal {
			t.Fatalf("ExitCode collision between %q and %q", prev, code)
		}
		seen[exit] = code
	}
}

func TestCodeOf_ContextErrors(t *testing.T) {
	t.Parallel()
	if got := CodeOf(fmt.Errorf("wait: %w", context.DeadlineExceeded)); got != DeadlineExceeded {
		t.Fatalf("CodeOf(deadline) = %q", got)
	}
	if got := CodeOf(context.Canceled); got != Canceled {
		t.Fatalf("CodeOf(canceled) = %q", got)
	}
	coded := Wrap(Unavailable, "launch", context.DeadlineExceeded)
	if got := CodeOf(coded); got != Unavailable {
		t.Fatalf("coded error should win over its cause, got %q", got)
	}
}
