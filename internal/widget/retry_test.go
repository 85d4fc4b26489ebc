package widget

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"
)

func newTestRetry() *RetryController {
	c := NewRetryController(discardLogger())
	c.sleep = func(ctx context.Context, d time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	return c
}

func TestRetryFirstAttemptSucceeds(t *testing.T) {
	t.Parallel()

	c := newTestRetry()
	calls := 0
	err := c.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("attempt called %d times, want 1", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	t.Parallel()

	c := newTestRetry()
	calls := 0
	boom := errors.New("boom")
	err := c.Execute(context.Background(), func(context.Context) error {
		calls++
		return boom
	})

	if calls != DefaultMaxRetries+1 {
		t.Errorf("attempt called %d times, want %d", calls, DefaultMaxRetries+1)
	}
	var failure *FailureError
	if !errors.As(err, &failure) {
		t.Fatalf("Execute() = %v, want *FailureError", err)
	}
	if failure.Attempts != DefaultMaxRetries+1 {
		t.Errorf("Attempts = %d, want %d", failure.Attempts, DefaultMaxRetries+1)
	}
	if !errors.Is(err, boom) {
		t.Error("FailureError should wrap the last attempt error")
	}
}

func TestRetryLinearBackoff(t *testing.T) {
	t.Parallel()

	c := newTestRetry()
	var waits []time.Duration
	c.OnRetry = func(_ int, wait time.Duration, _ FailureReason) {
		waits = append(waits, wait)
	}
	_ = c.Execute(context.Background(), func(context.Context) error {
		return errors.New("transient")
	})

	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("got %d retry waits, want %d", len(waits), len(want))
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait before attempt %d = %v, want %v", i+2, waits[i], want[i])
		}
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	t.Parallel()

	c := newTestRetry()
	calls := 0
	err := c.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return syscall.ECONNREFUSED
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() = %v, want nil after recovery", err)
	}
	if calls != 2 {
		t.Errorf("attempt called %d times, want 2", calls)
	}
}

func TestRetryUserCancellationStopsImmediately(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancelCause(context.Background())
	c := newTestRetry()
	calls := 0
	err := c.Execute(ctx, func(context.Context) error {
		calls++
		cancel(ErrCanceled)
		return errors.New("read aborted")
	})

	if calls != 1 {
		t.Errorf("attempt called %d times after cancellation, want 1", calls)
	}
	if !errors.Is(err, ErrCanceled) {
		t.Errorf("Execute() = %v, want ErrCanceled", err)
	}
}

func TestRetryTerminalErrorNotRetried(t *testing.T) {
	t.Parallel()

	c := newTestRetry()
	calls := 0
	inner := errors.New("the model rejected the request")
	err := c.Execute(context.Background(), func(context.Context) error {
		calls++
		return &TerminalError{Err: inner}
	})

	if calls != 1 {
		t.Errorf("attempt called %d times for a terminal error, want 1", calls)
	}
	if !errors.Is(err, inner) {
		t.Errorf("Execute() = %v, want the unwrapped inner error", err)
	}
	var failure *FailureError
	if errors.As(err, &failure) {
		t.Error("terminal errors must not be wrapped in FailureError")
	}
}

func TestFailureReasonMessages(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		reason FailureReason
		want   string
	}{
		{"timeout", context.DeadlineExceeded, ReasonTimeout,
			"The server is taking too long to respond. Try a shorter question."},
		{"stall", ErrStalled, ReasonTimeout,
			"The server is taking too long to respond. Try a shorter question."},
		{"refused", syscall.ECONNREFUSED, ReasonNetwork,
			"No connection. Check your internet and try again."},
		{"reset", syscall.ECONNRESET, ReasonNetwork,
			"No connection. Check your internet and try again."},
		{"other", errors.New("weird"), ReasonOther,
			"Could not reach the assistant. Please try again."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := classifyFailure(tc.err); got != tc.reason {
				t.Errorf("classifyFailure(%v) = %d, want %d", tc.err, got, tc.reason)
			}
			fe := &FailureError{Reason: tc.reason, Attempts: 3, Err: tc.err}
			if got := fe.UserMessage(); got != tc.want {
				t.Errorf("UserMessage() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRetryFinalReasonMatchesLastFailure(t *testing.T) {
	t.Parallel()

	c := newTestRetry()
	calls := 0
	err := c.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < DefaultMaxRetries+1 {
			return syscall.ECONNREFUSED
		}
		return context.DeadlineExceeded
	})

	var failure *FailureError
	if !errors.As(err, &failure) {
		t.Fatalf("Execute() = %v, want *FailureError", err)
	}
	if failure.Reason != ReasonTimeout {
		t.Errorf("Reason = %d, want timeout from the final attempt", failure.Reason)
	}
}
