package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"
)

// ErrCanceled marks a user-initiated cancellation (a superseding send or an
// explicit abort). It terminates the whole operation immediately and is
// never surfaced as an error to the user.
var ErrCanceled = errors.New("chat request canceled")

// FailureReason classifies why an attempt failed, for retry decisions and
// user messaging.
type FailureReason int

const (
	// ReasonOther covers failures with no specific classification.
	ReasonOther FailureReason = iota
	// ReasonTimeout covers per-attempt deadline and heartbeat stalls.
	ReasonTimeout
	// ReasonNetwork covers unreachable-network failures.
	ReasonNetwork
)

// TerminalError wraps a failure that must not be retried, such as a
// server-reported error event. Execute unwraps and returns the inner error.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// FailureError is returned after the retry budget is exhausted.
type FailureError struct {
	Reason   FailureReason
	Attempts int
	Err      error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// UserMessage returns the user-visible message for the failure. The three
// messages are mutually exclusive by reason.
func (e *FailureError) UserMessage() string {
	switch e.Reason {
	case ReasonTimeout:
		return "The server is taking too long to respond. Try a shorter question."
	case ReasonNetwork:
		return "No connection. Check your internet and try again."
	default:
		return "Could not reach the assistant. Please try again."
	}
}

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 2
	// DefaultAttemptTimeout bounds each individual attempt.
	DefaultAttemptTimeout = 60 * time.Second

	backoffUnit = time.Second
)

// RetryController wraps a single logical request in a bounded retry loop
// with linear backoff and cooperative cancellation.
type RetryController struct {
	MaxRetries     int
	AttemptTimeout time.Duration
	// OnRetry is invoked before each retry wait so the UI can show a
	// "retrying" notice. May be nil.
	OnRetry func(attempt int, wait time.Duration, reason FailureReason)
	Logger  *slog.Logger

	// sleep is overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryController returns a controller with the default budget.
func NewRetryController(logger *slog.Logger) *RetryController {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryController{
		MaxRetries:     DefaultMaxRetries,
		AttemptTimeout: DefaultAttemptTimeout,
		Logger:         logger,
	}
}

// Execute runs attempt up to MaxRetries+1 times. Transient and timeout
// failures are retried after a linear backoff (1s, 2s, ...). A parent
// context cancellation is treated as user-initiated and returns ErrCanceled
// without further attempts. A *TerminalError stops retrying and returns its
// inner error. When the final attempt fails, a *FailureError carrying the
// dominant reason is returned.
func (c *RetryController) Execute(ctx context.Context, attempt func(ctx context.Context) error) error {
	maxAttempts := c.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	timeout := c.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	var lastReason FailureReason

	for n := 1; n <= maxAttempts; n++ {
		if n > 1 {
			wait := backoffUnit * time.Duration(n-1)
			if c.OnRetry != nil {
				c.OnRetry(n, wait, lastReason)
			}
			c.Logger.Info("retrying chat request", "attempt", n, "wait", wait)
			if err := sleep(ctx, wait); err != nil {
				return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := attempt(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}

		// A canceled parent means the user superseded or aborted the
		// request; distinguish that from a timeout-triggered abort.
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
		}
		if errors.Is(err, ErrCanceled) {
			return err
		}

		var terminal *TerminalError
		if errors.As(err, &terminal) {
			return terminal.Err
		}

		lastErr = err
		lastReason = classifyFailure(err)
		c.Logger.Warn("chat attempt failed", "attempt", n, "reason", int(lastReason), "error", err)
	}

	return &FailureError{Reason: lastReason, Attempts: maxAttempts, Err: lastErr}
}

// classifyFailure maps an attempt error onto the retry taxonomy.
func classifyFailure(err error) FailureReason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStalled) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ReasonTimeout
		}
		return ReasonNetwork
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return ReasonNetwork
	}
	return ReasonOther
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
