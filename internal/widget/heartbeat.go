package widget

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrStalled reports that an open stream stopped delivering bytes within the
// heartbeat window. The retry layer treats it as a timeout failure.
var ErrStalled = errors.New("connection lost: no bytes within heartbeat window")

const (
	// DefaultHeartbeatTimeout is the maximum silence tolerated on a stream.
	DefaultHeartbeatTimeout = 30 * time.Second
	// heartbeatPoll is the check granularity. Coarse polling is deliberate;
	// jitter of up to one poll interval is acceptable.
	heartbeatPoll = 5 * time.Second
)

// HeartbeatMonitor watches the elapsed time since the last received byte of
// a stream and cancels the underlying read when it stalls. The periodic
// check and the read loop touch the shared timestamp from different
// goroutines, so it is mutex-protected.
type HeartbeatMonitor struct {
	mu      sync.Mutex
	last    time.Time
	stalled bool

	timeout time.Duration
	poll    time.Duration
	cancel  context.CancelCauseFunc
	stop    chan struct{}
	done    chan struct{}
	logger  *slog.Logger
}

// ArmHeartbeat starts a monitor that cancels via cancel(ErrStalled) when no
// Reset arrives within timeout. A timeout <= 0 uses the default. Disarm must
// be called on stream completion or error so the timer does not outlive the
// request.
func ArmHeartbeat(cancel context.CancelCauseFunc, timeout time.Duration, logger *slog.Logger) *HeartbeatMonitor {
	return armHeartbeat(cancel, timeout, heartbeatPoll, logger)
}

func armHeartbeat(cancel context.CancelCauseFunc, timeout, poll time.Duration, logger *slog.Logger) *HeartbeatMonitor {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &HeartbeatMonitor{
		last:    time.Now(),
		timeout: timeout,
		poll:    poll,
		cancel:  cancel,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go m.watch()
	return m
}

// Reset records that a byte chunk was consumed.
func (m *HeartbeatMonitor) Reset() {
	m.mu.Lock()
	m.last = time.Now()
	m.mu.Unlock()
}

// Disarm stops the monitor. Safe to call more than once.
func (m *HeartbeatMonitor) Disarm() {
	m.mu.Lock()
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	m.mu.Unlock()
	<-m.done
}

// Stalled reports whether the monitor fired.
func (m *HeartbeatMonitor) Stalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stalled
}

func (m *HeartbeatMonitor) watch() {
	defer close(m.done)

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			elapsed := time.Since(m.last)
			if elapsed < m.timeout {
				m.mu.Unlock()
				continue
			}
			m.stalled = true
			m.mu.Unlock()

			m.logger.Warn("stream stalled, aborting read", "silence", elapsed)
			m.cancel(ErrStalled)
			return
		}
	}
}
