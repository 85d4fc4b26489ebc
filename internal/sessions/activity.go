// Package sessions tracks server-side chat session liveness: which session
// ids have seen recent traffic, and the sweep that removes conversations
// whose sessions went quiet.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker records session activity with a sliding TTL. Backed by Redis when
// available so multiple server instances agree on liveness; otherwise by
// process memory.
type Tracker interface {
	// Touch marks the session active now, restarting its TTL.
	Touch(ctx context.Context, sessionID string) error
	// IsActive reports whether the session saw traffic within the TTL.
	IsActive(ctx context.Context, sessionID string) (bool, error)
	// Forget drops the session immediately.
	Forget(ctx context.Context, sessionID string) error
}

// NewTracker picks the Redis tracker when a client is provided, the
// in-memory one otherwise.
func NewTracker(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if rdb != nil {
		return &redisTracker{rdb: rdb, ttl: ttl}
	}
	logger.Info("session activity tracked in process memory")
	return newMemTracker(ttl)
}

func activityKey(sessionID string) string {
	return "session:activity:" + sessionID
}

type redisTracker struct {
	rdb *redis.Client
	ttl time.Duration
}

func (t *redisTracker) Touch(ctx context.Context, sessionID string) error {
	if err := t.rdb.Set(ctx, activityKey(sessionID), "1", t.ttl).Err(); err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	return nil
}

func (t *redisTracker) IsActive(ctx context.Context, sessionID string) (bool, error) {
	err := t.rdb.Get(ctx, activityKey(sessionID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check session %s: %w", sessionID, err)
	}
	return true, nil
}

func (t *redisTracker) Forget(ctx context.Context, sessionID string) error {
	return t.rdb.Del(ctx, activityKey(sessionID)).Err()
}

type memTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time // session id -> expiry
}

func newMemTracker(ttl time.Duration) *memTracker {
	return &memTracker{ttl: ttl, entries: make(map[string]time.Time)}
}

func (t *memTracker) Touch(_ context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[sessionID] = time.Now().Add(t.ttl)
	t.prune()
	return nil
}

func (t *memTracker) IsActive(_ context.Context, sessionID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	expiry, ok := t.entries[sessionID]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(t.entries, sessionID)
		return false, nil
	}
	return true, nil
}

func (t *memTracker) Forget(_ context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, sessionID)
	return nil
}

// prune removes expired entries. Caller holds the lock.
func (t *memTracker) prune() {
	if len(t.entries) < 1024 {
		return
	}
	now := time.Now()
	for id, expiry := range t.entries {
		if now.After(expiry) {
			delete(t.entries, id)
		}
	}
}
