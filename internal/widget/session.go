package widget

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTimeout is how long a session stays valid without activity.
const DefaultSessionTimeout = 10 * time.Minute

// Storage keys for persisted session state.
const (
	keySessionID    = "chat_session_id"
	keyLastActivity = "chat_session_last_activity"
	keyFingerprint  = "chat_session_fingerprint"
)

// KeyValueStore is the narrow persistence interface the session store
// depends on (browser local storage, a file, or memory).
type KeyValueStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// MemStore is an in-memory KeyValueStore. It is the fallback when the real
// storage is unavailable, and the default for tests.
type MemStore struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]string)}
}

// Get returns the stored value for key, or "" when absent.
func (m *MemStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

// Set stores value under key.
func (m *MemStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// SessionStore persists the chat session id and its freshness metadata, and
// decides when a stale session must be replaced. Stale sessions are
// superseded, never mutated in place.
type SessionStore struct {
	mu      sync.Mutex
	store   KeyValueStore
	origin  string
	page    string // current navigation path
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	degraded bool // storage failed; fall back to memory for this page load
}

// SessionStoreOption configures a SessionStore.
type SessionStoreOption func(*SessionStore)

// WithSessionTimeout overrides the default inactivity timeout.
func WithSessionTimeout(d time.Duration) SessionStoreOption {
	return func(s *SessionStore) { s.timeout = d }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) SessionStoreOption {
	return func(s *SessionStore) { s.now = now }
}

// NewSessionStore creates a session store bound to an origin and the current
// page path. A nil KeyValueStore degrades to memory-only immediately.
func NewSessionStore(store KeyValueStore, origin, page string, logger *slog.Logger, opts ...SessionStoreOption) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SessionStore{
		store:   store,
		origin:  origin,
		page:    page,
		timeout: DefaultSessionTimeout,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewMemStore()
		s.degraded = true
	}
	return s
}

// Resolve returns the active session id, creating a fresh one when no prior
// id exists, the stored activity timestamp is older than the timeout, or the
// recorded page fingerprint differs from the current page.
func (s *SessionStore) Resolve() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.get(keySessionID)
	fp := s.fingerprint()

	if id != "" && s.get(keyFingerprint) == fp {
		if raw := s.get(keyLastActivity); raw != "" {
			if last, err := strconv.ParseInt(raw, 10, 64); err == nil {
				if s.now().Sub(time.UnixMilli(last)) < s.timeout {
					return id
				}
			}
		}
	}

	fresh := s.newSessionID(fp)
	s.set(keySessionID, fresh)
	s.set(keyFingerprint, fp)
	s.set(keyLastActivity, strconv.FormatInt(s.now().UnixMilli(), 10))
	s.logger.Debug("session created", "session_id", fresh, "superseded", id)
	return fresh
}

// Touch refreshes the last-activity timestamp. Call after every completed
// interaction (message send, explicit close).
func (s *SessionStore) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(keyLastActivity, strconv.FormatInt(s.now().UnixMilli(), 10))
}

// Replace installs a server-provided session id (escalation handoff) and
// refreshes activity so the new session does not immediately expire.
func (s *SessionStore) Replace(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(keySessionID, sessionID)
	s.set(keyFingerprint, s.fingerprint())
	s.set(keyLastActivity, strconv.FormatInt(s.now().UnixMilli(), 10))
}

// get reads a key, switching to the in-memory fallback on storage failure.
// Session resolution never raises.
func (s *SessionStore) get(key string) string {
	v, err := s.store.Get(key)
	if err != nil {
		s.degrade(err)
		v, _ = s.store.Get(key)
	}
	return v
}

func (s *SessionStore) set(key, value string) {
	if err := s.store.Set(key, value); err != nil {
		s.degrade(err)
		_ = s.store.Set(key, value)
	}
}

func (s *SessionStore) degrade(err error) {
	if s.degraded {
		return
	}
	s.degraded = true
	s.logger.Warn("session storage unavailable, using in-memory session for this page load", "error", err)
	s.store = NewMemStore()
}

// Degraded reports whether the store fell back to memory-only persistence.
func (s *SessionStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// fingerprint hashes the current navigation path so navigating to a
// different page invalidates the session.
func (s *SessionStore) fingerprint() string {
	sum := sha256.Sum256([]byte(s.page))
	return hex.EncodeToString(sum[:4])
}

// newSessionID builds an opaque id encoding origin, timestamp, a random
// nonce, and the page fingerprint.
func (s *SessionStore) newSessionID(fp string) string {
	nonce := uuid.NewString()[:8]
	return fmt.Sprintf("%s-%d-%s-%s", s.origin, s.now().UnixMilli(), nonce, fp)
}
