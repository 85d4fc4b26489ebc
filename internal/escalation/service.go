package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/campuschat/campuschat/internal/config"
	"github.com/campuschat/campuschat/internal/domain"
)

// ErrNoPending is returned when a confirmation arrives for a session that
// never asked for one, or whose prompt already expired.
var ErrNoPending = errors.New("no pending escalation confirmation")

// ConversationStore is the slice of the repository the escalation service
// needs.
type ConversationStore interface {
	RenewConversationSession(ctx context.Context, oldSessionID, newSessionID string) error
	UpdateConversationStatus(ctx context.Context, sessionID string, status domain.ConversationStatus, assignedUserID int64, assignedName string) error
}

// PendingStore remembers which sessions have an open "talk to a human?"
// prompt.
type PendingStore interface {
	// Mark records a pending confirmation with the store's TTL.
	Mark(ctx context.Context, sessionID string) error
	// Take consumes a pending confirmation, reporting whether one existed.
	Take(ctx context.Context, sessionID string) (bool, error)
}

// Handoff describes a completed escalation.
type Handoff struct {
	// NewSessionID replaces the bot session; the widget must use it for
	// everything that follows.
	NewSessionID string
	// Team names who picks the conversation up.
	Team string
}

// escalationIntents are the phrases that trigger the confirmation prompt.
// All matching is lowercase.
var escalationIntents = []string{
	"hablar con una persona",
	"hablar con un humano",
	"hablar con alguien",
	"agente humano",
	"persona real",
	"atención humana",
	"operador",
	"talk to a human",
	"talk to a person",
	"human agent",
	"real person",
}

// affirmatives accept the confirmation prompt.
var affirmatives = map[string]struct{}{
	"si": {}, "sí": {}, "yes": {}, "claro": {}, "ok": {}, "okay": {},
	"dale": {}, "por favor": {}, "si por favor": {}, "sí por favor": {},
	"confirmo": {}, "acepto": {},
}

// Service runs the escalation handshake: detect the intent, hold the
// confirmation open, then re-key the session and mark the conversation
// escalated.
type Service struct {
	store   ConversationStore
	pending PendingStore
	team    string
	logger  *slog.Logger
}

// NewService builds the escalation service. A nil Redis client keeps
// confirmations in process memory.
func NewService(store ConversationStore, rdb *redis.Client, cfg config.EscalationConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.ConfirmationTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	var pending PendingStore
	if rdb != nil {
		pending = &redisPending{rdb: rdb, ttl: ttl}
	} else {
		pending = newMemPending(ttl)
	}
	return &Service{
		store:   store,
		pending: pending,
		team:    cfg.DefaultTeam,
		logger:  logger,
	}
}

// DetectIntent reports whether the message asks for a human.
func DetectIntent(message string) bool {
	lowered := strings.ToLower(message)
	for _, phrase := range escalationIntents {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

// IsAffirmative reports whether the message accepts a yes/no prompt.
func IsAffirmative(message string) bool {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.TrimRight(normalized, ".!¡")
	_, ok := affirmatives[normalized]
	return ok
}

// RequestConfirmation opens a pending confirmation for the session and
// returns the prompt to show the user.
func (s *Service) RequestConfirmation(ctx context.Context, sessionID string) (string, error) {
	if err := s.pending.Mark(ctx, sessionID); err != nil {
		return "", fmt.Errorf("mark pending escalation: %w", err)
	}
	s.logger.Info("escalation confirmation requested", "session_id", sessionID)
	return "¿Quieres que te conecte con una persona del equipo de soporte? Responde \"sí\" para confirmar.", nil
}

// HasPending consumes the session's pending confirmation if one exists.
func (s *Service) HasPending(ctx context.Context, sessionID string) (bool, error) {
	return s.pending.Take(ctx, sessionID)
}

// Finalize completes a confirmed escalation: it issues a replacement session
// id, re-keys the stored conversation under it, and marks the conversation
// escalated. The old session id is dead afterwards.
func (s *Service) Finalize(ctx context.Context, sessionID string) (Handoff, error) {
	newID := "esc-" + uuid.NewString()

	if err := s.store.RenewConversationSession(ctx, sessionID, newID); err != nil {
		return Handoff{}, fmt.Errorf("renew session %s: %w", sessionID, err)
	}
	if err := s.store.UpdateConversationStatus(ctx, newID, domain.StatusEscalated, 0, s.team); err != nil {
		return Handoff{}, fmt.Errorf("mark conversation escalated: %w", err)
	}

	s.logger.Info("conversation escalated",
		"old_session_id", sessionID, "new_session_id", newID, "team", s.team)
	return Handoff{NewSessionID: newID, Team: s.team}, nil
}

// Team returns the configured handoff team name.
func (s *Service) Team() string { return s.team }

// redisPending stores pending confirmations as expiring Redis keys, shared
// across server instances.
type redisPending struct {
	rdb *redis.Client
	ttl time.Duration
}

func pendingKey(sessionID string) string {
	return "escalation:pending:" + sessionID
}

func (p *redisPending) Mark(ctx context.Context, sessionID string) error {
	return p.rdb.Set(ctx, pendingKey(sessionID), "1", p.ttl).Err()
}

func (p *redisPending) Take(ctx context.Context, sessionID string) (bool, error) {
	n, err := p.rdb.Del(ctx, pendingKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// memPending is the single-instance fallback.
type memPending struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time // session id -> expiry
}

func newMemPending(ttl time.Duration) *memPending {
	return &memPending{ttl: ttl, entries: make(map[string]time.Time)}
}

func (p *memPending) Mark(_ context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[sessionID] = time.Now().Add(p.ttl)
	return nil
}

func (p *memPending) Take(_ context.Context, sessionID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	expiry, ok := p.entries[sessionID]
	if !ok {
		return false, nil
	}
	delete(p.entries, sessionID)
	return time.Now().Before(expiry), nil
}
