// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/campuschat/campuschat/internal/domain"
)

// Repository defines the interface for persisting visitors, agents, and
// conversation transcripts. The relational schema behind it is deliberately
// minimal; everything the chat core needs goes through these methods.
type Repository interface {
	// GetVisitor retrieves a visitor by their device ID. Returns nil, nil
	// when the visitor does not exist.
	GetVisitor(ctx context.Context, visitorID string) (*domain.Visitor, error)

	// UpsertVisitor creates or updates a visitor record.
	UpsertVisitor(ctx context.Context, visitor *domain.Visitor) error

	// UpdateVisitorLastSeen updates the last_seen_at timestamp for a visitor.
	UpdateVisitorLastSeen(ctx context.Context, visitorID string, lastSeen time.Time) error

	// ListAgents returns virtual agents, optionally only the active ones.
	ListAgents(ctx context.Context, activeOnly bool) ([]*domain.VirtualAgent, error)

	// GetAgent retrieves a virtual agent by id. Returns nil, nil when absent.
	GetAgent(ctx context.Context, id int64) (*domain.VirtualAgent, error)

	// InsertAgent stores a new virtual agent and returns its id.
	InsertAgent(ctx context.Context, agent *domain.VirtualAgent) (int64, error)

	// CountAgents returns the number of configured agents.
	CountAgents(ctx context.Context) (int64, error)

	// ListActiveContent returns the active content units for an agent.
	ListActiveContent(ctx context.Context, agentID int64) ([]*domain.ContentUnit, error)

	// InsertContent stores a content unit and returns its id.
	InsertContent(ctx context.Context, unit *domain.ContentUnit) (int64, error)

	// GetConversation retrieves a conversation with its messages.
	// Returns nil, nil when the session is unknown.
	GetConversation(ctx context.Context, sessionID string) (*domain.Conversation, error)

	// UpsertConversation creates or updates a conversation header row.
	UpsertConversation(ctx context.Context, conv *domain.Conversation) error

	// AppendMessage adds a message to a conversation transcript, creating
	// the conversation row if needed.
	AppendMessage(ctx context.Context, sessionID string, msg domain.ChatMessage) error

	// UpdateConversationStatus changes a conversation's status and, for
	// escalations, records the assigned operator.
	UpdateConversationStatus(ctx context.Context, sessionID string, status domain.ConversationStatus, assignedUserID int64, assignedName string) error

	// RenewConversationSession re-keys a conversation under a fresh session
	// id. Used when an escalation hands the visitor a new session.
	RenewConversationSession(ctx context.Context, oldSessionID, newSessionID string) error

	// ListEscalated returns escalated conversations, optionally only those
	// not yet resolved.
	ListEscalated(ctx context.Context, pendingOnly bool) ([]*domain.Conversation, error)

	// CleanupExpiredConversations removes resolved conversations whose last
	// activity is older than ttl. Returns the number of rows removed.
	CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
