// Package domain contains core domain types for the campus chat backend.
package domain

import (
	"time"
)

// MessageRole identifies who produced a chat message.
type MessageRole string

const (
	// RoleUser is the visitor typing into the widget.
	RoleUser MessageRole = "user"
	// RoleBot is the automated virtual agent.
	RoleBot MessageRole = "bot"
	// RoleHumanAgent is a staff member answering an escalated conversation.
	RoleHumanAgent MessageRole = "human_agent"
	// RoleSystem is an informational message injected by the backend.
	RoleSystem MessageRole = "system"
)

// ChatMessage is one entry in a conversation transcript.
type ChatMessage struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	UserID    string      `json:"user_id,omitempty"`
	UserName  string      `json:"user_name,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConversationStatus tracks whether a conversation is handled by the bot
// or has been handed to a human operator.
type ConversationStatus string

const (
	// StatusActive means the bot is answering.
	StatusActive ConversationStatus = "active"
	// StatusEscalated means a human operator owns the conversation.
	StatusEscalated ConversationStatus = "escalated"
	// StatusResolved means the conversation was closed by an operator.
	StatusResolved ConversationStatus = "resolved"
)

// Conversation is a persisted chat transcript keyed by session id.
type Conversation struct {
	SessionID       string             `json:"session_id"`
	VisitorID       string             `json:"visitor_id,omitempty"`
	AgentID         int64              `json:"agent_id,omitempty"`
	AgentName       string             `json:"agent_name,omitempty"`
	Status          ConversationStatus `json:"status"`
	AssignedUserID  int64              `json:"assigned_user_id,omitempty"`
	AssignedName    string             `json:"assigned_name,omitempty"`
	Messages        []ChatMessage      `json:"messages,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	LastMessageAt   time.Time          `json:"last_message_at"`
	EscalatedAt     *time.Time         `json:"escalated_at,omitempty"`
	EscalationCause string             `json:"escalation_cause,omitempty"`
}

// IsEscalated reports whether the conversation is owned by a human operator.
func (c *Conversation) IsEscalated() bool {
	return c.Status == StatusEscalated
}
