package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/campuschat/campuschat/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return repo
}

func TestVisitorRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetVisitor(ctx, "v_missing")
	if err != nil || got != nil {
		t.Fatalf("missing visitor = %v, %v; want nil, nil", got, err)
	}

	now := time.Now().Truncate(time.Second)
	visitor := &domain.Visitor{
		VisitorID:  "v_abc123",
		Origin:     "https://campus.example.edu",
		UserAgent:  "Mozilla/5.0",
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.UpsertVisitor(ctx, visitor); err != nil {
		t.Fatalf("UpsertVisitor: %v", err)
	}

	got, err = repo.GetVisitor(ctx, "v_abc123")
	if err != nil {
		t.Fatalf("GetVisitor: %v", err)
	}
	if got.Origin != visitor.Origin || got.UserAgent != visitor.UserAgent {
		t.Errorf("visitor = %+v", got)
	}

	later := now.Add(time.Hour)
	if err := repo.UpdateVisitorLastSeen(ctx, "v_abc123", later); err != nil {
		t.Fatalf("UpdateVisitorLastSeen: %v", err)
	}
	got, _ = repo.GetVisitor(ctx, "v_abc123")
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, later)
	}
}

func TestAgentsAndContent(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	if n, err := repo.CountAgents(ctx); err != nil || n != 0 {
		t.Fatalf("empty catalog: n=%d err=%v", n, err)
	}

	activeID, err := repo.InsertAgent(ctx, &domain.VirtualAgent{
		Name: "Biblioteca", Specialty: "biblioteca", Keywords: "libro, préstamo", Active: true,
	})
	if err != nil {
		t.Fatalf("InsertAgent: %v", err)
	}
	if _, err := repo.InsertAgent(ctx, &domain.VirtualAgent{Name: "Retirado", Active: false}); err != nil {
		t.Fatalf("InsertAgent inactive: %v", err)
	}

	active, err := repo.ListAgents(ctx, true)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(active) != 1 || active[0].Name != "Biblioteca" {
		t.Errorf("active agents = %+v", active)
	}
	all, _ := repo.ListAgents(ctx, false)
	if len(all) != 2 {
		t.Errorf("all agents = %d, want 2", len(all))
	}

	agent, err := repo.GetAgent(ctx, activeID)
	if err != nil || agent == nil {
		t.Fatalf("GetAgent: %v, %v", agent, err)
	}
	if agent.Keywords != "libro, préstamo" {
		t.Errorf("keywords = %q", agent.Keywords)
	}

	if _, err := repo.InsertContent(ctx, &domain.ContentUnit{
		AgentID: activeID, Title: "Horarios", Body: "Abre a las 8.", Active: true,
	}); err != nil {
		t.Fatalf("InsertContent: %v", err)
	}
	if _, err := repo.InsertContent(ctx, &domain.ContentUnit{
		AgentID: activeID, Title: "Obsoleto", Body: "viejo", Active: false,
	}); err != nil {
		t.Fatalf("InsertContent inactive: %v", err)
	}

	units, err := repo.ListActiveContent(ctx, activeID)
	if err != nil {
		t.Fatalf("ListActiveContent: %v", err)
	}
	if len(units) != 1 || units[0].Title != "Horarios" {
		t.Errorf("content = %+v", units)
	}
}

func TestConversationLifecycle(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	if conv, err := repo.GetConversation(ctx, "missing"); err != nil || conv != nil {
		t.Fatalf("missing conversation = %v, %v; want nil, nil", conv, err)
	}

	// AppendMessage creates the conversation row on demand.
	if err := repo.AppendMessage(ctx, "web-1", domain.ChatMessage{
		Role: domain.RoleUser, Content: "hola",
	}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := repo.AppendMessage(ctx, "web-1", domain.ChatMessage{
		Role: domain.RoleBot, Content: "buenas",
	}); err != nil {
		t.Fatalf("AppendMessage bot: %v", err)
	}

	conv, err := repo.GetConversation(ctx, "web-1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Status != domain.StatusActive {
		t.Errorf("status = %q", conv.Status)
	}
	if len(conv.Messages) != 2 || conv.Messages[0].Role != domain.RoleUser {
		t.Errorf("messages = %+v", conv.Messages)
	}

	// Escalation: re-key the session, then mark it escalated.
	if err := repo.RenewConversationSession(ctx, "web-1", "esc-1"); err != nil {
		t.Fatalf("RenewConversationSession: %v", err)
	}
	if conv, _ := repo.GetConversation(ctx, "web-1"); conv != nil {
		t.Error("old session id still resolves")
	}
	conv, _ = repo.GetConversation(ctx, "esc-1")
	if conv == nil || len(conv.Messages) != 2 {
		t.Fatalf("renewed conversation = %+v", conv)
	}

	if err := repo.UpdateConversationStatus(ctx, "esc-1", domain.StatusEscalated, 7, "Laura"); err != nil {
		t.Fatalf("UpdateConversationStatus: %v", err)
	}
	conv, _ = repo.GetConversation(ctx, "esc-1")
	if !conv.IsEscalated() || conv.AssignedName != "Laura" || conv.AssignedUserID != 7 {
		t.Errorf("escalated conversation = %+v", conv)
	}
	if conv.EscalatedAt == nil {
		t.Error("EscalatedAt not stamped")
	}

	escalated, err := repo.ListEscalated(ctx, false)
	if err != nil {
		t.Fatalf("ListEscalated: %v", err)
	}
	if len(escalated) != 1 || escalated[0].SessionID != "esc-1" {
		t.Errorf("escalated = %+v", escalated)
	}

	if err := repo.RenewConversationSession(ctx, "missing", "esc-2"); err == nil {
		t.Error("renewing a missing conversation should fail")
	}
}

func TestCleanupExpiredConversations(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	if err := repo.UpsertConversation(ctx, &domain.Conversation{
		SessionID: "stale", Status: domain.StatusResolved, LastMessageAt: old,
	}); err != nil {
		t.Fatalf("UpsertConversation: %v", err)
	}
	if err := repo.UpsertConversation(ctx, &domain.Conversation{
		SessionID: "fresh", Status: domain.StatusActive,
	}); err != nil {
		t.Fatalf("UpsertConversation fresh: %v", err)
	}

	deleted, err := repo.CleanupExpiredConversations(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredConversations: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if conv, _ := repo.GetConversation(ctx, "stale"); conv != nil {
		t.Error("stale conversation survived cleanup")
	}
	if conv, _ := repo.GetConversation(ctx, "fresh"); conv == nil {
		t.Error("active conversation was removed")
	}
}
