package escalation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/campuschat/campuschat/internal/config"
	"github.com/campuschat/campuschat/internal/domain"
)

type fakeConvStore struct {
	renewedOld, renewedNew string
	statusSession          string
	status                 domain.ConversationStatus
	assignedName           string
	renewErr               error
}

func (f *fakeConvStore) RenewConversationSession(_ context.Context, oldID, newID string) error {
	if f.renewErr != nil {
		return f.renewErr
	}
	f.renewedOld, f.renewedNew = oldID, newID
	return nil
}

func (f *fakeConvStore) UpdateConversationStatus(_ context.Context, sessionID string, status domain.ConversationStatus, _ int64, name string) error {
	f.statusSession = sessionID
	f.status = status
	f.assignedName = name
	return nil
}

func testService(store ConversationStore) *Service {
	return NewService(store, nil, config.EscalationConfig{
		ConfirmationTTL: time.Minute,
		DefaultTeam:     "Mesa de Ayuda",
	}, slog.New(slog.DiscardHandler))
}

func TestDetectIntent(t *testing.T) {
	t.Parallel()

	positives := []string{
		"Quiero hablar con una persona",
		"necesito un AGENTE HUMANO por favor",
		"can I talk to a human?",
		"pásame con el operador",
	}
	for _, msg := range positives {
		if !DetectIntent(msg) {
			t.Errorf("DetectIntent(%q) = false, want true", msg)
		}
	}

	negatives := []string{
		"¿cuál es el horario de la biblioteca?",
		"háblame de las becas",
		"",
	}
	for _, msg := range negatives {
		if DetectIntent(msg) {
			t.Errorf("DetectIntent(%q) = true, want false", msg)
		}
	}
}

func TestIsAffirmative(t *testing.T) {
	t.Parallel()

	for _, msg := range []string{"sí", "Si", "  yes ", "claro", "sí por favor", "OK!"} {
		if !IsAffirmative(msg) {
			t.Errorf("IsAffirmative(%q) = false, want true", msg)
		}
	}
	for _, msg := range []string{"no", "mejor no", "quizás", "sigue tú"} {
		if IsAffirmative(msg) {
			t.Errorf("IsAffirmative(%q) = true, want false", msg)
		}
	}
}

func TestConfirmationLifecycle(t *testing.T) {
	t.Parallel()

	svc := testService(&fakeConvStore{})
	ctx := context.Background()

	if ok, err := svc.HasPending(ctx, "sess-1"); err != nil || ok {
		t.Fatalf("HasPending before request = %v, %v", ok, err)
	}

	prompt, err := svc.RequestConfirmation(ctx, "sess-1")
	if err != nil {
		t.Fatalf("RequestConfirmation() = %v", err)
	}
	if prompt == "" {
		t.Error("expected a confirmation prompt")
	}

	ok, err := svc.HasPending(ctx, "sess-1")
	if err != nil || !ok {
		t.Fatalf("HasPending after request = %v, %v", ok, err)
	}

	// Consumed: a second lookup finds nothing.
	if ok, _ := svc.HasPending(ctx, "sess-1"); ok {
		t.Error("pending confirmation should be consumed by Take")
	}
}

func TestConfirmationExpires(t *testing.T) {
	t.Parallel()

	pending := newMemPending(-time.Second) // already expired on Mark
	if err := pending.Mark(context.Background(), "sess-2"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := pending.Take(context.Background(), "sess-2"); ok {
		t.Error("expired confirmation should not be taken")
	}
}

func TestFinalizeReKeysSession(t *testing.T) {
	t.Parallel()

	store := &fakeConvStore{}
	svc := testService(store)

	handoff, err := svc.Finalize(context.Background(), "web-123")
	if err != nil {
		t.Fatalf("Finalize() = %v", err)
	}
	if handoff.NewSessionID == "" || handoff.NewSessionID == "web-123" {
		t.Errorf("NewSessionID = %q, want a fresh id", handoff.NewSessionID)
	}
	if !strings.HasPrefix(handoff.NewSessionID, "esc-") {
		t.Errorf("NewSessionID = %q, want esc- prefix", handoff.NewSessionID)
	}
	if handoff.Team != "Mesa de Ayuda" {
		t.Errorf("Team = %q", handoff.Team)
	}

	if store.renewedOld != "web-123" || store.renewedNew != handoff.NewSessionID {
		t.Errorf("renewed %q -> %q", store.renewedOld, store.renewedNew)
	}
	if store.statusSession != handoff.NewSessionID || store.status != domain.StatusEscalated {
		t.Errorf("status update = %q %q, want escalated on the new session",
			store.statusSession, store.status)
	}
	if store.assignedName != "Mesa de Ayuda" {
		t.Errorf("assigned name = %q", store.assignedName)
	}
}

func TestFinalizeRenewFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("db locked")
	svc := testService(&fakeConvStore{renewErr: boom})
	if _, err := svc.Finalize(context.Background(), "web-1"); !errors.Is(err, boom) {
		t.Errorf("Finalize() = %v, want wrapped store error", err)
	}
}
