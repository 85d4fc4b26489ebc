package classifier

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/campuschat/campuschat/internal/domain"
)

type staticAgents struct {
	agents []*domain.VirtualAgent
	err    error
}

func (s staticAgents) ListAgents(context.Context, bool) ([]*domain.VirtualAgent, error) {
	return s.agents, s.err
}

func testAgents() []*domain.VirtualAgent {
	return []*domain.VirtualAgent{
		{ID: 1, Name: "Admisiones", Keywords: "admisión, inscripción, matrícula, requisitos"},
		{ID: 2, Name: "Biblioteca", Keywords: "biblioteca, libro, préstamo, horario de biblioteca"},
		{ID: 3, Name: "Pagos", Keywords: "pago, factura, beca"},
	}
}

func TestClassifyPicksBestAgent(t *testing.T) {
	t.Parallel()

	c := New(staticAgents{agents: testAgents()}, slog.New(slog.DiscardHandler))

	cases := []struct {
		message string
		wantID  int64
	}{
		{"¿Cuáles son los requisitos de inscripción?", 1},
		{"Necesito renovar el préstamo de un libro", 2},
		{"¿Cómo solicito una beca?", 3},
	}
	for _, tc := range cases {
		res, err := c.Classify(context.Background(), tc.message)
		if err != nil {
			t.Fatalf("Classify(%q) = %v", tc.message, err)
		}
		if res.Agent == nil || res.Agent.ID != tc.wantID {
			t.Errorf("Classify(%q) picked %+v, want agent %d", tc.message, res.Agent, tc.wantID)
		}
	}
}

func TestClassifyPhraseBeatsSingleWord(t *testing.T) {
	t.Parallel()

	c := New(staticAgents{agents: testAgents()}, slog.New(slog.DiscardHandler))
	res, err := c.Classify(context.Background(), "¿cuál es el horario de biblioteca?")
	if err != nil {
		t.Fatal(err)
	}
	if res.Agent == nil || res.Agent.ID != 2 {
		t.Errorf("picked %+v, want the library agent", res.Agent)
	}
	if res.Score < 3 { // phrase (2) plus the single keyword hit
		t.Errorf("score = %d, want phrase-weighted score", res.Score)
	}
}

func TestClassifyNoMatch(t *testing.T) {
	t.Parallel()

	c := New(staticAgents{agents: testAgents()}, slog.New(slog.DiscardHandler))
	res, err := c.Classify(context.Background(), "cuéntame un chiste")
	if err != nil {
		t.Fatal(err)
	}
	if res.Agent != nil {
		t.Errorf("picked %+v, want no match", res.Agent)
	}
}

func TestClassifyRepositoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	c := New(staticAgents{err: boom}, slog.New(slog.DiscardHandler))
	if _, err := c.Classify(context.Background(), "hola"); !errors.Is(err, boom) {
		t.Errorf("Classify() = %v, want wrapped repository error", err)
	}
}
