package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/campuschat/campuschat/internal/domain"
)

type staticContent struct {
	units []*domain.ContentUnit
	err   error
}

func (s staticContent) ListActiveContent(context.Context, int64) ([]*domain.ContentUnit, error) {
	return s.units, s.err
}

func libraryContent() []*domain.ContentUnit {
	return []*domain.ContentUnit{
		{ID: 1, Title: "Horarios de atención", Body: "La biblioteca abre de 8:00 a 20:00.", Keywords: "horario, apertura"},
		{ID: 2, Title: "Préstamos", Body: "Los préstamos duran 14 días y se renuevan en línea.", Keywords: "préstamo, renovación"},
		{ID: 3, Title: "Salas de estudio", Body: "Reserva de salas grupales con credencial vigente.", Keywords: "sala, reserva"},
	}
}

func TestRetrieveRanksByRelevance(t *testing.T) {
	t.Parallel()

	r := New(staticContent{units: libraryContent()}, 0)
	snippets, err := r.Retrieve(context.Background(), 2, "¿cuál es el horario de la biblioteca?")
	if err != nil {
		t.Fatalf("Retrieve() = %v", err)
	}
	if len(snippets) == 0 {
		t.Fatal("expected at least one snippet")
	}
	if snippets[0].Title != "Horarios de atención" {
		t.Errorf("top snippet = %q, want the schedule document", snippets[0].Title)
	}
}

func TestRetrieveHonorsLimit(t *testing.T) {
	t.Parallel()

	r := New(staticContent{units: libraryContent()}, 1)
	snippets, err := r.Retrieve(context.Background(), 2, "horario préstamo sala biblioteca")
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != 1 {
		t.Errorf("got %d snippets, want limit of 1", len(snippets))
	}
}

func TestRetrieveNoMatch(t *testing.T) {
	t.Parallel()

	r := New(staticContent{units: libraryContent()}, 0)
	snippets, err := r.Retrieve(context.Background(), 2, "astronomía cuántica")
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != 0 {
		t.Errorf("got %v, want nothing for an unrelated query", snippets)
	}
}

func TestRetrieveSourceError(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	r := New(staticContent{err: boom}, 0)
	if _, err := r.Retrieve(context.Background(), 2, "horario"); !errors.Is(err, boom) {
		t.Errorf("Retrieve() = %v, want wrapped source error", err)
	}
}

func TestContextAndSources(t *testing.T) {
	t.Parallel()

	snippets := []Snippet{
		{Title: "Horarios", Body: "8:00 a 20:00"},
		{Title: "Préstamos", Body: "14 días"},
	}
	ctx := Context(snippets)
	if ctx != "Horarios:\n8:00 a 20:00\n\nPréstamos:\n14 días" {
		t.Errorf("Context() = %q", ctx)
	}
	if got := Sources(snippets); got != "Horarios, Préstamos" {
		t.Errorf("Sources() = %q", got)
	}
	if Context(nil) != "" || Sources(nil) != "" {
		t.Error("empty snippet list should render empty strings")
	}
}
