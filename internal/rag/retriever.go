// Package rag retrieves the knowledge snippets that ground an agent's
// answer. Retrieval is keyword overlap over the agent's content units; no
// embedding index is involved, which keeps the whole pipeline dependent
// only on the relational store.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/campuschat/campuschat/internal/domain"
)

// DefaultLimit bounds how many snippets back one answer.
const DefaultLimit = 3

// ContentSource lists the retrievable documents of an agent.
// *store.SQLiteStore satisfies it.
type ContentSource interface {
	ListActiveContent(ctx context.Context, agentID int64) ([]*domain.ContentUnit, error)
}

// Snippet is one retrieved document with its relevance score.
type Snippet struct {
	Title string
	Body  string
	Score int
}

// Retriever ranks an agent's content units against a query.
type Retriever struct {
	source ContentSource
	limit  int
}

// New creates a retriever. A limit <= 0 uses DefaultLimit.
func New(source ContentSource, limit int) *Retriever {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Retriever{source: source, limit: limit}
}

// Retrieve returns the best-matching snippets for query among the agent's
// active content, most relevant first. An empty result is not an error; the
// answer simply goes ungrounded.
func (r *Retriever) Retrieve(ctx context.Context, agentID int64, query string) ([]Snippet, error) {
	units, err := r.source.ListActiveContent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list content for agent %d: %w", agentID, err)
	}

	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var matched []Snippet
	for _, unit := range units {
		score := scoreUnit(unit, terms)
		if score > 0 {
			matched = append(matched, Snippet{Title: unit.Title, Body: unit.Body, Score: score})
		}
	}

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Score > matched[j].Score })
	if len(matched) > r.limit {
		matched = matched[:r.limit]
	}
	return matched, nil
}

// Context renders snippets as the prompt block handed to the model.
func Context(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, s := range snippets {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(s.Title)
		sb.WriteString(":\n")
		sb.WriteString(s.Body)
	}
	return sb.String()
}

// Sources lists the snippet titles for the context event shown to the user.
func Sources(snippets []Snippet) string {
	titles := make([]string, len(snippets))
	for i, s := range snippets {
		titles[i] = s.Title
	}
	return strings.Join(titles, ", ")
}

// scoreUnit weighs matches in the unit's declared keywords over incidental
// body hits.
func scoreUnit(unit *domain.ContentUnit, terms []string) int {
	keywords := strings.ToLower(unit.Keywords)
	title := strings.ToLower(unit.Title)
	body := strings.ToLower(unit.Body)

	score := 0
	for _, term := range terms {
		switch {
		case strings.Contains(keywords, term):
			score += 3
		case strings.Contains(title, term):
			score += 2
		case strings.Contains(body, term):
			score++
		}
	}
	return score
}

// queryTerms splits the query into lowercase terms, dropping short stop
// words that would match everything.
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) > 3 {
			terms = append(terms, f)
		}
	}
	return terms
}
