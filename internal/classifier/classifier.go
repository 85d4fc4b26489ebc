// Package classifier routes a user message to the virtual agent whose
// keyword profile matches it best. Classification is stateless: it scores
// one message at a time and its outcome is never persisted as an agent
// selection.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/campuschat/campuschat/internal/domain"
)

// AgentSource lists the agents available for routing. *store.SQLiteStore
// satisfies it.
type AgentSource interface {
	ListAgents(ctx context.Context, activeOnly bool) ([]*domain.VirtualAgent, error)
}

// Result is the outcome of classifying one message.
type Result struct {
	Agent *domain.VirtualAgent
	// Score counts keyword hits; zero means no agent matched and the
	// caller should fall back to its default.
	Score int
}

// Classifier scores messages against the active agents' keyword profiles.
type Classifier struct {
	repo   AgentSource
	logger *slog.Logger
}

// New creates a classifier backed by the agent repository.
func New(repo AgentSource, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{repo: repo, logger: logger}
}

// Classify scores message against every active agent and returns the best
// match. A Result with a nil Agent means nothing matched.
func (c *Classifier) Classify(ctx context.Context, message string) (Result, error) {
	agents, err := c.repo.ListAgents(ctx, true)
	if err != nil {
		return Result{}, fmt.Errorf("list agents for classification: %w", err)
	}

	words := tokenize(message)
	var best Result
	for _, agent := range agents {
		score := keywordScore(words, message, agent.KeywordList())
		if score > best.Score {
			best = Result{Agent: agent, Score: score}
		}
	}

	if best.Agent != nil {
		c.logger.Debug("message classified",
			"agent_id", best.Agent.ID, "agent", best.Agent.Name, "score", best.Score)
	}
	return best, nil
}

// keywordScore counts keyword hits. Single-word keywords must match a whole
// token; multi-word keywords match as a substring of the full message.
func keywordScore(words map[string]struct{}, message string, keywords []string) int {
	lowered := strings.ToLower(message)
	score := 0
	for _, kw := range keywords {
		if strings.ContainsRune(kw, ' ') {
			if strings.Contains(lowered, kw) {
				score += 2 // phrase matches are stronger signals
			}
			continue
		}
		if _, ok := words[kw]; ok {
			score++
		}
	}
	return score
}

// tokenize lowercases and splits a message on non-letter, non-digit runes.
func tokenize(message string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}
