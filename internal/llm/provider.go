// Package llm abstracts the text-generation backends the chat service can
// stream from. Providers yield response fragments as they arrive so the
// HTTP layer can forward them without buffering whole completions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/campuschat/campuschat/internal/config"
)

// ErrProviderResponse marks an error reported by the generation backend
// itself, as opposed to a transport failure.
var ErrProviderResponse = errors.New("provider returned error")

// Message is one entry of the prompt conversation.
type Message struct {
	Role    string `json:"role"` // system, user, or assistant
	Content string `json:"content"`
}

// Request describes one generation call.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Provider streams completions from a text-generation backend.
type Provider interface {
	// Name identifies the backend in logs and health output.
	Name() string

	// Stream yields response fragments in order. The sequence ends after
	// the final fragment or after yielding a non-nil error; callers must
	// stop ranging on error.
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// New builds the provider selected in the configuration.
func New(cfg config.LLMConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "groq":
		return NewGroqProvider(cfg, logger)
	case "ollama":
		return NewOllamaProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// prompt assembles the wire-format message list, placing the system prompt
// first when present.
func prompt(req Request) []Message {
	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	return append(msgs, req.Messages...)
}
