package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/campuschat/campuschat/internal/config"
)

// GroqProvider streams chat completions from Groq's OpenAI-compatible API.
type GroqProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// NewGroqProvider validates the Groq configuration and builds a provider.
func NewGroqProvider(cfg config.LLMConfig, logger *slog.Logger) (*GroqProvider, error) {
	if cfg.GroqAPIKey == "" {
		return nil, errors.New("groq provider requires GROQ_API_KEY")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &GroqProvider{
		baseURL: strings.TrimSuffix(cfg.GroqBaseURL, "/"),
		apiKey:  cfg.GroqAPIKey,
		model:   cfg.GroqModel,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Name implements Provider.
func (p *GroqProvider) Name() string { return "groq" }

type groqRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

type groqChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Stream issues a streaming chat-completions request and yields the content
// deltas in arrival order.
func (p *GroqProvider) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		payload, err := json.Marshal(groqRequest{
			Model:       p.model,
			Messages:    prompt(req),
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Stream:      true,
		})
		if err != nil {
			yield("", fmt.Errorf("marshal groq request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			p.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			yield("", fmt.Errorf("build groq request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			yield("", fmt.Errorf("groq request failed: %w", err))
			return
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				p.logger.Debug("failed to close groq response body", "error", closeErr)
			}
		}()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			yield("", fmt.Errorf("%w: groq status %d: %s",
				ErrProviderResponse, resp.StatusCode, strings.TrimSpace(string(snippet))))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk groqChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				p.logger.Warn("skipping malformed groq chunk", "error", err)
				continue
			}
			if chunk.Error != nil {
				yield("", fmt.Errorf("%w: %s", ErrProviderResponse, chunk.Error.Message))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
			if chunk.Choices[0].FinishReason != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("groq stream error: %w", err))
		}
	}
}
