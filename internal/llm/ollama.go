package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/campuschat/campuschat/internal/config"
)

// OllamaProvider streams chat completions from a local Ollama daemon. It is
// the development fallback when no Groq key is configured.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// NewOllamaProvider builds an Ollama-backed provider.
func NewOllamaProvider(cfg config.LLMConfig, logger *slog.Logger) *OllamaProvider {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute // local models are slow on first load
	}
	return &OllamaProvider{
		baseURL: strings.TrimSuffix(cfg.OllamaBaseURL, "/"),
		model:   cfg.OllamaModel,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Name implements Provider.
func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Stream issues a streaming /api/chat request and yields the message
// fragments from the newline-delimited JSON response.
func (p *OllamaProvider) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		options := map[string]any{}
		if req.MaxTokens > 0 {
			options["num_predict"] = req.MaxTokens
		}
		if req.Temperature > 0 {
			options["temperature"] = req.Temperature
		}

		payload, err := json.Marshal(ollamaRequest{
			Model:    p.model,
			Messages: prompt(req),
			Stream:   true,
			Options:  options,
		})
		if err != nil {
			yield("", fmt.Errorf("marshal ollama request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			p.baseURL+"/api/chat", bytes.NewReader(payload))
		if err != nil {
			yield("", fmt.Errorf("build ollama request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(httpReq)
		if err != nil {
			yield("", fmt.Errorf("ollama request failed: %w", err))
			return
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				p.logger.Debug("failed to close ollama response body", "error", closeErr)
			}
		}()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			yield("", fmt.Errorf("%w: ollama status %d: %s",
				ErrProviderResponse, resp.StatusCode, strings.TrimSpace(string(snippet))))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}

			var chunk ollamaChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				p.logger.Warn("skipping malformed ollama chunk", "error", err)
				continue
			}
			if chunk.Error != "" {
				yield("", fmt.Errorf("%w: %s", ErrProviderResponse, chunk.Error))
				return
			}
			if chunk.Message.Content != "" {
				if !yield(chunk.Message.Content, nil) {
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("ollama stream error: %w", err))
		}
	}
}
