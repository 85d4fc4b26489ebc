package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/campuschat/campuschat/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func collect(t *testing.T, p Provider, req Request) (string, error) {
	t.Helper()
	var sb strings.Builder
	for fragment, err := range p.Stream(context.Background(), req) {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(fragment)
	}
	return sb.String(), nil
}

func TestNewSelectsProvider(t *testing.T) {
	t.Parallel()

	if _, err := New(config.LLMConfig{Provider: "groq", GroqAPIKey: "k"}, testLogger()); err != nil {
		t.Errorf("New(groq) = %v", err)
	}
	if _, err := New(config.LLMConfig{Provider: "groq"}, testLogger()); err == nil {
		t.Error("New(groq) without api key should fail")
	}
	if _, err := New(config.LLMConfig{Provider: "ollama"}, testLogger()); err != nil {
		t.Errorf("New(ollama) = %v", err)
	}
	if _, err := New(config.LLMConfig{Provider: "carrier-pigeon"}, testLogger()); err == nil {
		t.Error("New with an unknown provider should fail")
	}
}

func TestGroqStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"stream":true`) {
			t.Error("request should ask for streaming")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hola\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" mundo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := NewGroqProvider(config.LLMConfig{
		GroqAPIKey:  "test-key",
		GroqBaseURL: srv.URL,
		GroqModel:   "llama-3.1-8b-instant",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewGroqProvider() = %v", err)
	}

	got, err := collect(t, p, Request{Messages: []Message{{Role: "user", Content: "hola"}}})
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != "Hola mundo" {
		t.Errorf("streamed %q, want %q", got, "Hola mundo")
	}
}

func TestGroqStreamSkipsMalformedChunks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: not json at all\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	p, err := NewGroqProvider(config.LLMConfig{GroqAPIKey: "k", GroqBaseURL: srv.URL}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	got, err := collect(t, p, Request{})
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != "ok" {
		t.Errorf("streamed %q, want %q", got, "ok")
	}
}

func TestGroqStreamNonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := NewGroqProvider(config.LLMConfig{GroqAPIKey: "bad", GroqBaseURL: srv.URL}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	_, err = collect(t, p, Request{})
	if !errors.Is(err, ErrProviderResponse) {
		t.Errorf("stream error = %v, want ErrProviderResponse", err)
	}
}

func TestOllamaStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, "{\"message\":{\"content\":\"Buenos\"},\"done\":false}\n")
		fmt.Fprint(w, "{\"message\":{\"content\":\" días\"},\"done\":false}\n")
		fmt.Fprint(w, "{\"message\":{\"content\":\"\"},\"done\":true}\n")
	}))
	defer srv.Close()

	p := NewOllamaProvider(config.LLMConfig{OllamaBaseURL: srv.URL, OllamaModel: "llama3"}, testLogger())
	got, err := collect(t, p, Request{Messages: []Message{{Role: "user", Content: "hola"}}})
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != "Buenos días" {
		t.Errorf("streamed %q, want %q", got, "Buenos días")
	}
}

func TestOllamaStreamBackendError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{\"error\":\"model not found\"}\n")
	}))
	defer srv.Close()

	p := NewOllamaProvider(config.LLMConfig{OllamaBaseURL: srv.URL}, testLogger())
	_, err := collect(t, p, Request{})
	if !errors.Is(err, ErrProviderResponse) {
		t.Errorf("stream error = %v, want ErrProviderResponse", err)
	}
}

func TestPromptPlacesSystemFirst(t *testing.T) {
	t.Parallel()

	msgs := prompt(Request{
		System:   "eres un asistente",
		Messages: []Message{{Role: "user", Content: "hola"}},
	})
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Errorf("prompt() = %+v", msgs)
	}
}
