package chat

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campuschat/campuschat/internal/config"
)

func newTestHandler(t *testing.T, provider scriptedProvider, rl config.RateLimitConfig) (*chi.Mux, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	svc := newTestService(t, repo, provider)
	if rl.RequestsPerWindow == 0 {
		rl = config.RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute}
	}
	h := NewHandler(svc, rl, slog.New(slog.DiscardHandler))
	r := chi.NewRouter()
	h.Mount(r)
	return r, repo
}

func postChat(t *testing.T, r http.Handler, path string, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeFrames(t *testing.T, body string) []Event {
	t.Helper()
	var out []Event
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("undecodable frame %q: %v", line, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestHandlerAutoStream(t *testing.T) {
	t.Parallel()

	r, _ := newTestHandler(t, scriptedProvider{fragments: []string{"abre ", "a las 8"}}, config.RateLimitConfig{})

	rec := postChat(t, r, "/chat/auto/stream", map[string]any{
		"message":    "horario de la biblioteca",
		"session_id": "web-h1",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	events := decodeFrames(t, rec.Body.String())
	if len(events) == 0 {
		t.Fatal("no frames decoded")
	}
	if events[len(events)-1].Type != eventDone {
		t.Errorf("last frame = %+v, want done", events[len(events)-1])
	}
	var text strings.Builder
	for _, ev := range events {
		if ev.Type == eventToken {
			text.WriteString(ev.Content)
		}
	}
	if text.String() != "abre a las 8" {
		t.Errorf("assembled answer = %q", text.String())
	}
}

func TestHandlerValidation(t *testing.T) {
	t.Parallel()

	r, _ := newTestHandler(t, scriptedProvider{fragments: []string{"ok"}}, config.RateLimitConfig{})

	cases := []struct {
		name    string
		path    string
		payload map[string]any
	}{
		{"missing message", "/chat/auto/stream", map[string]any{"session_id": "web-v1"}},
		{"blank message", "/chat/auto/stream", map[string]any{"message": "   ", "session_id": "web-v1"}},
		{"missing session", "/chat/auto/stream", map[string]any{"message": "hola"}},
		{"agent endpoint without agent_id", "/chat/agent/stream", map[string]any{"message": "hola", "session_id": "web-v1"}},
		{"oversized message", "/chat/auto/stream", map[string]any{
			"message": strings.Repeat("a", maxMessageLength+1), "session_id": "web-v1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postChat(t, r, tc.path, tc.payload)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandlerMalformedBody(t *testing.T) {
	t.Parallel()

	r, _ := newTestHandler(t, scriptedProvider{fragments: []string{"ok"}}, config.RateLimitConfig{})

	req := httptest.NewRequest(http.MethodPost, "/chat/auto/stream", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandlerAutoIgnoresAgentID(t *testing.T) {
	t.Parallel()

	r, _ := newTestHandler(t, scriptedProvider{fragments: []string{"ok"}}, config.RateLimitConfig{})

	// A stale selection sent to the auto endpoint must not pin routing.
	rec := postChat(t, r, "/chat/auto/stream", map[string]any{
		"message":    "préstamo de un libro en la biblioteca",
		"session_id": "web-h2",
		"agent_id":   1,
	})

	events := decodeFrames(t, rec.Body.String())
	found := false
	for _, ev := range events {
		if ev.Type == eventClassification {
			found = true
			if ev.AgentID != 2 {
				t.Errorf("classification agent = %d, want 2", ev.AgentID)
			}
		}
	}
	if !found {
		t.Fatalf("no classification frame in %v", eventTypes(events))
	}
}

func TestHandlerRateLimit(t *testing.T) {
	t.Parallel()

	r, _ := newTestHandler(t, scriptedProvider{fragments: []string{"ok"}},
		config.RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})

	payload := map[string]any{"message": "hola", "session_id": "web-h3", "agent_id": 1}
	for i := 0; i < 2; i++ {
		if rec := postChat(t, r, "/chat/agent/stream", payload); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}
	rec := postChat(t, r, "/chat/agent/stream", payload)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("429 body is not JSON: %v", err)
	}
	if resp["error"] == "" {
		t.Error("429 body has no error message")
	}
}

func TestHandlerEscalationFlow(t *testing.T) {
	t.Parallel()

	r, repo := newTestHandler(t, scriptedProvider{fragments: []string{"nunca"}}, config.RateLimitConfig{})

	rec := postChat(t, r, "/chat/auto/stream", map[string]any{
		"message":    "quiero hablar con una persona",
		"session_id": "web-h4",
	})
	events := decodeFrames(t, rec.Body.String())
	if len(events) == 0 || events[0].Type != eventConfirmation {
		t.Fatalf("intent turn frames = %v, want confirmation first", eventTypes(events))
	}

	rec = postChat(t, r, "/chat/auto/stream", map[string]any{
		"message":    "sí",
		"session_id": "web-h4",
	})
	events = decodeFrames(t, rec.Body.String())
	if len(events) != 1 || events[0].Type != eventEscalation {
		t.Fatalf("affirmative turn frames = %v, want one escalation", eventTypes(events))
	}
	newID := events[0].NewSessionID
	if !strings.HasPrefix(newID, "esc-") {
		t.Errorf("NewSessionID = %q, want an esc- id", newID)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if got := repo.renamed["web-h4"]; got != newID {
		t.Errorf("conversation re-keyed to %q, frame says %q", got, newID)
	}
}

func TestWriteFrameFormat(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	if err := writeFrame(rec, Event{Type: eventToken, SessionID: "s", Content: "hola"}); err != nil {
		t.Fatal(err)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: {") || !strings.HasSuffix(body, "}\n\n") {
		t.Errorf("frame = %q, want data-prefixed JSON with a blank-line terminator", body)
	}
	var ev Event
	if err := json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(body, "data: "), "\n\n")), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Content != "hola" {
		t.Errorf("round-tripped content = %q", ev.Content)
	}
}
