package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campuschat/campuschat/internal/config"
	"github.com/campuschat/campuschat/internal/identity"
)

// maxRequestBodySize bounds chat request bodies (64KB is generous for one
// message).
const maxRequestBodySize = 64 << 10

// maxMessageLength bounds one user message in runes.
const maxMessageLength = 4000

// Handler exposes the streaming chat endpoints.
type Handler struct {
	service     *Service
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// NewHandler creates the chat HTTP handler.
func NewHandler(service *Service, rl config.RateLimitConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:     service,
		rateLimiter: NewRateLimiter(rl.RequestsPerWindow, rl.WindowDuration),
		logger:      logger,
	}
}

// Mount registers the chat routes on a router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/chat/auto/stream", h.handleAutoStream)
	r.Post("/chat/agent/stream", h.handleAgentStream)
}

// handleAutoStream runs a turn with automatic agent routing.
func (h *Handler) handleAutoStream(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, false)
}

// handleAgentStream runs a turn against an explicitly selected agent.
func (h *Handler) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, true)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, requireAgent bool) {
	req, ok := h.decodeRequest(w, r, requireAgent)
	if !ok {
		return
	}

	visitorID := identity.VisitorIDFromContext(r.Context())
	req.VisitorID = visitorID
	limitKey := visitorID
	if limitKey == "" {
		limitKey = identity.IPFromRequest(r)
	}
	if !h.rateLimiter.Allow(limitKey) {
		h.logger.Warn("chat request rate limited", "visitor_id", visitorID)
		writeJSONError(w, http.StatusTooManyRequests, "too many requests, slow down")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	h.logger.Info("chat turn started",
		"session_id", req.SessionID, "visitor_id", visitorID,
		"agent_id", req.AgentID, "message_length", len(req.Message))

	for ev := range h.service.Stream(r.Context(), req) {
		if err := writeFrame(w, ev); err != nil {
			h.logger.Warn("client went away mid-stream",
				"session_id", req.SessionID, "error", err)
			return
		}
		flusher.Flush()
	}
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request, requireAgent bool) (TurnRequest, bool) {
	var req TurnRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return TurnRequest{}, false
	}

	req.Message = strings.TrimSpace(req.Message)
	switch {
	case req.Message == "":
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return TurnRequest{}, false
	case len([]rune(req.Message)) > maxMessageLength:
		writeJSONError(w, http.StatusBadRequest, "message too long")
		return TurnRequest{}, false
	case req.SessionID == "":
		writeJSONError(w, http.StatusBadRequest, "session_id is required")
		return TurnRequest{}, false
	case requireAgent && req.AgentID == 0:
		writeJSONError(w, http.StatusBadRequest, "agent_id is required")
		return TurnRequest{}, false
	case !requireAgent:
		// The auto endpoint routes for itself.
		req.AgentID = 0
	}
	return req, true
}

// writeFrame emits one line-delimited frame in the stream format the widget
// decodes.
func writeFrame(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}
	return nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
