//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/campuschat/campuschat/internal/domain"
	"github.com/campuschat/campuschat/internal/escalation"
	"github.com/campuschat/campuschat/internal/store"
)

// Handler serves the non-streaming JSON endpoints: agent discovery for the
// widget and conversation views for the operator console.
type Handler struct {
	repo   store.Repository
	hub    *escalation.Hub
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, hub *escalation.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, hub: hub, logger: logger}
}

// Mount registers the API routes on a router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/api/health", h.handleHealth)
	r.Get("/api/agents", h.handleListAgents)
	r.Get("/api/agents/{id}/welcome", h.handleAgentWelcome)
	r.Get("/api/conversations/{session_id}", h.handleGetConversation)
	r.Get("/api/escalations", h.handleListEscalations)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.repo.ListAgents(r.Context(), true)
	if err != nil {
		h.logger.Error("failed to list agents", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	if agents == nil {
		agents = []*domain.VirtualAgent{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}

func (h *Handler) handleAgentWelcome(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		Error(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	agent, err := h.repo.GetAgent(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load agent", "agent_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load agent")
		return
	}
	if agent == nil || !agent.Active {
		Error(w, http.StatusNotFound, "agent not found")
		return
	}

	welcome := agent.WelcomeMessage
	if welcome == "" {
		welcome = "Hola, soy " + agent.Name + ". ¿En qué puedo ayudarte?"
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"agent_id": agent.ID,
		"name":     agent.Name,
		"welcome":  welcome,
	})
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		Error(w, http.StatusBadRequest, "session_id is required")
		return
	}

	conv, err := h.repo.GetConversation(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to load conversation", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	JSON(w, http.StatusOK, conv)
}

// handleListEscalations backs the operator console inbox. pending=true
// filters to rooms no operator has claimed yet; the live participant count
// comes from the hub.
func (h *Handler) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	pendingOnly := r.URL.Query().Get("pending") == "true"

	convs, err := h.repo.ListEscalated(r.Context(), pendingOnly)
	if err != nil {
		h.logger.Error("failed to list escalations", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list escalations")
		return
	}

	type escalationView struct {
		SessionID    string `json:"session_id"`
		Status       string `json:"status"`
		AssignedName string `json:"assigned_name,omitempty"`
		Participants int    `json:"participants"`
	}
	views := make([]escalationView, 0, len(convs))
	for _, conv := range convs {
		participants := 0
		if h.hub != nil {
			participants = h.hub.RoomSize(conv.SessionID)
		}
		views = append(views, escalationView{
			SessionID:    conv.SessionID,
			Status:       string(conv.Status),
			AssignedName: conv.AssignedName,
			Participants: participants,
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"escalations": views})
}
