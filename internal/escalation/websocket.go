package escalation

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/campuschat/campuschat/internal/domain"
	"github.com/campuschat/campuschat/internal/store"
)

// WebSocketHandler serves /ws/chat/{session_id}: the room where the visitor
// widget and the operator console exchange messages after an escalation.
type WebSocketHandler struct {
	repo          store.Repository
	hub           *Hub
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewWebSocketHandler creates the escalation WebSocket endpoint.
func NewWebSocketHandler(repo store.Repository, hub *Hub, allowedOrigin string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		repo:          repo,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeHTTP upgrades the connection and runs the room protocol until the
// peer disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conv, err := h.repo.GetConversation(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to load conversation", "session_id", sessionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if conv == nil || !conv.IsEscalated() {
		http.Error(w, "conversation is not escalated", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept websocket", "session_id", sessionID, "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The first frame must be a join declaring who this is.
	participant, err := h.awaitJoin(ctx, ws)
	if err != nil {
		h.logger.Warn("websocket join failed", "session_id", sessionID, "error", err)
		return
	}

	h.hub.Join(sessionID, participant)
	defer h.hub.Leave(sessionID, ws)
	h.announceJoin(ctx, sessionID, participant)

	h.readLoop(ctx, sessionID, participant)
	h.logger.Info("escalation connection ended", "session_id", sessionID, "role", participant.Role)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) awaitJoin(ctx context.Context, ws *websocket.Conn) (*Participant, error) {
	joinCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, data, err := ws.Read(joinCtx)
	if err != nil {
		return nil, err
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	if frame.Type != frameJoin {
		return nil, errUnexpectedFrame(frame.Type)
	}

	// Operators authenticate upstream and join with a user id; the console
	// historically sends role "human" while broadcasts use "human_agent".
	role := roleVisitor
	if frame.Role == roleOperator || frame.Role == "human" || frame.UserID != 0 {
		role = roleOperator
	}
	return &Participant{
		Conn:     ws,
		Role:     role,
		UserID:   frame.UserID,
		UserName: frame.UserName,
	}, nil
}

// announceJoin notifies the room about the newcomer. An operator join also
// claims the conversation and tells the widget who picked it up.
func (h *WebSocketHandler) announceJoin(ctx context.Context, sessionID string, p *Participant) {
	if p.Role != roleOperator {
		return
	}

	if err := h.repo.UpdateConversationStatus(ctx, sessionID, domain.StatusEscalated, p.UserID, p.UserName); err != nil {
		h.logger.Error("failed to assign operator", "session_id", sessionID, "error", err)
	}

	h.hub.Broadcast(ctx, sessionID, p.Conn, Frame{
		Type:     frameJoined,
		UserID:   p.UserID,
		UserName: p.UserName,
	})
	h.hub.Broadcast(ctx, sessionID, p.Conn, Frame{
		Type:            frameEscInfo,
		Escalado:        true,
		UsuarioAsignado: p.UserID,
		UsuarioNombre:   p.UserName,
	})
}

func (h *WebSocketHandler) readLoop(ctx context.Context, sessionID string, p *Participant) {
	for {
		_, data, err := p.Conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("websocket closed by peer", "session_id", sessionID)
			} else if ctx.Err() == nil {
				h.logger.Warn("websocket read error", "session_id", sessionID, "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Warn("skipping malformed frame", "session_id", sessionID, "error", err)
			continue
		}

		switch frame.Type {
		case frameMessage:
			h.handleMessage(ctx, sessionID, p, frame)
		case frameTyping:
			h.hub.Broadcast(ctx, sessionID, p.Conn, Frame{
				Type:     frameTyping,
				Role:     p.Role,
				UserName: p.UserName,
				IsTyping: frame.IsTyping,
			})
		case frameResolved:
			if p.Role == roleOperator {
				h.resolve(ctx, sessionID, p)
				return
			}
		default:
			h.logger.Debug("ignoring unknown frame", "session_id", sessionID, "type", frame.Type)
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, sessionID string, p *Participant, frame Frame) {
	role := domain.RoleUser
	if p.Role == roleOperator {
		role = domain.RoleHumanAgent
	}

	var userID string
	if p.UserID != 0 {
		userID = strconv.FormatInt(p.UserID, 10)
	}
	msg := domain.ChatMessage{
		Role:      role,
		Content:   frame.Content,
		UserID:    userID,
		UserName:  p.UserName,
		Timestamp: time.Now().UTC(),
	}
	if err := h.repo.AppendMessage(ctx, sessionID, msg); err != nil {
		h.logger.Error("failed to persist message", "session_id", sessionID, "error", err)
	}

	h.hub.Broadcast(ctx, sessionID, p.Conn, Frame{
		Type:     frameMessage,
		Role:     p.Role,
		Content:  frame.Content,
		UserID:   p.UserID,
		UserName: p.UserName,
	})
}

// resolve closes the conversation on the operator's request and disconnects
// the room.
func (h *WebSocketHandler) resolve(ctx context.Context, sessionID string, p *Participant) {
	if err := h.repo.UpdateConversationStatus(ctx, sessionID, domain.StatusResolved, p.UserID, p.UserName); err != nil {
		h.logger.Error("failed to resolve conversation", "session_id", sessionID, "error", err)
	}
	h.hub.Broadcast(ctx, sessionID, nil, Frame{
		Type:    frameMessage,
		Role:    string(domain.RoleSystem),
		Content: "La conversación fue marcada como resuelta.",
	})
	h.hub.CloseRoom(sessionID)
}

type errUnexpectedFrame string

func (e errUnexpectedFrame) Error() string {
	return "expected join frame, got " + string(e)
}
