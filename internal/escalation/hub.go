// Package escalation hands a chat session from the bot to a human operator:
// intent detection, the confirmation handshake, session re-keying, and the
// WebSocket room both sides meet in afterwards.
package escalation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Participant is one WebSocket member of an escalated conversation.
type Participant struct {
	Conn *websocket.Conn
	// Role distinguishes the visitor from operators; operators carry a
	// user id and display name.
	Role     string
	UserID   int64
	UserName string
}

// Hub tracks the live WebSocket rooms, one per escalated session. Writes go
// out under the hub lock so a frame is never interleaved mid-connection.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*websocket.Conn]*Participant
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[*websocket.Conn]*Participant),
		logger: logger,
	}
}

// Join adds a participant to a session room, creating the room on first
// join.
func (h *Hub) Join(sessionID string, p *Participant) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*websocket.Conn]*Participant)
		h.rooms[sessionID] = room
	}
	room[p.Conn] = p
	h.logger.Info("participant joined escalation room",
		"session_id", sessionID, "role", p.Role, "user_name", p.UserName)
}

// Leave removes a participant, deleting the room when it empties.
func (h *Hub) Leave(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	if _, exists := room[conn]; exists {
		delete(room, conn)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
		h.logger.Info("participant left escalation room", "session_id", sessionID)
	}
}

// Broadcast sends a frame to every participant in the room except the
// sender. Write failures only log; the read loop of the dead connection
// handles its removal.
func (h *Hub) Broadcast(ctx context.Context, sessionID string, except *websocket.Conn, frame Frame) {
	payload, err := frame.marshal()
	if err != nil {
		h.logger.Error("failed to marshal broadcast frame", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.rooms[sessionID] {
		if conn == except {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			h.logger.Debug("failed to deliver frame", "session_id", sessionID, "error", err)
		}
	}
}

// Operator returns the first operator participant in the room, or nil.
func (h *Hub) Operator(sessionID string) *Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.rooms[sessionID] {
		if p.Role == roleOperator {
			return p
		}
	}
	return nil
}

// RoomSize returns the number of participants in a session room.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// CloseRoom disconnects every participant of a session.
func (h *Hub) CloseRoom(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	for conn := range room {
		if err := conn.Close(websocket.StatusNormalClosure, "conversation closed"); err != nil {
			h.logger.Debug("failed to close room connection", "error", err)
		}
	}
	delete(h.rooms, sessionID)
	h.logger.Info("escalation room closed", "session_id", sessionID)
}
