package escalation

import (
	"encoding/json"
	"time"
)

// Frame types on the escalation WebSocket.
const (
	frameJoin     = "join"
	frameMessage  = "message"
	frameTyping   = "typing"
	frameJoined   = "user_joined"
	frameEscInfo  = "escalamiento_info"
	frameResolved = "resolved"
)

// Participant roles.
const (
	roleVisitor  = "user"
	roleOperator = "human_agent"
)

// Frame is one WebSocket message between the widget, the server, and the
// operator console.
type Frame struct {
	Type     string `json:"type"`
	Role     string `json:"role,omitempty"`
	Content  string `json:"content,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`

	// escalamiento_info
	Escalado        bool   `json:"escalado,omitempty"`
	UsuarioAsignado int64  `json:"usuario_asignado,omitempty"`
	UsuarioNombre   string `json:"usuario_nombre,omitempty"`

	Timestamp string `json:"timestamp,omitempty"`
}

func (f Frame) marshal() ([]byte, error) {
	if f.Timestamp == "" {
		f.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return json.Marshal(f)
}
