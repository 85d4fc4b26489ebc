package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// Outbound frame types on the escalation channel.
const (
	frameJoin    = "join"
	frameMessage = "message"
	frameTyping  = "typing"
)

// ChannelFrame is one message on the escalation channel, in either
// direction. Inbound types: message, typing, user_joined, escalamiento_info.
type ChannelFrame struct {
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

// Channel is a bidirectional persistent connection to a human operator,
// keyed by session id. Once open it owns message delivery; the streaming
// path is bypassed entirely. No timeouts apply here — the channel's lifetime
// is managed by whoever opened it.
type Channel interface {
	// Send delivers an outbound frame.
	Send(ctx context.Context, frame ChannelFrame) error
	// Events yields inbound frames until the channel closes.
	Events() <-chan ChannelFrame
	// Close tears the connection down.
	Close() error
}

// ChannelFactory opens escalation channels. Injected so tests can substitute
// an in-memory channel.
type ChannelFactory interface {
	Dial(ctx context.Context, sessionID string) (Channel, error)
}

// WebSocketChannelFactory dials the backend's /ws/chat/{session_id}
// endpoint.
type WebSocketChannelFactory struct {
	BaseURL string // e.g. "http://localhost:8080"
	Logger  *slog.Logger
}

// Dial opens the channel and announces the visitor with a join frame.
func (f *WebSocketChannelFactory) Dial(ctx context.Context, sessionID string) (Channel, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	wsURL, err := channelURL(f.BaseURL, sessionID)
	if err != nil {
		return nil, err
	}

	//nolint:bodyclose // coder/websocket owns the hijacked response body.
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial escalation channel: %w", err)
	}

	ch := &wsChannel{
		conn:   conn,
		events: make(chan ChannelFrame, 16),
		logger: logger,
	}
	go ch.readLoop()

	if err := ch.Send(ctx, ChannelFrame{Type: frameJoin, Role: "user"}); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("join escalation channel: %w", err)
	}

	logger.Info("escalation channel open", "session_id", sessionID)
	return ch, nil
}

func channelURL(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse channel base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/chat/" + url.PathEscape(sessionID)
	return u.String(), nil
}

type wsChannel struct {
	conn   *websocket.Conn
	events chan ChannelFrame
	logger *slog.Logger
}

func (c *wsChannel) Send(ctx context.Context, frame ChannelFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal channel frame: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write channel frame: %w", err)
	}
	return nil
}

func (c *wsChannel) Events() <-chan ChannelFrame {
	return c.events
}

func (c *wsChannel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "channel closed")
}

func (c *wsChannel) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				c.logger.Debug("escalation channel read ended", "error", err)
			}
			return
		}

		var frame ChannelFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			// One malformed frame never kills the channel.
			c.logger.Warn("skipping malformed channel frame", "error", err)
			continue
		}
		c.events <- frame
	}
}
