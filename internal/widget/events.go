// Package widget implements the streaming chat session client used by the
// support widget: session lifecycle, frame decoding, stall detection, retry,
// and the handoff from bot streaming to the human-agent channel.
package widget

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates the streaming frames the chat endpoint emits.
type EventType string

const (
	// EventStatus is a progress notice ("selecting agent...").
	EventStatus EventType = "status"
	// EventContext reports the retrieved documents backing the answer.
	EventContext EventType = "context"
	// EventClassification reports which agent was auto-selected.
	EventClassification EventType = "classification"
	// EventToken carries one text fragment of the answer.
	EventToken EventType = "token"
	// EventDone terminates a successful stream.
	EventDone EventType = "done"
	// EventError terminates a failed stream.
	EventError EventType = "error"
	// EventEscalation hands the conversation to a human operator.
	EventEscalation EventType = "escalation"
	// EventConfirmation asks the user to confirm an escalation.
	EventConfirmation EventType = "confirmation"
)

var knownEventTypes = map[EventType]struct{}{
	EventStatus:         {},
	EventContext:        {},
	EventClassification: {},
	EventToken:          {},
	EventDone:           {},
	EventError:          {},
	EventEscalation:     {},
	EventConfirmation:   {},
}

// EventMetadata carries auxiliary escalation fields.
type EventMetadata struct {
	AgentName string `json:"agent_name,omitempty"`
}

// StreamEvent is one decoded frame from the streaming chat endpoint.
// The Type field selects which of the optional fields are meaningful.
type StreamEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Content   string    `json:"content,omitempty"`

	// classification
	AgentID   int64 `json:"agent_id,omitempty"`
	Stateless bool  `json:"stateless,omitempty"`

	// escalation
	NewSessionID string        `json:"new_session_id,omitempty"`
	Metadata     EventMetadata `json:"metadata,omitempty"`
}

// IsTerminal reports whether the event ends its stream.
func (e StreamEvent) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// parseEvent decodes one frame payload and validates its discriminator.
func parseEvent(payload []byte) (StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return StreamEvent{}, fmt.Errorf("decode frame: %w", err)
	}
	if _, ok := knownEventTypes[ev.Type]; !ok {
		return StreamEvent{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}
