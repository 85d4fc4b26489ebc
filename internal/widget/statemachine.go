package widget

import (
	"strings"
)

// Phase is the per-turn lifecycle of the controller.
type Phase int

const (
	// PhaseIdle means no turn is in flight.
	PhaseIdle Phase = iota
	// PhaseSending means a request was issued but no event has arrived yet.
	PhaseSending
	// PhaseStreaming means events are arriving.
	PhaseStreaming
	// PhaseCompleted means the turn finished with a done event.
	PhaseCompleted
	// PhaseEscalated means the conversation was handed to a human operator.
	PhaseEscalated
	// PhaseFailed means the turn ended with an error.
	PhaseFailed
)

// Mode selects how outbound messages are routed.
type Mode int

const (
	// ModeAuto lets the backend classify the agent per question.
	ModeAuto Mode = iota
	// ModeAgentSelected pins a user-chosen agent.
	ModeAgentSelected
	// ModeEscalated routes everything through the escalation channel.
	ModeEscalated
)

// State is the controller's event-sourced state. Transition is a pure
// function over it; all side effects are returned as an Effect list so the
// machine is testable without any I/O.
type State struct {
	Phase           Phase
	Mode            Mode
	SelectedAgentID int64
	SessionID       string

	// Per-turn streaming state.
	Buffer    string
	HasTarget bool

	// Escalation handoff captured from the escalation event.
	NewSessionID   string
	EscalationName string
}

// EffectKind enumerates the side effects a transition can request.
type EffectKind int

const (
	// EffectClearLoading hides the loading indicator.
	EffectClearLoading EffectKind = iota
	// EffectBeginMessage lazily creates the render target for this turn.
	EffectBeginMessage
	// EffectAppendToken appends a text fragment to the render target.
	EffectAppendToken
	// EffectFinalizeMessage re-renders the target with full formatting.
	EffectFinalizeMessage
	// EffectShowStatus displays a transient progress notice.
	EffectShowStatus
	// EffectShowSources displays the retrieved-context summary.
	EffectShowSources
	// EffectShowNotice displays an informational bot/system message.
	EffectShowNotice
	// EffectShowError displays an error banner.
	EffectShowError
	// EffectLogClassification records which agent was auto-selected.
	EffectLogClassification
	// EffectPersistSession stores a server-provided replacement session id.
	EffectPersistSession
	// EffectOpenChannel opens the escalation channel.
	EffectOpenChannel
	// EffectSpeak reads the finished reply aloud.
	EffectSpeak
)

// Effect is one requested side effect, with the payload its kind needs.
type Effect struct {
	Kind      EffectKind
	Text      string
	AgentID   int64
	Stateless bool
	SessionID string
	AgentName string
}

// agentSelectionHint identifies the server error that means "pick an
// explicit agent". It is rendered as an informational bot message rather
// than an error banner.
const agentSelectionHint = "select an agent"

// Transition applies one stream event to the state and returns the new
// state plus the side effects to perform. Frames whose session id does not
// match the active session are discarded (stale-stream protection), and no
// event is processed after escalation — the channel owns delivery from then
// on.
func Transition(s State, ev StreamEvent) (State, []Effect) {
	if ev.SessionID != "" && s.SessionID != "" && ev.SessionID != s.SessionID {
		return s, nil
	}
	if s.Phase == PhaseEscalated {
		return s, nil
	}

	var effects []Effect

	// The loading indicator is cleared only once real work is visible:
	// the first token, context, or terminal event. Response headers and
	// status chatter arrive before any generation happens.
	clearsLoading := false
	switch ev.Type {
	case EventToken, EventContext, EventDone, EventError, EventEscalation:
		clearsLoading = true
	}
	if s.Phase == PhaseSending {
		s.Phase = PhaseStreaming
	}
	if clearsLoading {
		effects = append(effects, Effect{Kind: EffectClearLoading})
	}

	switch ev.Type {
	case EventStatus:
		effects = append(effects, Effect{Kind: EffectShowStatus, Text: ev.Content})

	case EventContext:
		effects = append(effects, Effect{Kind: EffectShowSources, Text: ev.Content})

	case EventClassification:
		// Informational only. A stateless classification is scoped to this
		// turn and never persisted into the selected agent.
		effects = append(effects, Effect{
			Kind:      EffectLogClassification,
			AgentID:   ev.AgentID,
			Stateless: ev.Stateless,
		})

	case EventToken:
		if !s.HasTarget {
			s.HasTarget = true
			effects = append(effects, Effect{Kind: EffectBeginMessage})
		}
		s.Buffer += ev.Content
		effects = append(effects, Effect{Kind: EffectAppendToken, Text: ev.Content})

	case EventConfirmation:
		effects = append(effects, Effect{Kind: EffectShowNotice, Text: ev.Content})

	case EventDone:
		s.Phase = PhaseCompleted
		if s.HasTarget {
			effects = append(effects,
				Effect{Kind: EffectFinalizeMessage, Text: s.Buffer},
				Effect{Kind: EffectSpeak, Text: s.Buffer},
			)
		}

	case EventError:
		s.Phase = PhaseFailed
		if strings.Contains(strings.ToLower(ev.Content), agentSelectionHint) {
			effects = append(effects, Effect{Kind: EffectShowNotice, Text: ev.Content})
		} else {
			effects = append(effects, Effect{Kind: EffectShowError, Text: ev.Content})
		}

	case EventEscalation:
		s.Phase = PhaseEscalated
		s.Mode = ModeEscalated
		s.NewSessionID = ev.NewSessionID
		s.EscalationName = ev.Metadata.AgentName
		if ev.NewSessionID != "" {
			s.SessionID = ev.NewSessionID
		}
		if s.HasTarget {
			// Whatever streamed so far stays as the last bot output.
			effects = append(effects, Effect{Kind: EffectFinalizeMessage, Text: s.Buffer})
		}
		if ev.Content != "" {
			effects = append(effects, Effect{Kind: EffectShowNotice, Text: ev.Content})
		}
		effects = append(effects,
			Effect{Kind: EffectPersistSession, SessionID: s.SessionID},
			Effect{Kind: EffectOpenChannel, SessionID: s.SessionID, AgentName: ev.Metadata.AgentName},
		)
	}

	return s, effects
}

// resetTurn clears per-turn streaming state before a fresh attempt so no
// partial output from a failed attempt leaks into the next one.
func (s State) resetTurn() State {
	s.Buffer = ""
	s.HasTarget = false
	s.Phase = PhaseSending
	return s
}
