// Package chat runs a complete bot turn: routing, retrieval, generation,
// and the event stream the widget consumes, plus the HTTP endpoints that
// carry it.
package chat

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/campuschat/campuschat/internal/classifier"
	"github.com/campuschat/campuschat/internal/config"
	"github.com/campuschat/campuschat/internal/domain"
	"github.com/campuschat/campuschat/internal/escalation"
	"github.com/campuschat/campuschat/internal/llm"
	"github.com/campuschat/campuschat/internal/rag"
	"github.com/campuschat/campuschat/internal/sessions"
	"github.com/campuschat/campuschat/internal/store"
)

// Event types on the stream, mirrored by the widget decoder.
const (
	eventStatus         = "status"
	eventContext        = "context"
	eventClassification = "classification"
	eventToken          = "token"
	eventDone           = "done"
	eventError          = "error"
	eventEscalation     = "escalation"
	eventConfirmation   = "confirmation"
)

// historyWindow bounds how many transcript messages feed the prompt.
const historyWindow = 10

// Metadata carries auxiliary escalation fields on an event.
type Metadata struct {
	AgentName string `json:"agent_name,omitempty"`
}

// Event is one frame of the streamed response.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`

	AgentID   int64 `json:"agent_id,omitempty"`
	Stateless bool  `json:"stateless,omitempty"`

	NewSessionID string    `json:"new_session_id,omitempty"`
	Metadata     *Metadata `json:"metadata,omitempty"`
}

// TurnRequest is one user message plus its routing parameters.
type TurnRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Origin    string `json:"origin,omitempty"`
	VisitorID string `json:"visitor_id,omitempty"`
	// AgentID pins an explicit agent; zero means automatic routing.
	AgentID int64 `json:"agent_id,omitempty"`
}

// noRouteMessage intentionally tells the widget to offer the agent list.
const noRouteMessage = "I couldn't match your question to a topic. Please select an agent from the list and try again."

// Service executes bot turns.
type Service struct {
	repo       store.Repository
	classify   *classifier.Classifier
	retrieve   *rag.Retriever
	provider   llm.Provider
	escalate   *escalation.Service
	transcript *TranscriptRecorder
	activity   sessions.Tracker
	llmCfg     config.LLMConfig
	logger     *slog.Logger
}

// NewService wires the turn pipeline.
func NewService(
	repo store.Repository,
	classify *classifier.Classifier,
	retrieve *rag.Retriever,
	provider llm.Provider,
	escalate *escalation.Service,
	transcript *TranscriptRecorder,
	activity sessions.Tracker,
	llmCfg config.LLMConfig,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		classify:   classify,
		retrieve:   retrieve,
		provider:   provider,
		escalate:   escalate,
		transcript: transcript,
		activity:   activity,
		llmCfg:     llmCfg,
		logger:     logger,
	}
}

// Stream runs one turn and yields the events to forward, ending with
// exactly one terminal event (done, error, or escalation). The caller owns
// delivery; a false yield return stops generation.
func (s *Service) Stream(ctx context.Context, req TurnRequest) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		sid := req.SessionID

		s.recordUserMessage(req)
		if err := s.activity.Touch(ctx, sid); err != nil {
			s.logger.Warn("failed to touch session activity", "session_id", sid, "error", err)
		}

		// A pending "talk to a human?" prompt intercepts the turn.
		if s.handleEscalation(ctx, req, yield) {
			return
		}

		agent, stateless, routed := s.route(ctx, req, yield)
		if !routed {
			return
		}
		if agent == nil {
			yield(Event{Type: eventError, SessionID: sid, Content: noRouteMessage})
			return
		}
		if req.AgentID == 0 {
			if !yield(Event{Type: eventClassification, SessionID: sid, AgentID: agent.ID, Stateless: stateless}) {
				return
			}
		}

		snippets, err := s.retrieve.Retrieve(ctx, agent.ID, req.Message)
		if err != nil {
			s.logger.Error("retrieval failed", "session_id", sid, "error", err)
			// Degrade to an ungrounded answer rather than failing the turn.
			snippets = nil
		}
		if len(snippets) > 0 {
			if !yield(Event{Type: eventContext, SessionID: sid, Content: rag.Sources(snippets)}) {
				return
			}
		}

		answer, ok := s.generate(ctx, req, agent, snippets, yield)
		if !ok {
			return
		}

		if answer != "" {
			s.transcript.RecordMessage(sid, domain.ChatMessage{
				Role: domain.RoleBot, Content: answer, Timestamp: time.Now().UTC(),
			})
		}
		yield(Event{Type: eventDone, SessionID: sid})
	}
}

// handleEscalation runs the escalation handshake. It returns true when the
// turn was consumed by it (a terminal event has been yielded or the
// consumer stopped).
func (s *Service) handleEscalation(ctx context.Context, req TurnRequest, yield func(Event) bool) bool {
	sid := req.SessionID

	pending, err := s.escalate.HasPending(ctx, sid)
	if err != nil {
		s.logger.Error("failed to check pending escalation", "session_id", sid, "error", err)
	}

	if pending && escalation.IsAffirmative(req.Message) {
		handoff, err := s.escalate.Finalize(ctx, sid)
		if err != nil {
			s.logger.Error("escalation failed", "session_id", sid, "error", err)
			yield(Event{Type: eventError, SessionID: sid,
				Content: "Could not connect you with the team right now. Please try again."})
			return true
		}
		yield(Event{
			Type:         eventEscalation,
			SessionID:    sid,
			NewSessionID: handoff.NewSessionID,
			Content:      "Te estamos conectando con " + handoff.Team + ".",
			Metadata:     &Metadata{AgentName: handoff.Team},
		})
		return true
	}

	if escalation.DetectIntent(req.Message) {
		prompt, err := s.escalate.RequestConfirmation(ctx, sid)
		if err != nil {
			s.logger.Error("failed to open escalation confirmation", "session_id", sid, "error", err)
			return false
		}
		if yield(Event{Type: eventConfirmation, SessionID: sid, Content: prompt}) {
			yield(Event{Type: eventDone, SessionID: sid})
		}
		return true
	}

	return false
}

// route picks the responding agent. routed=false means the consumer went
// away or an error event was already yielded.
func (s *Service) route(ctx context.Context, req TurnRequest, yield func(Event) bool) (agent *domain.VirtualAgent, stateless, routed bool) {
	sid := req.SessionID

	if req.AgentID != 0 {
		a, err := s.repo.GetAgent(ctx, req.AgentID)
		if err != nil {
			s.logger.Error("failed to load agent", "agent_id", req.AgentID, "error", err)
			yield(Event{Type: eventError, SessionID: sid, Content: "Internal error loading the agent."})
			return nil, false, false
		}
		if a == nil || !a.Active {
			yield(Event{Type: eventError, SessionID: sid, Content: noRouteMessage})
			return nil, false, false
		}
		return a, false, true
	}

	if !yield(Event{Type: eventStatus, SessionID: sid, Content: "Buscando el mejor agente para tu consulta..."}) {
		return nil, false, false
	}

	res, err := s.classify.Classify(ctx, req.Message)
	if err != nil {
		s.logger.Error("classification failed", "session_id", sid, "error", err)
		yield(Event{Type: eventError, SessionID: sid, Content: "Internal error routing your question."})
		return nil, false, false
	}
	// Automatic routing is always stateless: the widget must not latch the
	// classified agent as a selection.
	return res.Agent, true, true
}

// generate streams the model answer as token events, returning the full
// text. ok=false means a terminal event was already yielded or the consumer
// stopped.
func (s *Service) generate(ctx context.Context, req TurnRequest, agent *domain.VirtualAgent, snippets []rag.Snippet, yield func(Event) bool) (string, bool) {
	sid := req.SessionID

	llmReq := llm.Request{
		System:      s.systemPrompt(agent, snippets),
		Messages:    s.promptHistory(ctx, sid, req.Message),
		MaxTokens:   s.llmCfg.MaxTokens,
		Temperature: s.llmCfg.Temperature,
	}

	var sb strings.Builder
	for fragment, err := range s.provider.Stream(ctx, llmReq) {
		if err != nil {
			s.logger.Error("generation failed", "session_id", sid,
				"provider", s.provider.Name(), "error", err)
			yield(Event{Type: eventError, SessionID: sid, Content: userFacing(err)})
			return "", false
		}
		sb.WriteString(fragment)
		if !yield(Event{Type: eventToken, SessionID: sid, Content: fragment}) {
			return "", false
		}
	}
	return sb.String(), true
}

func (s *Service) systemPrompt(agent *domain.VirtualAgent, snippets []rag.Snippet) string {
	var sb strings.Builder
	sb.WriteString("Eres ")
	sb.WriteString(agent.Name)
	if agent.Specialty != "" {
		sb.WriteString(", asistente de ")
		sb.WriteString(agent.Specialty)
	}
	sb.WriteString(" de la institución. Responde en el idioma del usuario, de forma breve y concreta.")
	if agent.Description != "" {
		sb.WriteString("\n")
		sb.WriteString(agent.Description)
	}
	if block := rag.Context(snippets); block != "" {
		sb.WriteString("\n\nUsa la siguiente información institucional cuando sea relevante:\n")
		sb.WriteString(block)
	}
	sb.WriteString("\nSi no sabes la respuesta, dilo y sugiere hablar con una persona del equipo.")
	return sb.String()
}

// promptHistory loads the recent transcript and appends the new message.
func (s *Service) promptHistory(ctx context.Context, sessionID, message string) []llm.Message {
	var msgs []llm.Message

	conv, err := s.repo.GetConversation(ctx, sessionID)
	if err != nil {
		s.logger.Warn("failed to load conversation history", "session_id", sessionID, "error", err)
	}
	if conv != nil {
		history := conv.Messages
		if len(history) > historyWindow {
			history = history[len(history)-historyWindow:]
		}
		for _, m := range history {
			switch m.Role {
			case domain.RoleUser:
				msgs = append(msgs, llm.Message{Role: "user", Content: m.Content})
			case domain.RoleBot:
				msgs = append(msgs, llm.Message{Role: "assistant", Content: m.Content})
			}
		}
	}

	return append(msgs, llm.Message{Role: "user", Content: message})
}

func (s *Service) recordUserMessage(req TurnRequest) {
	s.transcript.RecordConversation(&domain.Conversation{
		SessionID: req.SessionID,
		VisitorID: req.VisitorID,
		AgentID:   req.AgentID,
		Status:    domain.StatusActive,
	})
	s.transcript.RecordMessage(req.SessionID, domain.ChatMessage{
		Role: domain.RoleUser, Content: req.Message, Timestamp: time.Now().UTC(),
	})
}

// userFacing translates provider failures into a message safe and useful to
// show the visitor.
func userFacing(err error) string {
	if errors.Is(err, llm.ErrProviderResponse) {
		return "The assistant backend rejected the request. Please try again in a moment."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The assistant took too long to answer. Please try again."
	}
	return "The assistant is unavailable right now. Please try again."
}
