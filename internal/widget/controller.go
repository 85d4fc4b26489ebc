package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/campuschat/campuschat/internal/domain"
)

// ErrEmptyMessage is returned when Send is called with only whitespace.
var ErrEmptyMessage = errors.New("message is empty")

// errServerReported marks a turn ended by a server error event. The message
// has already been rendered when this is returned, so callers stay silent.
var errServerReported = errors.New("server reported an error event")

// errStreamTruncated marks a stream that ended without a terminal event.
var errStreamTruncated = errors.New("stream ended without a terminal event")

// Renderer is the narrow UI surface the controller drives. Implementations
// are a DOM widget or, for the CLI client, a terminal printer.
type Renderer interface {
	ShowLoading()
	HideLoading()

	// BeginBotMessage creates the render target for the current turn.
	// AppendToken streams fragments into it; FinalizeBotMessage replaces it
	// with the fully formatted content exactly once.
	BeginBotMessage()
	AppendToken(text string)
	FinalizeBotMessage(full string)
	// DiscardPartial removes any partially streamed output of a failed
	// attempt before a retry renders fresh content.
	DiscardPartial()

	ShowStatus(text string)
	ShowSources(text string)
	ShowNotice(text string)
	ShowError(text string)

	// Escalation channel traffic.
	ShowAgentMessage(name, text string)
	ShowTyping(name string, typing bool)
}

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds controller settings.
type Config struct {
	BaseURL          string
	Origin           string // reported in every chat request body
	HeartbeatTimeout time.Duration
}

// Controller orchestrates the chat session: it owns the current mode, the
// active request, and the message history, and hands off to the escalation
// channel when the backend escalates. One instance per widget; there is no
// package-level state.
type Controller struct {
	cfg      Config
	http     Doer
	sessions *SessionStore
	channels ChannelFactory
	render   Renderer
	speech   SpeechOutput
	retry    *RetryController
	history  *History
	logger   *slog.Logger

	mu           sync.Mutex
	state        State
	cancelActive context.CancelCauseFunc
	sendGen      uint64
	channel      Channel
}

// NewController wires a controller from its collaborators. Nil speech gets a
// no-op; nil http gets http.DefaultClient.
func NewController(cfg Config, httpClient Doer, sessions *SessionStore, channels ChannelFactory, render Renderer, speech SpeechOutput, logger *slog.Logger) *Controller {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if speech == nil {
		speech = NoopSpeech{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}

	c := &Controller{
		cfg:      cfg,
		http:     httpClient,
		sessions: sessions,
		channels: channels,
		render:   render,
		speech:   speech,
		history:  NewHistory(0),
		logger:   logger,
	}
	c.retry = NewRetryController(logger)
	c.retry.OnRetry = func(attempt int, wait time.Duration, _ FailureReason) {
		render.ShowStatus(fmt.Sprintf("Connection problem, retrying (%d)...", attempt))
	}
	return c
}

// State returns a snapshot of the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns the bounded message history.
func (c *Controller) History() *History {
	return c.history
}

// SelectAgent pins an explicit agent for subsequent sends. Ignored while
// escalated.
func (c *Controller) SelectAgent(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Mode == ModeEscalated {
		return
	}
	c.state.Mode = ModeAgentSelected
	c.state.SelectedAgentID = id
}

// ResetToAuto returns to automatic classification. If an escalation channel
// is open it is closed — this is the explicit way out of escalated mode.
func (c *Controller) ResetToAuto() {
	c.mu.Lock()
	ch := c.channel
	c.channel = nil
	c.state.Mode = ModeAuto
	c.state.SelectedAgentID = 0
	c.state.Phase = PhaseIdle
	c.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			c.logger.Debug("failed to close escalation channel", "error", err)
		}
	}
}

// Abort cancels the in-flight request, if any, without surfacing an error.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelActive != nil {
		c.cancelActive(ErrCanceled)
		c.cancelActive = nil
	}
	c.state.Phase = PhaseIdle
}

// Send submits one user message. In escalated mode it goes straight through
// the channel; otherwise it opens a streamed request under the retry budget.
// At most one streamed request is in flight: a new send cancels the prior
// one silently.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state.Mode == ModeEscalated && c.channel != nil {
		ch := c.channel
		c.mu.Unlock()
		return c.sendEscalated(ctx, ch, text)
	}

	// At-most-one in-flight request: supersede the previous one.
	if c.cancelActive != nil {
		c.cancelActive(ErrCanceled)
	}
	opCtx, cancel := context.WithCancelCause(ctx)
	c.cancelActive = cancel
	c.sendGen++
	gen := c.sendGen
	c.state.SessionID = c.sessions.Resolve()
	c.state = c.state.resetTurn()
	agentID := int64(0)
	if c.state.Mode == ModeAgentSelected {
		agentID = c.state.SelectedAgentID
	}
	sessionID := c.state.SessionID
	c.mu.Unlock()

	c.history.Append(domain.RoleUser, text)
	c.render.ShowLoading()

	err := c.retry.Execute(opCtx, func(attemptCtx context.Context) error {
		return c.attempt(attemptCtx, opCtx, text, sessionID, agentID, gen)
	})

	c.render.HideLoading()
	c.finishSend(cancel, gen, err)
	return nil
}

// finishSend releases the active request slot and surfaces terminal
// failures. User cancellations and server-reported errors stay silent here:
// the former by contract, the latter because the event was already
// rendered.
func (c *Controller) finishSend(cancel context.CancelCauseFunc, gen uint64, err error) {
	cancel(context.Canceled)
	c.mu.Lock()
	// Only clear the slot if it is still ours; a superseding send may
	// already have replaced it.
	if c.sendGen == gen {
		c.cancelActive = nil
	}
	escalated := c.state.Phase == PhaseEscalated
	c.mu.Unlock()

	switch {
	case err == nil:
		if !escalated {
			c.sessions.Touch()
		}
	case errors.Is(err, ErrCanceled):
		c.logger.Debug("send canceled by user")
	case errors.Is(err, errServerReported):
		c.logger.Debug("turn ended by server error event")
	default:
		var failure *FailureError
		if errors.As(err, &failure) {
			c.render.DiscardPartial()
			c.render.ShowError(failure.UserMessage())
		} else {
			c.render.ShowError("Could not reach the assistant. Please try again.")
		}
		c.mu.Lock()
		c.state.Phase = PhaseIdle
		c.mu.Unlock()
	}
}

// attempt performs one streamed request: POST, decode frames, dispatch
// events, watch the heartbeat. opCtx distinguishes a user cancellation from
// the per-attempt deadline on attemptCtx. gen pins the attempt to the send
// that started it; once a newer send takes the slot, the attempt must not
// touch shared state again.
func (c *Controller) attempt(attemptCtx, opCtx context.Context, text, sessionID string, agentID int64, gen uint64) error {
	c.mu.Lock()
	if c.sendGen != gen {
		c.mu.Unlock()
		return fmt.Errorf("%w: superseded by a newer send", ErrCanceled)
	}
	c.state = c.state.resetTurn()
	c.mu.Unlock()
	// Fresh attempt: no partial output from a prior attempt survives.
	c.render.DiscardPartial()

	body := map[string]interface{}{
		"message":    text,
		"session_id": sessionID,
		"origin":     c.cfg.Origin,
	}
	path := "/chat/auto/stream"
	if agentID != 0 {
		body["agent_id"] = agentID
		path = "/chat/agent/stream"
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return &TerminalError{Err: fmt.Errorf("marshal chat request: %w", err)}
	}

	readCtx, cancelRead := context.WithCancelCause(attemptCtx)
	defer cancelRead(nil)

	req, err := http.NewRequestWithContext(readCtx, http.MethodPost,
		strings.TrimSuffix(c.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return &TerminalError{Err: fmt.Errorf("build chat request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.readError(opCtx, nil, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	hb := ArmHeartbeat(cancelRead, c.cfg.HeartbeatTimeout, c.logger)
	defer hb.Disarm()

	decoder := NewDecoder(c.logger)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			hb.Reset()
			for _, ev := range decoder.Feed(buf[:n]) {
				if done, evErr := c.apply(gen, ev); done {
					return evErr
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				for _, ev := range decoder.Flush() {
					if done, evErr := c.apply(gen, ev); done {
						return evErr
					}
				}
				return errStreamTruncated
			}
			return c.readError(opCtx, hb, readErr)
		}
	}
}

// readError maps a transport failure onto the retry taxonomy, preferring
// the user-cancellation and heartbeat classifications over the raw error.
func (c *Controller) readError(opCtx context.Context, hb *HeartbeatMonitor, err error) error {
	if opCtx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(opCtx))
	}
	if hb != nil && hb.Stalled() {
		return fmt.Errorf("%w: %w", ErrStalled, err)
	}
	return err
}

// apply runs one event through the state machine and executes its effects.
// It returns done=true when the event terminates the attempt, along with
// the attempt's result. Events that arrive after a newer send has reset the
// state are dropped wholesale: the canceled request's read loop may still
// hold buffered chunks, and none of them may reach the new turn.
func (c *Controller) apply(gen uint64, ev StreamEvent) (bool, error) {
	c.mu.Lock()
	if c.sendGen != gen {
		c.mu.Unlock()
		return true, fmt.Errorf("%w: superseded by a newer send", ErrCanceled)
	}
	next, effects := Transition(c.state, ev)
	c.state = next
	c.mu.Unlock()

	c.runEffects(effects)

	switch {
	case next.Phase == PhaseEscalated && ev.Type == EventEscalation:
		return true, nil
	case ev.Type == EventDone:
		if next.Buffer != "" {
			c.history.Append(domain.RoleBot, next.Buffer)
		}
		return true, nil
	case ev.Type == EventError:
		return true, &TerminalError{Err: fmt.Errorf("%w: %s", errServerReported, ev.Content)}
	}
	return false, nil
}

func (c *Controller) runEffects(effects []Effect) {
	for _, eff := range effects {
		switch eff.Kind {
		case EffectClearLoading:
			c.render.HideLoading()
		case EffectBeginMessage:
			c.render.BeginBotMessage()
		case EffectAppendToken:
			c.render.AppendToken(eff.Text)
		case EffectFinalizeMessage:
			c.render.FinalizeBotMessage(eff.Text)
		case EffectShowStatus:
			c.render.ShowStatus(eff.Text)
		case EffectShowSources:
			c.render.ShowSources(eff.Text)
		case EffectShowNotice:
			c.render.ShowNotice(eff.Text)
			c.history.Append(domain.RoleSystem, eff.Text)
		case EffectShowError:
			c.render.ShowError(eff.Text)
		case EffectLogClassification:
			c.logger.Info("agent classified", "agent_id", eff.AgentID, "stateless", eff.Stateless)
		case EffectPersistSession:
			c.sessions.Replace(eff.SessionID)
		case EffectOpenChannel:
			c.openChannel(eff.SessionID, eff.AgentName)
		case EffectSpeak:
			c.speech.Speak(eff.Text)
		}
	}
}

// openChannel dials the escalation channel for the handed-over session and
// starts consuming inbound frames. Delivery failures drop the controller
// back to automatic mode so the user is not stranded.
func (c *Controller) openChannel(sessionID, agentName string) {
	dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	ch, err := c.channels.Dial(dialCtx, sessionID)
	if err != nil {
		c.logger.Error("failed to open escalation channel", "session_id", sessionID, "error", err)
		c.render.ShowError("Could not connect you to an agent. Please try again.")
		c.ResetToAuto()
		return
	}

	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()

	if agentName != "" {
		c.render.ShowNotice("You are now chatting with " + agentName + ".")
	}
	go c.consumeChannel(ch)
}

func (c *Controller) consumeChannel(ch Channel) {
	for frame := range ch.Events() {
		switch frame.Type {
		case "message":
			if frame.Role == string(domain.RoleHumanAgent) || frame.Role == string(domain.RoleSystem) {
				name := frame.UserName
				if name == "" {
					name = "Agent"
				}
				c.history.Append(domain.RoleHumanAgent, frame.Content)
				c.render.ShowAgentMessage(name, frame.Content)
			}
		case "typing":
			c.render.ShowTyping(frame.UserName, frame.IsTyping)
		case "user_joined":
			if frame.UserName != "" {
				c.render.ShowNotice(frame.UserName + " joined the conversation.")
			}
		case "escalamiento_info":
			if frame.Escalado && frame.UsuarioNombre != "" {
				c.render.ShowNotice("This conversation is being handled by " + frame.UsuarioNombre + ".")
			}
		default:
			c.logger.Debug("ignoring unknown channel frame", "type", frame.Type)
		}
	}

	// A remote close ends the escalation: routing must agree with the
	// state, so the mode drops back to auto before the next send. An
	// explicit ResetToAuto clears c.channel first and skips this branch.
	c.mu.Lock()
	closed := c.channel == ch
	if closed {
		c.channel = nil
		c.state.Mode = ModeAuto
		c.state.SelectedAgentID = 0
		c.state.Phase = PhaseIdle
	}
	c.mu.Unlock()
	if closed {
		c.logger.Info("escalation channel closed")
		c.render.ShowNotice("The agent has disconnected. You are back with the assistant.")
	}
}

// sendEscalated delivers a message over the open channel. No retry or
// backoff applies here; the channel manages its own lifetime.
func (c *Controller) sendEscalated(ctx context.Context, ch Channel, text string) error {
	c.history.Append(domain.RoleUser, text)
	if err := ch.Send(ctx, ChannelFrame{Type: frameMessage, Content: text}); err != nil {
		return fmt.Errorf("send over escalation channel: %w", err)
	}
	c.sessions.Touch()
	return nil
}
