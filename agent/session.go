package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nshkrdotcom/mcpflow/llm"
)

// Generator produces the model's next step. *llm.Gateway is the concrete
// implementation; tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (*llm.Reply, error)
}

// SessionState represents the current lifecycle state of a session.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateProcessing SessionState = "processing"
	StateClosed     SessionState = "closed"
)

// Outcome describes how a query run ended.
type Outcome string

const (
	// OutcomeCompleted means the model answered with plain text.
	OutcomeCompleted Outcome = "completed"
	// OutcomeBudgetExhausted means the turn budget ran out before a plain
	// text answer. Not an error.
	OutcomeBudgetExhausted Outcome = "budget_exhausted"
)

// SessionConfig holds configuration for a session. Immutable once the
// session is created.
type SessionConfig struct {
	// Model is the LLM model identifier.
	Model string `json:"model"`

	// Provider overrides provider inference from the model name.
	Provider string `json:"provider,omitempty"`

	// InstructionTemplate seeds the conversation. The {query} placeholder
	// is substituted with the user's query; without a placeholder the
	// query is appended.
	InstructionTemplate string `json:"instruction_template"`

	// MaxTurns bounds the number of model calls per query. Must be > 0.
	MaxTurns int `json:"max_turns"`

	// Temperature, when set, is passed through to the backend.
	Temperature *float64 `json:"temperature,omitempty"`

	// ToolOutputLimit caps tool output characters fed back to the model
	// (0 = DefaultToolOutputLimit).
	ToolOutputLimit int `json:"tool_output_limit,omitempty"`

	// ToolLineLimit caps tool output lines fed back to the model
	// (0 = DefaultToolLineLimit).
	ToolLineLimit int `json:"tool_line_limit,omitempty"`
}

// Result is the outcome of one query run.
type Result struct {
	// Text is the ordered concatenation of the assistant's text fragments,
	// including narration interleaved with tool calls.
	Text string `json:"text"`

	// Outcome is completed or budget_exhausted.
	Outcome Outcome `json:"outcome"`

	// Turns is the number of model calls consumed.
	Turns int `json:"turns"`

	// Usage is the aggregate token usage across all model calls.
	Usage llm.Usage `json:"usage"`
}

// Session is the orchestrator for one conversation. It owns an append-only
// history, an immutable config, and a router of live connections. A session
// processes one query at a time; concurrent sessions are fully isolated.
type Session struct {
	id      string
	gateway Generator
	router  *Router
	config  SessionConfig
	emitter *EventEmitter
	logger  *slog.Logger

	mu      sync.Mutex
	history []Turn
	state   SessionState
}

// NewSession creates a session over the given connections. Tool descriptors
// are listed (starting connections as needed) and indexed once, up front;
// a connection that cannot list its tools fails session creation.
func NewSession(ctx context.Context, gateway Generator, conns []Conn, config SessionConfig, logger *slog.Logger) (*Session, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if config.MaxTurns <= 0 {
		return nil, fmt.Errorf("max turns must be positive, got %d", config.MaxTurns)
	}
	if logger == nil {
		logger = slog.Default()
	}

	sessionID := uuid.New().String()
	logger = logger.With("session", sessionID[:8])

	router, err := BuildRouter(ctx, conns, logger)
	if err != nil {
		return nil, err
	}

	return &Session{
		id:      sessionID,
		gateway: gateway,
		router:  router,
		config:  config,
		emitter: NewEventEmitter(sessionID, 256),
		logger:  logger,
		history: make([]Turn, 0),
		state:   StateIdle,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the conversation history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := make([]Turn, len(s.history))
	copy(h, s.history)
	return h
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// Close terminates the session. Connections are owned by the caller and
// stay open.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.emitter.Emit(EventSessionEnd, nil)
	s.emitter.Close()
}

// RenderTemplate substitutes query into the {query} placeholder. Templates
// without a placeholder get the query appended.
func RenderTemplate(template, query string) string {
	if template == "" {
		return query
	}
	if strings.Contains(template, "{query}") {
		return strings.ReplaceAll(template, "{query}", query)
	}
	return template + "\n\n" + query
}

// Run processes one query through the orchestration loop. The history is
// append-only: turns accumulated before a failure stay in place, and a
// later query on the same session continues from them. A cancelled context
// aborts the in-flight call and discards the partial result.
func (s *Session) Run(ctx context.Context, query string) (*Result, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil, fmt.Errorf("session is closed")
	case StateProcessing:
		s.mu.Unlock()
		return nil, fmt.Errorf("session is already processing a query")
	}
	s.state = StateProcessing
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.state == StateProcessing {
			s.state = StateIdle
		}
		s.mu.Unlock()
	}()

	prompt := RenderTemplate(s.config.InstructionTemplate, query)
	s.append(NewUserTurn(prompt))
	s.emitter.Emit(EventQueryStart, map[string]interface{}{"query": query})

	var fragments []string
	var usage llm.Usage
	turns := 0

	for turns < s.config.MaxTurns {
		select {
		case <-ctx.Done():
			s.emitter.Emit(EventError, map[string]interface{}{"error": "cancelled"})
			return nil, ctx.Err()
		default:
		}

		s.emitter.Emit(EventThinking, map[string]interface{}{"turn": turns + 1})

		req := llm.Request{
			Model:       s.config.Model,
			Provider:    s.config.Provider,
			Messages:    ConvertHistoryToMessages(s.History()),
			Tools:       s.router.Definitions(),
			ToolChoice:  "auto",
			Temperature: s.config.Temperature,
		}

		reply, err := s.gateway.Generate(ctx, req)
		turns++
		if err != nil {
			s.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
			return nil, fmt.Errorf("model call failed on turn %d: %w", turns, err)
		}

		usage = usage.Add(reply.Usage)
		for _, w := range reply.Warnings {
			s.logger.Warn(w.Message, "code", w.Code)
			s.emitter.Emit(EventWarning, map[string]interface{}{"message": w.Message})
		}

		if reply.Kind == llm.ReplyText {
			s.append(NewAssistantTurn(reply.Text, nil, reply.Usage))
			if reply.Text != "" {
				fragments = append(fragments, reply.Text)
			}
			s.emitter.Emit(EventAssistantText, map[string]interface{}{"text": reply.Text})
			return &Result{
				Text:    strings.Join(fragments, "\n"),
				Outcome: OutcomeCompleted,
				Turns:   turns,
				Usage:   usage,
			}, nil
		}

		// Tool call. Narration interleaved with the call is surfaced in
		// order before the dispatch.
		call := reply.Call
		if reply.Text != "" {
			fragments = append(fragments, reply.Text)
			s.emitter.Emit(EventAssistantText, map[string]interface{}{"text": reply.Text})
		}
		s.append(NewAssistantTurn(reply.Text, call, reply.Usage))

		s.emitter.Emit(EventToolCall, map[string]interface{}{
			"tool":    call.Name,
			"call_id": call.ID,
			"args":    string(call.Arguments),
		})
		s.logger.Info("dispatching tool", "tool", call.Name, "call_id", call.ID)

		conn, err := s.router.Route(call.Name)
		if err != nil {
			s.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
			return nil, err
		}

		result, err := conn.CallTool(ctx, call.ID, call.Name, call.Arguments)
		if err != nil {
			s.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
			return nil, err
		}

		// A failed tool run feeds back to the model rather than ending the
		// query.
		if result.IsError {
			s.logger.Warn("tool reported failure", "tool", call.Name, "call_id", call.ID)
		}

		s.emitter.Emit(EventToolResult, map[string]interface{}{
			"tool":     result.Name,
			"call_id":  result.ID,
			"is_error": result.IsError,
			"snippet":  snippet(result.Output, 200),
		})

		result.Output = TruncateToolOutput(result.Output, s.config.ToolOutputLimit, s.config.ToolLineLimit)
		s.append(NewToolTurn(result))
	}

	s.emitter.Emit(EventBudgetExhausted, map[string]interface{}{"turns": turns})
	s.logger.Info("turn budget exhausted", "turns", turns)
	return &Result{
		Text:    strings.Join(fragments, "\n"),
		Outcome: OutcomeBudgetExhausted,
		Turns:   turns,
		Usage:   usage,
	}, nil
}

func (s *Session) append(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turn)
}

func snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
