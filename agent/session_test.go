package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nshkrdotcom/mcpflow/llm"
	"github.com/nshkrdotcom/mcpflow/mcpconn"
)

// fakeGenerator returns scripted replies in order.
type fakeGenerator struct {
	replies []*llm.Reply
	errs    []error
	calls   int
}

func (f *fakeGenerator) Generate(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	return f.replies[idx], nil
}

func textReply(text string) *llm.Reply {
	return &llm.Reply{
		Kind:    llm.ReplyText,
		Text:    text,
		Message: llm.AssistantMessage(text),
		Usage:   llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func toolReply(narration, id, name string, args string) *llm.Reply {
	call := &llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
	msg := llm.Message{Role: llm.RoleAssistant}
	if narration != "" {
		msg.Content = append(msg.Content, llm.TextPart(narration))
	}
	msg.Content = append(msg.Content, llm.ContentPart{Kind: llm.ContentToolCall, ToolCall: call})
	return &llm.Reply{
		Kind:    llm.ReplyToolCall,
		Text:    narration,
		Call:    call,
		Message: msg,
		Usage:   llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

// fakeConn serves a fixed descriptor set and scripted tool results.
type fakeConn struct {
	name        string
	descriptors []mcpconn.ToolDescriptor
	results     map[string]mcpconn.ToolResult
	callErr     error
	listCalls   int
	callCalls   int
}

func (f *fakeConn) Name() string { return f.name }

func (f *fakeConn) ListTools(ctx context.Context) ([]mcpconn.ToolDescriptor, error) {
	f.listCalls++
	return append([]mcpconn.ToolDescriptor(nil), f.descriptors...), nil
}

func (f *fakeConn) CallTool(ctx context.Context, id, name string, args json.RawMessage) (mcpconn.ToolResult, error) {
	f.callCalls++
	if f.callErr != nil {
		return mcpconn.ToolResult{}, f.callErr
	}
	result, ok := f.results[name]
	if !ok {
		return mcpconn.ToolResult{}, &mcpconn.ToolNotFoundError{Server: f.name, Tool: name}
	}
	result.ID = id
	result.Name = name
	return result, nil
}

func searchConn() *fakeConn {
	return &fakeConn{
		name: "files",
		descriptors: []mcpconn.ToolDescriptor{
			{
				Name:        "search",
				Description: "Search the index",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
			},
		},
		results: map[string]mcpconn.ToolResult{
			"search": {Output: "3 results found"},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, gen Generator, conns []Conn, maxTurns int) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), gen, conns, SessionConfig{
		Model:               "test-model",
		InstructionTemplate: "You are a helpful assistant.\n\n{query}",
		MaxTurns:            maxTurns,
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestSessionConfigValidation(t *testing.T) {
	gen := &fakeGenerator{replies: []*llm.Reply{textReply("hi")}}

	_, err := NewSession(context.Background(), gen, nil, SessionConfig{Model: "m", MaxTurns: 0}, discardLogger())
	if err == nil {
		t.Error("expected error for zero max turns")
	}

	_, err = NewSession(context.Background(), gen, nil, SessionConfig{MaxTurns: 3}, discardLogger())
	if err == nil {
		t.Error("expected error for missing model")
	}
}

func TestTextOnlyReplyTerminatesWithZeroToolCalls(t *testing.T) {
	gen := &fakeGenerator{replies: []*llm.Reply{textReply("the answer is 4")}}
	conn := searchConn()
	s := newTestSession(t, gen, []Conn{conn}, 3)

	result, err := s.Run(context.Background(), "what is 2+2?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Errorf("expected completed, got %s", result.Outcome)
	}
	if result.Text != "the answer is 4" {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if result.Turns != 1 {
		t.Errorf("expected 1 turn, got %d", result.Turns)
	}
	if conn.callCalls != 0 {
		t.Errorf("expected zero tool calls, got %d", conn.callCalls)
	}
}

func TestToolCallRoundTrip(t *testing.T) {
	gen := &fakeGenerator{replies: []*llm.Reply{
		toolReply("Searching the index.", "call_1", "search", `{"q":"go"}`),
		textReply("Found 3 results."),
	}}
	conn := searchConn()
	s := newTestSession(t, gen, []Conn{conn}, 5)

	result, err := s.Run(context.Background(), "find go docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Errorf("expected completed, got %s", result.Outcome)
	}
	if result.Turns != 2 {
		t.Errorf("expected 2 turns, got %d", result.Turns)
	}
	if conn.callCalls != 1 {
		t.Errorf("expected 1 tool call, got %d", conn.callCalls)
	}

	// Narration interleaved with the call is surfaced in order.
	want := "Searching the index.\nFound 3 results."
	if result.Text != want {
		t.Errorf("expected %q, got %q", want, result.Text)
	}

	// History: user, assistant(call), tool, assistant(text).
	history := s.History()
	kinds := []TurnKind{TurnUser, TurnAssistant, TurnTool, TurnAssistant}
	if len(history) != len(kinds) {
		t.Fatalf("expected %d turns in history, got %d", len(kinds), len(history))
	}
	for i, kind := range kinds {
		if history[i].Kind != kind {
			t.Errorf("turn %d: expected %s, got %s", i, kind, history[i].Kind)
		}
	}
	if history[2].Tool.Result.ID != "call_1" {
		t.Errorf("tool result should correlate by call ID, got %q", history[2].Tool.Result.ID)
	}
}

func TestGenerateCallsNeverExceedMaxTurns(t *testing.T) {
	// Model asks for a tool every time; budget must cut it off.
	gen := &fakeGenerator{replies: []*llm.Reply{
		toolReply("", "call_x", "search", `{"q":"again"}`),
	}}
	conn := searchConn()
	s := newTestSession(t, gen, []Conn{conn}, 3)

	result, err := s.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeBudgetExhausted {
		t.Errorf("expected budget_exhausted, got %s", result.Outcome)
	}
	if gen.calls != 3 {
		t.Errorf("expected exactly 3 generate calls, got %d", gen.calls)
	}
	if result.Turns != 3 {
		t.Errorf("expected 3 turns, got %d", result.Turns)
	}
}

func TestBudgetExhaustionIsNotAnError(t *testing.T) {
	gen := &fakeGenerator{replies: []*llm.Reply{
		toolReply("working on it", "call_1", "search", `{}`),
	}}
	s := newTestSession(t, gen, []Conn{searchConn()}, 1)

	result, err := s.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("budget exhaustion must not be an error: %v", err)
	}
	if result.Outcome != OutcomeBudgetExhausted {
		t.Errorf("expected budget_exhausted, got %s", result.Outcome)
	}
	// Accumulated narration survives.
	if result.Text != "working on it" {
		t.Errorf("expected partial text, got %q", result.Text)
	}
}

func TestUnknownToolTerminatesImmediately(t *testing.T) {
	gen := &fakeGenerator{replies: []*llm.Reply{
		toolReply("", "call_1", "no_such_tool", `{}`),
	}}
	conn := searchConn()
	s := newTestSession(t, gen, []Conn{conn}, 3)

	_, err := s.Run(context.Background(), "q")
	var nf *mcpconn.ToolNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected ToolNotFoundError, got %v", err)
	}
	if gen.calls != 1 {
		t.Errorf("unknown tool must end the query on turn 1, generate calls=%d", gen.calls)
	}
	if conn.callCalls != 0 {
		t.Errorf("unknown tool must never reach a connection, calls=%d", conn.callCalls)
	}
}

func TestHistoryPreservedOnFailure(t *testing.T) {
	gen := &fakeGenerator{
		replies: []*llm.Reply{
			toolReply("step one", "call_1", "search", `{}`),
			nil,
		},
		errs: []error{
			nil,
			&llm.InvalidRequestError{GatewayError: llm.GatewayError{Message: "bad request"}},
		},
	}
	s := newTestSession(t, gen, []Conn{searchConn()}, 5)

	_, err := s.Run(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error")
	}

	// The turns accumulated before the failure are still there.
	history := s.History()
	if len(history) != 3 { // user, assistant, tool
		t.Fatalf("expected 3 preserved turns, got %d", len(history))
	}
	if history[1].Assistant == nil || history[1].Assistant.ToolCall == nil {
		t.Error("assistant turn with tool call should be preserved")
	}
}

func TestErroredToolResultFeedsBack(t *testing.T) {
	conn := searchConn()
	conn.results["search"] = mcpconn.ToolResult{Output: "index unavailable", IsError: true}

	gen := &fakeGenerator{replies: []*llm.Reply{
		toolReply("", "call_1", "search", `{}`),
		textReply("The index is down, try later."),
	}}
	s := newTestSession(t, gen, []Conn{conn}, 5)

	result, err := s.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("errored tool result must not be fatal: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Errorf("expected completed, got %s", result.Outcome)
	}
	if gen.calls != 2 {
		t.Errorf("errored result should loop back for a further turn, calls=%d", gen.calls)
	}

	history := s.History()
	if !history[2].Tool.Result.IsError {
		t.Error("IsError flag should be preserved in history")
	}
}

func TestConnectionErrorIsFatal(t *testing.T) {
	conn := searchConn()
	conn.callErr = &mcpconn.ConnectionError{Server: "files", Message: "pipe closed"}

	gen := &fakeGenerator{replies: []*llm.Reply{
		toolReply("", "call_1", "search", `{}`),
	}}
	s := newTestSession(t, gen, []Conn{conn}, 5)

	_, err := s.Run(context.Background(), "q")
	var connErr *mcpconn.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}

	// User and assistant turns stay in the history.
	if len(s.History()) != 2 {
		t.Errorf("expected 2 preserved turns, got %d", len(s.History()))
	}
}

func TestCancellationDiscardsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := &fakeGenerator{replies: []*llm.Reply{textReply("never delivered")}}
	s := newTestSession(t, gen, []Conn{searchConn()}, 3)

	result, err := s.Run(ctx, "q")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result != nil {
		t.Error("cancelled run must not return a partial result")
	}
	if gen.calls != 0 {
		t.Errorf("cancelled before first call, got %d generate calls", gen.calls)
	}
}

func TestSessionRejectsRunAfterClose(t *testing.T) {
	gen := &fakeGenerator{replies: []*llm.Reply{textReply("hi")}}
	s := newTestSession(t, gen, []Conn{searchConn()}, 3)
	s.Close()

	if _, err := s.Run(context.Background(), "q"); err == nil {
		t.Error("expected error running on a closed session")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	genA := &fakeGenerator{replies: []*llm.Reply{textReply("answer A")}}
	genB := &fakeGenerator{replies: []*llm.Reply{textReply("answer B")}}
	a := newTestSession(t, genA, []Conn{searchConn()}, 3)
	b := newTestSession(t, genB, []Conn{searchConn()}, 3)

	if _, err := a.Run(context.Background(), "qa"); err != nil {
		t.Fatalf("session a: %v", err)
	}
	if _, err := b.Run(context.Background(), "qb"); err != nil {
		t.Fatalf("session b: %v", err)
	}

	if len(a.History()) != 2 || len(b.History()) != 2 {
		t.Errorf("histories must not leak between sessions: a=%d b=%d", len(a.History()), len(b.History()))
	}
	if a.ID() == b.ID() {
		t.Error("sessions must have distinct identifiers")
	}
}

func TestRenderTemplate(t *testing.T) {
	cases := []struct {
		template string
		query    string
		want     string
	}{
		{"Answer: {query}", "2+2", "Answer: 2+2"},
		{"No placeholder here", "2+2", "No placeholder here\n\n2+2"},
		{"", "2+2", "2+2"},
		{"{query} and {query}", "x", "x and x"},
	}
	for _, tc := range cases {
		if got := RenderTemplate(tc.template, tc.query); got != tc.want {
			t.Errorf("RenderTemplate(%q, %q) = %q, want %q", tc.template, tc.query, got, tc.want)
		}
	}
}

func TestEventStreamReportsProgress(t *testing.T) {
	gen := &fakeGenerator{replies: []*llm.Reply{
		toolReply("checking", "call_1", "search", `{"q":"go"}`),
		textReply("done"),
	}}
	s := newTestSession(t, gen, []Conn{searchConn()}, 5)

	if _, err := s.Run(context.Background(), "q"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Close()

	seen := map[EventKind]bool{}
	for ev := range s.Events() {
		seen[ev.Kind] = true
	}
	for _, kind := range []EventKind{EventQueryStart, EventThinking, EventToolCall, EventToolResult, EventAssistantText, EventSessionEnd} {
		if !seen[kind] {
			t.Errorf("expected %s event on the stream", kind)
		}
	}
}
