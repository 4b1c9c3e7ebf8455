package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

// fakeAdapter returns scripted responses in order, then repeats the last one.
type fakeAdapter struct {
	name      string
	responses []*Response
	errs      []error
	calls     int
	lastReq   Request
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	idx := f.calls
	f.calls++
	f.lastReq = req
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

func textResponse(text string) *Response {
	return &Response{
		ID:       "resp_test",
		Model:    "test-model",
		Provider: "fake",
		Message:  AssistantMessage(text),
		Usage:    Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func toolCallResponse(narration string, calls ...ToolCall) *Response {
	msg := Message{Role: RoleAssistant}
	if narration != "" {
		msg.Content = append(msg.Content, TextPart(narration))
	}
	for i := range calls {
		msg.Content = append(msg.Content, ContentPart{Kind: ContentToolCall, ToolCall: &calls[i]})
	}
	return &Response{
		ID:           "resp_test",
		Model:        "test-model",
		Provider:     "fake",
		Message:      msg,
		FinishReason: FinishToolCalls,
		Usage:        Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(adapter Adapter) *Gateway {
	client := NewClient(WithAdapter(adapter.Name(), adapter))
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.001}
	return NewGateway(client, WithRetryPolicy(policy), WithLogger(quietLogger()))
}

func TestGenerateTextReply(t *testing.T) {
	adapter := &fakeAdapter{name: "fake", responses: []*Response{textResponse("hello there")}}
	g := newTestGateway(adapter)

	reply, err := g.Generate(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Kind != ReplyText {
		t.Errorf("expected text reply, got %s", reply.Kind)
	}
	if reply.Text != "hello there" {
		t.Errorf("expected %q, got %q", "hello there", reply.Text)
	}
	if reply.Call != nil {
		t.Error("text reply should not carry a tool call")
	}
	if reply.Usage.TotalTokens != 15 {
		t.Errorf("expected usage to propagate, got %+v", reply.Usage)
	}
}

func TestGenerateToolCallReply(t *testing.T) {
	call := ToolCall{ID: "call_1", Name: "search", Arguments: json.RawMessage(`{"q":"go"}`)}
	adapter := &fakeAdapter{name: "fake", responses: []*Response{toolCallResponse("Let me search.", call)}}
	g := newTestGateway(adapter)

	reply, err := g.Generate(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("find go docs")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Kind != ReplyToolCall {
		t.Fatalf("expected tool_call reply, got %s", reply.Kind)
	}
	if reply.Call == nil || reply.Call.Name != "search" {
		t.Fatalf("expected call to search, got %+v", reply.Call)
	}
	if reply.Text != "Let me search." {
		t.Errorf("interleaved narration should surface, got %q", reply.Text)
	}
	if len(reply.Warnings) != 0 {
		t.Errorf("single call should produce no warnings, got %v", reply.Warnings)
	}
}

func TestGenerateMultipleToolCallsHonorsFirst(t *testing.T) {
	first := ToolCall{ID: "call_1", Name: "search", Arguments: json.RawMessage(`{}`)}
	second := ToolCall{ID: "call_2", Name: "fetch", Arguments: json.RawMessage(`{}`)}
	adapter := &fakeAdapter{name: "fake", responses: []*Response{toolCallResponse("", first, second)}}
	g := newTestGateway(adapter)

	reply, err := g.Generate(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("do both")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Call == nil || reply.Call.ID != "call_1" {
		t.Fatalf("expected first call honored, got %+v", reply.Call)
	}

	found := false
	for _, w := range reply.Warnings {
		if w.Code == "multiple_tool_calls" {
			found = true
		}
	}
	if !found {
		t.Error("expected multiple_tool_calls warning")
	}

	// History message must be trimmed to the honored call only.
	calls := reply.Message.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "call_1" {
		t.Errorf("expected trimmed message with one call, got %+v", calls)
	}
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	adapter := &fakeAdapter{
		name: "fake",
		errs: []error{
			&UpstreamError{GatewayError: GatewayError{Message: "boom"}, StatusCode: 500},
		},
		responses: []*Response{nil, textResponse("recovered")},
	}
	g := newTestGateway(adapter)

	reply, err := g.Generate(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "recovered" {
		t.Errorf("expected recovery after retry, got %q", reply.Text)
	}
	if adapter.calls != 2 {
		t.Errorf("expected 2 adapter calls, got %d", adapter.calls)
	}
}

// deadlineAdapter records the deadline on each call's context and mimics a
// backend that hangs until the deadline fires.
type deadlineAdapter struct {
	name        string
	hang        bool
	hadDeadline bool
	calls       int
}

func (d *deadlineAdapter) Name() string { return d.name }

func (d *deadlineAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	d.calls++
	_, d.hadDeadline = ctx.Deadline()
	if d.hang {
		<-ctx.Done()
		return nil, &AbortError{GatewayError: GatewayError{Message: "request cancelled", Cause: ctx.Err()}}
	}
	return textResponse("ok"), nil
}

func TestGenerateAttachesRequestDeadline(t *testing.T) {
	adapter := &deadlineAdapter{name: "fake"}
	client := NewClient(WithAdapter("fake", adapter))
	g := NewGateway(client, WithLogger(quietLogger()))

	_, err := g.Generate(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !adapter.hadDeadline {
		t.Error("backend call reached the adapter with no deadline on the context")
	}
}

func TestGenerateRequestTimeoutIsUpstreamError(t *testing.T) {
	adapter := &deadlineAdapter{name: "fake", hang: true}
	client := NewClient(WithAdapter("fake", adapter))
	g := NewGateway(client,
		WithRequestTimeout(5*time.Millisecond),
		WithRetryPolicy(RetryPolicy{MaxRetries: 0}),
		WithLogger(quietLogger()))

	_, err := g.Generate(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("hi")},
	})
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError on timeout, got %v", err)
	}
}

func TestGenerateRequestTimeoutIsRetried(t *testing.T) {
	adapter := &deadlineAdapter{name: "fake", hang: true}
	client := NewClient(WithAdapter("fake", adapter))
	g := NewGateway(client,
		WithRequestTimeout(5*time.Millisecond),
		WithRetryPolicy(RetryPolicy{MaxRetries: 2, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.001}),
		WithLogger(quietLogger()))

	_, err := g.Generate(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("hi")},
	})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if adapter.calls != 3 {
		t.Errorf("expected 3 adapter calls (initial + 2 retries), got %d", adapter.calls)
	}
}

func TestGenerateCallerCancellationIsNotUpstreamError(t *testing.T) {
	adapter := &deadlineAdapter{name: "fake", hang: true}
	client := NewClient(WithAdapter("fake", adapter))
	g := NewGateway(client,
		WithRetryPolicy(RetryPolicy{MaxRetries: 0}),
		WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := g.Generate(ctx, Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("hi")},
	})
	var ae *AbortError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AbortError on caller cancellation, got %v", err)
	}
}

func TestGenerateDoesNotRetryInvalidRequest(t *testing.T) {
	adapter := &fakeAdapter{
		name: "fake",
		errs: []error{
			&InvalidRequestError{GatewayError: GatewayError{Message: "bad prompt"}, StatusCode: 400},
		},
		responses: []*Response{nil},
	}
	g := newTestGateway(adapter)

	_, err := g.Generate(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("hi")},
	})
	var ire *InvalidRequestError
	if !errors.As(err, &ire) {
		t.Fatalf("expected InvalidRequestError, got %v", err)
	}
	if adapter.calls != 1 {
		t.Errorf("expected 1 adapter call, got %d", adapter.calls)
	}
}
