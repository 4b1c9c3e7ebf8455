package llm

import (
	"context"
	"errors"
	"testing"
)

func TestClientRoutesToDefaultProvider(t *testing.T) {
	adapter := &fakeAdapter{name: "fake", responses: []*Response{textResponse("ok")}}
	client := NewClient(WithAdapter("fake", adapter))

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "ok" {
		t.Errorf("expected %q, got %q", "ok", resp.Text())
	}
	// Sole adapter becomes the default.
	if adapter.lastReq.Provider != "fake" {
		t.Errorf("expected provider set on request, got %q", adapter.lastReq.Provider)
	}
}

func TestClientExplicitProviderWins(t *testing.T) {
	a := &fakeAdapter{name: "a", responses: []*Response{textResponse("from a")}}
	b := &fakeAdapter{name: "b", responses: []*Response{textResponse("from b")}}
	client := NewClient(
		WithAdapter("a", a),
		WithAdapter("b", b),
		WithDefaultProvider("a"),
	)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Provider: "b",
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "from b" {
		t.Errorf("expected routing to b, got %q", resp.Text())
	}
}

func TestClientInfersProviderFromCatalog(t *testing.T) {
	adapter := &fakeAdapter{name: "anthropic", responses: []*Response{textResponse("ok")}}
	other := &fakeAdapter{name: "openai", responses: []*Response{textResponse("wrong")}}
	client := NewClient(WithAdapter("anthropic", adapter), WithAdapter("openai", other))

	_, err := client.Complete(context.Background(), Request{
		Model:    "claude-sonnet-4-5",
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if adapter.calls != 1 {
		t.Errorf("expected catalog inference to pick anthropic, calls=%d", adapter.calls)
	}
}

func TestClientNoProviderConfigured(t *testing.T) {
	a := &fakeAdapter{name: "a", responses: []*Response{textResponse("x")}}
	b := &fakeAdapter{name: "b", responses: []*Response{textResponse("y")}}
	client := NewClient(WithAdapter("a", a), WithAdapter("b", b))

	_, err := client.Complete(context.Background(), Request{
		Model:    "unknown-model",
		Messages: []Message{UserMessage("hi")},
	})
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestClientUnknownProvider(t *testing.T) {
	client := NewClient(WithAdapter("fake", &fakeAdapter{name: "fake", responses: []*Response{textResponse("x")}}))

	_, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Provider: "missing",
		Messages: []Message{UserMessage("hi")},
	})
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	adapter := &fakeAdapter{name: "fake", responses: []*Response{textResponse("ok")}}

	var order []string
	mw := func(name string) Middleware {
		return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
			order = append(order, name+":before")
			resp, err := next(ctx, req)
			order = append(order, name+":after")
			return resp, err
		}
	}

	client := NewClient(
		WithAdapter("fake", adapter),
		WithMiddleware(mw("outer"), mw("inner")),
	)

	if _, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("hi")},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"outer:before", "inner:before", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}
