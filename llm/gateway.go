package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRequestTimeout bounds a single backend call when the gateway is
// not configured otherwise.
const DefaultRequestTimeout = 2 * time.Minute

// Gateway is the high-level entry point the agent loop talks to. It wraps a
// Client with retry handling and collapses provider responses into the
// two-armed Reply union: either assistant text or a single tool call.
//
// Providers may emit several tool calls in one response; the gateway honors
// only the first and records a warning for the rest. The assistant message
// attached to the Reply is already trimmed to the honored call so it can be
// appended to history as-is.
type Gateway struct {
	client  *Client
	retry   RetryPolicy
	timeout time.Duration
	logger  *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) GatewayOption {
	return func(g *Gateway) { g.retry = p }
}

// WithRequestTimeout bounds each individual backend call. A call that hits
// the deadline fails with *UpstreamError and is retried per the gateway's
// policy.
func WithRequestTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a Gateway over the given client.
func NewGateway(client *Client, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		client:  client,
		retry:   DefaultRetryPolicy(),
		timeout: DefaultRequestTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate sends the request and normalizes the response into a Reply.
// Transient failures are retried per the gateway's policy; errors that
// survive retry carry the taxonomy types from errors.go.
func (g *Gateway) Generate(ctx context.Context, req Request) (*Reply, error) {
	policy := g.retry
	onRetry := policy.OnRetry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		g.logger.Warn("llm request failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err)
		if onRetry != nil {
			onRetry(err, attempt, delay)
		}
	}

	resp, err := Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
		return g.complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return replyFromResponse(resp, g.logger), nil
}

// complete runs one backend call under the gateway's request timeout. A call
// that hits the deadline (rather than a caller cancellation) fails with
// *UpstreamError, matching how tool-call timeouts surface as connection
// failures.
func (g *Gateway) complete(ctx context.Context, req Request) (*Response, error) {
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.client.Complete(callCtx, req)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, &UpstreamError{
			GatewayError: GatewayError{
				Message: fmt.Sprintf("request timed out after %s", g.timeout),
				Cause:   err,
			},
			Provider: req.Provider,
		}
	}
	return resp, err
}

func replyFromResponse(resp *Response, logger *slog.Logger) *Reply {
	reply := &Reply{
		Usage:    resp.Usage,
		Warnings: resp.Warnings,
		Text:     resp.Text(),
	}

	calls := resp.Message.ToolCalls()
	if len(calls) == 0 {
		reply.Kind = ReplyText
		reply.Message = resp.Message
		return reply
	}

	reply.Kind = ReplyToolCall
	first := calls[0]
	reply.Call = &first

	if len(calls) > 1 {
		w := Warning{
			Code: "multiple_tool_calls",
			Message: fmt.Sprintf("model returned %d tool calls, honoring only %s (%s)",
				len(calls), first.Name, first.ID),
		}
		reply.Warnings = append(reply.Warnings, w)
		logger.Warn(w.Message, "tool", first.Name, "call_id", first.ID)
	}

	// Trim the assistant message to the honored call so history reflects
	// exactly what will be executed.
	msg := Message{Role: resp.Message.Role}
	honored := false
	for _, part := range resp.Message.Content {
		switch part.Kind {
		case ContentToolCall:
			if !honored && part.ToolCall != nil && part.ToolCall.ID == first.ID {
				msg.Content = append(msg.Content, part)
				honored = true
			}
		default:
			msg.Content = append(msg.Content, part)
		}
	}
	reply.Message = msg
	return reply
}
