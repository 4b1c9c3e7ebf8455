// Package llm is the single point of contact with language-model backends.
//
// It presents a provider-agnostic interface: conversation messages and tool
// definitions go in, a Reply comes out. A Reply is a tagged union of either
// final text or a single tool-call request; backends that return several tool
// calls in one response have all but the first dropped with a warning.
//
// # Architecture
//
// The package is organized in three layers:
//
//   - Adapter: the per-backend contract (GollmAdapter wraps the gollm
//     library and translates to and from its native API).
//   - Client: adapter registry with provider routing and middleware.
//   - Gateway: the high-level entry point used by the orchestration loop,
//     adding bounded retry with exponential backoff and reply shaping.
//
// # Errors
//
// Backend failures map onto a small taxonomy: RateLimitedError and
// UpstreamError are retryable (the Gateway retries them itself, honoring
// Retry-After where provided); InvalidRequestError is not, since it indicates
// a malformed prompt or tool schema and must reach the caller. IsRetryable
// classifies any error against this taxonomy.
//
// # Quick Start
//
//	adapter, _ := llm.NewGollmAdapter("anthropic", os.Getenv("ANTHROPIC_API_KEY"))
//	client := llm.NewClient(llm.WithAdapter("anthropic", adapter))
//	gw := llm.NewGateway(client)
//
//	reply, err := gw.Generate(ctx, llm.Request{
//	    Model:    "claude-sonnet-4-5",
//	    Messages: []llm.Message{llm.UserMessage("What is 2+2?")},
//	})
package llm
