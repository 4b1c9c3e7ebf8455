package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements Adapter. It
// translates between the gateway types and gollm's API.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.apiKey = key
	}
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a new GollmAdapter for the given provider.
// If apiKey is empty, gollm will attempt to read it from environment variables.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	cfg := &gollmAdapterConfig{
		apiKey:      apiKey,
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if models := ListModels(provider); len(models) > 0 {
			model = models[0].ID
		} else {
			return nil, &ConfigurationError{GatewayError: GatewayError{
				Message: fmt.Sprintf("no default model known for provider %s", provider),
			}}
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // We handle retries ourselves.
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}

	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}

	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmAdapter{
		provider: provider,
		llm:      llm,
		model:    model,
	}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: provider,
		llm:      llm,
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)
	a.applyRequestOptions(req)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(ctx, err)
	}

	return a.buildResponse(req, text), nil
}

// translateRequest converts a Request into a gollm Prompt.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var systemPrompt string
	var userParts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt += msg.TextContent() + "\n"
		case RoleUser:
			userParts = append(userParts, msg.TextContent())
		case RoleAssistant:
			text := msg.TextContent()
			if text != "" {
				userParts = append(userParts, "[Assistant]: "+text)
			}
			for _, call := range msg.ToolCalls() {
				userParts = append(userParts, fmt.Sprintf("[Assistant called %s]: %s", call.Name, string(call.Arguments)))
			}
		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind == ContentToolResult && part.ToolResult != nil {
					var content string
					_ = json.Unmarshal(part.ToolResult.Content, &content)
					if content == "" {
						content = string(part.ToolResult.Content)
					}
					prefix := "[Tool Result]"
					if part.ToolResult.IsError {
						prefix = "[Tool Error]"
					}
					userParts = append(userParts, prefix+": "+content)
				}
			}
		}
	}

	promptText := strings.Join(userParts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	promptOpts := []gollm.PromptOption{}

	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}

	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}

	if req.ToolChoice != "" {
		promptOpts = append(promptOpts, gollm.WithToolChoice(req.ToolChoice))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// applyRequestOptions applies request-level parameters to the gollm LLM.
func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// buildResponse constructs a Response from the generated text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	var contentParts []ContentPart
	toolCalls := a.parseToolCalls(text)

	for i := range toolCalls {
		contentParts = append(contentParts, ContentPart{
			Kind:     ContentToolCall,
			ToolCall: &toolCalls[i],
		})
	}

	// Interleaved narration is kept ahead of the calls.
	cleanedText := a.removeToolCallJSON(text, toolCalls)
	if cleanedText != "" {
		contentParts = append([]ContentPart{TextPart(cleanedText)}, contentParts...)
	}

	if len(contentParts) == 0 {
		contentParts = []ContentPart{TextPart(text)}
	}

	finishReason := FinishStop
	if len(toolCalls) > 0 {
		finishReason = FinishToolCalls
	}

	inputTokens := estimateTokens(req)
	return &Response{
		ID:       "resp_" + uuid.New().String()[:8],
		Model:    model,
		Provider: a.provider,
		Message: Message{
			Role:    RoleAssistant,
			Content: contentParts,
		},
		FinishReason: finishReason,
		Usage: Usage{
			// gollm doesn't expose detailed usage; estimate from text length.
			InputTokens:  inputTokens,
			OutputTokens: len(text) / 4,
			TotalTokens:  inputTokens + len(text)/4,
		},
	}
}

// parseToolCalls attempts to extract tool calls from the response text.
// gollm may return tool calls as JSON in the response text.
func (a *GollmAdapter) parseToolCalls(text string) []ToolCall {
	var calls []ToolCall

	start := strings.Index(text, `{"tool_calls"`)
	if start == -1 {
		start = strings.Index(text, `[{"name"`)
	}
	if start == -1 {
		return nil
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	remaining := text[start:]
	if err := json.Unmarshal([]byte(remaining), &rawCalls); err == nil {
		for _, rc := range rawCalls {
			calls = append(calls, ToolCall{
				ID:        "call_" + uuid.New().String()[:8],
				Name:      rc.Name,
				Arguments: rc.Arguments,
			})
		}
	}

	return calls
}

// removeToolCallJSON removes parsed tool call JSON from the text.
func (a *GollmAdapter) removeToolCallJSON(text string, calls []ToolCall) string {
	if len(calls) == 0 {
		return text
	}
	result := text
	for _, pattern := range []string{`{"tool_calls"`, `[{"name"`} {
		if idx := strings.Index(result, pattern); idx != -1 {
			result = strings.TrimSpace(result[:idx])
		}
	}
	return result
}

// translateError converts a gollm error into the gateway error taxonomy.
func (a *GollmAdapter) translateError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return &AbortError{GatewayError: GatewayError{Message: "request cancelled", Cause: err}}
	}
	msg := err.Error()
	base := GatewayError{Message: msg, Cause: err}

	msgLower := strings.ToLower(msg)
	switch {
	case strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit"):
		return &RateLimitedError{GatewayError: base, Provider: a.provider}
	case strings.Contains(msgLower, "401") || strings.Contains(msgLower, "unauthorized") ||
		strings.Contains(msgLower, "invalid api key"):
		return &InvalidRequestError{GatewayError: base, Provider: a.provider, StatusCode: 401}
	case strings.Contains(msgLower, "403") || strings.Contains(msgLower, "forbidden"):
		return &InvalidRequestError{GatewayError: base, Provider: a.provider, StatusCode: 403}
	case strings.Contains(msgLower, "404") || strings.Contains(msgLower, "not found"):
		return &InvalidRequestError{GatewayError: base, Provider: a.provider, StatusCode: 404}
	case strings.Contains(msgLower, "400") || strings.Contains(msgLower, "invalid request") ||
		strings.Contains(msgLower, "context length"):
		return &InvalidRequestError{GatewayError: base, Provider: a.provider, StatusCode: 400}
	case strings.Contains(msgLower, "500") || strings.Contains(msgLower, "internal server"):
		return &UpstreamError{GatewayError: base, Provider: a.provider, StatusCode: 500}
	case strings.Contains(msgLower, "timeout"):
		return &UpstreamError{GatewayError: base, Provider: a.provider, StatusCode: 408}
	default:
		// Unknown provider failures are treated as transient.
		return &UpstreamError{GatewayError: base, Provider: a.provider}
	}
}

// estimateTokens provides a rough token count estimate from request messages.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			if part.Kind == ContentText {
				total += len(part.Text) / 4
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
