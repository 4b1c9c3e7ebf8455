package llm

import (
	"context"
	"fmt"
	"sync"
)

// Adapter is the interface every backend must implement.
type Adapter interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// Middleware wraps an adapter call. It receives the request and a next
// function that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// Client routes requests to registered adapters by provider identifier and
// applies middleware.
type Client struct {
	adapters        map[string]Adapter
	defaultProvider string
	middleware      []Middleware
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAdapter registers a backend adapter.
func WithAdapter(name string, adapter Adapter) ClientOption {
	return func(c *Client) {
		c.adapters[name] = adapter
	}
}

// WithDefaultProvider sets the default provider name.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		adapters: make(map[string]Adapter),
	}
	for _, opt := range opts {
		opt(c)
	}
	// If no default and exactly one adapter, use it.
	if c.defaultProvider == "" && len(c.adapters) == 1 {
		for name := range c.adapters {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterAdapter adds a backend adapter to the client.
func (c *Client) RegisterAdapter(name string, adapter Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// resolveAdapter determines which adapter to use for a request.
func (c *Client) resolveAdapter(req Request) (Adapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		// Try to infer from the model catalog.
		if info := GetModelInfo(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, &ConfigurationError{GatewayError: GatewayError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	adapter, ok := c.adapters[name]
	if !ok {
		return nil, &ConfigurationError{GatewayError: GatewayError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Complete sends a blocking request through middleware to the resolved adapter.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveAdapter(req)
	if err != nil {
		return nil, err
	}

	// Ensure provider is set on the request.
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return adapter.Complete(ctx, r)
	}

	// Apply middleware in reverse order so first registered runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}

// Close releases resources held by all registered adapters.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.adapters {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
