package mcpconn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// rpc is the slice of the MCP client surface a Connection needs. The
// concrete implementation is mark3labs/mcp-go's client; tests substitute
// a fake.
type rpc interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// Connection is one MCP provider, stdio subprocess or streamable HTTP.
// The underlying client starts lazily on first use and the descriptor set
// from the last successful ListTools is cached until teardown. Safe for
// concurrent use.
type Connection struct {
	cfg    Config
	logger *slog.Logger

	// newRPC builds the transport-specific client. Overridable in tests.
	newRPC func() (rpc, error)

	mu           sync.Mutex
	client       rpc
	process      *os.Process
	descriptors  []ToolDescriptor
	lastUsed     time.Time
	failureCount int
	nextAttempt  time.Time
}

// NewConnection creates a connection for the given config. No process is
// spawned and no network traffic happens until the first call.
func NewConnection(cfg Config, logger *slog.Logger) (*Connection, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Command == "" && cfg.URL == "" {
		return nil, fmt.Errorf("server %s: either command or url is required", cfg.Name)
	}
	if cfg.Command != "" && cfg.URL != "" {
		return nil, fmt.Errorf("server %s: command and url are mutually exclusive", cfg.Name)
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.InitTimeout == 0 {
		cfg.InitTimeout = defaultInitTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		cfg:    cfg,
		logger: logger.With("server", cfg.Name),
	}
	c.newRPC = c.dialRPC
	return c, nil
}

func (c *Connection) dialRPC() (rpc, error) {
	switch c.cfg.Transport() {
	case TransportHTTP:
		return client.NewStreamableHttpClient(c.cfg.URL)
	default:
		return client.NewStdioMCPClient(c.cfg.Command, c.cfg.Env, c.cfg.Args...)
	}
}

// Name returns the unique identifier for this server.
func (c *Connection) Name() string {
	return c.cfg.Name
}

// ensureStarted starts the client and performs the MCP handshake if not
// already connected. Caller must hold c.mu.
func (c *Connection) ensureStarted(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	// Restart backoff after start failures.
	if wait := time.Until(c.nextAttempt); wait > 0 {
		return &ConnectionError{
			Server:  c.cfg.Name,
			Message: fmt.Sprintf("in backoff after %d failures, retry in %s", c.failureCount, wait.Round(time.Millisecond)),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.InitTimeout)
	defer cancel()

	rpcClient, err := c.newRPC()
	if err != nil {
		c.recordFailure()
		return &ConnectionError{Server: c.cfg.Name, Message: "failed to create client", Cause: err}
	}

	if err := rpcClient.Start(ctx); err != nil {
		_ = rpcClient.Close()
		c.recordFailure()
		return &ConnectionError{Server: c.cfg.Name, Message: "failed to start", Cause: err}
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "mcpflow",
				Version: "0.1.0",
			},
		},
	}
	if _, err := rpcClient.Initialize(ctx, initReq); err != nil {
		_ = rpcClient.Close()
		c.recordFailure()
		return &ConnectionError{Server: c.cfg.Name, Message: "initialize handshake failed", Cause: err}
	}

	c.client = rpcClient
	c.process = extractProcess(rpcClient)
	c.lastUsed = time.Now()
	c.failureCount = 0
	c.nextAttempt = time.Time{}
	c.logger.Debug("mcp connection established", "transport", c.cfg.Transport())
	return nil
}

// recordFailure bumps the failure counter and schedules the next start
// attempt with exponential backoff: 1s, 2s, 4s, capped at 30s.
// Caller must hold c.mu.
func (c *Connection) recordFailure() {
	c.failureCount++
	backoff := 30 * time.Second
	if c.failureCount <= 5 {
		backoff = time.Duration(1<<uint(c.failureCount-1)) * time.Second
	}
	c.nextAttempt = time.Now().Add(backoff)
}

// extractProcess pulls the underlying OS process out of a stdio transport
// so shutdown can force-kill an unresponsive server. Uses reflection on the
// transport's Cmd field; returns nil when unavailable (non-stdio transports,
// fakes).
func extractProcess(rpcClient rpc) *os.Process {
	mcpClient, ok := rpcClient.(*client.Client)
	if !ok {
		return nil
	}
	transport := mcpClient.GetTransport()
	if transport == nil {
		return nil
	}

	transportVal := reflect.ValueOf(transport)
	if transportVal.Kind() == reflect.Ptr {
		transportVal = transportVal.Elem()
	}
	if transportVal.Kind() != reflect.Struct {
		return nil
	}

	cmdField := transportVal.FieldByName("Cmd")
	if !cmdField.IsValid() || cmdField.Kind() != reflect.Ptr || cmdField.IsNil() {
		return nil
	}
	processField := cmdField.Elem().FieldByName("Process")
	if !processField.IsValid() || processField.IsNil() {
		return nil
	}
	if proc, ok := processField.Interface().(*os.Process); ok {
		return proc
	}
	return nil
}

// ListTools retrieves the provider's tool descriptors, starting the
// connection if needed. The result of the first successful listing is
// cached for the connection lifetime.
func (c *Connection) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}
	c.lastUsed = time.Now()

	if c.descriptors != nil {
		return append([]ToolDescriptor(nil), c.descriptors...), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, &ConnectionError{Server: c.cfg.Name, Message: "failed to list tools", Cause: err}
	}

	descriptors := make([]ToolDescriptor, len(result.Tools))
	for i, tool := range result.Tools {
		schema, err := toolSchema(tool)
		if err != nil {
			return nil, &ProtocolError{Server: c.cfg.Name, Message: fmt.Sprintf("bad schema for tool %s", tool.Name), Cause: err}
		}
		descriptors[i] = ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		}
	}

	c.descriptors = descriptors
	c.logger.Debug("tools listed", "count", len(descriptors))
	return append([]ToolDescriptor(nil), descriptors...), nil
}

// toolSchema extracts the raw input schema from an mcp-go tool. RawInputSchema
// is preferred; otherwise the tool is marshalled and inputSchema extracted.
func toolSchema(tool mcp.Tool) (json.RawMessage, error) {
	if len(tool.RawInputSchema) > 0 {
		return json.RawMessage(tool.RawInputSchema), nil
	}
	toolBytes, err := tool.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var toolMap map[string]json.RawMessage
	if err := json.Unmarshal(toolBytes, &toolMap); err != nil {
		return nil, err
	}
	if schema, ok := toolMap["inputSchema"]; ok {
		return schema, nil
	}
	return json.RawMessage(`{"type":"object"}`), nil
}

// CallTool invokes a tool by name. The id is the caller's correlation
// identifier, echoed on the result. Unknown names fail with
// *ToolNotFoundError against the last-listed descriptor set; transport
// failures and timeouts fail with *ConnectionError. A tool that reports
// its own failure returns ToolResult{IsError: true} and a nil error.
func (c *Connection) CallTool(ctx context.Context, id, name string, args json.RawMessage) (ToolResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureStarted(ctx); err != nil {
		return ToolResult{}, err
	}
	c.lastUsed = time.Now()

	if c.descriptors != nil && !c.hasTool(name) {
		return ToolResult{}, &ToolNotFoundError{Server: c.cfg.Name, Tool: name}
	}

	var arguments map[string]interface{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return ToolResult{}, &ProtocolError{Server: c.cfg.Name, Message: "tool arguments are not a JSON object", Cause: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	c.logger.Debug("calling tool", "tool", name, "call_id", id)

	result, err := c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: arguments,
		},
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ToolResult{}, &ConnectionError{Server: c.cfg.Name, Message: fmt.Sprintf("tool %s timed out", name), Cause: err}
		}
		return ToolResult{}, &ConnectionError{Server: c.cfg.Name, Message: fmt.Sprintf("tool %s call failed", name), Cause: err}
	}

	output, err := flattenContent(result.Content)
	if err != nil {
		return ToolResult{}, &ProtocolError{Server: c.cfg.Name, Message: fmt.Sprintf("unreadable result from tool %s", name), Cause: err}
	}

	return ToolResult{
		ID:      id,
		Name:    name,
		Output:  output,
		IsError: result.IsError,
	}, nil
}

// hasTool reports whether name is in the cached descriptor set.
// Caller must hold c.mu.
func (c *Connection) hasTool(name string) bool {
	for _, d := range c.descriptors {
		if d.Name == name {
			return true
		}
	}
	return false
}

// flattenContent renders MCP content items into a single text output.
func flattenContent(content []mcp.Content) (string, error) {
	var out string
	for i, item := range content {
		if i > 0 {
			out += "\n"
		}
		if textContent, ok := mcp.AsTextContent(item); ok {
			out += textContent.Text
			continue
		}
		if imageContent, ok := mcp.AsImageContent(item); ok {
			out += fmt.Sprintf("[image %s, %d bytes base64]", imageContent.MIMEType, len(imageContent.Data))
			continue
		}
		raw, err := json.Marshal(item)
		if err != nil {
			return "", err
		}
		out += string(raw)
	}
	return out, nil
}

// Ping checks liveness of a started connection. A connection that was
// never started reports no error.
func (c *Connection) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	if err := c.client.Ping(ctx); err != nil {
		return &ConnectionError{Server: c.cfg.Name, Message: "ping failed", Cause: err}
	}
	return nil
}

// Started reports whether the underlying client is currently connected.
func (c *Connection) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// IdleSince returns how long the connection has been unused, or zero when
// the connection is not started.
func (c *Connection) IdleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return 0
	}
	return time.Since(c.lastUsed)
}

// Close tears the connection down immediately. The descriptor cache is
// dropped; a later call starts a fresh client.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Connection) closeLocked() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.process = nil
	c.descriptors = nil
	if err != nil {
		return &ConnectionError{Server: c.cfg.Name, Message: "close failed", Cause: err}
	}
	return nil
}

// CloseWithGrace closes the connection, giving the underlying client up to
// grace to shut down cleanly before force-killing a stdio child process.
func (c *Connection) CloseWithGrace(grace time.Duration) error {
	c.mu.Lock()
	if c.client == nil {
		c.mu.Unlock()
		return nil
	}
	rpcClient := c.client
	process := c.process
	c.client = nil
	c.process = nil
	c.descriptors = nil
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- rpcClient.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return &ConnectionError{Server: c.cfg.Name, Message: "close failed", Cause: err}
		}
		return nil
	case <-time.After(grace):
		if process != nil {
			c.logger.Warn("server did not exit within grace period, killing", "grace", grace)
			_ = process.Kill()
		}
		return &ConnectionError{Server: c.cfg.Name, Message: "close timed out"}
	}
}
