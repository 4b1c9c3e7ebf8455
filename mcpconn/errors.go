package mcpconn

import "fmt"

// ConnectionError indicates the provider is unreachable, failed to start,
// failed the MCP handshake, or timed out mid-call.
type ConnectionError struct {
	Server  string
	Message string
	Cause   error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection %s: %s: %v", e.Server, e.Message, e.Cause)
	}
	return fmt.Sprintf("connection %s: %s", e.Server, e.Message)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// ProtocolError indicates the provider answered but the response could not
// be interpreted as valid MCP data.
type ProtocolError struct {
	Server  string
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error from %s: %s: %v", e.Server, e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error from %s: %s", e.Server, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// ToolNotFoundError indicates a call to a tool name absent from the
// provider's last-listed descriptor set.
type ToolNotFoundError struct {
	Server string
	Tool   string
}

func (e *ToolNotFoundError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("tool %q not found", e.Tool)
	}
	return fmt.Sprintf("tool %q not found on server %s", e.Tool, e.Server)
}
