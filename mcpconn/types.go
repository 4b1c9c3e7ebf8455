package mcpconn

import (
	"encoding/json"
	"time"
)

// ToolDescriptor describes one tool exposed by an MCP provider.
// InputSchema is the provider's JSON Schema for the tool arguments, kept
// raw so the gateway layer can translate it per backend.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolResult is the outcome of one tool invocation. ID echoes the caller's
// correlation identifier. IsError marks a domain-level tool failure; the
// call itself succeeded at the transport level.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error"`
}

// Transport identifies how a connection reaches its provider.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// Config configures one MCP provider connection.
type Config struct {
	// Name is the unique identifier for this server.
	Name string

	// Command is the executable to run (stdio transport).
	Command string

	// Args are the command-line arguments.
	Args []string

	// Env are environment variables to pass to the server, KEY=VALUE form.
	Env []string

	// URL is the endpoint for streamable-HTTP transport. When set, Command
	// must be empty.
	URL string

	// CallTimeout bounds each tool call (defaults to 30s).
	CallTimeout time.Duration

	// InitTimeout bounds the start + handshake sequence (defaults to 10s).
	InitTimeout time.Duration

	// IdleTimeout tears the connection down after this much inactivity.
	// Zero disables idle teardown.
	IdleTimeout time.Duration
}

// Transport reports which transport the config selects.
func (c Config) Transport() Transport {
	if c.URL != "" {
		return TransportHTTP
	}
	return TransportStdio
}

const (
	defaultCallTimeout = 30 * time.Second
	defaultInitTimeout = 10 * time.Second
)
