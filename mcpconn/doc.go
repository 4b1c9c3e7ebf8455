// Package mcpconn provides a uniform connection layer over MCP tool
// providers. A Connection hides whether the provider is a stdio subprocess
// or a streamable-HTTP endpoint behind two operations: ListTools and
// CallTool.
//
// Connections start lazily on first use. Stdio connections own their child
// process and terminate it on teardown, with a bounded grace period before
// a force kill. A Manager tracks a set of named connections, applies restart
// backoff after start failures, and tears down connections that sit idle.
//
// Transport and handshake failures surface as *ConnectionError, malformed
// provider responses as *ProtocolError, and calls to unknown tools as
// *ToolNotFoundError. A tool that runs but reports failure is not an error
// at this layer: it comes back as ToolResult{IsError: true} so the caller
// can feed it back to the model.
package mcpconn
