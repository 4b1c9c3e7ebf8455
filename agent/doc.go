// Package agent runs the orchestration loop that connects an LLM gateway
// to MCP tool connections.
//
// A Session owns one append-only conversation history, one immutable
// config, and one router mapping tool names to live connections. Run seeds
// the history from the session's instruction template and then alternates
// between asking the model for the next step and dispatching the tool it
// requested, until the model answers with plain text or the turn budget
// runs out. Budget exhaustion is a distinct outcome, not an error.
//
// Sessions are sequential: one Run at a time. Different sessions are fully
// isolated and may run concurrently; connections are safe to share.
// Progress is reported on a buffered event channel the host application
// drains.
package agent
