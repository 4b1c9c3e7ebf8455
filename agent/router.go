package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nshkrdotcom/mcpflow/llm"
	"github.com/nshkrdotcom/mcpflow/mcpconn"
)

// Conn is the slice of the connection surface the loop needs. The concrete
// implementation is *mcpconn.Connection; tests substitute fakes.
type Conn interface {
	Name() string
	ListTools(ctx context.Context) ([]mcpconn.ToolDescriptor, error)
	CallTool(ctx context.Context, id, name string, args json.RawMessage) (mcpconn.ToolResult, error)
}

// Router maps tool names to the connection that provides them. Built once
// at session setup from each connection's descriptor listing; read-only
// afterwards.
type Router struct {
	routes      map[string]Conn
	definitions []llm.ToolDefinition
}

// BuildRouter lists tools on every connection and indexes them by name.
// When two connections expose the same tool name, the first-listed
// connection wins and a warning is logged. Descriptor schemas are
// sanitized into backend-ready tool definitions; malformed schemas degrade
// with a warning, never a failure.
func BuildRouter(ctx context.Context, conns []Conn, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{routes: make(map[string]Conn)}
	for _, conn := range conns {
		descriptors, err := conn.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range descriptors {
			if existing, ok := r.routes[d.Name]; ok {
				logger.Warn("duplicate tool name, keeping first-listed connection",
					"tool", d.Name,
					"kept", existing.Name(),
					"ignored", conn.Name())
				continue
			}
			r.routes[d.Name] = conn
			r.definitions = append(r.definitions, definitionFromDescriptor(d, logger))
		}
	}
	return r, nil
}

func definitionFromDescriptor(d mcpconn.ToolDescriptor, logger *slog.Logger) llm.ToolDefinition {
	var schema map[string]interface{}
	if len(d.InputSchema) > 0 {
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			logger.Warn("tool schema is not a JSON object, using permissive schema",
				"tool", d.Name, "error", err)
			schema = nil
		}
	}
	sanitized, warnings := llm.SanitizeSchema(d.Name, schema)
	for _, w := range warnings {
		logger.Warn(w.Message, "tool", d.Name)
	}
	return llm.ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  sanitized,
	}
}

// Route returns the connection providing the named tool, or
// *mcpconn.ToolNotFoundError when no connection does.
func (r *Router) Route(name string) (Conn, error) {
	conn, ok := r.routes[name]
	if !ok {
		return nil, &mcpconn.ToolNotFoundError{Tool: name}
	}
	return conn, nil
}

// Definitions returns the backend-ready tool definitions, in listing order.
func (r *Router) Definitions() []llm.ToolDefinition {
	return append([]llm.ToolDefinition(nil), r.definitions...)
}

// ToolCount returns the number of routable tools.
func (r *Router) ToolCount() int {
	return len(r.routes)
}
