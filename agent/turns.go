package agent

import (
	"time"

	"github.com/nshkrdotcom/mcpflow/llm"
	"github.com/nshkrdotcom/mcpflow/mcpconn"
)

// TurnKind discriminates between turn types.
type TurnKind string

const (
	TurnUser      TurnKind = "user"
	TurnAssistant TurnKind = "assistant"
	TurnTool      TurnKind = "tool"
)

// Turn is a single entry in the conversation history. Turns are appended
// chronologically and never mutated after append.
type Turn struct {
	Kind      TurnKind       `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	User      *UserTurn      `json:"user,omitempty"`
	Assistant *AssistantTurn `json:"assistant,omitempty"`
	Tool      *ToolTurn      `json:"tool,omitempty"`
}

// UserTurn holds user input.
type UserTurn struct {
	Content string `json:"content"`
}

// AssistantTurn holds the model's response: text, and at most one tool call.
type AssistantTurn struct {
	Content  string        `json:"content"`
	ToolCall *llm.ToolCall `json:"tool_call,omitempty"`
	Usage    llm.Usage     `json:"usage"`
}

// ToolTurn holds one tool execution result.
type ToolTurn struct {
	Result mcpconn.ToolResult `json:"result"`
}

// NewUserTurn creates a Turn wrapping user input.
func NewUserTurn(content string) Turn {
	return Turn{
		Kind:      TurnUser,
		Timestamp: time.Now(),
		User:      &UserTurn{Content: content},
	}
}

// NewAssistantTurn creates a Turn wrapping an assistant response.
func NewAssistantTurn(content string, call *llm.ToolCall, usage llm.Usage) Turn {
	return Turn{
		Kind:      TurnAssistant,
		Timestamp: time.Now(),
		Assistant: &AssistantTurn{Content: content, ToolCall: call, Usage: usage},
	}
}

// NewToolTurn creates a Turn wrapping a tool result.
func NewToolTurn(result mcpconn.ToolResult) Turn {
	return Turn{
		Kind:      TurnTool,
		Timestamp: time.Now(),
		Tool:      &ToolTurn{Result: result},
	}
}

// TextContent returns the text content of a turn regardless of its kind.
func (t Turn) TextContent() string {
	switch t.Kind {
	case TurnUser:
		if t.User != nil {
			return t.User.Content
		}
	case TurnAssistant:
		if t.Assistant != nil {
			return t.Assistant.Content
		}
	case TurnTool:
		if t.Tool != nil {
			return t.Tool.Result.Output
		}
	}
	return ""
}

// ConvertHistoryToMessages converts the turn-based history into LLM messages.
func ConvertHistoryToMessages(history []Turn) []llm.Message {
	var messages []llm.Message
	for _, turn := range history {
		switch turn.Kind {
		case TurnUser:
			if turn.User != nil {
				messages = append(messages, llm.UserMessage(turn.User.Content))
			}
		case TurnAssistant:
			if turn.Assistant != nil {
				msg := llm.Message{Role: llm.RoleAssistant}
				if turn.Assistant.Content != "" {
					msg.Content = append(msg.Content, llm.TextPart(turn.Assistant.Content))
				}
				if tc := turn.Assistant.ToolCall; tc != nil {
					msg.Content = append(msg.Content, llm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
				}
				messages = append(messages, msg)
			}
		case TurnTool:
			if turn.Tool != nil {
				r := turn.Tool.Result
				messages = append(messages, llm.ToolResultMessage(r.ID, r.Output, r.IsError))
			}
		}
	}
	return messages
}
