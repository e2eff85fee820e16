package adapter

import (
	"context"
)

// Adapter defines the interface for inference provider adapters.
type Adapter interface {
	// Generate sends a request to the model and returns its reply.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// Role tags a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Request is a provider-neutral inference request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

// Message is one turn in the conversation sent to the model.
// Assistant turns may carry tool calls; tool turns carry a result.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolResult *ToolResult
}

// ToolSpec advertises a callable tool with a single string parameter.
type ToolSpec struct {
	Name        string
	Description string
	Parameter   string
	ParamDoc    string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string
	Name     string
	Argument string
}

// ToolResult answers a ToolCall.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// UserText builds a user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantTurn builds the assistant message that echoes a response back
// into the conversation, tool calls included.
func AssistantTurn(resp *Response) Message {
	msg := Message{Role: RoleAssistant, ToolCalls: resp.ToolCalls}
	if resp.Artifact != nil {
		msg.Content = resp.Artifact.Content
	}
	return msg
}

// ToolTurn builds the message carrying a tool's output.
func ToolTurn(call ToolCall, content string, isError bool) Message {
	return Message{
		Role: RoleTool,
		ToolResult: &ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: content,
			IsError: isError,
		},
	}
}

// AdapterInfo holds metadata about an adapter.
type AdapterInfo struct {
	Name   string
	Models []ModelInfo
}

// ModelInfo holds metadata about a model.
type ModelInfo struct {
	ID          string
	Description string
}
