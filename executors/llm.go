package executors

import (
	"context"
	"fmt"
	"strings"
)

// Message roles used in completion requests.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Message is one turn of a conversation with the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Usage reports token consumption of a completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionRequest is sent to the LLM collaborator.
type CompletionRequest struct {
	Model          string           `json:"model"`
	SystemPrompt   string           `json:"system_prompt,omitempty"`
	Messages       []Message        `json:"messages"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	Temperature    *float64         `json:"temperature,omitempty"`
	ResponseFormat string           `json:"response_format,omitempty"`
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// LLMClient is the completion and tool-calling service agent nodes delegate
// to. Errors should be marked with retry.Transient or retry.Permanent when
// the client knows which applies.
type LLMClient interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// LLMClientFunc adapts a function to LLMClient.
type LLMClientFunc func(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

func (f LLMClientFunc) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	return f(ctx, req)
}

// ToolInvoker runs a named tool with structured parameters.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, name string, params map[string]any) (any, error)
}

// ToolDescriber is optionally implemented by a ToolInvoker to describe its
// tools to the model.
type ToolDescriber interface {
	DescribeTool(name string) (ToolDefinition, bool)
}

// ToolInvokerFunc adapts a function to ToolInvoker.
type ToolInvokerFunc func(ctx context.Context, name string, params map[string]any) (any, error)

func (f ToolInvokerFunc) InvokeTool(ctx context.Context, name string, params map[string]any) (any, error) {
	return f(ctx, name, params)
}

// EchoClient is an LLMClient that answers every request with the last user
// message. It is useful for dry runs of a workflow without a model provider.
type EchoClient struct{}

func (EchoClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	content := fmt.Sprintf("[%s] %s", req.Model, strings.TrimSpace(last))
	if req.ResponseFormat == "json" {
		content = fmt.Sprintf("{\"model\": %q, \"echo\": %q}", req.Model, strings.TrimSpace(last))
	}
	return &CompletionResponse{
		Content: content,
		Usage:   Usage{InputTokens: len(last) / 4, OutputTokens: len(content) / 4},
	}, nil
}
