package executors

import (
	"context"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/internal/xjson"
	"github.com/deepnoodle-ai/flowgraph/retry"
)

// PlatformDefaultModel is the model used when nothing else selects one.
const PlatformDefaultModel = "gpt-4o-mini"

// DefaultAgentIterations bounds the tool-calling loop when the node does not
// set its own limit.
const DefaultAgentIterations = 5

// ResolveModel picks the model for an agent node. The node's own setting
// wins, then the user's selection, the workflow default, the engine default
// and finally PlatformDefaultModel.
func ResolveModel(nodeModel string, ectx *flowgraph.ExecutionContext) string {
	if nodeModel != "" {
		return nodeModel
	}
	if ectx != nil {
		if ectx.SelectedModel != "" {
			return ectx.SelectedModel
		}
		if ectx.Workflow != nil && ectx.Workflow.Config().DefaultModel != "" {
			return ectx.Workflow.Config().DefaultModel
		}
		if ectx.DefaultModel != "" {
			return ectx.DefaultModel
		}
	}
	return PlatformDefaultModel
}

// AgentExecutor renders the node's prompts, runs a bounded tool-calling loop
// against the LLM collaborator and stores the final answer.
type AgentExecutor struct {
	LLM   LLMClient
	Tools ToolInvoker
}

func (a *AgentExecutor) Type() flowgraph.NodeType {
	return flowgraph.NodeTypeAgent
}

func (a *AgentExecutor) Execute(ctx context.Context, node *flowgraph.Node, state flowgraph.StateReader, ectx *flowgraph.ExecutionContext) (*flowgraph.NodeResult, error) {
	if a.LLM == nil {
		return nil, flowgraph.Errorf(flowgraph.CodeNodeFailed, "no LLM client configured for agent node %q", node.ID)
	}
	var cfg flowgraph.AgentConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return nil, configError(node, err)
	}

	data := ectx.TemplateData(state, node)
	prompt, err := renderText(ctx, node, "prompt", cfg.Prompt, data)
	if err != nil {
		return nil, err
	}
	system, err := renderText(ctx, node, "system_prompt", cfg.SystemPrompt, data)
	if err != nil {
		return nil, err
	}
	if len(cfg.Sources) > 0 {
		contents, err := ectx.Sources.Get(ctx, cfg.Sources)
		if err != nil {
			return nil, err
		}
		prompt = withSources(prompt, cfg.Sources, contents)
	}

	req := &CompletionRequest{
		Model:          ResolveModel(cfg.Model, ectx),
		SystemPrompt:   system,
		Messages:       []Message{{Role: RoleUser, Content: prompt}},
		Temperature:    cfg.Temperature,
		ResponseFormat: cfg.ResponseFormat,
	}
	for _, name := range cfg.Tools {
		def := ToolDefinition{Name: name}
		if describer, ok := a.Tools.(ToolDescriber); ok {
			if described, found := describer.DescribeTool(name); found {
				def = described
			}
		}
		req.Tools = append(req.Tools, def)
	}

	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultAgentIterations
	}
	var (
		resp      *CompletionResponse
		usage     Usage
		toolCalls int
		iteration int
		exhausted bool
	)
	for iteration = 1; ; iteration++ {
		resp, err = a.LLM.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("agent %q completion: %w", node.ID, err)
		}
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens
		if len(resp.ToolCalls) == 0 {
			break
		}
		if iteration >= maxIterations {
			exhausted = true
			break
		}
		req.Messages = append(req.Messages, Message{Role: RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			toolCalls++
			req.Messages = append(req.Messages, a.callTool(ctx, ectx, cfg.Tools, call))
		}
	}
	if exhausted {
		flowgraph.LoggerFromContext(ctx).Warn("agent reached its iteration limit", "iterations", iteration)
	}

	var value any = resp.Content
	if cfg.ResponseFormat == "json" {
		var parsed any
		if err := xjson.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &parsed); err != nil {
			return nil, retry.Transient(fmt.Errorf("agent %q returned invalid JSON: %w", node.ID, err))
		}
		value = parsed
	}

	output := map[string]any{
		"response":   value,
		"model":      req.Model,
		"iterations": iteration,
		"tool_calls": toolCalls,
		"usage":      map[string]any{"input_tokens": usage.InputTokens, "output_tokens": usage.OutputTokens},
	}
	if exhausted {
		output["truncated"] = true
	}
	result := &flowgraph.NodeResult{Status: flowgraph.NodeStatusCompleted, Output: output}
	if cfg.OutputVariable != "" {
		result.StateUpdates = map[string]any{cfg.OutputVariable: value}
	}
	return result, nil
}

// callTool runs one tool call requested by the model. Failures are reported
// back to the model rather than failing the node.
func (a *AgentExecutor) callTool(ctx context.Context, ectx *flowgraph.ExecutionContext, allowed []string, call ToolCall) Message {
	msg := Message{Role: RoleTool, ToolCallID: call.ID}
	permitted := false
	for _, name := range allowed {
		if name == call.Name {
			permitted = true
			break
		}
	}
	switch {
	case !permitted:
		msg.Content = fmt.Sprintf("error: tool %q is not available", call.Name)
	case a.Tools == nil:
		msg.Content = "error: no tools are configured"
	default:
		result, err := a.Tools.InvokeTool(ctx, call.Name, call.Arguments)
		if err != nil {
			flowgraph.LoggerFromContext(ctx).Warn("agent tool call failed", "tool", call.Name, "error", err)
			msg.Content = "error: " + err.Error()
			break
		}
		if text, ok := result.(string); ok {
			msg.Content = text
			break
		}
		data, err := xjson.Marshal(result)
		if err != nil {
			msg.Content = fmt.Sprintf("%v", result)
			break
		}
		msg.Content = string(data)
	}
	return msg
}

func withSources(prompt string, ids, contents []string) string {
	var b strings.Builder
	b.WriteString(prompt)
	for i, id := range ids {
		fmt.Fprintf(&b, "\n\n<source id=%q>\n%s\n</source>", id, contents[i])
	}
	return b.String()
}
