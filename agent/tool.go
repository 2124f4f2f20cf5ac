package agent

import (
	"maps"

	"github.com/Gurpartap/taskflow/session"
)

// ToolDefinition declares a callable capability and its JSON-schema input.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ToolCall is a request to execute one tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolFailureReason classifies normalized tool errors.
type ToolFailureReason string

const (
	ToolFailureReasonUnknownTool      ToolFailureReason = "unknown_tool"
	ToolFailureReasonInvalidArguments ToolFailureReason = "invalid_arguments"
	ToolFailureReasonExecutorError    ToolFailureReason = "executor_error"
	ToolFailureReasonBlocked          ToolFailureReason = "blocked"
)

// ToolResult is the normalized output produced by a tool execution.
type ToolResult struct {
	CallID        string            `json:"call_id"`
	Name          string            `json:"name"`
	Content       string            `json:"content"`
	IsError       bool              `json:"is_error,omitempty"`
	FailureReason ToolFailureReason `json:"failure_reason,omitempty"`
}

// ToolResultMessage converts a tool result to a transcript message.
func ToolResultMessage(result ToolResult) Message {
	return Message{
		Role:       RoleTool,
		Name:       result.Name,
		ToolCallID: result.CallID,
		Content:    result.Content,
	}
}

// CloneToolCall returns a deep copy of a tool call.
func CloneToolCall(in ToolCall) ToolCall {
	out := in
	if in.Arguments != nil {
		out.Arguments = make(map[string]any, len(in.Arguments))
		maps.Copy(out.Arguments, in.Arguments)
	}
	return out
}

// CloneToolDefinitions returns deep copies of definitions, schemas included.
func CloneToolDefinitions(in []ToolDefinition) []ToolDefinition {
	if in == nil {
		return nil
	}
	out := make([]ToolDefinition, len(in))
	for i := range in {
		out[i] = in[i]
		out[i].InputSchema = session.State(in[i].InputSchema).Clone()
	}
	return out
}
