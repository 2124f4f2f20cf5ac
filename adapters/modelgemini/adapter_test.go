package modelgemini

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/Gurpartap/taskflow/agent"
)

func TestBuildRequest(t *testing.T) {
	t.Parallel()

	contents, config, err := buildRequest(agent.ModelRequest{
		JSON: true,
		Messages: []agent.Message{
			{Role: agent.RoleSystem, Content: "Classify tasks."},
			{Role: agent.RoleUser, Content: "fix the login bug"},
			{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{{ID: "c1", Name: "classify_text", Arguments: map[string]any{"text": "fix"}}}},
			{Role: agent.RoleTool, ToolCallID: "c1", Content: `{"classification":"bug"}`},
		},
		Tools: []agent.ToolDefinition{{Name: "classify_text", InputSchema: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)

	require.Equal(t, "application/json", config.ResponseMIMEType)
	require.Equal(t, "Classify tasks.", config.SystemInstruction.Parts[0].Text)
	require.Len(t, config.Tools, 1)
	require.Equal(t, "classify_text", config.Tools[0].FunctionDeclarations[0].Name)

	require.Len(t, contents, 3)
	require.Equal(t, genai.RoleModel, contents[1].Role)
	require.Equal(t, "classify_text", contents[1].Parts[0].FunctionCall.Name)
	response := contents[2].Parts[0].FunctionResponse
	require.Equal(t, "classify_text", response.Name)
	require.Equal(t, map[string]any{"output": `{"classification":"bug"}`}, response.Response)
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	err := wrapError(genai.APIError{Code: 429, Message: "quota"})
	require.ErrorContains(t, err, "status=429")
}
