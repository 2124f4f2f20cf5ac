package guardrail_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Gurpartap/taskflow/agent"
	"github.com/Gurpartap/taskflow/policy/guardrail"
)

type modelFunc func(context.Context, agent.ModelRequest) (agent.Message, error)

func (f modelFunc) Generate(ctx context.Context, request agent.ModelRequest) (agent.Message, error) {
	return f(ctx, request)
}

type toolFunc func(context.Context, agent.ToolCall) (agent.ToolResult, error)

func (f toolFunc) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	return f(ctx, call)
}

func TestPolicy_CheckText(t *testing.T) {
	t.Parallel()

	policy := guardrail.Default()
	tests := []struct {
		text    string
		keyword string
	}{
		{text: "add a task for the launch", keyword: ""},
		{text: "this is confidential, track it", keyword: "CONFIDENTIAL"},
		{text: "notes for secret_project_x", keyword: "SECRET_PROJECT_X"},
		{text: "export PII_DATA to the sheet", keyword: "PII_DATA"},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			t.Parallel()
			err := policy.CheckText(tc.text)
			if tc.keyword == "" {
				if err != nil {
					t.Fatalf("unexpected violation: %v", err)
				}
				return
			}
			var violation *guardrail.Violation
			if !errors.As(err, &violation) || violation.Keyword != tc.keyword {
				t.Fatalf("expected violation for %s, got %v", tc.keyword, err)
			}
			if !errors.Is(err, guardrail.ErrBlocked) {
				t.Fatalf("violation should match ErrBlocked")
			}
		})
	}
}

func TestWrapModel_InspectsLatestUserMessage(t *testing.T) {
	t.Parallel()

	calls := 0
	model := guardrail.WrapModel(modelFunc(func(context.Context, agent.ModelRequest) (agent.Message, error) {
		calls++
		return agent.Message{Role: agent.RoleAssistant, Content: "ok"}, nil
	}), guardrail.Default())

	_, err := model.Generate(context.Background(), agent.ModelRequest{Messages: []agent.Message{
		{Role: agent.RoleUser, Content: "CONFIDENTIAL launch plan"},
		{Role: agent.RoleAssistant, Content: "what is the status?"},
		{Role: agent.RoleUser, Content: "in progress"},
	}})
	if err != nil || calls != 1 {
		t.Fatalf("older user messages must not block: err=%v calls=%d", err, calls)
	}

	_, err = model.Generate(context.Background(), agent.ModelRequest{Messages: []agent.Message{
		{Role: agent.RoleSystem, Content: "PII_DATA appears in system prompts"},
		{Role: agent.RoleUser, Content: "please log the pii_data audit"},
	}})
	if !errors.Is(err, guardrail.ErrBlocked) || calls != 1 {
		t.Fatalf("expected blocked request without model call: err=%v calls=%d", err, calls)
	}
}

func TestWrapToolExecutor_DenyRules(t *testing.T) {
	t.Parallel()

	calls := 0
	executor := guardrail.WrapToolExecutor(toolFunc(func(_ context.Context, call agent.ToolCall) (agent.ToolResult, error) {
		calls++
		return agent.ToolResult{CallID: call.ID, Name: call.Name, Content: "done"}, nil
	}), guardrail.Policy{Rules: []guardrail.Rule{
		{Tool: "add_task_to_notion_database", Argument: "project", Contains: "critical", Reason: "critical projects are read-only"},
	}})

	result, err := executor.Execute(context.Background(), agent.ToolCall{
		ID:        "call-1",
		Name:      "add_task_to_notion_database",
		Arguments: map[string]any{"project": "CRITICAL_ITEM_123"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError || result.FailureReason != agent.ToolFailureReasonBlocked || calls != 0 {
		t.Fatalf("expected blocked result: %+v calls=%d", result, calls)
	}

	result, err = executor.Execute(context.Background(), agent.ToolCall{
		ID:        "call-2",
		Name:      "add_task_to_notion_database",
		Arguments: map[string]any{"project": "Website"},
	})
	if err != nil || result.IsError || calls != 1 {
		t.Fatalf("expected allowed call: %+v err=%v calls=%d", result, err, calls)
	}
}
