package provider_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Gurpartap/taskflow/adapters/provider"
	"github.com/Gurpartap/taskflow/agent"
)

func TestNormalizeMessages(t *testing.T) {
	t.Parallel()

	messages := []agent.Message{
		{Role: agent.RoleSystem, Content: "sys"},
		{Role: agent.RoleUser, Content: "add a task"},
		{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{{ID: "call-1", Name: "add_task_to_notion_database"}}},
		{Role: agent.RoleTool, ToolCallID: "call-1", Content: "first"},
		{Role: agent.RoleTool, ToolCallID: "call-1", Content: "second"},
	}
	got, err := provider.NormalizeMessages(messages)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(got) != 4 || got[3].Content != "second" {
		t.Fatalf("expected latest tool observation to win: %+v", got)
	}

	_, err = provider.NormalizeMessages([]agent.Message{{Role: agent.RoleTool, ToolCallID: "nope"}})
	if err == nil {
		t.Fatalf("expected orphan tool message error")
	}
}

func TestSplitSystem(t *testing.T) {
	t.Parallel()

	system, rest := provider.SplitSystem([]agent.Message{
		{Role: agent.RoleSystem, Content: "one"},
		{Role: agent.RoleUser, Content: "hi"},
		{Role: agent.RoleSystem, Content: "two"},
	})
	if system != "one\n\ntwo" {
		t.Fatalf("unexpected system prompt: %q", system)
	}
	if diff := cmp.Diff([]agent.Message{{Role: agent.RoleUser, Content: "hi"}}, rest); diff != "" {
		t.Fatalf("rest mismatch (-want +got):\n%s", diff)
	}
}

func TestArguments(t *testing.T) {
	t.Parallel()

	encoded, err := provider.EncodeArguments(nil)
	if err != nil || encoded != "{}" {
		t.Fatalf("unexpected empty encoding: %q %v", encoded, err)
	}
	decoded, err := provider.DecodeArguments("x", `{"status":"open"}`)
	if err != nil || decoded["status"] != "open" {
		t.Fatalf("unexpected decode: %+v %v", decoded, err)
	}
	if _, err := provider.DecodeArguments("x", "not json"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	cause := errors.New("overloaded")
	err := &provider.StatusError{Provider: "anthropic", StatusCode: 529, Err: cause}
	if !errors.Is(err, cause) || !err.Retryable() {
		t.Fatalf("unexpected status error behaviour: %v", err)
	}
	if (&provider.StatusError{StatusCode: http.StatusBadRequest}).Retryable() {
		t.Fatalf("400 must not be retryable")
	}
}
