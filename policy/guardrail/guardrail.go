// Package guardrail blocks model requests that carry sensitive keywords and
// tool calls whose arguments match deny rules.
package guardrail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Gurpartap/taskflow/agent"
)

// ErrBlocked is matched by every Violation.
var ErrBlocked = errors.New("blocked by guardrail")

// DefaultKeywords are matched case-insensitively against the latest user message.
func DefaultKeywords() []string {
	return []string{"CONFIDENTIAL", "SECRET_PROJECT_X", "PII_DATA"}
}

// Rule denies calls to Tool whose string argument Argument contains Contains
// (case-insensitive). An empty Tool matches every tool.
type Rule struct {
	Tool     string `json:"tool" mapstructure:"tool"`
	Argument string `json:"argument" mapstructure:"argument"`
	Contains string `json:"contains" mapstructure:"contains"`
	Reason   string `json:"reason,omitempty" mapstructure:"reason"`
}

// Policy is the set of checks applied by the wrappers.
type Policy struct {
	Keywords []string
	Rules    []Rule
}

// Default returns the keyword policy with no tool rules.
func Default() Policy {
	return Policy{Keywords: DefaultKeywords()}
}

// Violation describes why a request was blocked.
type Violation struct {
	Keyword  string
	Tool     string
	Argument string
	Reason   string
}

func (v *Violation) Error() string {
	if v.Keyword != "" {
		return fmt.Sprintf("processing blocked due to policy violation regarding keyword: %s", v.Keyword)
	}
	if v.Reason != "" {
		return fmt.Sprintf("policy violation: tool %q argument %q: %s", v.Tool, v.Argument, v.Reason)
	}
	return fmt.Sprintf("policy violation: tool %q argument %q is not allowed", v.Tool, v.Argument)
}

func (v *Violation) Is(target error) bool {
	return target == ErrBlocked
}

// CheckText reports the first configured keyword found in text.
func (p Policy) CheckText(text string) error {
	upper := strings.ToUpper(text)
	for _, keyword := range p.Keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		if strings.Contains(upper, strings.ToUpper(keyword)) {
			return &Violation{Keyword: keyword}
		}
	}
	return nil
}

// CheckToolCall reports the first rule call violates.
func (p Policy) CheckToolCall(call agent.ToolCall) error {
	for _, rule := range p.Rules {
		if rule.Tool != "" && rule.Tool != call.Name {
			continue
		}
		value, ok := call.Arguments[rule.Argument].(string)
		if !ok || rule.Contains == "" {
			continue
		}
		if strings.Contains(strings.ToUpper(value), strings.ToUpper(rule.Contains)) {
			return &Violation{Tool: call.Name, Argument: rule.Argument, Reason: rule.Reason}
		}
	}
	return nil
}

// WrapModel refuses to call model when the latest user message violates the
// keyword policy.
func WrapModel(model agent.Model, policy Policy) agent.Model {
	if model == nil {
		return nil
	}
	return &modelGuard{next: model, policy: policy}
}

type modelGuard struct {
	next   agent.Model
	policy Policy
}

func (g *modelGuard) Generate(ctx context.Context, request agent.ModelRequest) (agent.Message, error) {
	if err := g.policy.CheckText(LatestUserText(request.Messages)); err != nil {
		return agent.Message{}, err
	}
	return g.next.Generate(ctx, request)
}

// LatestUserText returns the content of the most recent non-empty user message.
func LatestUserText(messages []agent.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == agent.RoleUser && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}

// WrapToolExecutor turns rule violations into blocked tool results without
// invoking executor.
func WrapToolExecutor(executor agent.ToolExecutor, policy Policy) agent.ToolExecutor {
	if executor == nil {
		return nil
	}
	return &toolGuard{next: executor, policy: policy}
}

type toolGuard struct {
	next   agent.ToolExecutor
	policy Policy
}

func (g *toolGuard) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	if err := g.policy.CheckToolCall(call); err != nil {
		return agent.ToolErrorResult(call, agent.ToolFailureReasonBlocked, err), nil
	}
	return g.next.Execute(ctx, call)
}
