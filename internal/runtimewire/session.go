package runtimewire

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Gurpartap/taskflow/agent"
)

// ErrReplyEmpty is returned when a reply carries no text.
var ErrReplyEmpty = errors.New("reply is empty")

// Start opens a session for a natural-language request and runs it until it
// needs the human or ends.
func (rt *Runtime) Start(ctx context.Context, sessionID agent.RunID, request string) (agent.RunResult, error) {
	return rt.Runner.Run(ctx, agent.RunInput{
		RunID:      sessionID,
		UserPrompt: request,
		Tools:      rt.ToolDefinitions,
	})
}

// Reply answers the pending requirement of a session with free text.
func (rt *Runtime) Reply(ctx context.Context, sessionID agent.RunID, text string) (agent.RunResult, error) {
	if strings.TrimSpace(text) == "" {
		return agent.RunResult{}, ErrReplyEmpty
	}
	state, err := rt.RunStore.Load(ctx, sessionID)
	if err != nil {
		return agent.RunResult{}, err
	}
	if state.Status != agent.RunStatusSuspended || state.PendingRequirement == nil {
		return agent.RunResult{State: state}, fmt.Errorf("%w: status=%s", agent.ErrRunNotContinuable, state.Status)
	}
	return rt.Resolve(ctx, sessionID, &agent.Resolution{
		RequirementID: state.PendingRequirement.ID,
		Kind:          state.PendingRequirement.Kind,
		Outcome:       agent.ResolutionOutcomeProvided,
		Value:         text,
	})
}

// Resolve continues a session with a typed resolution.
func (rt *Runtime) Resolve(ctx context.Context, sessionID agent.RunID, resolution *agent.Resolution) (agent.RunResult, error) {
	return rt.Runner.Continue(ctx, sessionID, rt.ToolDefinitions, resolution)
}

func (rt *Runtime) Cancel(ctx context.Context, sessionID agent.RunID) (agent.RunResult, error) {
	return rt.Runner.Cancel(ctx, sessionID)
}

func (rt *Runtime) Get(ctx context.Context, sessionID agent.RunID) (agent.RunState, error) {
	return rt.RunStore.Load(ctx, sessionID)
}

// Recorded reports whether err describes a session outcome that was already
// persisted in result, such as a failed Notion write or a guardrail block.
func Recorded(result agent.RunResult, err error) bool {
	if err == nil {
		return true
	}
	if result.State.ID == "" || errors.Is(err, agent.ErrEventPublish) {
		return false
	}
	return agent.IsTerminalRunStatus(result.State.Status)
}
