package agent

import "context"

// Engine executes run state transitions for one runtime execution slice.
type Engine interface {
	Execute(ctx context.Context, state RunState, input EngineInput) (RunState, error)
}

// EngineInput carries the human resolution that resumed the run, if any, and
// the tool contracts the engine may call.
type EngineInput struct {
	Resolution *Resolution
	Tools      []ToolDefinition
}
