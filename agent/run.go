package agent

import (
	"maps"

	"github.com/Gurpartap/taskflow/loop"
	"github.com/Gurpartap/taskflow/session"
)

// RunID is the stable identifier for one conversation.
type RunID string

// RunStatus captures coarse execution state for persistence and orchestration.
type RunStatus string

const (
	RunStatusPending         RunStatus = "pending"
	RunStatusRunning         RunStatus = "running"
	RunStatusSuspended       RunStatus = "suspended"
	RunStatusCancelled       RunStatus = "cancelled"
	RunStatusCompleted       RunStatus = "completed"
	RunStatusFailed          RunStatus = "failed"
	RunStatusMaxLoopsReached RunStatus = "max_loops_reached"
)

// RequirementKind classifies why execution is suspended.
type RequirementKind string

const (
	// RequirementKindApproval asks the human to confirm or reject a proposal.
	RequirementKindApproval RequirementKind = "approval"
	// RequirementKindUserInput asks the human for missing data.
	RequirementKindUserInput RequirementKind = "user_input"
)

// RequirementOrigin identifies where a pending requirement was created.
type RequirementOrigin string

const (
	RequirementOriginLoop RequirementOrigin = "loop"
	RequirementOriginTool RequirementOrigin = "tool"
)

// ResolutionOutcome captures how a pending requirement was resolved.
type ResolutionOutcome string

const (
	ResolutionOutcomeApproved ResolutionOutcome = "approved"
	ResolutionOutcomeRejected ResolutionOutcome = "rejected"
	ResolutionOutcomeProvided ResolutionOutcome = "provided"
)

// PendingRequirement describes the requirement that currently blocks run progress.
type PendingRequirement struct {
	ID            string            `json:"id"`
	Kind          RequirementKind   `json:"kind"`
	Origin        RequirementOrigin `json:"origin"`
	Loop          string            `json:"loop,omitempty"`
	Iteration     int               `json:"iteration,omitempty"`
	MaxIterations int               `json:"max_iterations,omitempty"`
	Missing       []string          `json:"missing,omitempty"`
	Prompt        string            `json:"prompt,omitempty"`
}

// Resolution provides the typed payload required to continue a suspended run.
type Resolution struct {
	RequirementID string            `json:"requirement_id"`
	Kind          RequirementKind   `json:"kind"`
	Outcome       ResolutionOutcome `json:"outcome"`
	Value         string            `json:"value,omitempty"`
}

// RunInput configures a fresh run.
type RunInput struct {
	RunID        RunID
	SystemPrompt string
	UserPrompt   string
	// State seeds the session state before the engine runs.
	State session.State
	Tools []ToolDefinition
}

// RunState is the durable runtime state of one conversation.
type RunState struct {
	ID                 RunID                    `json:"id"`
	Version            int64                    `json:"version"`
	Step               int                      `json:"step"`
	Status             RunStatus                `json:"status"`
	Stage              string                   `json:"stage,omitempty"`
	PendingRequirement *PendingRequirement      `json:"pending_requirement,omitempty"`
	Output             string                   `json:"output,omitempty"`
	Error              string                   `json:"error,omitempty"`
	Messages           []Message                `json:"messages,omitempty"`
	State              session.State            `json:"state,omitempty"`
	Loops              map[string]loop.Progress `json:"loops,omitempty"`
}

// CloneRunState returns a deep copy safe for in-memory stores.
func CloneRunState(in RunState) RunState {
	out := in
	out.PendingRequirement = ClonePendingRequirement(in.PendingRequirement)
	out.Messages = CloneMessages(in.Messages)
	out.State = in.State.Clone()
	if in.Loops != nil {
		out.Loops = maps.Clone(in.Loops)
	}
	return out
}

func ClonePendingRequirement(in *PendingRequirement) *PendingRequirement {
	if in == nil {
		return nil
	}
	out := *in
	if in.Missing != nil {
		out.Missing = append([]string(nil), in.Missing...)
	}
	return &out
}

// RunResult is returned by the runtime API.
type RunResult struct {
	State RunState
}
