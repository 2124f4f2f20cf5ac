package agent

// EventType is emitted by the runtime and engine for observability and streaming.
type EventType string

const (
	EventTypeRunStarted        EventType = "run_started"
	EventTypeAssistantMessage  EventType = "assistant_message"
	EventTypeRequirementRaised EventType = "requirement_raised"
	EventTypeLoopTerminated    EventType = "loop_terminated"
	EventTypeToolResult        EventType = "tool_result"
	EventTypeRunCompleted      EventType = "run_completed"
	EventTypeRunFailed         EventType = "run_failed"
	EventTypeRunCancelled      EventType = "run_cancelled"
	EventTypeRunCheckpoint     EventType = "run_checkpoint"
	EventTypeCommandApplied    EventType = "command_applied"
)

// Event is compact so adapters can map it to logs, metrics, or streams.
type Event struct {
	RunID       RunID               `json:"run_id"`
	Step        int                 `json:"step"`
	Type        EventType           `json:"type"`
	Stage       string              `json:"stage,omitempty"`
	Message     *Message            `json:"message,omitempty"`
	ToolResult  *ToolResult         `json:"tool_result,omitempty"`
	Requirement *PendingRequirement `json:"requirement,omitempty"`
	Loop        string              `json:"loop,omitempty"`
	LoopStatus  string              `json:"loop_status,omitempty"`
	CommandKind CommandKind         `json:"command_kind,omitempty"`
	Description string              `json:"description,omitempty"`
}

// CloneEvent returns a deep copy of event.
func CloneEvent(in Event) Event {
	out := in
	if in.Message != nil {
		message := CloneMessage(*in.Message)
		out.Message = &message
	}
	if in.ToolResult != nil {
		result := *in.ToolResult
		out.ToolResult = &result
	}
	out.Requirement = ClonePendingRequirement(in.Requirement)
	return out
}
