package agent

import "fmt"

// ValidateEvent checks event payload invariants before publish boundaries.
func ValidateEvent(event Event) error {
	if event.Type == "" {
		return fmt.Errorf("%w: field=type reason=empty", ErrEventInvalid)
	}
	if event.RunID == "" {
		return fmt.Errorf("%w: field=run_id reason=empty type=%s", ErrEventInvalid, event.Type)
	}
	if event.Step < 0 {
		return fmt.Errorf(
			"%w: field=step reason=negative value=%d type=%s run_id=%q",
			ErrEventInvalid,
			event.Step,
			event.Type,
			event.RunID,
		)
	}

	missing := func(field, reason string) error {
		return fmt.Errorf(
			"%w: field=%s reason=%s type=%s run_id=%q step=%d",
			ErrEventInvalid,
			field,
			reason,
			event.Type,
			event.RunID,
			event.Step,
		)
	}

	switch event.Type {
	case EventTypeCommandApplied:
		if event.CommandKind == "" {
			return missing("command_kind", "empty")
		}
	case EventTypeAssistantMessage:
		if event.Message == nil {
			return missing("message", "nil")
		}
	case EventTypeRequirementRaised:
		if event.Requirement == nil {
			return missing("requirement", "nil")
		}
		if event.Requirement.ID == "" {
			return missing("requirement.id", "empty")
		}
	case EventTypeLoopTerminated:
		if event.Loop == "" {
			return missing("loop", "empty")
		}
		if event.LoopStatus == "" {
			return missing("loop_status", "empty")
		}
	case EventTypeToolResult:
		if event.ToolResult == nil {
			return missing("tool_result", "nil")
		}
		if event.ToolResult.CallID == "" {
			return missing("tool_result.call_id", "empty")
		}
		if event.ToolResult.Name == "" {
			return missing("tool_result.name", "empty")
		}
	}

	return nil
}
