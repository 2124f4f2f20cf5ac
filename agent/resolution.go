package agent

import (
	"fmt"
	"strings"
)

// ValidateResolution checks that resolution answers the pending requirement.
func ValidateResolution(pending *PendingRequirement, resolution *Resolution) error {
	switch {
	case pending == nil && resolution == nil:
		return nil
	case pending == nil:
		return fmt.Errorf("%w: run has no pending requirement", ErrResolutionUnexpected)
	case resolution == nil:
		return fmt.Errorf("%w: requirement id=%q kind=%s", ErrResolutionRequired, pending.ID, pending.Kind)
	}

	if resolution.RequirementID != pending.ID {
		return fmt.Errorf(
			"%w: field=requirement_id got=%q want=%q",
			ErrResolutionInvalid,
			resolution.RequirementID,
			pending.ID,
		)
	}
	if resolution.Kind != "" && resolution.Kind != pending.Kind {
		return fmt.Errorf("%w: field=kind got=%s want=%s", ErrResolutionInvalid, resolution.Kind, pending.Kind)
	}

	switch pending.Kind {
	case RequirementKindApproval:
		switch resolution.Outcome {
		case ResolutionOutcomeApproved, ResolutionOutcomeRejected, ResolutionOutcomeProvided:
		default:
			return fmt.Errorf("%w: field=outcome value=%q kind=%s", ErrResolutionInvalid, resolution.Outcome, pending.Kind)
		}
	case RequirementKindUserInput:
		if resolution.Outcome != ResolutionOutcomeProvided {
			return fmt.Errorf("%w: field=outcome value=%q kind=%s", ErrResolutionInvalid, resolution.Outcome, pending.Kind)
		}
		if strings.TrimSpace(resolution.Value) == "" {
			return fmt.Errorf("%w: field=value reason=empty kind=%s", ErrResolutionInvalid, pending.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown requirement kind %q", ErrResolutionInvalid, pending.Kind)
	}
	return nil
}

// ReplyText returns the human text carried by a resolution. Bare approvals
// and rejections map to "yes" and "no".
func (r Resolution) ReplyText() string {
	if value := strings.TrimSpace(r.Value); value != "" {
		return value
	}
	switch r.Outcome {
	case ResolutionOutcomeApproved:
		return "yes"
	case ResolutionOutcomeRejected:
		return "no"
	default:
		return ""
	}
}
