package agent

import (
	"errors"
	"fmt"
)

// SuspendRequestError signals that execution should stop and wait for a human.
type SuspendRequestError struct {
	Requirement *PendingRequirement
	Err         error
}

func (e *SuspendRequestError) Error() string {
	if e == nil {
		return "suspend request"
	}

	message := "suspend request"
	if e.Requirement != nil {
		message = fmt.Sprintf(
			"suspend request: requirement id=%q kind=%s loop=%s iteration=%d",
			e.Requirement.ID,
			e.Requirement.Kind,
			e.Requirement.Loop,
			e.Requirement.Iteration,
		)
	}
	if e.Err != nil {
		return message + ": " + e.Err.Error()
	}
	return message
}

func (e *SuspendRequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AsSuspendRequest extracts the suspension request carried by err, if any.
func AsSuspendRequest(err error) (*SuspendRequestError, bool) {
	var request *SuspendRequestError
	if errors.As(err, &request) && request != nil && request.Requirement != nil {
		return request, true
	}
	return nil, false
}
