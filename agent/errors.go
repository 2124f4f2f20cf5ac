package agent

import "errors"

var (
	// ErrMaxLoopsReached is recorded when a human-in-the-loop loop exhausts its iteration ceiling.
	ErrMaxLoopsReached = errors.New("loop reached max iterations")
	// ErrRunNotFound is returned by run stores when a run ID is unknown.
	ErrRunNotFound = errors.New("run not found")

	ErrRunVersionConflict            = errors.New("run version conflict")
	ErrRunStateInvalid               = errors.New("run state is invalid")
	ErrInvalidRunID                  = errors.New("invalid run id")
	ErrInvalidRunStateTransition     = errors.New("invalid run state transition")
	ErrRunNotContinuable             = errors.New("run is not continuable")
	ErrRunNotCancellable             = errors.New("run is not cancellable")
	ErrEngineOutputContractViolation = errors.New("engine output contract violation")

	ErrContextNil         = errors.New("context is nil")
	ErrCommandNil         = errors.New("command is nil")
	ErrCommandInvalid     = errors.New("command is invalid")
	ErrCommandUnsupported = errors.New("command is unsupported")
	// ErrCommandConflict is returned when another command is already in flight for the same run.
	ErrCommandConflict = errors.New("command conflicts with in-flight command")

	ErrResolutionRequired   = errors.New("resolution is required")
	ErrResolutionInvalid    = errors.New("resolution is invalid")
	ErrResolutionUnexpected = errors.New("resolution is unexpected")

	ErrEventInvalid = errors.New("event is invalid")
	ErrEventPublish = errors.New("event publish failed")

	ErrToolDefinitionsInvalid = errors.New("tool definitions are invalid")
	ErrToolCallInvalid        = errors.New("tool call is invalid")

	ErrMissingIDGenerator = errors.New("missing id generator")
	ErrMissingRunStore    = errors.New("missing run store")
	ErrMissingEngine      = errors.New("missing engine")
)
