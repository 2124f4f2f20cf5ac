package agent

// CommandKind identifies the command mutation route.
type CommandKind string

const (
	CommandKindStart    CommandKind = "start"
	CommandKindContinue CommandKind = "continue"
	CommandKindCancel   CommandKind = "cancel"
)

// Command is the typed runtime mutation contract.
type Command interface {
	Kind() CommandKind
}

// StartCommand starts a new conversation.
type StartCommand struct {
	Input RunInput
}

func (StartCommand) Kind() CommandKind {
	return CommandKindStart
}

// ContinueCommand resumes a suspended run with the human's resolution.
type ContinueCommand struct {
	RunID      RunID
	Tools      []ToolDefinition
	Resolution *Resolution
}

func (ContinueCommand) Kind() CommandKind {
	return CommandKindContinue
}

// CancelCommand cancels an existing non-terminal run.
type CancelCommand struct {
	RunID  RunID
	Reason string
}

func (CancelCommand) Kind() CommandKind {
	return CommandKindCancel
}
