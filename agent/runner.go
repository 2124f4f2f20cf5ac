package agent

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/Gurpartap/taskflow/session"
)

// Dependencies wires application services into the runtime orchestrator.
type Dependencies struct {
	IDGenerator IDGenerator
	RunStore    RunStore
	Engine      Engine
	EventSink   EventSink
}

// Runner owns the run lifecycle and persistence. Commands against the same
// run are serialized; a second command arriving while one is in flight fails
// with ErrCommandConflict.
type Runner struct {
	idGen  IDGenerator
	store  RunStore
	engine Engine
	events EventSink

	mu       sync.Mutex
	inflight map[RunID]CommandKind
}

func NewRunner(deps Dependencies) (*Runner, error) {
	if deps.IDGenerator == nil {
		return nil, fmt.Errorf("new runner: %w", ErrMissingIDGenerator)
	}
	if deps.RunStore == nil {
		return nil, fmt.Errorf("new runner: %w", ErrMissingRunStore)
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("new runner: %w", ErrMissingEngine)
	}
	if deps.EventSink == nil {
		deps.EventSink = noopEventSink{}
	}
	return &Runner{
		idGen:    deps.IDGenerator,
		store:    deps.RunStore,
		engine:   deps.Engine,
		events:   deps.EventSink,
		inflight: make(map[RunID]CommandKind),
	}, nil
}

// PublishEvent validates and publishes event, tagging failures with ErrEventPublish.
func PublishEvent(ctx context.Context, sink EventSink, event Event) error {
	if err := ValidateEvent(event); err != nil {
		return err
	}
	if err := sink.Publish(ctx, event); err != nil {
		return errors.Join(
			ErrEventPublish,
			fmt.Errorf(
				"type=%s run_id=%s step=%d: %w",
				event.Type,
				event.RunID,
				event.Step,
				err,
			),
		)
	}
	return nil
}

func cancellationEventDescription(runErr error) string {
	if runErr == nil {
		return "run cancelled"
	}
	return runErr.Error()
}

func validateEngineOutput(prev RunState, next RunState) error {
	if next.ID != prev.ID {
		return fmt.Errorf(
			"%w: invariant=run_id input=%q output=%q",
			ErrEngineOutputContractViolation,
			prev.ID,
			next.ID,
		)
	}
	if next.Step < prev.Step {
		return fmt.Errorf(
			"%w: invariant=step input=%d output=%d run_id=%q",
			ErrEngineOutputContractViolation,
			prev.Step,
			next.Step,
			prev.ID,
		)
	}
	if len(next.Messages) < len(prev.Messages) {
		return fmt.Errorf(
			"%w: invariant=messages_length input=%d output=%d run_id=%q",
			ErrEngineOutputContractViolation,
			len(prev.Messages),
			len(next.Messages),
			prev.ID,
		)
	}
	if !reflect.DeepEqual(next.Messages[:len(prev.Messages)], prev.Messages) {
		return fmt.Errorf(
			"%w: invariant=messages_prefix run_id=%q",
			ErrEngineOutputContractViolation,
			prev.ID,
		)
	}
	for name, before := range prev.Loops {
		after, ok := next.Loops[name]
		if !ok || after.Iteration < before.Iteration {
			return fmt.Errorf(
				"%w: invariant=loop_iteration loop=%s run_id=%q",
				ErrEngineOutputContractViolation,
				name,
				prev.ID,
			)
		}
	}
	if next.Status == RunStatusSuspended && next.PendingRequirement == nil {
		return fmt.Errorf(
			"%w: invariant=suspended_requirement run_id=%q",
			ErrEngineOutputContractViolation,
			prev.ID,
		)
	}
	return nil
}

func sideEffectContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	if ctx.Err() != nil {
		return context.WithoutCancel(ctx)
	}
	return ctx
}

// Dispatch executes a typed command against the run store.
func (r *Runner) Dispatch(ctx context.Context, cmd Command) (RunResult, error) {
	if ctx == nil {
		return RunResult{}, ErrContextNil
	}
	if isNilCommand(cmd) {
		return RunResult{}, ErrCommandNil
	}
	if reflect.ValueOf(cmd).Kind() == reflect.Pointer {
		return RunResult{}, fmt.Errorf("%w: kind=%s payload=%T", ErrCommandInvalid, cmd.Kind(), cmd)
	}

	switch command := cmd.(type) {
	case StartCommand:
		return r.dispatchStart(ctx, command)
	case ContinueCommand:
		return r.dispatchContinue(ctx, command)
	case CancelCommand:
		return r.dispatchCancel(ctx, command)
	default:
		switch kind := cmd.Kind(); kind {
		case CommandKindStart, CommandKindContinue, CommandKindCancel:
			return RunResult{}, fmt.Errorf("%w: kind=%s payload=%T", ErrCommandInvalid, kind, cmd)
		default:
			return RunResult{}, fmt.Errorf("%w: %s", ErrCommandUnsupported, kind)
		}
	}
}

func isNilCommand(cmd Command) bool {
	if cmd == nil {
		return true
	}

	value := reflect.ValueOf(cmd)
	return value.Kind() == reflect.Pointer && value.IsNil()
}

func (r *Runner) acquire(runID RunID, kind CommandKind) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if active, busy := r.inflight[runID]; busy {
		return nil, fmt.Errorf("%w: run_id=%q active=%s incoming=%s", ErrCommandConflict, runID, active, kind)
	}
	r.inflight[runID] = kind
	return func() {
		r.mu.Lock()
		delete(r.inflight, runID)
		r.mu.Unlock()
	}, nil
}

// Run starts a new conversation and executes it until it suspends or ends.
func (r *Runner) Run(ctx context.Context, input RunInput) (RunResult, error) {
	return r.Dispatch(ctx, StartCommand{Input: input})
}

func (r *Runner) dispatchStart(ctx context.Context, cmd StartCommand) (RunResult, error) {
	input := cmd.Input
	if err := ValidateToolDefinitions(input.Tools); err != nil {
		return RunResult{}, err
	}
	runID := input.RunID
	if runID == "" {
		generated, err := r.idGen.NewRunID(ctx)
		if err != nil {
			return RunResult{}, err
		}
		runID = generated
		if runID == "" {
			return RunResult{}, fmt.Errorf("%w: command=%s", ErrInvalidRunID, CommandKindStart)
		}
	}

	release, err := r.acquire(runID, CommandKindStart)
	if err != nil {
		return RunResult{}, err
	}
	defer release()

	state := RunState{
		ID:    runID,
		State: input.State.Clone(),
	}
	if state.State == nil {
		state.State = session.New()
	}
	if err := TransitionRunStatus(&state, RunStatusPending); err != nil {
		return RunResult{}, err
	}
	if input.SystemPrompt != "" {
		state.Messages = append(state.Messages, Message{
			Role:    RoleSystem,
			Content: input.SystemPrompt,
		})
	}
	if input.UserPrompt != "" {
		state.Messages = append(state.Messages, Message{
			Role:    RoleUser,
			Content: input.UserPrompt,
		})
	}

	sideEffectCtx := func() context.Context { return sideEffectContext(ctx) }

	if err := r.store.Save(sideEffectCtx(), state); err != nil {
		return RunResult{}, err
	}
	state.Version++
	eventErr := PublishEvent(sideEffectCtx(), r.events, Event{
		RunID:       runID,
		Step:        0,
		Type:        EventTypeRunStarted,
		Description: "run persisted and ready for execution",
	})

	finalState, runErr := r.engine.Execute(ctx, CloneRunState(state), EngineInput{
		Tools: input.Tools,
	})
	return r.persistEngineResult(ctx, CommandKindStart, state, finalState, runErr, eventErr)
}

// Continue resumes a suspended run with the human's resolution.
func (r *Runner) Continue(ctx context.Context, runID RunID, tools []ToolDefinition, resolution *Resolution) (RunResult, error) {
	return r.Dispatch(ctx, ContinueCommand{
		RunID:      runID,
		Tools:      tools,
		Resolution: resolution,
	})
}

func (r *Runner) dispatchContinue(ctx context.Context, cmd ContinueCommand) (RunResult, error) {
	runID := cmd.RunID
	if runID == "" {
		return RunResult{}, fmt.Errorf("%w: command=%s", ErrInvalidRunID, CommandKindContinue)
	}
	if err := ValidateToolDefinitions(cmd.Tools); err != nil {
		return RunResult{}, err
	}
	release, err := r.acquire(runID, CommandKindContinue)
	if err != nil {
		return RunResult{}, err
	}
	defer release()

	sideEffectCtx := func() context.Context { return sideEffectContext(ctx) }
	state, err := r.store.Load(sideEffectCtx(), runID)
	if err != nil {
		return RunResult{}, err
	}
	if IsTerminalRunStatus(state.Status) {
		return RunResult{State: state}, fmt.Errorf("%w: %s", ErrRunNotContinuable, state.Status)
	}
	if err := ValidateResolution(state.PendingRequirement, cmd.Resolution); err != nil {
		return RunResult{State: state}, err
	}

	var resolution *Resolution
	if cmd.Resolution != nil {
		copied := *cmd.Resolution
		if copied.Kind == "" {
			copied.Kind = state.PendingRequirement.Kind
		}
		resolution = &copied
	}

	finalState, runErr := r.engine.Execute(ctx, CloneRunState(state), EngineInput{
		Resolution: resolution,
		Tools:      cmd.Tools,
	})
	return r.persistEngineResult(ctx, CommandKindContinue, state, finalState, runErr, nil)
}

func (r *Runner) persistEngineResult(
	ctx context.Context,
	kind CommandKind,
	prev RunState,
	finalState RunState,
	runErr error,
	eventErr error,
) (RunResult, error) {
	sideEffectCtx := func() context.Context { return sideEffectContext(ctx) }

	if contractErr := validateEngineOutput(prev, finalState); contractErr != nil {
		return RunResult{}, errors.Join(contractErr, eventErr)
	}
	if saveErr := r.store.Save(sideEffectCtx(), finalState); saveErr != nil {
		return RunResult{}, errors.Join(runErr, saveErr, eventErr)
	}
	if finalState.Status == RunStatusCancelled {
		eventErr = errors.Join(eventErr, PublishEvent(sideEffectCtx(), r.events, Event{
			RunID:       finalState.ID,
			Step:        finalState.Step,
			Type:        EventTypeRunCancelled,
			Description: cancellationEventDescription(runErr),
		}))
	}
	finalState.Version++
	eventErr = errors.Join(eventErr, PublishEvent(sideEffectCtx(), r.events, Event{
		RunID:       finalState.ID,
		Step:        finalState.Step,
		Type:        EventTypeRunCheckpoint,
		Stage:       finalState.Stage,
		Description: fmt.Sprintf("%s state persisted", kind),
	}))
	eventErr = errors.Join(eventErr, PublishEvent(sideEffectCtx(), r.events, Event{
		RunID:       finalState.ID,
		Step:        finalState.Step,
		Type:        EventTypeCommandApplied,
		CommandKind: kind,
		Description: fmt.Sprintf("%s command applied", kind),
	}))
	return RunResult{State: finalState}, errors.Join(runErr, eventErr)
}

// Cancel marks a non-terminal run as cancelled and persists the cancellation state.
func (r *Runner) Cancel(ctx context.Context, runID RunID) (RunResult, error) {
	return r.Dispatch(ctx, CancelCommand{RunID: runID})
}

func (r *Runner) dispatchCancel(ctx context.Context, cmd CancelCommand) (RunResult, error) {
	runID := cmd.RunID
	if runID == "" {
		return RunResult{}, fmt.Errorf("%w: command=%s", ErrInvalidRunID, CommandKindCancel)
	}
	release, err := r.acquire(runID, CommandKindCancel)
	if err != nil {
		return RunResult{}, err
	}
	defer release()

	sideEffectCtx := func() context.Context { return sideEffectContext(ctx) }
	state, err := r.store.Load(sideEffectCtx(), runID)
	if err != nil {
		return RunResult{}, err
	}
	if IsTerminalRunStatus(state.Status) {
		return RunResult{State: state}, fmt.Errorf("%w: %s", ErrRunNotCancellable, state.Status)
	}
	if err := TransitionRunStatus(&state, RunStatusCancelled); err != nil {
		return RunResult{State: state}, err
	}
	state.PendingRequirement = nil
	if cmd.Reason != "" {
		state.Error = cmd.Reason
	}
	if err := r.store.Save(sideEffectCtx(), state); err != nil {
		return RunResult{}, err
	}
	state.Version++
	description := "run cancelled"
	if cmd.Reason != "" {
		description = cmd.Reason
	}
	eventErr := PublishEvent(sideEffectCtx(), r.events, Event{
		RunID:       runID,
		Step:        state.Step,
		Type:        EventTypeRunCancelled,
		Description: description,
	})
	eventErr = errors.Join(eventErr, PublishEvent(sideEffectCtx(), r.events, Event{
		RunID:       runID,
		Step:        state.Step,
		Type:        EventTypeCommandApplied,
		CommandKind: CommandKindCancel,
		Description: "cancel command applied",
	}))
	return RunResult{State: state}, eventErr
}
