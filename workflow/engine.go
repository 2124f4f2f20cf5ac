// Package workflow drives one task-filing conversation: it parses the
// request, collects missing details and confirms a classification through two
// bounded human-in-the-loop loops, then writes the task to Notion.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gurpartap/taskflow/agent"
	"github.com/Gurpartap/taskflow/loop"
	"github.com/Gurpartap/taskflow/policy/guardrail"
	"github.com/Gurpartap/taskflow/session"
	"github.com/Gurpartap/taskflow/tooling/notiontool"
)

var (
	ErrMissingToolExecutor = errors.New("missing tool executor")
	ErrRequestEmpty        = errors.New("request is empty")
	ErrStageUnknown        = errors.New("unknown workflow stage")
	ErrWriteFailed         = errors.New("notion write failed")
)

// Config wires the engine's collaborators. Model is optional; without it
// every model-backed step uses its heuristic fallback.
type Config struct {
	Model   agent.Model
	Tools   agent.ToolExecutor
	Events  agent.EventSink
	Catalog *Catalog
	// Guardrail screens the request and every human reply before use.
	Guardrail *guardrail.Policy
}

// Engine implements agent.Engine for the task-filing workflow.
type Engine struct {
	model   agent.Model
	tools   agent.ToolExecutor
	events  agent.EventSink
	catalog *Catalog
	guard   *guardrail.Policy
	parser  *Parser
}

var _ agent.Engine = (*Engine)(nil)

func New(cfg Config) (*Engine, error) {
	if cfg.Tools == nil {
		return nil, fmt.Errorf("new workflow engine: %w", ErrMissingToolExecutor)
	}
	if cfg.Events == nil {
		cfg.Events = noopEventSink{}
	}
	if cfg.Catalog == nil {
		catalog, err := BuiltinCatalog()
		if err != nil {
			return nil, fmt.Errorf("new workflow engine: %w", err)
		}
		cfg.Catalog = catalog
	}
	return &Engine{
		model:   cfg.Model,
		tools:   cfg.Tools,
		events:  cfg.Events,
		catalog: cfg.Catalog,
		guard:   cfg.Guardrail,
		parser:  NewParser(cfg.Model, cfg.Catalog),
	}, nil
}

// execution is the mutable context of one Execute call.
type execution struct {
	state    agent.RunState
	tools    []agent.ToolDefinition
	reply    *loop.Reply
	eventErr error
}

func (x *execution) publish(ctx context.Context, sink agent.EventSink, event agent.Event) {
	event.RunID = x.state.ID
	event.Step = x.state.Step
	x.eventErr = errors.Join(x.eventErr, agent.PublishEvent(ctx, sink, event))
}

// Execute runs stages until the run suspends on a human requirement or ends.
func (e *Engine) Execute(ctx context.Context, state agent.RunState, input agent.EngineInput) (agent.RunState, error) {
	if ctx == nil {
		return state, agent.ErrContextNil
	}
	if err := agent.ValidateRunState(state); err != nil {
		return state, err
	}
	if state.Status == agent.RunStatusSuspended && input.Resolution == nil {
		return state, fmt.Errorf(
			"%w: run_id=%q reason=continue_requires_resolution",
			agent.ErrResolutionRequired,
			state.ID,
		)
	}

	pending := state.PendingRequirement
	state.PendingRequirement = nil
	if err := agent.TransitionRunStatus(&state, agent.RunStatusRunning); err != nil {
		state.PendingRequirement = pending
		return state, err
	}
	if state.State == nil {
		state.State = session.New()
	}
	if state.Loops == nil {
		state.Loops = make(map[string]loop.Progress)
	}
	if state.Stage == "" {
		state.Stage = StageParse
	}

	x := &execution{state: state, tools: input.Tools}
	if input.Resolution != nil {
		text := input.Resolution.ReplyText()
		x.state.Messages = append(x.state.Messages, agent.Message{Role: agent.RoleUser, Content: text})
		if err := e.screen(text); err != nil {
			return e.failRun(ctx, x, err)
		}
		x.reply = &loop.Reply{
			Text: text,
			Metadata: map[string]string{
				"requirement_id": input.Resolution.RequirementID,
				"outcome":        string(input.Resolution.Outcome),
			},
		}
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.cancelRun(ctx, x, ctxErr)
		}
		x.state.Step++

		var (
			stop bool
			err  error
		)
		switch x.state.Stage {
		case StageParse:
			err = e.parse(ctx, x)
		case StageCollect, StageClassify:
			stop, err = e.advanceLoop(ctx, x)
		case StageWrite:
			stop, err = e.write(ctx, x)
		default:
			err = fmt.Errorf("%w: %q", ErrStageUnknown, x.state.Stage)
		}
		if err != nil {
			if cancellationErr := contextCancellationError(ctx, err); cancellationErr != nil {
				return e.cancelRun(ctx, x, cancellationErr)
			}
			return e.failRun(ctx, x, err)
		}
		if stop {
			return x.state, x.eventErr
		}
	}
}

func (e *Engine) screen(text string) error {
	if e.guard == nil {
		return nil
	}
	return e.guard.CheckText(text)
}

func (e *Engine) template(state session.State) (Template, error) {
	return e.catalog.Get(state.String(KeyWorkflow))
}

func (e *Engine) parse(ctx context.Context, x *execution) error {
	st := x.state.State
	request := strings.TrimSpace(st.String(KeyRequest))
	if request == "" {
		request = latestUserText(x.state.Messages)
	}
	if request == "" {
		return ErrRequestEmpty
	}
	if err := e.screen(request); err != nil {
		return err
	}

	tpl, fields, err := e.parser.Parse(ctx, request)
	if err != nil {
		return fmt.Errorf("parse request: %w", err)
	}
	st.Set(KeyRequest, request)
	st.Set(KeyWorkflow, tpl.Name)
	for key, value := range fields {
		if current, ok := st.Get(key); !ok || session.IsEmpty(current) {
			st.Set(key, value)
		}
	}
	x.state.Stage = StageCollect
	return nil
}

// advanceLoop advances the loop of the current stage by one step. It stops
// the execution when the loop suspends or ends without success.
func (e *Engine) advanceLoop(ctx context.Context, x *execution) (bool, error) {
	tpl, err := e.template(x.state.State)
	if err != nil {
		return false, err
	}
	controller, checker, kind, err := e.controller(tpl, x.state.Stage, x.state.Loops)
	if err != nil {
		return false, err
	}

	reply := x.reply
	x.reply = nil
	outcome, advanceErr := controller.Advance(ctx, x.state.State, reply)
	x.state.Loops[controller.Name()] = controller.Progress()
	if x.state.Stage == StageCollect {
		if err := x.state.State.Encode(KeyCritique, loop.Assess(checker, x.state.State)); err != nil {
			return false, errors.Join(advanceErr, err)
		}
	}
	if advanceErr != nil {
		return false, advanceErr
	}

	if outcome.Suspended {
		requirement := &agent.PendingRequirement{
			ID:            fmt.Sprintf("%s-%d", outcome.Loop, outcome.Iteration),
			Kind:          kind,
			Origin:        agent.RequirementOriginLoop,
			Loop:          outcome.Loop,
			Iteration:     outcome.Iteration,
			MaxIterations: controller.MaxIterations(),
			Missing:       outcome.Prompt.Missing,
			Prompt:        outcome.Prompt.Content,
		}
		message := agent.Message{
			Role:        agent.RoleAssistant,
			Content:     outcome.Prompt.Content,
			Requirement: agent.ClonePendingRequirement(requirement),
		}
		x.state.Messages = append(x.state.Messages, message)
		x.publish(ctx, e.events, agent.Event{
			Type:    agent.EventTypeAssistantMessage,
			Stage:   x.state.Stage,
			Message: &message,
		})
		x.state.PendingRequirement = requirement
		if err := agent.TransitionRunStatus(&x.state, agent.RunStatusSuspended); err != nil {
			x.state.PendingRequirement = nil
			return false, err
		}
		x.publish(ctx, e.events, agent.Event{
			Type:        agent.EventTypeRequirementRaised,
			Stage:       x.state.Stage,
			Requirement: agent.ClonePendingRequirement(requirement),
		})
		return true, nil
	}

	x.publish(ctx, e.events, agent.Event{
		Type:        agent.EventTypeLoopTerminated,
		Stage:       x.state.Stage,
		Loop:        outcome.Loop,
		LoopStatus:  string(outcome.Status),
		Description: fmt.Sprintf("loop ended after %d iterations", outcome.Iteration),
	})
	if !outcome.Status.Succeeded() {
		if err := agent.TransitionRunStatus(&x.state, agent.RunStatusMaxLoopsReached); err != nil {
			return false, err
		}
		x.state.Error = fmt.Sprintf("%s: loop=%s", agent.ErrMaxLoopsReached, outcome.Loop)
		return true, nil
	}

	switch x.state.Stage {
	case StageCollect:
		x.state.Stage = StageClassify
	case StageClassify:
		x.state.Stage = StageWrite
	}
	return false, nil
}

// controller restores the loop controller of stage from its saved progress.
func (e *Engine) controller(
	tpl Template,
	stage string,
	saved map[string]loop.Progress,
) (*loop.Controller, loop.Checker, agent.RequirementKind, error) {
	switch stage {
	case StageCollect:
		checker, err := loop.NewAllKeysPresent(tpl.RequiredKeys...)
		if err != nil {
			return nil, nil, "", err
		}
		processor, err := loop.NewSupplementary(tpl.Fields, tpl.Aliases)
		if err != nil {
			return nil, nil, "", err
		}
		controller, err := loop.Restore(loop.Config{
			Name:          LoopDetailCollector,
			MaxIterations: tpl.Collect.MaxIterations,
			Checker:       checker,
			Preparer:      newQuestionPreparer(e.model, tpl),
			Processor:     processor.WithFallback(tpl.RequiredKeys...),
		}, saved[LoopDetailCollector])
		return controller, checker, agent.RequirementKindUserInput, err
	case StageClassify:
		checker, err := loop.NewBoolFlag(KeyClassificationOK)
		if err != nil {
			return nil, nil, "", err
		}
		processor, err := loop.NewConfirmation(KeyClassificationOK, KeyClassificationFeedback)
		if err != nil {
			return nil, nil, "", err
		}
		controller, err := loop.Restore(loop.Config{
			Name:          LoopClassification,
			MaxIterations: tpl.Classify.MaxIterations,
			Checker:       checker,
			Preparer:      &proposalPreparer{classifier: NewClassifier(e.model, tpl.Classify)},
			Processor:     processor,
		}, saved[LoopClassification])
		return controller, checker, agent.RequirementKindApproval, err
	default:
		return nil, nil, "", fmt.Errorf("%w: %q has no loop", ErrStageUnknown, stage)
	}
}

// write files the task through the add-task tool and completes the run.
func (e *Engine) write(ctx context.Context, x *execution) (bool, error) {
	st := x.state.State
	if stateText(st, KeyTaskType) == "" {
		tpl, err := e.template(st)
		if err != nil {
			return false, err
		}
		proposal, err := NewClassifier(e.model, tpl.Classify).Propose(ctx, st)
		if err != nil {
			return false, err
		}
		if err := recordProposal(st, proposal); err != nil {
			return false, err
		}
	}

	call := agent.ToolCall{
		ID:        fmt.Sprintf("call_%s_%d", StageWrite, x.state.Step),
		Name:      notiontool.ToolAddTask,
		Arguments: taskArguments(st),
	}
	request := agent.Message{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{agent.CloneToolCall(call)}}
	x.state.Messages = append(x.state.Messages, request)
	x.publish(ctx, e.events, agent.Event{
		Type:    agent.EventTypeAssistantMessage,
		Stage:   StageWrite,
		Message: &request,
	})

	result, err := e.invoke(ctx, call, x.tools)
	if err != nil {
		if cancellationErr := contextCancellationError(ctx, err); cancellationErr != nil {
			return false, cancellationErr
		}
		result = agent.ToolErrorResult(call, agent.ToolFailureReasonExecutorError, err)
	}
	if result.CallID == "" {
		result.CallID = call.ID
	}
	if result.Name == "" {
		result.Name = call.Name
	}
	x.state.Messages = append(x.state.Messages, agent.ToolResultMessage(result))
	resultCopy := result
	x.publish(ctx, e.events, agent.Event{
		Type:       agent.EventTypeToolResult,
		Stage:      StageWrite,
		ToolResult: &resultCopy,
	})
	if result.IsError {
		if result.FailureReason == agent.ToolFailureReasonBlocked {
			return false, fmt.Errorf("%w: %s", guardrail.ErrBlocked, result.Content)
		}
		return false, fmt.Errorf("%w: %s", ErrWriteFailed, result.Content)
	}

	var created notiontool.AddTaskResult
	if err := json.Unmarshal([]byte(result.Content), &created); err != nil {
		return false, fmt.Errorf("%w: decode tool result: %v", ErrWriteFailed, err)
	}
	st.Set(KeyNotionPageID, created.PageID)
	if created.URL != "" {
		st.Set(KeyNotionPageURL, created.URL)
	}

	if err := agent.TransitionRunStatus(&x.state, agent.RunStatusCompleted); err != nil {
		return false, err
	}
	x.state.Stage = StageDone
	x.state.Output = completionSummary(st, created)
	x.publish(ctx, e.events, agent.Event{
		Type:        agent.EventTypeRunCompleted,
		Stage:       StageDone,
		Description: x.state.Output,
	})
	return true, nil
}

func (e *Engine) invoke(ctx context.Context, call agent.ToolCall, definitions []agent.ToolDefinition) (agent.ToolResult, error) {
	if len(definitions) > 0 {
		if result, err := agent.ValidateToolCall(call, definitions); err != nil {
			return result, nil
		}
	}
	return e.tools.Execute(ctx, call)
}

func taskArguments(st session.State) map[string]any {
	arguments := map[string]any{
		KeyTaskName: stateText(st, KeyTaskName),
		KeyStatus:   stateText(st, KeyStatus),
	}
	priority := stateText(st, KeyTaskPriority)
	if priority == "" {
		priority = stateText(st, KeyPriority)
	}
	// Notion date properties only take ISO dates; anything else stays readable
	// in the details block.
	details := stateText(st, KeyDetails)
	dueDate := stateText(st, KeyDueDate)
	if _, err := time.Parse(time.DateOnly, dueDate); dueDate != "" && err != nil {
		details = strings.TrimSpace(details + "\n\nDue: " + dueDate)
		dueDate = ""
	}
	optional := map[string]string{
		KeyPriority: priority,
		KeyTaskType: stateText(st, KeyTaskType),
		KeyDueDate:  dueDate,
		KeyProject:  stateText(st, KeyProject),
		KeyDetails:  details,
	}
	for key, value := range optional {
		if value != "" {
			arguments[key] = value
		}
	}
	return arguments
}

func completionSummary(st session.State, created notiontool.AddTaskResult) string {
	location := created.URL
	if location == "" {
		location = created.PageID
	}
	summary := fmt.Sprintf("Added %q to Notion (%s).", stateText(st, KeyTaskName), location)
	if len(created.Skipped) > 0 {
		summary += fmt.Sprintf(" Skipped fields: %s.", strings.Join(created.Skipped, ", "))
	}
	return summary
}

func stateText(st session.State, key string) string {
	value, ok := st.Get(key)
	if !ok || session.IsEmpty(value) {
		return ""
	}
	if text, ok := value.(string); ok {
		return strings.TrimSpace(text)
	}
	return fmt.Sprint(value)
}

func latestUserText(messages []agent.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == agent.RoleUser {
			if text := strings.TrimSpace(messages[i].Content); text != "" {
				return text
			}
		}
	}
	return ""
}

func (e *Engine) failRun(ctx context.Context, x *execution, runErr error) (agent.RunState, error) {
	if runErr == nil {
		runErr = errors.New("run failed")
	}
	x.state.PendingRequirement = nil
	if transitionErr := agent.TransitionRunStatus(&x.state, agent.RunStatusFailed); transitionErr != nil {
		return x.state, errors.Join(runErr, transitionErr, x.eventErr)
	}
	x.state.Error = runErr.Error()
	x.publish(ctx, e.events, agent.Event{
		Type:        agent.EventTypeRunFailed,
		Stage:       x.state.Stage,
		Description: runErr.Error(),
	})
	return x.state, errors.Join(runErr, x.eventErr)
}

func (e *Engine) cancelRun(ctx context.Context, x *execution, runErr error) (agent.RunState, error) {
	if runErr == nil {
		runErr = context.Canceled
	}
	x.state.PendingRequirement = nil
	if transitionErr := agent.TransitionRunStatus(&x.state, agent.RunStatusCancelled); transitionErr != nil {
		return x.state, errors.Join(runErr, transitionErr, x.eventErr)
	}
	x.state.Error = runErr.Error()
	return x.state, errors.Join(runErr, x.eventErr)
}

func contextCancellationError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	switch {
	case errors.Is(err, context.Canceled):
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	default:
		return nil
	}
}

// isFatal reports errors a model-backed step must not paper over with its
// heuristic fallback.
func isFatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, guardrail.ErrBlocked) || contextCancellationError(ctx, err) != nil
}

type noopEventSink struct{}

func (noopEventSink) Publish(context.Context, agent.Event) error {
	return nil
}
