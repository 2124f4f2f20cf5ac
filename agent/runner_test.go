package agent_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/Gurpartap/taskflow/agent"
	eventinginmem "github.com/Gurpartap/taskflow/eventing/inmem"
	runstoreinmem "github.com/Gurpartap/taskflow/runstore/inmem"
	"github.com/Gurpartap/taskflow/session"
)

func TestRunnerRun_PersistsAndSuspends(t *testing.T) {
	t.Parallel()

	store := runstoreinmem.New()
	events := eventinginmem.New()
	engine := suspendingEngine()
	runner := newRunner(t, store, events, engine)

	result, err := runner.Run(context.Background(), agent.RunInput{
		SystemPrompt: "system",
		UserPrompt:   "Create a task to fix the login bug",
		State:        session.State{"request": "fix login"},
	})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if engine.calls != 1 {
		t.Fatalf("unexpected engine call count: %d", engine.calls)
	}
	if result.State.Status != agent.RunStatusSuspended {
		t.Fatalf("unexpected status: %s", result.State.Status)
	}
	if result.State.PendingRequirement == nil || result.State.PendingRequirement.ID != "req-1" {
		t.Fatalf("unexpected pending requirement: %+v", result.State.PendingRequirement)
	}
	if result.State.Version != 2 {
		t.Fatalf("unexpected version: %d", result.State.Version)
	}
	if len(result.State.Messages) != 2 || result.State.Messages[1].Role != agent.RoleUser {
		t.Fatalf("unexpected transcript: %+v", result.State.Messages)
	}
	if result.State.State.String("request") != "fix login" {
		t.Fatalf("seed state not carried: %+v", result.State.State)
	}

	loaded, err := store.Load(context.Background(), result.State.ID)
	if err != nil {
		t.Fatalf("load saved state: %v", err)
	}
	if !reflect.DeepEqual(loaded, result.State) {
		t.Fatalf("saved state mismatch:\nloaded=%+v\nresult=%+v", loaded, result.State)
	}

	want := []agent.EventType{
		agent.EventTypeRunStarted,
		agent.EventTypeRunCheckpoint,
		agent.EventTypeCommandApplied,
	}
	if got := eventTypes(events.Events()); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected events: got=%v want=%v", got, want)
	}
}

func TestRunnerRun_DoesNotAliasSeedState(t *testing.T) {
	t.Parallel()

	seed := session.State{"request": "original"}
	engine := &engineSpy{
		executeFn: func(_ context.Context, state agent.RunState, _ agent.EngineInput) (agent.RunState, error) {
			state.State.Set("request", "mutated")
			if err := agent.TransitionRunStatus(&state, agent.RunStatusRunning); err != nil {
				return state, err
			}
			return state, agent.TransitionRunStatus(&state, agent.RunStatusCompleted)
		},
	}
	runner := newRunner(t, runstoreinmem.New(), eventinginmem.New(), engine)

	if _, err := runner.Run(context.Background(), agent.RunInput{UserPrompt: "x", State: seed}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if seed.String("request") != "original" {
		t.Fatalf("engine mutated caller seed state: %+v", seed)
	}
}

func TestRunnerContinue_PassesResolutionAndCompletes(t *testing.T) {
	t.Parallel()

	store := runstoreinmem.New()
	events := eventinginmem.New()
	engine := suspendingEngine()
	runner := newRunner(t, store, events, engine)

	started, err := runner.Run(context.Background(), agent.RunInput{UserPrompt: "task"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	result, err := runner.Continue(context.Background(), started.State.ID, nil, &agent.Resolution{
		RequirementID: "req-1",
		Outcome:       agent.ResolutionOutcomeProvided,
		Value:         "open",
	})
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if result.State.Status != agent.RunStatusCompleted {
		t.Fatalf("unexpected status: %s", result.State.Status)
	}
	if result.State.State.String("status") != "open" {
		t.Fatalf("resolution value not applied: %+v", result.State.State)
	}
	got := engine.inputs[1].Resolution
	if got == nil || got.Kind != agent.RequirementKindUserInput {
		t.Fatalf("engine should receive resolution with kind filled in: %+v", got)
	}
	if result.State.Version != 3 {
		t.Fatalf("unexpected version: %d", result.State.Version)
	}

	_, err = runner.Continue(context.Background(), started.State.ID, nil, nil)
	if !errors.Is(err, agent.ErrRunNotContinuable) {
		t.Fatalf("expected ErrRunNotContinuable after completion, got %v", err)
	}
}

func TestRunnerContinue_ValidatesResolution(t *testing.T) {
	t.Parallel()

	runner := newRunner(t, runstoreinmem.New(), eventinginmem.New(), suspendingEngine())
	started, err := runner.Run(context.Background(), agent.RunInput{UserPrompt: "task"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	tests := []struct {
		name       string
		resolution *agent.Resolution
		wantErr    error
	}{
		{name: "missing", resolution: nil, wantErr: agent.ErrResolutionRequired},
		{
			name:       "wrong requirement",
			resolution: &agent.Resolution{RequirementID: "req-9", Outcome: agent.ResolutionOutcomeProvided, Value: "x"},
			wantErr:    agent.ErrResolutionInvalid,
		},
		{
			name:       "empty value",
			resolution: &agent.Resolution{RequirementID: "req-1", Outcome: agent.ResolutionOutcomeProvided},
			wantErr:    agent.ErrResolutionInvalid,
		},
		{
			name:       "approval outcome for input",
			resolution: &agent.Resolution{RequirementID: "req-1", Outcome: agent.ResolutionOutcomeApproved, Value: "x"},
			wantErr:    agent.ErrResolutionInvalid,
		},
	}
	for _, tt := range tests {
		_, err := runner.Continue(context.Background(), started.State.ID, nil, tt.resolution)
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.wantErr, err)
		}
	}
}

func TestRunnerCancel(t *testing.T) {
	t.Parallel()

	store := runstoreinmem.New()
	events := eventinginmem.New()
	runner := newRunner(t, store, events, suspendingEngine())

	started, err := runner.Run(context.Background(), agent.RunInput{UserPrompt: "task"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	result, err := runner.Cancel(context.Background(), started.State.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.State.Status != agent.RunStatusCancelled {
		t.Fatalf("unexpected status: %s", result.State.Status)
	}
	if result.State.PendingRequirement != nil {
		t.Fatalf("cancelled run should drop its pending requirement")
	}

	if _, err := runner.Cancel(context.Background(), started.State.ID); !errors.Is(err, agent.ErrRunNotCancellable) {
		t.Fatalf("expected ErrRunNotCancellable, got %v", err)
	}
	if _, err := runner.Cancel(context.Background(), "missing"); !errors.Is(err, agent.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	gotEvents := events.Events()
	last := gotEvents[len(gotEvents)-1]
	if last.Type != agent.EventTypeCommandApplied || last.CommandKind != agent.CommandKindCancel {
		t.Fatalf("unexpected last event: %+v", last)
	}
}

func TestRunnerDispatch_RejectsConcurrentCommandsForSameRun(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	engine := &engineSpy{
		executeFn: func(_ context.Context, state agent.RunState, _ agent.EngineInput) (agent.RunState, error) {
			close(entered)
			<-release
			if err := agent.TransitionRunStatus(&state, agent.RunStatusRunning); err != nil {
				return state, err
			}
			return state, agent.TransitionRunStatus(&state, agent.RunStatusCompleted)
		},
	}
	runner := newRunner(t, runstoreinmem.New(), eventinginmem.New(), engine)

	var wg sync.WaitGroup
	wg.Add(1)
	var runErr error
	go func() {
		defer wg.Done()
		_, runErr = runner.Run(context.Background(), agent.RunInput{RunID: "run-busy", UserPrompt: "x"})
	}()

	<-entered
	_, err := runner.Cancel(context.Background(), "run-busy")
	close(release)
	wg.Wait()

	if !errors.Is(err, agent.ErrCommandConflict) {
		t.Fatalf("expected ErrCommandConflict, got %v", err)
	}
	if runErr != nil {
		t.Fatalf("in-flight run failed: %v", runErr)
	}
}

func TestRunnerDispatch_RejectsMalformedCommands(t *testing.T) {
	t.Parallel()

	runner := newRunner(t, runstoreinmem.New(), eventinginmem.New(), suspendingEngine())

	if _, err := runner.Dispatch(nil, agent.CancelCommand{RunID: "x"}); !errors.Is(err, agent.ErrContextNil) {
		t.Fatalf("expected ErrContextNil, got %v", err)
	}
	if _, err := runner.Dispatch(context.Background(), nil); !errors.Is(err, agent.ErrCommandNil) {
		t.Fatalf("expected ErrCommandNil, got %v", err)
	}
	if _, err := runner.Dispatch(context.Background(), &agent.CancelCommand{RunID: "x"}); !errors.Is(err, agent.ErrCommandInvalid) {
		t.Fatalf("expected ErrCommandInvalid for pointer command, got %v", err)
	}
	if _, err := runner.Dispatch(context.Background(), agent.ContinueCommand{}); !errors.Is(err, agent.ErrInvalidRunID) {
		t.Fatalf("expected ErrInvalidRunID, got %v", err)
	}
	_, err := runner.Run(context.Background(), agent.RunInput{
		UserPrompt: "x",
		Tools:      []agent.ToolDefinition{{Name: "a"}, {Name: "a"}},
	})
	if !errors.Is(err, agent.ErrToolDefinitionsInvalid) {
		t.Fatalf("expected ErrToolDefinitionsInvalid, got %v", err)
	}
}

func TestRunnerRun_RejectsEngineContractViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*agent.RunState)
	}{
		{name: "changed id", mutate: func(s *agent.RunState) { s.ID = "other" }},
		{name: "step regression", mutate: func(s *agent.RunState) { s.Step = -1 }},
		{name: "rewritten transcript", mutate: func(s *agent.RunState) { s.Messages[0].Content = "rewritten" }},
		{name: "suspended without requirement", mutate: func(s *agent.RunState) {
			s.Status = agent.RunStatusSuspended
			s.PendingRequirement = nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			engine := &engineSpy{
				executeFn: func(_ context.Context, state agent.RunState, _ agent.EngineInput) (agent.RunState, error) {
					next := agent.CloneRunState(state)
					tt.mutate(&next)
					return next, nil
				},
			}
			runner := newRunner(t, runstoreinmem.New(), eventinginmem.New(), engine)
			_, err := runner.Run(context.Background(), agent.RunInput{UserPrompt: "hello"})
			if !errors.Is(err, agent.ErrEngineOutputContractViolation) {
				t.Fatalf("expected ErrEngineOutputContractViolation, got %v", err)
			}
		})
	}
}

type failingSink struct{}

func (failingSink) Publish(context.Context, agent.Event) error {
	return errors.New("sink down")
}

func TestRunnerRun_EventFailuresDoNotLoseState(t *testing.T) {
	t.Parallel()

	store := runstoreinmem.New()
	runner, err := agent.NewRunner(agent.Dependencies{
		IDGenerator: newCounterIDGenerator("run"),
		RunStore:    store,
		Engine:      suspendingEngine(),
		EventSink:   failingSink{},
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	result, err := runner.Run(context.Background(), agent.RunInput{UserPrompt: "task"})
	if !errors.Is(err, agent.ErrEventPublish) {
		t.Fatalf("expected ErrEventPublish, got %v", err)
	}
	loaded, loadErr := store.Load(context.Background(), result.State.ID)
	if loadErr != nil {
		t.Fatalf("state should be persisted despite sink failure: %v", loadErr)
	}
	if loaded.Status != agent.RunStatusSuspended {
		t.Fatalf("unexpected persisted status: %s", loaded.Status)
	}
}

func TestNewRunner_ValidatesRequiredDependencies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*agent.Dependencies)
		wantErr error
	}{
		{name: "nil ID generator", mutate: func(d *agent.Dependencies) { d.IDGenerator = nil }, wantErr: agent.ErrMissingIDGenerator},
		{name: "nil run store", mutate: func(d *agent.Dependencies) { d.RunStore = nil }, wantErr: agent.ErrMissingRunStore},
		{name: "nil engine", mutate: func(d *agent.Dependencies) { d.Engine = nil }, wantErr: agent.ErrMissingEngine},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			deps := agent.Dependencies{
				IDGenerator: newCounterIDGenerator("constructor"),
				RunStore:    runstoreinmem.New(),
				Engine:      suspendingEngine(),
			}
			tc.mutate(&deps)
			if _, err := agent.NewRunner(deps); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}
