package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	adaptersinmem "github.com/Gurpartap/taskflow/adapters/inmem"
	"github.com/Gurpartap/taskflow/adapters/modeltest"
	"github.com/Gurpartap/taskflow/agent"
	eventinginmem "github.com/Gurpartap/taskflow/eventing/inmem"
	"github.com/Gurpartap/taskflow/loop"
	"github.com/Gurpartap/taskflow/policy/guardrail"
	runstoreinmem "github.com/Gurpartap/taskflow/runstore/inmem"
	"github.com/Gurpartap/taskflow/session"
	"github.com/Gurpartap/taskflow/tooling/notiontool"
	"github.com/Gurpartap/taskflow/tooling/registry"
	"github.com/Gurpartap/taskflow/workflow"
)

const webProjectID = "11111111-2222-3333-4444-555555555555"

type harness struct {
	runner *agent.Runner
	store  *runstoreinmem.Store
	events *eventinginmem.Sink
	notion *notiontool.Memory
}

func newHarness(t *testing.T, cfg workflow.Config) *harness {
	t.Helper()

	memory := notiontool.NewMemory(map[string]string{"Web": webProjectID})
	tools, err := registry.New(notiontool.Tools(memory)...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	events := eventinginmem.New()
	cfg.Tools = tools
	cfg.Events = events
	engine, err := workflow.New(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	store := runstoreinmem.New()
	runner, err := agent.NewRunner(agent.Dependencies{
		IDGenerator: adaptersinmem.NewCounterIDGenerator("session"),
		RunStore:    store,
		Engine:      engine,
		EventSink:   events,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return &harness{runner: runner, store: store, events: events, notion: memory}
}

func (h *harness) start(t *testing.T, request string) agent.RunState {
	t.Helper()
	result, err := h.runner.Run(context.Background(), agent.RunInput{
		UserPrompt: request,
		State:      session.State{workflow.KeyRequest: request},
		Tools:      notiontool.Definitions(),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return result.State
}

func (h *harness) reply(t *testing.T, state agent.RunState, outcome agent.ResolutionOutcome, value string) agent.RunState {
	t.Helper()
	if state.PendingRequirement == nil {
		t.Fatalf("run %s has no pending requirement (status %s)", state.ID, state.Status)
	}
	result, err := h.runner.Continue(context.Background(), state.ID, notiontool.Definitions(), &agent.Resolution{
		RequirementID: state.PendingRequirement.ID,
		Outcome:       outcome,
		Value:         value,
	})
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	return result.State
}

func requireSuspended(t *testing.T, state agent.RunState, loopName string, iteration int) {
	t.Helper()
	if state.Status != agent.RunStatusSuspended {
		t.Fatalf("status = %s, want suspended (error %q)", state.Status, state.Error)
	}
	if state.PendingRequirement.Loop != loopName || state.PendingRequirement.Iteration != iteration {
		t.Fatalf("unexpected requirement: %+v", state.PendingRequirement)
	}
}

func eventTypes(events []agent.Event) []agent.EventType {
	out := make([]agent.EventType, 0, len(events))
	for _, event := range events {
		out = append(out, event.Type)
	}
	return out
}

func TestEngine_HeuristicConversationFilesTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t, workflow.Config{})
	state := h.start(t, "Add a task called Fix login bug")

	requireSuspended(t, state, workflow.LoopDetailCollector, 1)
	if state.PendingRequirement.Kind != agent.RequirementKindUserInput {
		t.Fatalf("collector should ask for input: %+v", state.PendingRequirement)
	}
	if diff := cmp.Diff([]string{"status"}, state.PendingRequirement.Missing); diff != "" {
		t.Fatalf("missing mismatch (-want +got):\n%s", diff)
	}
	if got := state.State.String(workflow.KeyTaskName); got != "Fix login bug" {
		t.Fatalf("task name not parsed: %q", got)
	}
	critique, ok := loop.CritiqueFromState(state.State, workflow.KeyCritique)
	if !ok || critique.Status != loop.CritiqueStatusIncomplete || critique.Feedback != "missing: status" {
		t.Fatalf("unexpected critique: %+v ok=%v", critique, ok)
	}

	state = h.reply(t, state, agent.ResolutionOutcomeProvided, "In progress")
	requireSuspended(t, state, workflow.LoopClassification, 1)
	if state.PendingRequirement.Kind != agent.RequirementKindApproval {
		t.Fatalf("classification should ask for approval: %+v", state.PendingRequirement)
	}
	if !strings.Contains(state.PendingRequirement.Prompt, "type: bug") {
		t.Fatalf("unexpected proposal: %q", state.PendingRequirement.Prompt)
	}
	if state.State.String("detail_collector_status") != string(loop.StatusComplete) {
		t.Fatalf("collector status not recorded: %+v", state.State)
	}

	state = h.reply(t, state, agent.ResolutionOutcomeApproved, "")
	if state.Status != agent.RunStatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", state.Status, state.Error)
	}
	if state.Stage != workflow.StageDone || state.PendingRequirement != nil {
		t.Fatalf("unexpected final run: stage=%s pending=%+v", state.Stage, state.PendingRequirement)
	}
	if got := state.State.String(workflow.KeyNotionPageID); got != "memory-page-1" {
		t.Fatalf("page id = %q", got)
	}
	if state.Output != `Added "Fix login bug" to Notion (memory://memory-page-1).` {
		t.Fatalf("unexpected output: %q", state.Output)
	}

	tasks := h.notion.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(tasks))
	}
	if tasks[0].TaskName != "Fix login bug" || tasks[0].Status != "In progress" ||
		tasks[0].TaskType != "bug" || tasks[0].Priority != "medium" {
		t.Fatalf("unexpected task: %+v", tasks[0])
	}

	wantLoops := map[string]loop.Progress{
		workflow.LoopDetailCollector: {Iteration: 2, Started: true, Status: loop.StatusComplete},
		workflow.LoopClassification:  {Iteration: 2, Started: true, Status: loop.StatusConfirmed},
	}
	if diff := cmp.Diff(wantLoops, state.Loops); diff != "" {
		t.Fatalf("loop progress mismatch (-want +got):\n%s", diff)
	}

	loaded, err := h.store.Load(context.Background(), state.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Status != agent.RunStatusCompleted || loaded.Version != state.Version {
		t.Fatalf("persisted run mismatch: status=%s version=%d want %d", loaded.Status, loaded.Version, state.Version)
	}

	var terminated []string
	for _, event := range h.events.EventsFor(state.ID) {
		if event.Type == agent.EventTypeLoopTerminated {
			terminated = append(terminated, event.Loop+"="+event.LoopStatus)
		}
	}
	want := []string{"detail_collector=complete", "classification=confirmed"}
	if diff := cmp.Diff(want, terminated); diff != "" {
		t.Fatalf("loop_terminated events mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_SatisfiedCollectorDoesNotSuspend(t *testing.T) {
	t.Parallel()

	h := newHarness(t, workflow.Config{})
	state := h.start(t, "Task: Write release notes; Status: Todo")

	requireSuspended(t, state, workflow.LoopClassification, 1)
	if got := state.Loops[workflow.LoopDetailCollector]; got.Iteration != 1 || got.Status != loop.StatusComplete {
		t.Fatalf("collector should complete on its first step: %+v", got)
	}
	critique, ok := loop.CritiqueFromState(state.State, workflow.KeyCritique)
	if !ok || critique.Status != loop.CritiqueStatusComplete {
		t.Fatalf("unexpected critique: %+v ok=%v", critique, ok)
	}

	wantTypes := []agent.EventType{
		agent.EventTypeRunStarted,
		agent.EventTypeLoopTerminated,
		agent.EventTypeAssistantMessage,
		agent.EventTypeRequirementRaised,
		agent.EventTypeRunCheckpoint,
		agent.EventTypeCommandApplied,
	}
	if diff := cmp.Diff(wantTypes, eventTypes(h.events.EventsFor(state.ID))); diff != "" {
		t.Fatalf("event types mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_ClassificationFeedbackRevisesProposal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, workflow.Config{})
	state := h.start(t, "Task: Plan sprint; Status: Todo")
	requireSuspended(t, state, workflow.LoopClassification, 1)

	state = h.reply(t, state, agent.ResolutionOutcomeProvided, "make it high priority, about 3 days")
	requireSuspended(t, state, workflow.LoopClassification, 2)
	prompt := state.PendingRequirement.Prompt
	if !strings.Contains(prompt, "priority: high") || !strings.Contains(prompt, "estimated time: 3 days") {
		t.Fatalf("proposal did not apply feedback: %q", prompt)
	}
	if _, ok := state.State.Get(workflow.KeyClassificationFeedback); ok {
		t.Fatalf("applied feedback should be consumed: %+v", state.State)
	}
	if state.State.Bool(workflow.KeyClassificationOK) {
		t.Fatalf("feedback must not confirm the proposal")
	}

	state = h.reply(t, state, agent.ResolutionOutcomeProvided, "Yes, confirm")
	if state.Status != agent.RunStatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", state.Status, state.Error)
	}
	if got := h.notion.Tasks()[0].Priority; got != "high" {
		t.Fatalf("priority = %q, want high", got)
	}
}

func TestEngine_ClassificationCeilingEndsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, workflow.Config{})
	state := h.start(t, "Task: Plan sprint; Status: Todo")
	for i := 1; i <= 3; i++ {
		requireSuspended(t, state, workflow.LoopClassification, i)
		state = h.reply(t, state, agent.ResolutionOutcomeRejected, "")
	}

	if state.Status != agent.RunStatusMaxLoopsReached {
		t.Fatalf("status = %s, want max_loops_reached", state.Status)
	}
	if !strings.Contains(state.Error, agent.ErrMaxLoopsReached.Error()) {
		t.Fatalf("unexpected error: %q", state.Error)
	}
	if got := state.Loops[workflow.LoopClassification]; got.Iteration != 4 || got.Status != loop.StatusMaxLoopsReached {
		t.Fatalf("unexpected loop progress: %+v", got)
	}
	if state.State.String("classification_status") != string(loop.StatusMaxLoopsReached) {
		t.Fatalf("status key not written: %+v", state.State)
	}
	if len(h.notion.Tasks()) != 0 {
		t.Fatalf("no task should be written")
	}

	_, err := h.runner.Continue(context.Background(), state.ID, nil, &agent.Resolution{
		RequirementID: "classification-4",
		Outcome:       agent.ResolutionOutcomeApproved,
	})
	if !errors.Is(err, agent.ErrRunNotContinuable) {
		t.Fatalf("expected ErrRunNotContinuable, got %v", err)
	}
}

func TestEngine_ConfirmationAfterCeilingEndsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, workflow.Config{})
	state := h.start(t, "Task: Plan sprint; Status: Todo")
	for i, feedback := range []string{"make it high priority", "about 3 days"} {
		requireSuspended(t, state, workflow.LoopClassification, i+1)
		state = h.reply(t, state, agent.ResolutionOutcomeProvided, feedback)
	}
	requireSuspended(t, state, workflow.LoopClassification, 3)

	state = h.reply(t, state, agent.ResolutionOutcomeProvided, "Yes, confirm")
	if state.Status != agent.RunStatusMaxLoopsReached {
		t.Fatalf("status = %s, want max_loops_reached (error %q)", state.Status, state.Error)
	}
	if got := state.Loops[workflow.LoopClassification]; got.Iteration != 4 || got.Status != loop.StatusMaxLoopsReached {
		t.Fatalf("unexpected loop progress: %+v", got)
	}
	if state.State.String("classification_status") != string(loop.StatusMaxLoopsReached) {
		t.Fatalf("status key not written: %+v", state.State)
	}
	if len(h.notion.Tasks()) != 0 {
		t.Fatalf("no task should be written after the ceiling")
	}
}

func TestEngine_CollectorCeilingEndsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, workflow.Config{})
	state := h.start(t, "Please help me with something")
	for i := 1; i <= 5; i++ {
		requireSuspended(t, state, workflow.LoopDetailCollector, i)
		state = h.reply(t, state, agent.ResolutionOutcomeProvided, "not sure")
	}

	if state.Status != agent.RunStatusMaxLoopsReached {
		t.Fatalf("status = %s, want max_loops_reached", state.Status)
	}
	if state.State.String("detail_collector_status") != string(loop.StatusMaxLoopsReached) {
		t.Fatalf("status key not written: %+v", state.State)
	}
	critique, ok := loop.CritiqueFromState(state.State, workflow.KeyCritique)
	if !ok || critique.Feedback != "missing: task_name, status" {
		t.Fatalf("unexpected critique: %+v ok=%v", critique, ok)
	}
	if _, ok := state.Loops[workflow.LoopClassification]; ok {
		t.Fatalf("classification must not start: %+v", state.Loops)
	}
}

func TestEngine_GuardrailFailsRun(t *testing.T) {
	t.Parallel()

	policy := guardrail.Default()
	h := newHarness(t, workflow.Config{Guardrail: &policy})

	result, err := h.runner.Run(context.Background(), agent.RunInput{
		UserPrompt: "Add a task about the CONFIDENTIAL merger",
	})
	if !errors.Is(err, guardrail.ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if result.State.Status != agent.RunStatusFailed || !strings.Contains(result.State.Error, "CONFIDENTIAL") {
		t.Fatalf("unexpected run: status=%s error=%q", result.State.Status, result.State.Error)
	}

	state := h.start(t, "Add a task called Update roadmap")
	_, err = h.runner.Continue(context.Background(), state.ID, nil, &agent.Resolution{
		RequirementID: state.PendingRequirement.ID,
		Outcome:       agent.ResolutionOutcomeProvided,
		Value:         "status: PII_DATA pending",
	})
	if !errors.Is(err, guardrail.ErrBlocked) {
		t.Fatalf("expected ErrBlocked on reply, got %v", err)
	}
	if len(h.notion.Tasks()) != 0 {
		t.Fatalf("blocked runs must not write tasks")
	}
}

func TestEngine_ModelBackedConversation(t *testing.T) {
	t.Parallel()

	parse := modeltest.NewScriptedModel(modeltest.Text(
		"```json\n" + `{"workflow": "bug_report", "fields": {"task_name": "Checkout crashes", "status": "Open", "project": "Web"}}` + "\n```",
	))
	classify := modeltest.NewScriptedModel(modeltest.Text(
		`{"type": "Bug", "priority": "critical", "complexity": "moderate", "estimated_time": "1 day"}`,
	))
	h := newHarness(t, workflow.Config{Model: modeltest.Router{Routes: map[string]agent.Model{
		workflow.PurposeParse:    parse,
		workflow.PurposeClassify: classify,
	}}})

	state := h.start(t, "The checkout page crashes when paying with a gift card")
	requireSuspended(t, state, workflow.LoopClassification, 1)
	if state.State.String(workflow.KeyWorkflow) != "bug_report" {
		t.Fatalf("unexpected workflow: %+v", state.State)
	}
	if state.State.String(workflow.KeyPriority) != "high" {
		t.Fatalf("template default not applied: %+v", state.State)
	}

	state = h.reply(t, state, agent.ResolutionOutcomeApproved, "")
	if state.Status != agent.RunStatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", state.Status, state.Error)
	}
	task := h.notion.Tasks()[0]
	if task.Project != "Web" || task.Priority != "critical" || task.TaskType != "bug" {
		t.Fatalf("unexpected task: %+v", task)
	}

	requests := parse.Requests()
	if len(requests) != 1 || !requests[0].JSON || requests[0].Purpose != workflow.PurposeParse {
		t.Fatalf("unexpected parse requests: %+v", requests)
	}
	if classify.Remaining() != 0 {
		t.Fatalf("classifier was not consulted")
	}
}

func TestEngine_ModelFailureFallsBackToHeuristics(t *testing.T) {
	t.Parallel()

	failing := modeltest.Func(func(context.Context, agent.ModelRequest) (agent.Message, error) {
		return agent.Message{}, errors.New("provider unavailable")
	})
	h := newHarness(t, workflow.Config{Model: failing})

	state := h.start(t, `Add "Renew TLS certificates" due 2026-12-01`)
	requireSuspended(t, state, workflow.LoopDetailCollector, 1)
	if state.PendingRequirement.Prompt != "I need a few more details before I can add this task. (missing: status)" {
		t.Fatalf("expected the static question, got %q", state.PendingRequirement.Prompt)
	}
	if state.State.String(workflow.KeyDueDate) != "2026-12-01" {
		t.Fatalf("due date not parsed: %+v", state.State)
	}
}

func TestEngine_GuardrailModelErrorIsFatal(t *testing.T) {
	t.Parallel()

	blocked := modeltest.Func(func(context.Context, agent.ModelRequest) (agent.Message, error) {
		return agent.Message{}, &guardrail.Violation{Keyword: "SECRET_PROJECT_X"}
	})
	h := newHarness(t, workflow.Config{Model: blocked})

	result, err := h.runner.Run(context.Background(), agent.RunInput{UserPrompt: "Add a task"})
	if !errors.Is(err, guardrail.ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if result.State.Status != agent.RunStatusFailed {
		t.Fatalf("status = %s, want failed", result.State.Status)
	}
}

func TestEngine_ExecuteRequiresResolutionWhenSuspended(t *testing.T) {
	t.Parallel()

	tools, err := registry.New(notiontool.Tools(notiontool.NewMemory(nil))...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	engine, err := workflow.New(workflow.Config{Tools: tools})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	_, err = engine.Execute(context.Background(), agent.RunState{
		ID:                 "session-1",
		Status:             agent.RunStatusSuspended,
		PendingRequirement: &agent.PendingRequirement{ID: "detail_collector-1", Kind: agent.RequirementKindUserInput},
	}, agent.EngineInput{})
	if !errors.Is(err, agent.ErrResolutionRequired) {
		t.Fatalf("expected ErrResolutionRequired, got %v", err)
	}

	if _, err := workflow.New(workflow.Config{}); !errors.Is(err, workflow.ErrMissingToolExecutor) {
		t.Fatalf("expected ErrMissingToolExecutor, got %v", err)
	}
}
