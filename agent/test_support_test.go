package agent_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/Gurpartap/taskflow/agent"
	eventinginmem "github.com/Gurpartap/taskflow/eventing/inmem"
	runstoreinmem "github.com/Gurpartap/taskflow/runstore/inmem"
)

type counterIDGenerator struct {
	prefix  string
	counter atomic.Uint64
}

func newCounterIDGenerator(prefix string) *counterIDGenerator {
	if prefix == "" {
		prefix = "run"
	}
	return &counterIDGenerator{prefix: prefix}
}

func (g *counterIDGenerator) NewRunID(_ context.Context) (agent.RunID, error) {
	next := g.counter.Add(1)
	return agent.RunID(fmt.Sprintf("%s-%06d", g.prefix, next)), nil
}

type engineSpy struct {
	calls     int
	inputs    []agent.EngineInput
	executeFn func(ctx context.Context, state agent.RunState, input agent.EngineInput) (agent.RunState, error)
}

func (e *engineSpy) Execute(ctx context.Context, state agent.RunState, input agent.EngineInput) (agent.RunState, error) {
	e.calls++
	e.inputs = append(e.inputs, input)
	return e.executeFn(ctx, state, input)
}

func newRunner(t *testing.T, store *runstoreinmem.Store, events *eventinginmem.Sink, engine agent.Engine) *agent.Runner {
	t.Helper()

	runner, err := agent.NewRunner(agent.Dependencies{
		IDGenerator: newCounterIDGenerator("run"),
		RunStore:    store,
		Engine:      engine,
		EventSink:   events,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

// suspendingEngine suspends on start and completes on any continuation.
func suspendingEngine() *engineSpy {
	return &engineSpy{
		executeFn: func(_ context.Context, state agent.RunState, input agent.EngineInput) (agent.RunState, error) {
			next := state
			next.Step++
			if err := agent.TransitionRunStatus(&next, agent.RunStatusRunning); err != nil {
				return state, err
			}
			if input.Resolution == nil {
				next.PendingRequirement = &agent.PendingRequirement{
					ID:     "req-1",
					Kind:   agent.RequirementKindUserInput,
					Origin: agent.RequirementOriginLoop,
					Prompt: "What is the status?",
				}
				return next, agent.TransitionRunStatus(&next, agent.RunStatusSuspended)
			}
			next.PendingRequirement = nil
			next.State.Set("status", input.Resolution.Value)
			next.Output = "done"
			return next, agent.TransitionRunStatus(&next, agent.RunStatusCompleted)
		},
	}
}

func eventTypes(events []agent.Event) []agent.EventType {
	out := make([]agent.EventType, len(events))
	for i := range events {
		out[i] = events[i].Type
	}
	return out
}
