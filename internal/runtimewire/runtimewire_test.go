package runtimewire_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	adaptersinmem "github.com/Gurpartap/taskflow/adapters/inmem"
	"github.com/Gurpartap/taskflow/agent"
	"github.com/Gurpartap/taskflow/internal/config"
	"github.com/Gurpartap/taskflow/internal/logging"
	"github.com/Gurpartap/taskflow/internal/runtimewire"
	"github.com/Gurpartap/taskflow/policy/guardrail"
	"github.com/Gurpartap/taskflow/tooling/notiontool"
	"github.com/Gurpartap/taskflow/workflow"
)

func newRuntime(t *testing.T, mutate func(*config.Config)) (*runtimewire.Runtime, *notiontool.Memory) {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	memory := notiontool.NewMemory(map[string]string{"Web": "project-web"})
	rt, err := runtimewire.New(context.Background(), cfg, logging.Discard(), runtimewire.Options{
		Notion:      memory,
		IDGenerator: adaptersinmem.NewCounterIDGenerator("session"),
		Now:         func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, memory
}

func TestRuntime_ConversationFilesTask(t *testing.T) {
	t.Parallel()

	rt, memory := newRuntime(t, nil)
	ctx := context.Background()

	result, err := rt.Start(ctx, "", "Add a task called Fix login bug")
	require.NoError(t, err)
	require.Equal(t, agent.RunID("session-000001"), result.State.ID)
	require.Equal(t, agent.RunStatusSuspended, result.State.Status)
	require.Equal(t, workflow.LoopDetailCollector, result.State.PendingRequirement.Loop)

	result, err = rt.Reply(ctx, result.State.ID, "In progress")
	require.NoError(t, err)
	require.Equal(t, workflow.LoopClassification, result.State.PendingRequirement.Loop)
	require.Equal(t, agent.RequirementKindApproval, result.State.PendingRequirement.Kind)

	result, err = rt.Reply(ctx, result.State.ID, "yes")
	require.NoError(t, err)
	require.Equal(t, agent.RunStatusCompleted, result.State.Status)
	require.Contains(t, result.State.Output, "Fix login bug")

	tasks := memory.Tasks()
	require.Len(t, tasks, 1)
	require.Equal(t, "Fix login bug", tasks[0].TaskName)

	stored, err := rt.Get(ctx, result.State.ID)
	require.NoError(t, err)
	require.Equal(t, agent.RunStatusCompleted, stored.Status)

	streamed, err := rt.StreamBroker.EventsAfter(result.State.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, streamed)
	require.Equal(t, agent.EventTypeRunStarted, streamed[0].Event.Type)

	terminations := testutil.CollectAndCount(rt.Metrics.Registry(), "taskflow_loop_terminations_total")
	require.Equal(t, 2, terminations)

	_, err = rt.Reply(ctx, result.State.ID, "again")
	require.ErrorIs(t, err, agent.ErrRunNotContinuable)
}

func TestRuntime_ReplyValidation(t *testing.T) {
	t.Parallel()

	rt, _ := newRuntime(t, nil)
	ctx := context.Background()

	_, err := rt.Reply(ctx, "session-000001", "  ")
	require.ErrorIs(t, err, runtimewire.ErrReplyEmpty)

	_, err = rt.Reply(ctx, "missing", "hello")
	require.ErrorIs(t, err, agent.ErrRunNotFound)
}

func TestRuntime_GuardrailBlockIsRecorded(t *testing.T) {
	t.Parallel()

	rt, memory := newRuntime(t, func(cfg *config.Config) {
		cfg.Guardrail = guardrail.Policy{Keywords: []string{"PAYROLL"}}
	})

	result, err := rt.Start(context.Background(), "", "Add a task called payroll export")
	require.ErrorIs(t, err, guardrail.ErrBlocked)
	require.True(t, runtimewire.Recorded(result, err))
	require.Equal(t, agent.RunStatusFailed, result.State.Status)
	require.Empty(t, memory.Tasks())
}

func TestRuntime_CancelSuspendedSession(t *testing.T) {
	t.Parallel()

	rt, _ := newRuntime(t, nil)
	ctx := context.Background()

	result, err := rt.Start(ctx, "custom-id", "Add a task called Plan offsite")
	require.NoError(t, err)
	require.Equal(t, agent.RunID("custom-id"), result.State.ID)

	cancelled, err := rt.Cancel(ctx, result.State.ID)
	require.NoError(t, err)
	require.Equal(t, agent.RunStatusCancelled, cancelled.State.Status)

	_, err = rt.Cancel(ctx, result.State.ID)
	require.ErrorIs(t, err, agent.ErrRunNotCancellable)
}

func TestRuntime_SQLiteStoreListsSessions(t *testing.T) {
	t.Parallel()

	rt, _ := newRuntime(t, func(cfg *config.Config) {
		cfg.Store.Driver = config.StoreDriverSQLite
		cfg.Store.Path = filepath.Join(t.TempDir(), "runs.db")
	})
	ctx := context.Background()

	_, err := rt.Start(ctx, "", "Add a task called Archive logs")
	require.NoError(t, err)

	summaries, ok, err := rt.Sessions(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, summaries, 1)
	require.Equal(t, agent.RunStatusSuspended, summaries[0].Status)
}

func TestRuntime_InMemoryStoreHasNoListing(t *testing.T) {
	t.Parallel()

	rt, _ := newRuntime(t, nil)
	_, ok, err := rt.Sessions(context.Background(), 10)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecorded(t *testing.T) {
	t.Parallel()

	failed := agent.RunResult{State: agent.RunState{ID: "s", Status: agent.RunStatusFailed}}
	require.True(t, runtimewire.Recorded(failed, errors.New("write failed")))
	require.False(t, runtimewire.Recorded(agent.RunResult{}, errors.New("boom")))
	require.False(t, runtimewire.Recorded(failed, agent.ErrEventPublish))

	suspended := agent.RunResult{State: agent.RunState{ID: "s", Status: agent.RunStatusSuspended}}
	require.False(t, runtimewire.Recorded(suspended, errors.New("boom")))
}

func TestNewModel_ProviderNone(t *testing.T) {
	t.Parallel()

	model, err := runtimewire.NewModel(context.Background(), config.Default().Model)
	require.NoError(t, err)
	require.Nil(t, model)
}

func TestNewModel_RequiresKey(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Model
	cfg.Provider = config.ModelProviderOpenAI
	_, err := runtimewire.NewModel(context.Background(), cfg)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "api key"))
}
