package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/gymflow/internal/dependency"
	"github.com/ChuLiYu/gymflow/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// newTestExecutor creates an executor with the given machines registered.
func newTestExecutor(t *testing.T, machines ...types.MachineID) *Executor {
	t.Helper()
	ex := New()
	for _, id := range machines {
		require.NoError(t, ex.OnMachineAdded(types.Machine{ID: id, Speed: 1000}))
	}
	return ex
}

// chainWorkflow builds T1 -> T2 (T2 is the child of T1).
func chainWorkflow(id types.WorkflowID) types.Workflow {
	return types.Workflow{ID: id, Tasks: []types.Task{
		{ID: 1, Length: 100, ChildIDs: []types.TaskID{2}},
		{ID: 2, Length: 100},
	}}
}

// diamondWorkflow builds 1 -> {2, 3} -> 4.
func diamondWorkflow(id types.WorkflowID) types.Workflow {
	return types.Workflow{ID: id, Tasks: []types.Task{
		{ID: 1, ChildIDs: []types.TaskID{2, 3}},
		{ID: 2, ChildIDs: []types.TaskID{4}},
		{ID: 3, ChildIDs: []types.TaskID{4}},
		{ID: 4},
	}}
}

func commit(t *testing.T, ex *Executor, wf types.WorkflowID, task types.TaskID, m types.MachineID) {
	t.Helper()
	require.NoError(t, ex.OnTaskCommitted(types.Assignment{Workflow: wf, Task: task, Machine: m}))
}

func assertStatus(t *testing.T, ex *Executor, key types.TaskKey, want types.TaskStatus) {
	t.Helper()
	got, ok := ex.Status(key)
	if !ok {
		t.Errorf("task %s not found", key)
		return
	}
	if got != want {
		t.Errorf("task %s status: got %s, want %s", key, got, want)
	}
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestNew(t *testing.T) {
	ex := New()

	stats := ex.Stats()
	for key, value := range stats {
		if value != 0 {
			t.Errorf("stats[%s]: got %d, want 0", key, value)
		}
	}
	assert.Empty(t, ex.PollAssignments())
	assert.NotNil(t, ex.PollAssignments(), "empty poll returns an empty slice, not nil")
}

func TestOnWorkflowAdded_DependencyCounts(t *testing.T) {
	ex := newTestExecutor(t, 1)
	wf := diamondWorkflow(5)
	require.NoError(t, ex.OnWorkflowAdded(wf))

	counts := make(map[types.TaskID]int)
	for _, task := range wf.Tasks {
		for _, child := range task.ChildIDs {
			counts[child]++
		}
	}
	for _, task := range wf.Tasks {
		key := types.Key(wf.ID, task.ID)
		assert.Equal(t, counts[task.ID], ex.PendingDependencies(key), "task %s", key)
		assertStatus(t, ex, key, types.StatusRegistered)
	}
}

func TestOnWorkflowAdded_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*Executor)
		workflow types.Workflow
		wantErr  error
	}{
		{
			name: "unknown child id",
			workflow: types.Workflow{ID: 1, Tasks: []types.Task{
				{ID: 1, ChildIDs: []types.TaskID{9}},
			}},
			wantErr: ErrUnknownTask,
		},
		{
			name: "duplicate task id",
			workflow: types.Workflow{ID: 1, Tasks: []types.Task{
				{ID: 1}, {ID: 1},
			}},
			wantErr: ErrDuplicateTask,
		},
		{
			name:     "duplicate workflow id",
			setup:    func(ex *Executor) { _ = ex.OnWorkflowAdded(chainWorkflow(1)) },
			workflow: chainWorkflow(1),
			wantErr:  ErrDuplicateWorkflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := New()
			if tt.setup != nil {
				tt.setup(ex)
			}
			before := ex.Stats()

			err := ex.OnWorkflowAdded(tt.workflow)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, types.IsContractViolation(err))
			assert.Equal(t, before, ex.Stats(), "rejected workflow must leave no state")
		})
	}
}

func TestOnTaskCommitted_Rejects(t *testing.T) {
	ex := newTestExecutor(t, 1, 2)
	require.NoError(t, ex.OnWorkflowAdded(chainWorkflow(1)))
	commit(t, ex, 1, 1, 1)

	err := ex.OnTaskCommitted(types.Assignment{Workflow: 1, Task: 1, Machine: 2})
	assert.ErrorIs(t, err, ErrAlreadyCommitted)

	err = ex.OnTaskCommitted(types.Assignment{Workflow: 1, Task: 7, Machine: 1})
	assert.ErrorIs(t, err, ErrUnknownTask)

	err = ex.OnTaskCommitted(types.Assignment{Workflow: 1, Task: 2, Machine: 9})
	assert.True(t, types.IsContractViolation(err))
	_, committed := ex.Commitment(types.Key(1, 2))
	assert.False(t, committed, "failed commit must not be recorded")
}

func TestOnTaskCompleted_Rejects(t *testing.T) {
	ex := newTestExecutor(t, 1)
	require.NoError(t, ex.OnWorkflowAdded(chainWorkflow(1)))

	assert.ErrorIs(t, ex.OnTaskCompleted(1, 9), ErrUnknownTask)
	// registered but never dispatched
	assert.ErrorIs(t, ex.OnTaskCompleted(1, 1), ErrNotExecuting)

	commit(t, ex, 1, 1, 1)
	require.Len(t, ex.PollAssignments(), 1)
	require.NoError(t, ex.OnTaskCompleted(1, 1))
	// completed twice
	assert.ErrorIs(t, ex.OnTaskCompleted(1, 1), ErrNotExecuting)
}

func TestRejectedCompletionLeavesCountsUntouched(t *testing.T) {
	ex := newTestExecutor(t, 1)
	require.NoError(t, ex.OnWorkflowAdded(types.Workflow{ID: 1, Tasks: []types.Task{
		{ID: 1, ChildIDs: []types.TaskID{2, 3}},
		{ID: 2},
		{ID: 3},
	}}))
	commit(t, ex, 1, 1, 1)
	require.Len(t, ex.PollAssignments(), 1)

	// Drain the last child's count behind the executor's back.
	require.NoError(t, ex.deps.ResolveOne(types.Key(1, 3)))

	err := ex.OnTaskCompleted(1, 1)
	assert.ErrorIs(t, err, dependency.ErrDependencyUnderflow)
	assert.True(t, types.IsContractViolation(err))

	assert.Equal(t, 1, ex.PendingDependencies(types.Key(1, 2)), "earlier children must not be decremented")
	assertStatus(t, ex, types.Key(1, 1), types.StatusExecuting)
}

// Scenario: T1 (no children), T2 (child of T1); commit T1→M1, T2→M2.
func TestChainAcrossMachines(t *testing.T) {
	ex := newTestExecutor(t, 1, 2)
	require.NoError(t, ex.OnWorkflowAdded(chainWorkflow(1)))

	commit(t, ex, 1, 1, 1)
	commit(t, ex, 1, 2, 2)

	got := ex.PollAssignments()
	assert.Equal(t, []types.Assignment{{Workflow: 1, Task: 1, Machine: 1}}, got)
	assertStatus(t, ex, types.Key(1, 2), types.StatusQueued)

	require.NoError(t, ex.OnTaskCompleted(1, 1))
	got = ex.PollAssignments()
	assert.Equal(t, []types.Assignment{{Workflow: 1, Task: 2, Machine: 2}}, got)
	assertStatus(t, ex, types.Key(1, 1), types.StatusCompleted)
	assertStatus(t, ex, types.Key(1, 2), types.StatusExecuting)
}

func TestPollAssignmentsIsIdempotent(t *testing.T) {
	ex := newTestExecutor(t, 1, 2)
	require.NoError(t, ex.OnWorkflowAdded(diamondWorkflow(1)))
	commit(t, ex, 1, 1, 1)

	first := ex.PollAssignments()
	require.Len(t, first, 1)
	second := ex.PollAssignments()
	assert.Empty(t, second)

	seen := map[types.TaskKey]bool{}
	for _, a := range append(first, second...) {
		assert.False(t, seen[a.Key()], "task %s dispatched twice", a.Key())
		seen[a.Key()] = true
	}
}

func TestSameMachineRunsInCommitOrder(t *testing.T) {
	ex := newTestExecutor(t, 1)
	wf := types.Workflow{ID: 1, Tasks: []types.Task{{ID: 1}, {ID: 2}, {ID: 3}}}
	require.NoError(t, ex.OnWorkflowAdded(wf))

	commit(t, ex, 1, 3, 1)
	commit(t, ex, 1, 1, 1)
	commit(t, ex, 1, 2, 1)

	var order []types.TaskID
	for i := 0; i < 3; i++ {
		got := ex.PollAssignments()
		require.Len(t, got, 1, "exactly one ready task per machine")
		order = append(order, got[0].Task)
		require.NoError(t, ex.OnTaskCompleted(1, got[0].Task))
	}
	assert.Equal(t, []types.TaskID{3, 1, 2}, order)
}

func TestBlockedHeadHoldsMachine(t *testing.T) {
	// M2 holds [T2, T3]; T2 waits on T1 (on M1). T3 is free but behind T2.
	ex := newTestExecutor(t, 1, 2)
	wf := types.Workflow{ID: 1, Tasks: []types.Task{
		{ID: 1, ChildIDs: []types.TaskID{2}},
		{ID: 2},
		{ID: 3},
	}}
	require.NoError(t, ex.OnWorkflowAdded(wf))
	commit(t, ex, 1, 2, 2)
	commit(t, ex, 1, 3, 2)
	commit(t, ex, 1, 1, 1)

	assert.Equal(t, []types.Assignment{{Workflow: 1, Task: 1, Machine: 1}}, ex.PollAssignments())
	assertStatus(t, ex, types.Key(1, 3), types.StatusQueued)

	require.NoError(t, ex.OnTaskCompleted(1, 1))
	assert.Equal(t, []types.Assignment{{Workflow: 1, Task: 2, Machine: 2}}, ex.PollAssignments())
	require.NoError(t, ex.OnTaskCompleted(1, 2))
	assert.Equal(t, []types.Assignment{{Workflow: 1, Task: 3, Machine: 2}}, ex.PollAssignments())
}

func TestChildCommittedAfterParentCompleted(t *testing.T) {
	ex := newTestExecutor(t, 1, 2)
	require.NoError(t, ex.OnWorkflowAdded(chainWorkflow(1)))
	commit(t, ex, 1, 1, 1)
	require.Len(t, ex.PollAssignments(), 1)
	require.NoError(t, ex.OnTaskCompleted(1, 1))
	assert.Empty(t, ex.PollAssignments())

	commit(t, ex, 1, 2, 2)
	assert.Equal(t, []types.Assignment{{Workflow: 1, Task: 2, Machine: 2}}, ex.PollAssignments())
}

// Every topological completion order satisfies each task exactly once.
func TestDiamondRunsToCompletion(t *testing.T) {
	ex := newTestExecutor(t, 1, 2, 3)
	require.NoError(t, ex.OnWorkflowAdded(diamondWorkflow(1)))
	commit(t, ex, 1, 4, 3)
	commit(t, ex, 1, 1, 1)
	commit(t, ex, 1, 2, 1)
	commit(t, ex, 1, 3, 2)

	dispatched := map[types.TaskKey]int{}
	for rounds := 0; rounds < 10; rounds++ {
		batch := ex.PollAssignments()
		if len(batch) == 0 {
			break
		}
		perMachine := map[types.MachineID]int{}
		for _, a := range batch {
			perMachine[a.Machine]++
			dispatched[a.Key()]++
			assert.Equal(t, 0, ex.PendingDependencies(a.Key()), "dispatched with pending deps: %s", a.Key())
		}
		for m, n := range perMachine {
			assert.LessOrEqual(t, n, 1, "machine %d has more than one ready task", m)
		}
		for _, a := range batch {
			require.NoError(t, ex.OnTaskCompleted(a.Workflow, a.Task))
		}
	}

	for _, task := range diamondWorkflow(1).Tasks {
		assert.Equal(t, 1, dispatched[types.Key(1, task.ID)], "task %d", task.ID)
	}
	assert.Equal(t, 4, ex.Stats()["completed"])
}

func TestStats(t *testing.T) {
	ex := newTestExecutor(t, 1, 2)
	require.NoError(t, ex.OnWorkflowAdded(chainWorkflow(1)))
	commit(t, ex, 1, 1, 1)
	commit(t, ex, 1, 2, 2)

	stats := ex.Stats()
	assert.Equal(t, 1, stats["ready"])
	assert.Equal(t, 1, stats["queued"])

	ex.PollAssignments()
	stats = ex.Stats()
	assert.Equal(t, 1, stats["executing"])
	assert.Equal(t, 0, stats["ready"])
}
