package scheduling

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/gymflow/internal/handshake"
	"github.com/ChuLiYu/gymflow/pkg/types"
)

// algorithmFunc adapts a function to the Algorithm interface.
type algorithmFunc func([]types.TaskView, []types.Machine) ([]types.Assignment, error)

func (f algorithmFunc) Schedule(_ context.Context, tasks []types.TaskView, machines []types.Machine) ([]types.Assignment, error) {
	return f(tasks, machines)
}

func views(workflow types.WorkflowID, ids ...types.TaskID) []types.TaskView {
	out := make([]types.TaskView, len(ids))
	for i, id := range ids {
		out[i] = types.TaskView{Workflow: workflow, ID: id}
	}
	return out
}

func flatWorkflow(id types.WorkflowID, arrival float64, n int) types.Workflow {
	wf := types.Workflow{ID: id, ArrivalTime: arrival}
	for i := 1; i <= n; i++ {
		wf.Tasks = append(wf.Tasks, types.Task{ID: types.TaskID(i)})
	}
	return wf
}

var abc = []types.Machine{{ID: 'A'}, {ID: 'B'}, {ID: 'C'}}

func machinesOf(assignments []types.Assignment) []types.MachineID {
	out := make([]types.MachineID, len(assignments))
	for i, a := range assignments {
		out[i] = a.Machine
	}
	return out
}

// ============================================================================
// Algorithms
// ============================================================================

func TestRoundRobinCycles(t *testing.T) {
	rr := NewRoundRobin()

	got, err := rr.Schedule(context.Background(), views(1, 1, 2, 3, 4), abc)
	require.NoError(t, err)
	assert.Equal(t, []types.MachineID{'A', 'B', 'C', 'A'}, machinesOf(got))
}

func TestRoundRobinCursorPersists(t *testing.T) {
	rr := NewRoundRobin()
	ctx := context.Background()

	first, err := rr.Schedule(ctx, views(1, 1, 2), abc)
	require.NoError(t, err)
	second, err := rr.Schedule(ctx, views(1, 3, 4), abc)
	require.NoError(t, err)

	assert.Equal(t, []types.MachineID{'A', 'B', 'C', 'A'}, machinesOf(append(first, second...)))
}

func TestRoundRobinEdgeCases(t *testing.T) {
	rr := NewRoundRobin()

	got, err := rr.Schedule(context.Background(), nil, abc)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = rr.Schedule(context.Background(), views(1, 1), nil)
	assert.ErrorIs(t, err, ErrNoMachines)
}

func TestDelegatedForwardsToPeer(t *testing.T) {
	ctx := context.Background()
	ch := handshake.NewStaticChannel()
	agent := handshake.NewAgent(ch)
	var observed int
	d := NewDelegated(handshake.NewEnvironment(ch), func(time.Duration) { observed++ })

	go func() {
		result, err := agent.Reset(ctx)
		if err != nil {
			return
		}
		obs := result.Observation
		action := types.StaticAction{}
		for _, task := range obs.Tasks {
			action.Assignments = append(action.Assignments, types.Assignment{
				Workflow: task.Workflow, Task: task.ID, Machine: obs.Machines[len(obs.Machines)-1].ID,
			})
		}
		_, _ = agent.Step(ctx, action)
	}()

	got, err := d.Schedule(ctx, views(1, 1, 2), abc)
	require.NoError(t, err)
	assert.Equal(t, []types.MachineID{'C', 'C'}, machinesOf(got))
	assert.Equal(t, 1, observed)
	ch.Close()
}

func TestDelegatedInterrupted(t *testing.T) {
	ch := handshake.NewStaticChannel()
	d := NewDelegated(handshake.NewEnvironment(ch), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Schedule(ctx, views(1, 1), abc)
	assert.ErrorIs(t, err, handshake.ErrInterrupted)
}

// ============================================================================
// Schedulers
// ============================================================================

func TestStaticSchedulesOnNextPoll(t *testing.T) {
	s := NewStatic(NewRoundRobin())
	for _, m := range abc {
		s.OnMachineAdded(m)
	}
	s.OnWorkflowAdded(flatWorkflow(1, 0, 4))
	assert.Equal(t, 4, s.Pending())

	got, err := s.Poll(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, 0, s.Pending())

	got, err = s.Poll(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, ok := s.NextDeadline()
	assert.False(t, ok)
}

func TestStaticWaitsForMachines(t *testing.T) {
	s := NewStatic(NewRoundRobin())
	s.OnWorkflowAdded(flatWorkflow(1, 0, 2))

	got, err := s.Poll(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 2, s.Pending())
}

func TestUnassignedTasksStayPending(t *testing.T) {
	// Only ever assigns the first offered task.
	first := algorithmFunc(func(tasks []types.TaskView, machines []types.Machine) ([]types.Assignment, error) {
		return []types.Assignment{{Workflow: tasks[0].Workflow, Task: tasks[0].ID, Machine: machines[0].ID}}, nil
	})
	s := NewStatic(first)
	s.OnMachineAdded(abc[0])
	s.OnWorkflowAdded(flatWorkflow(1, 0, 3))

	var order []types.TaskID
	for i := 0; i < 3; i++ {
		got, err := s.Poll(context.Background(), 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		order = append(order, got[0].Task)
	}
	assert.Equal(t, []types.TaskID{1, 2, 3}, order)
	assert.Equal(t, 0, s.Pending())
}

func TestInvalidDecisions(t *testing.T) {
	tests := []struct {
		name     string
		decision []types.Assignment
	}{
		{"task not offered", []types.Assignment{{Workflow: 1, Task: 99, Machine: 'A'}}},
		{"unknown machine", []types.Assignment{{Workflow: 1, Task: 1, Machine: 'Z'}}},
		{"task twice", []types.Assignment{
			{Workflow: 1, Task: 1, Machine: 'A'},
			{Workflow: 1, Task: 1, Machine: 'B'},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStatic(algorithmFunc(func([]types.TaskView, []types.Machine) ([]types.Assignment, error) {
				return tt.decision, nil
			}))
			for _, m := range abc {
				s.OnMachineAdded(m)
			}
			s.OnWorkflowAdded(flatWorkflow(1, 0, 2))

			_, err := s.Poll(context.Background(), 0)
			assert.ErrorIs(t, err, ErrInvalidDecision)
			assert.Equal(t, 2, s.Pending(), "rejected decision must not consume tasks")
		})
	}
}

func TestAlgorithmErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	s := NewStatic(algorithmFunc(func([]types.TaskView, []types.Machine) ([]types.Assignment, error) {
		return nil, boom
	}))
	s.OnMachineAdded(abc[0])
	s.OnWorkflowAdded(flatWorkflow(1, 0, 1))

	_, err := s.Poll(context.Background(), 0)
	assert.ErrorIs(t, err, boom)
}

func TestBufferedFlushesWhenFull(t *testing.T) {
	b := NewBuffered(3, 100, NewRoundRobin())
	for _, m := range abc {
		b.OnMachineAdded(m)
	}

	b.OnWorkflowAdded(flatWorkflow(1, 0, 2))
	got, err := b.Poll(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, got, "two tasks are below the buffer size")

	b.OnWorkflowAdded(flatWorkflow(2, 1, 1))
	got, err = b.Poll(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// FIFO order is preserved.
	assert.Equal(t, types.Key(1, 1), got[0].Key())
	assert.Equal(t, types.Key(2, 1), got[2].Key())
}

func TestBufferedFlushesOnTimeout(t *testing.T) {
	b := NewBuffered(10, 5, NewRoundRobin())
	b.OnMachineAdded(abc[0])
	b.OnWorkflowAdded(flatWorkflow(1, 2, 1))

	deadline, ok := b.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, 7.0, deadline)

	got, err := b.Poll(context.Background(), 6.9)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = b.Poll(context.Background(), deadline)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, ok = b.NextDeadline()
	assert.False(t, ok)
}

func TestBufferedFlushesAtFractionalDeadline(t *testing.T) {
	tests := []struct {
		arrival float64
		timeout float64
	}{
		{0.1, 4},
		{0.3, 7},
		{1.7, 3},
		{12.345, 0.2},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v+%v", tt.arrival, tt.timeout), func(t *testing.T) {
			b := NewBuffered(100, tt.timeout, NewRoundRobin())
			b.OnMachineAdded(abc[0])
			b.OnWorkflowAdded(flatWorkflow(1, tt.arrival, 1))

			deadline, ok := b.NextDeadline()
			require.True(t, ok)

			got, err := b.Poll(context.Background(), deadline)
			require.NoError(t, err)
			assert.Len(t, got, 1, "a poll at the reported deadline must flush")
		})
	}
}

// ============================================================================
// Selector factory
// ============================================================================

func TestParseSelector(t *testing.T) {
	tests := []struct {
		raw       string
		wantErr   bool
		delegated bool
		size      int
		timeout   float64
	}{
		{raw: "static:round-robin"},
		{raw: "static:gym", delegated: true},
		{raw: "buffer:gym:10:30", delegated: true, size: 10, timeout: 30},
		{raw: "buffer:gym:0:30", wantErr: true},
		{raw: "buffer:gym:x:30", wantErr: true},
		{raw: "buffer:gym:10", wantErr: true},
		{raw: "buffer:round-robin:1:1", wantErr: true},
		{raw: "static:random", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			sel, err := ParseSelector(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSelector)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.delegated, sel.Delegated())
			assert.Equal(t, tt.size, sel.Size)
			assert.Equal(t, tt.timeout, sel.Timeout)
		})
	}
}

func TestNewScheduler(t *testing.T) {
	env := handshake.NewEnvironment(handshake.NewStaticChannel())

	s, err := New("static:round-robin", nil)
	require.NoError(t, err)
	assert.IsType(t, &Static{}, s)

	s, err = New("static:gym", env)
	require.NoError(t, err)
	assert.IsType(t, &Static{}, s)

	s, err = New("buffer:gym:4:10", env)
	require.NoError(t, err)
	assert.IsType(t, &Buffered{}, s)

	_, err = New("static:gym", nil)
	assert.ErrorIs(t, err, ErrInvalidSelector)

	_, err = New("fifo", env)
	assert.ErrorIs(t, err, ErrInvalidSelector)
}
