package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/gymflow/pkg/types"
)

func TestRootTaskIsSatisfied(t *testing.T) {
	tr := NewTracker()
	assert.True(t, tr.IsSatisfied(types.Key(1, 1)))
	assert.Equal(t, 0, tr.Pending(types.Key(1, 1)))
}

func TestRegisterEdgeCountsEveryOccurrence(t *testing.T) {
	// Diamond: 1 -> {2, 3}, 2 -> 4, 3 -> 4
	wf := types.Workflow{ID: 7, Tasks: []types.Task{
		{ID: 1, ChildIDs: []types.TaskID{2, 3}},
		{ID: 2, ChildIDs: []types.TaskID{4}},
		{ID: 3, ChildIDs: []types.TaskID{4}},
		{ID: 4},
	}}

	tr := NewTracker()
	occurrences := make(map[types.TaskKey]int)
	for _, task := range wf.Tasks {
		for _, child := range task.ChildIDs {
			key := types.Key(wf.ID, child)
			tr.RegisterEdge(key)
			occurrences[key]++
		}
	}

	for _, task := range wf.Tasks {
		key := types.Key(wf.ID, task.ID)
		assert.Equal(t, occurrences[key], tr.Pending(key), "task %s", key)
	}
	assert.Equal(t, 2, tr.Pending(types.Key(7, 4)))
}

func TestResolveInTopologicalOrder(t *testing.T) {
	tr := NewTracker()
	child := types.Key(1, 4)
	tr.RegisterEdge(child)
	tr.RegisterEdge(child)

	require.NoError(t, tr.ResolveOne(child))
	assert.False(t, tr.IsSatisfied(child))
	assert.Equal(t, 1, tr.Pending(child))

	require.NoError(t, tr.ResolveOne(child))
	assert.True(t, tr.IsSatisfied(child))
}

func TestResolveUnderflow(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Tracker)
	}{
		{
			name:  "never registered",
			setup: func(*Tracker) {},
		},
		{
			name: "already zero",
			setup: func(tr *Tracker) {
				tr.RegisterEdge(types.Key(1, 2))
				_ = tr.ResolveOne(types.Key(1, 2))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			tt.setup(tr)

			err := tr.ResolveOne(types.Key(1, 2))
			require.ErrorIs(t, err, ErrDependencyUnderflow)
			assert.True(t, types.IsContractViolation(err))
			assert.Equal(t, 0, tr.Pending(types.Key(1, 2)), "count must not go negative")
		})
	}
}
