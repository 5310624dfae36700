// Package dependency tracks, per task, how many direct predecessors have not
// completed yet.
package dependency

import (
	"fmt"

	"github.com/ChuLiYu/gymflow/pkg/types"
)

// ErrDependencyUnderflow is returned when a predecessor is resolved more
// times than it was registered. It always indicates a malformed notification
// sequence upstream.
var ErrDependencyUnderflow = fmt.Errorf("%w: dependency count underflow", types.ErrContractViolation)

// Tracker maintains the pending-predecessor count of every child task.
// It is not safe for concurrent use.
type Tracker struct {
	pending map[types.TaskKey]int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pending: make(map[types.TaskKey]int),
	}
}

// RegisterEdge records one predecessor edge pointing at child.
// The first call for a child initialises its count to 1.
func (t *Tracker) RegisterEdge(child types.TaskKey) {
	t.pending[child]++
}

// ResolveOne records the completion of one direct predecessor of child.
func (t *Tracker) ResolveOne(child types.TaskKey) error {
	n, ok := t.pending[child]
	if !ok || n == 0 {
		return fmt.Errorf("resolve %s: %w", child, ErrDependencyUnderflow)
	}
	t.pending[child] = n - 1
	return nil
}

// IsSatisfied reports whether the task has no pending predecessors. Tasks
// that were never registered as a child are roots and always satisfied.
func (t *Tracker) IsSatisfied(task types.TaskKey) bool {
	return t.pending[task] == 0
}

// Pending returns the current count for task (0 for roots).
func (t *Tracker) Pending(task types.TaskKey) int {
	return t.pending[task]
}
