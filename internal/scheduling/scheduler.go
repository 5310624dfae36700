package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ChuLiYu/gymflow/pkg/types"
)

var log = slog.Default()

// ErrInvalidDecision is returned when an algorithm names a task that was not
// offered, a machine that does not exist, or the same task twice.
var ErrInvalidDecision = errors.New("invalid scheduling decision")

// Scheduler decides when pending tasks are handed to an Algorithm.
//
// The simulation driver notifies it of new machines and workflows and polls
// it after every event. Poll returns the commitments to forward to the
// executor; tasks the algorithm leaves unassigned remain pending.
type Scheduler interface {
	OnMachineAdded(machine types.Machine)
	OnWorkflowAdded(workflow types.Workflow)
	Poll(ctx context.Context, now float64) ([]types.Assignment, error)
	// NextDeadline is the simulated time at which Poll would act even if no
	// other event happens. ok is false when there is no such time.
	NextDeadline() (deadline float64, ok bool)
	// Pending counts tasks not yet committed.
	Pending() int
}

// pendingTask is a task waiting for a decision, with the time it arrived.
type pendingTask struct {
	view    types.TaskView
	arrived float64
}

// base holds the state shared by every scheduler: the machine pool, the
// pending tasks in arrival order and the algorithm to consult.
type base struct {
	algorithm Algorithm
	machines  []types.Machine
	pending   []pendingTask
}

func (b *base) OnMachineAdded(machine types.Machine) {
	b.machines = append(b.machines, machine)
}

func (b *base) OnWorkflowAdded(workflow types.Workflow) {
	for _, task := range workflow.Tasks {
		b.pending = append(b.pending, pendingTask{
			view:    types.ViewOf(workflow.ID, task),
			arrived: workflow.ArrivalTime,
		})
	}
}

func (b *base) Pending() int {
	return len(b.pending)
}

// schedule offers every pending task to the algorithm, validates the answer
// and drops the assigned tasks from the pending list.
func (b *base) schedule(ctx context.Context) ([]types.Assignment, error) {
	if len(b.pending) == 0 || len(b.machines) == 0 {
		return nil, nil
	}

	views := make([]types.TaskView, len(b.pending))
	for i, p := range b.pending {
		views[i] = p.view
	}
	machines := make([]types.Machine, len(b.machines))
	copy(machines, b.machines)

	assignments, err := b.algorithm.Schedule(ctx, views, machines)
	if err != nil {
		return nil, err
	}
	if err := validate(assignments, views, machines); err != nil {
		return nil, err
	}

	assigned := make(map[types.TaskKey]struct{}, len(assignments))
	for _, a := range assignments {
		assigned[a.Key()] = struct{}{}
	}
	remaining := b.pending[:0]
	for _, p := range b.pending {
		if _, ok := assigned[p.view.Key()]; !ok {
			remaining = append(remaining, p)
		}
	}
	b.pending = remaining

	log.Debug("Scheduled tasks", "offered", len(views), "assigned", len(assignments), "pending", len(b.pending))
	return assignments, nil
}

// validate checks a decision against the tasks and machines it was asked about.
func validate(assignments []types.Assignment, tasks []types.TaskView, machines []types.Machine) error {
	offered := make(map[types.TaskKey]struct{}, len(tasks))
	for _, task := range tasks {
		offered[task.Key()] = struct{}{}
	}
	known := make(map[types.MachineID]struct{}, len(machines))
	for _, m := range machines {
		known[m.ID] = struct{}{}
	}

	seen := make(map[types.TaskKey]struct{}, len(assignments))
	for _, a := range assignments {
		key := a.Key()
		if _, ok := offered[key]; !ok {
			return fmt.Errorf("%w: task %s was not offered", ErrInvalidDecision, key)
		}
		if _, ok := known[a.Machine]; !ok {
			return fmt.Errorf("%w: task %s assigned to unknown machine %d", ErrInvalidDecision, key, a.Machine)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: task %s assigned twice", ErrInvalidDecision, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ============================================================================
// Static
// ============================================================================

// Static offers every pending task to its algorithm at the next poll.
type Static struct {
	base
}

// NewStatic creates a scheduler that schedules tasks as soon as they arrive.
func NewStatic(algorithm Algorithm) *Static {
	return &Static{base: base{algorithm: algorithm}}
}

// Poll implements Scheduler.
func (s *Static) Poll(ctx context.Context, _ float64) ([]types.Assignment, error) {
	return s.schedule(ctx)
}

// NextDeadline implements Scheduler. A static scheduler never waits.
func (s *Static) NextDeadline() (float64, bool) {
	return 0, false
}

// ============================================================================
// Buffered
// ============================================================================

// Buffered accumulates tasks and consults its algorithm only when the buffer
// holds at least size tasks or the oldest task has waited timeout simulated
// seconds. Fewer, larger decisions suit a remote peer that is expensive to
// call.
type Buffered struct {
	base
	size    int
	timeout float64
}

// NewBuffered creates a buffered scheduler.
func NewBuffered(size int, timeout float64, algorithm Algorithm) *Buffered {
	return &Buffered{
		base:    base{algorithm: algorithm},
		size:    size,
		timeout: timeout,
	}
}

// Poll implements Scheduler.
func (b *Buffered) Poll(ctx context.Context, now float64) ([]types.Assignment, error) {
	if len(b.pending) == 0 {
		return nil, nil
	}
	full := len(b.pending) >= b.size
	// Same expression as NextDeadline, so a wakeup at the deadline always flushes.
	deadline, _ := b.NextDeadline()
	expired := now >= deadline
	if !full && !expired {
		return nil, nil
	}
	return b.schedule(ctx)
}

// NextDeadline implements Scheduler: the time the oldest buffered task times out.
func (b *Buffered) NextDeadline() (float64, bool) {
	if len(b.pending) == 0 {
		return 0, false
	}
	return b.pending[0].arrived + b.timeout, true
}
