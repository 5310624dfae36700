// ============================================================================
// gymflow workflow executor - per-task state machine
// ============================================================================
//
// Package: internal/executor
// File: executor.go
// Purpose: combine dependency counts and machine queues, and expose the
//          task↔machine pairs that may start running right now
//
// State machine per task:
//   Registered
//      ↓ OnTaskCommitted()         (committed and queued collapse into one call)
//   Queued
//      ↓ head of its machine queue and no pending predecessors
//   Ready
//      ↓ PollAssignments()
//   Executing
//      ↓ OnTaskCompleted()         (the only transition that unblocks children)
//   Completed
//
// Data structures:
//   tasks       map[TaskKey]Task       static catalog, kept after completion
//   status      map[TaskKey]TaskStatus current state of every task
//   commitments map[TaskKey]MachineID  durable task → machine decision
//   executing   map[TaskKey]struct{}   dispatched and not yet completed
//   deps        *dependency.Tracker    pending predecessor counts
//   queues      *machinequeue.QueueSet per-machine FIFO + ready slot
//
// Ready promotion is targeted: a commit only re-checks its own machine, a
// completion re-checks the completed task's machine and the machines that
// hold its committed children. No other machine can change state.
//
// Concurrency:
//   None. Every notification is delivered synchronously by the single
//   simulation context, so the executor carries no locks.
// ============================================================================

package executor

import (
	"fmt"
	"log/slog"

	"github.com/ChuLiYu/gymflow/internal/dependency"
	"github.com/ChuLiYu/gymflow/internal/machinequeue"
	"github.com/ChuLiYu/gymflow/pkg/types"
)

var log = slog.Default()

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrUnknownTask is returned for a task id that was never registered,
	// including child ids that do not exist in their workflow.
	ErrUnknownTask = fmt.Errorf("%w: unknown task", types.ErrContractViolation)
	// ErrDuplicateWorkflow is returned when a workflow id is registered twice.
	ErrDuplicateWorkflow = fmt.Errorf("%w: workflow already registered", types.ErrContractViolation)
	// ErrDuplicateTask is returned when a workflow lists the same task id twice.
	ErrDuplicateTask = fmt.Errorf("%w: duplicate task in workflow", types.ErrContractViolation)
	// ErrAlreadyCommitted is returned when a task is committed a second time.
	ErrAlreadyCommitted = fmt.Errorf("%w: task already committed", types.ErrContractViolation)
	// ErrNotExecuting is returned when a completion arrives for a task that
	// was never dispatched, or was already completed.
	ErrNotExecuting = fmt.Errorf("%w: task not executing", types.ErrContractViolation)
)

// ============================================================================
// Executor
// ============================================================================

// Executor tracks every registered task from registration to completion.
type Executor struct {
	tasks       map[types.TaskKey]types.Task
	workflows   map[types.WorkflowID]struct{}
	status      map[types.TaskKey]types.TaskStatus
	commitments map[types.TaskKey]types.MachineID
	executing   map[types.TaskKey]struct{}
	deps        *dependency.Tracker
	queues      *machinequeue.QueueSet
}

// New creates an empty executor.
func New() *Executor {
	return &Executor{
		tasks:       make(map[types.TaskKey]types.Task),
		workflows:   make(map[types.WorkflowID]struct{}),
		status:      make(map[types.TaskKey]types.TaskStatus),
		commitments: make(map[types.TaskKey]types.MachineID),
		executing:   make(map[types.TaskKey]struct{}),
		deps:        dependency.NewTracker(),
		queues:      machinequeue.NewQueueSet(),
	}
}

// OnMachineAdded registers a machine and its empty queue.
func (e *Executor) OnMachineAdded(machine types.Machine) error {
	if err := e.queues.RegisterMachine(machine.ID); err != nil {
		return err
	}
	log.Debug("Machine added", "machine", machine.ID)
	return nil
}

// OnWorkflowAdded registers every task of the workflow and one dependency
// edge per child link. The workflow is validated as a whole first, so a
// rejected workflow leaves no partial state behind.
func (e *Executor) OnWorkflowAdded(workflow types.Workflow) error {
	if _, exists := e.workflows[workflow.ID]; exists {
		return fmt.Errorf("add workflow %d: %w", workflow.ID, ErrDuplicateWorkflow)
	}

	ids := make(map[types.TaskID]struct{}, len(workflow.Tasks))
	for _, task := range workflow.Tasks {
		if _, dup := ids[task.ID]; dup {
			return fmt.Errorf("add workflow %d: task %d: %w", workflow.ID, task.ID, ErrDuplicateTask)
		}
		ids[task.ID] = struct{}{}
	}
	for _, task := range workflow.Tasks {
		for _, child := range task.ChildIDs {
			if _, ok := ids[child]; !ok {
				return fmt.Errorf("add workflow %d: child %d of task %d: %w",
					workflow.ID, child, task.ID, ErrUnknownTask)
			}
		}
	}

	e.workflows[workflow.ID] = struct{}{}
	for _, task := range workflow.Tasks {
		key := types.Key(workflow.ID, task.ID)
		e.tasks[key] = task
		e.status[key] = types.StatusRegistered

		for _, child := range task.ChildIDs {
			e.deps.RegisterEdge(types.Key(workflow.ID, child))
		}
	}

	log.Debug("Workflow added", "workflow", workflow.ID, "tasks", len(workflow.Tasks))
	return nil
}

// OnTaskCommitted records the scheduling decision for a task and appends
// the task to its machine's queue.
func (e *Executor) OnTaskCommitted(assignment types.Assignment) error {
	key := assignment.Key()

	if _, exists := e.tasks[key]; !exists {
		return fmt.Errorf("commit %s: %w", key, ErrUnknownTask)
	}
	if prev, committed := e.commitments[key]; committed {
		return fmt.Errorf("commit %s to machine %d (already on %d): %w",
			key, assignment.Machine, prev, ErrAlreadyCommitted)
	}
	if err := e.queues.Enqueue(assignment.Machine, key); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}

	e.commitments[key] = assignment.Machine
	e.status[key] = types.StatusQueued
	log.Debug("Task committed", "task", key, "machine", assignment.Machine)

	// Only the targeted machine can change.
	e.promote(assignment.Machine)
	return nil
}

// OnTaskCompleted resolves the task's children, frees its machine's ready
// slot and re-checks every machine that may now reveal a new ready task.
func (e *Executor) OnTaskCompleted(workflow types.WorkflowID, taskID types.TaskID) error {
	key := types.Key(workflow, taskID)

	task, exists := e.tasks[key]
	if !exists {
		return fmt.Errorf("complete %s: %w", key, ErrUnknownTask)
	}
	if _, running := e.executing[key]; !running {
		return fmt.Errorf("complete %s (status %s): %w", key, e.status[key], ErrNotExecuting)
	}

	// Check every child before touching any count, so a rejected completion
	// leaves the tracker as it was.
	needed := make(map[types.TaskKey]int, len(task.ChildIDs))
	for _, child := range task.ChildIDs {
		childKey := types.Key(workflow, child)
		needed[childKey]++
		if e.deps.Pending(childKey) < needed[childKey] {
			return fmt.Errorf("complete %s: resolve %s: %w", key, childKey, dependency.ErrDependencyUnderflow)
		}
	}
	for _, child := range task.ChildIDs {
		if err := e.deps.ResolveOne(types.Key(workflow, child)); err != nil {
			return fmt.Errorf("complete %s: %w", key, err)
		}
	}

	machine := e.commitments[key]
	e.queues.ClearReady(machine)
	delete(e.executing, key)
	e.status[key] = types.StatusCompleted
	log.Debug("Task completed", "task", key, "machine", machine)

	e.promote(machine)
	for _, child := range task.ChildIDs {
		if m, committed := e.commitments[types.Key(workflow, child)]; committed && m != machine {
			e.promote(m)
		}
	}
	return nil
}

// PollAssignments returns every ready task that has not been handed out yet
// and marks it as executing. Between two state changes a second call
// returns an empty slice, so no task is ever dispatched twice.
func (e *Executor) PollAssignments() []types.Assignment {
	assignments := make([]types.Assignment, 0)

	for _, machine := range e.queues.Machines() {
		key, ok := e.queues.Ready(machine)
		if !ok {
			continue
		}
		if _, running := e.executing[key]; running {
			continue
		}

		e.executing[key] = struct{}{}
		e.status[key] = types.StatusExecuting
		assignments = append(assignments, types.Assignment{
			Workflow: key.Workflow,
			Task:     key.Task,
			Machine:  machine,
		})
	}

	return assignments
}

// promote moves the head of the machine's queue into its ready slot if possible.
func (e *Executor) promote(machine types.MachineID) {
	if key, ok := e.queues.PromoteReadyIfPossible(machine, e.deps); ok {
		e.status[key] = types.StatusReady
		log.Debug("Task ready", "task", key, "machine", machine)
	}
}

// ============================================================================
// Queries
// ============================================================================

// Task returns the registered definition of a task.
func (e *Executor) Task(key types.TaskKey) (types.Task, bool) {
	task, ok := e.tasks[key]
	return task, ok
}

// Status returns the lifecycle state of a task.
func (e *Executor) Status(key types.TaskKey) (types.TaskStatus, bool) {
	status, ok := e.status[key]
	return status, ok
}

// Commitment returns the machine a task was committed to.
func (e *Executor) Commitment(key types.TaskKey) (types.MachineID, bool) {
	machine, ok := e.commitments[key]
	return machine, ok
}

// PendingDependencies returns the number of unfinished predecessors of a task.
func (e *Executor) PendingDependencies(key types.TaskKey) int {
	return e.deps.Pending(key)
}

// Machines returns registered machine ids in registration order.
func (e *Executor) Machines() []types.MachineID {
	return e.queues.Machines()
}

// Stats counts tasks per lifecycle state.
//
//	stats := ex.Stats()
//	log.Info("executor", "queued", stats["queued"], "executing", stats["executing"])
func (e *Executor) Stats() map[string]int {
	stats := map[string]int{
		string(types.StatusRegistered): 0,
		string(types.StatusQueued):     0,
		string(types.StatusReady):      0,
		string(types.StatusExecuting):  0,
		string(types.StatusCompleted):  0,
	}
	for _, status := range e.status {
		stats[string(status)]++
	}
	return stats
}
