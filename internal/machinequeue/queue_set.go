// ============================================================================
// gymflow machine queues
// ============================================================================
//
// Package: internal/machinequeue
// File: queue_set.go
// Purpose: per-machine FIFO of committed tasks plus a single ready slot
//
// Each machine runs its committed tasks in commitment order. The task at the
// head of a queue may still be blocked on a predecessor running elsewhere, so
// a task only moves into the machine's ready slot once it is both at the head
// and dependency-satisfied:
//
//   queue:  [t3, t5, t9]        ready: -
//             ↓ PromoteReadyIfPossible (t3 satisfied)
//   queue:  [t5, t9]            ready: t3
//             ↓ ClearReady (t3 completed) + PromoteReadyIfPossible
//   queue:  [t9]                ready: t5
//
// Not safe for concurrent use; all mutations happen on the simulation context.
// ============================================================================

package machinequeue

import (
	"fmt"

	"github.com/ChuLiYu/gymflow/pkg/types"
)

var (
	// ErrUnknownMachine is returned for operations on an unregistered machine.
	ErrUnknownMachine = fmt.Errorf("%w: unknown machine", types.ErrContractViolation)
	// ErrDuplicateMachine is returned when a machine id is registered twice.
	ErrDuplicateMachine = fmt.Errorf("%w: machine already registered", types.ErrContractViolation)
)

// Gate decides whether a task may leave the head of its queue.
type Gate interface {
	IsSatisfied(task types.TaskKey) bool
}

// QueueSet holds one FIFO and one ready slot per machine.
type QueueSet struct {
	order  []types.MachineID                   // registration order, for deterministic iteration
	queues map[types.MachineID][]types.TaskKey // committed, not yet ready
	ready  map[types.MachineID]types.TaskKey   // at most one task per machine
}

// NewQueueSet creates an empty set.
func NewQueueSet() *QueueSet {
	return &QueueSet{
		order:  make([]types.MachineID, 0),
		queues: make(map[types.MachineID][]types.TaskKey),
		ready:  make(map[types.MachineID]types.TaskKey),
	}
}

// RegisterMachine creates an empty FIFO for id.
func (qs *QueueSet) RegisterMachine(id types.MachineID) error {
	if _, exists := qs.queues[id]; exists {
		return fmt.Errorf("register machine %d: %w", id, ErrDuplicateMachine)
	}
	qs.queues[id] = make([]types.TaskKey, 0)
	qs.order = append(qs.order, id)
	return nil
}

// Enqueue appends task to the machine's FIFO. Callers guarantee a task is
// enqueued on at most one machine.
func (qs *QueueSet) Enqueue(id types.MachineID, task types.TaskKey) error {
	queue, exists := qs.queues[id]
	if !exists {
		return fmt.Errorf("enqueue %s on machine %d: %w", task, id, ErrUnknownMachine)
	}
	qs.queues[id] = append(queue, task)
	return nil
}

// PromoteReadyIfPossible moves the head of the machine's queue into its
// ready slot when the slot is free and gate reports the head as satisfied.
// It returns the promoted task. Calling it when nothing can move is a no-op.
func (qs *QueueSet) PromoteReadyIfPossible(id types.MachineID, gate Gate) (types.TaskKey, bool) {
	if _, occupied := qs.ready[id]; occupied {
		return types.TaskKey{}, false
	}
	queue := qs.queues[id]
	if len(queue) == 0 {
		return types.TaskKey{}, false
	}

	head := queue[0]
	if !gate.IsSatisfied(head) {
		return types.TaskKey{}, false
	}

	queue[0] = types.TaskKey{}
	qs.queues[id] = queue[1:]
	qs.ready[id] = head
	return head, true
}

// ClearReady vacates the machine's ready slot.
func (qs *QueueSet) ClearReady(id types.MachineID) {
	delete(qs.ready, id)
}

// Ready returns the task occupying the machine's ready slot, if any.
func (qs *QueueSet) Ready(id types.MachineID) (types.TaskKey, bool) {
	task, ok := qs.ready[id]
	return task, ok
}

// Head returns the task at the front of the machine's queue, if any.
func (qs *QueueSet) Head(id types.MachineID) (types.TaskKey, bool) {
	queue := qs.queues[id]
	if len(queue) == 0 {
		return types.TaskKey{}, false
	}
	return queue[0], true
}

// QueueLen returns the number of queued (not ready) tasks on the machine.
func (qs *QueueSet) QueueLen(id types.MachineID) int {
	return len(qs.queues[id])
}

// Has reports whether the machine is registered.
func (qs *QueueSet) Has(id types.MachineID) bool {
	_, ok := qs.queues[id]
	return ok
}

// Machines returns machine ids in registration order.
func (qs *QueueSet) Machines() []types.MachineID {
	out := make([]types.MachineID, len(qs.order))
	copy(out, qs.order)
	return out
}
