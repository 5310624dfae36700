// ============================================================================
// gymflow scheduling algorithms
// ============================================================================
//
// Package: internal/scheduling
// File: algorithm.go
// Purpose: map pending tasks onto machines
//
// An Algorithm only decides WHERE tasks go. WHEN it is asked is the job of a
// Scheduler (scheduler.go). Two algorithms exist:
//
//   RoundRobin  deterministic, local, cursor survives across calls
//   Delegated   forwards the decision to a peer through the handshake channel
// ============================================================================

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChuLiYu/gymflow/internal/handshake"
	"github.com/ChuLiYu/gymflow/pkg/types"
)

// ErrNoMachines is returned when tasks must be placed but no machine exists.
var ErrNoMachines = errors.New("no machines available")

// Algorithm assigns tasks to machines. Tasks missing from the result stay
// pending with the caller.
type Algorithm interface {
	Schedule(ctx context.Context, tasks []types.TaskView, machines []types.Machine) ([]types.Assignment, error)
}

// ============================================================================
// RoundRobin
// ============================================================================

// RoundRobin assigns tasks to machines in cyclic order. The cursor is kept
// between calls, so two calls with two tasks each over {A, B, C} produce
// A, B, C, A.
type RoundRobin struct {
	next int
}

// NewRoundRobin creates a round-robin algorithm starting at the first machine.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Schedule implements Algorithm.
func (r *RoundRobin) Schedule(_ context.Context, tasks []types.TaskView, machines []types.Machine) ([]types.Assignment, error) {
	if len(tasks) == 0 {
		return []types.Assignment{}, nil
	}
	if len(machines) == 0 {
		return nil, ErrNoMachines
	}

	assignments := make([]types.Assignment, 0, len(tasks))
	for _, task := range tasks {
		machine := machines[r.next%len(machines)]
		r.next = (r.next + 1) % len(machines)
		assignments = append(assignments, types.Assignment{
			Workflow: task.Workflow,
			Task:     task.ID,
			Machine:  machine.ID,
		})
	}
	return assignments, nil
}

// ============================================================================
// Delegated
// ============================================================================

// StaticEnvironment is the simulation side of a static handshake channel.
type StaticEnvironment = handshake.Environment[types.StaticObservation, types.StaticAction]

// Delegated asks an external peer for every decision. Each call is one
// synchronous handshake step carrying a zero reward.
type Delegated struct {
	env     *StaticEnvironment
	observe func(time.Duration)
}

// NewDelegated creates an algorithm that delegates to env. observe, if not
// nil, receives the wall time of every round trip.
func NewDelegated(env *StaticEnvironment, observe func(time.Duration)) *Delegated {
	return &Delegated{env: env, observe: observe}
}

// Schedule implements Algorithm.
func (d *Delegated) Schedule(ctx context.Context, tasks []types.TaskView, machines []types.Machine) ([]types.Assignment, error) {
	observation := types.StaticObservation{Tasks: tasks, Machines: machines}

	start := time.Now()
	action, err := d.env.Step(ctx, types.RewardResult(observation, 0))
	if d.observe != nil {
		d.observe(time.Since(start))
	}
	if err != nil {
		return nil, fmt.Errorf("delegated schedule: %w", err)
	}
	return action.Assignments, nil
}
