// Package agent is the decision peer's side of the step protocol: a loop
// that resets an environment and answers each observation with a policy's
// action until the episode ends.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ChuLiYu/gymflow/internal/scheduling"
	"github.com/ChuLiYu/gymflow/pkg/types"
)

var log = slog.Default()

// Result is the per-step result seen by a peer.
type Result = types.AgentResult[types.StaticObservation]

// Environment is anything a peer can step: the in-process handshake agent or
// the remote bridge client.
type Environment interface {
	Reset(ctx context.Context) (Result, error)
	Step(ctx context.Context, action types.StaticAction) (Result, error)
}

// Policy chooses an action for an observation.
type Policy interface {
	Act(ctx context.Context, observation types.StaticObservation) (types.StaticAction, error)
}

// ErrNoObservation is returned when a non-terminal result carries no observation.
var ErrNoObservation = errors.New("non-terminal result without observation")

// Run drives env with policy until a terminated or truncated result arrives
// and returns that final result together with the number of steps taken.
func Run(ctx context.Context, env Environment, policy Policy) (Result, int, error) {
	result, err := env.Reset(ctx)
	if err != nil {
		return Result{}, 0, fmt.Errorf("reset: %w", err)
	}

	steps := 0
	for !result.Done() {
		if result.Observation == nil {
			return result, steps, ErrNoObservation
		}

		action, err := policy.Act(ctx, *result.Observation)
		if err != nil {
			return result, steps, fmt.Errorf("step %d: policy: %w", steps, err)
		}

		result, err = env.Step(ctx, action)
		if err != nil {
			return result, steps, fmt.Errorf("step %d: %w", steps, err)
		}
		steps++
		log.Debug("Agent step", "step", steps, "assigned", len(action.Assignments), "reward", result.Reward)
	}

	log.Info("Episode finished", "steps", steps, "reward", result.Reward,
		"terminated", result.Terminated, "truncated", result.Truncated)
	return result, steps, nil
}

// ============================================================================
// Policies
// ============================================================================

// RoundRobin assigns tasks to machines in cyclic order across steps.
type RoundRobin struct {
	algorithm *scheduling.RoundRobin
}

// NewRoundRobin creates a round-robin policy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{algorithm: scheduling.NewRoundRobin()}
}

// Act implements Policy.
func (p *RoundRobin) Act(ctx context.Context, obs types.StaticObservation) (types.StaticAction, error) {
	assignments, err := p.algorithm.Schedule(ctx, obs.Tasks, obs.Machines)
	if err != nil {
		return types.StaticAction{}, err
	}
	return types.StaticAction{Assignments: assignments}, nil
}

// FirstMachine puts every task on the first machine of the observation.
type FirstMachine struct{}

// Act implements Policy.
func (FirstMachine) Act(_ context.Context, obs types.StaticObservation) (types.StaticAction, error) {
	if len(obs.Tasks) == 0 {
		return types.StaticAction{Assignments: []types.Assignment{}}, nil
	}
	if len(obs.Machines) == 0 {
		return types.StaticAction{}, scheduling.ErrNoMachines
	}

	target := obs.Machines[0].ID
	assignments := make([]types.Assignment, 0, len(obs.Tasks))
	for _, task := range obs.Tasks {
		assignments = append(assignments, types.Assignment{Workflow: task.Workflow, Task: task.ID, Machine: target})
	}
	return types.StaticAction{Assignments: assignments}, nil
}

// ErrUnknownPolicy is returned by PolicyByName.
var ErrUnknownPolicy = errors.New("unknown policy")

// PolicyByName returns a built-in policy: "round-robin" or "first-machine".
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "round-robin":
		return NewRoundRobin(), nil
	case "first-machine":
		return FirstMachine{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}
