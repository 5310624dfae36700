// ============================================================================
// gymflow simulated world - discrete-event driver
// ============================================================================
//
// Package: internal/simulation
// File: world.go
// Purpose: replay a dataset on simulated time and connect the scheduler,
//          the executor and the machines
//
// Event loop (single goroutine):
//
//   ┌──────────── pop next event (earliest time, then insertion order)
//   │               machine added     → executor + scheduler
//   │               workflow arrived  → executor + scheduler
//   │               task finished     → executor.OnTaskCompleted
//   │               scheduler wakeup  → (nothing, pump below)
//   │
//   │            pump:
//   │               scheduler.Poll(now)       → executor.OnTaskCommitted
//   │               executor.PollAssignments  → start task, push finish event
//   │               scheduler.NextDeadline    → push wakeup event
//   └──────────── until the timeline is empty or passes the horizon
//
// A task of length L on a machine of speed S runs for L/S simulated seconds.
// Every executor notification is journaled when a journal is configured.
// ============================================================================

package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/ChuLiYu/gymflow/internal/executor"
	"github.com/ChuLiYu/gymflow/internal/metrics"
	"github.com/ChuLiYu/gymflow/internal/scheduling"
	"github.com/ChuLiYu/gymflow/internal/solution"
	"github.com/ChuLiYu/gymflow/internal/storage/journal"
	"github.com/ChuLiYu/gymflow/pkg/types"
)

var log = slog.Default()

// Config wires a World to its collaborators. Only Scheduler is required.
type Config struct {
	Scheduler scheduling.Scheduler
	Executor  *executor.Executor // nil: a fresh executor
	Journal   *journal.Journal   // nil: no journal
	Metrics   *metrics.Collector // nil: no metrics
	Algorithm string             // recorded in the solution
	Horizon   float64            // <= 0: dataset.MaximumHorizon()
}

// World runs one simulation. It is not reusable.
type World struct {
	dataset   Dataset
	scheduler scheduling.Scheduler
	executor  *executor.Executor
	journal   *journal.Journal
	metrics   *metrics.Collector
	algorithm string
	horizon   float64

	now      float64
	timeline timeline
	wakeups  map[float64]struct{}
	speeds   map[types.MachineID]int64

	placements map[types.TaskKey]*solution.Placement
	order      []types.TaskKey
	summary    Summary
}

// NewWorld prepares a simulation of ds.
func NewWorld(ds Dataset, cfg Config) *World {
	ex := cfg.Executor
	if ex == nil {
		ex = executor.New()
	}
	horizon := cfg.Horizon
	if horizon <= 0 {
		horizon = ds.MaximumHorizon()
	}

	return &World{
		dataset:    ds,
		scheduler:  cfg.Scheduler,
		executor:   ex,
		journal:    cfg.Journal,
		metrics:    cfg.Metrics,
		algorithm:  cfg.Algorithm,
		horizon:    horizon,
		wakeups:    make(map[float64]struct{}),
		speeds:     make(map[types.MachineID]int64),
		placements: make(map[types.TaskKey]*solution.Placement),
	}
}

// Executor exposes the executor driven by the world.
func (w *World) Executor() *executor.Executor {
	return w.executor
}

// Run executes the simulation to the end and returns its outcome.
func (w *World) Run(ctx context.Context) (Outcome, error) {
	if err := w.record(w.journal.RecordRunStart(w.algorithm, w.horizon)); err != nil {
		return Outcome{}, err
	}
	for _, m := range w.dataset.Machines() {
		w.timeline.push(&event{at: 0, kind: eventMachineAdded, machine: m})
	}
	for _, wf := range w.dataset.Workflows {
		w.timeline.push(&event{at: wf.ArrivalTime, kind: eventWorkflowArrived, workflow: wf})
	}

	log.Info("Simulation started",
		"workflows", len(w.dataset.Workflows),
		"tasks", w.dataset.TaskCount(),
		"machines", len(w.dataset.VMs),
		"horizon", w.horizon,
		"algorithm", w.algorithm)

	for !w.timeline.empty() {
		if err := ctx.Err(); err != nil {
			return Outcome{}, fmt.Errorf("simulation interrupted at t=%v: %w", w.now, err)
		}
		if w.timeline.peek().at > w.horizon {
			log.Warn("Horizon reached", "horizon", w.horizon, "pending_events", w.timeline.queue.Len())
			break
		}

		ev := w.timeline.pop()
		w.now = ev.at
		if err := w.handle(ev); err != nil {
			return Outcome{}, err
		}
		if err := w.pump(ctx); err != nil {
			return Outcome{}, err
		}
	}

	outcome := w.finish()
	log.Info("Simulation finished",
		"makespan", outcome.Summary.Makespan,
		"completed", outcome.Summary.Completed,
		"buffered", outcome.Summary.Buffered,
		"reward", outcome.Summary.Reward)
	return outcome, nil
}

// handle applies one event to the executor and scheduler.
func (w *World) handle(ev *event) error {
	switch ev.kind {
	case eventMachineAdded:
		if err := w.executor.OnMachineAdded(ev.machine); err != nil {
			return fmt.Errorf("t=%v: %w", w.now, err)
		}
		w.speeds[ev.machine.ID] = ev.machine.Speed
		w.scheduler.OnMachineAdded(ev.machine)
		return w.record(w.journal.RecordMachine(w.now, ev.machine))

	case eventWorkflowArrived:
		if err := w.executor.OnWorkflowAdded(ev.workflow); err != nil {
			return fmt.Errorf("t=%v: %w", w.now, err)
		}
		w.scheduler.OnWorkflowAdded(ev.workflow)
		w.summary.Buffered += len(ev.workflow.Tasks)
		w.metrics.RecordWorkflowAdded()
		return w.record(w.journal.RecordWorkflow(w.now, ev.workflow))

	case eventTaskFinished:
		if err := w.executor.OnTaskCompleted(ev.task.Workflow, ev.task.Task); err != nil {
			return fmt.Errorf("t=%v: %w", w.now, err)
		}
		w.placements[ev.task].EndTime = w.now
		w.summary.Completed++
		w.summary.Makespan = math.Max(w.summary.Makespan, w.now)
		w.metrics.RecordCompleted()
		return w.record(w.journal.RecordCompletion(w.now, ev.task))

	case eventSchedulerWakeup:
		delete(w.wakeups, ev.at)
	}
	return nil
}

// pump moves decisions into the executor and starts every dispatchable task.
func (w *World) pump(ctx context.Context) error {
	commits, err := w.scheduler.Poll(ctx, w.now)
	if err != nil {
		return fmt.Errorf("t=%v: schedule: %w", w.now, err)
	}
	for _, a := range commits {
		if err := w.executor.OnTaskCommitted(a); err != nil {
			return fmt.Errorf("t=%v: %w", w.now, err)
		}
		if err := w.record(w.journal.RecordCommit(w.now, a)); err != nil {
			return err
		}
	}
	w.summary.Scheduled += len(commits)
	w.metrics.RecordCommitted(len(commits))

	dispatches := w.executor.PollAssignments()
	for _, a := range dispatches {
		if err := w.start(a); err != nil {
			return err
		}
	}
	w.summary.Executed += len(dispatches)
	w.metrics.RecordDispatched(len(dispatches))

	if deadline, ok := w.scheduler.NextDeadline(); ok && deadline > w.now {
		if _, scheduled := w.wakeups[deadline]; !scheduled {
			w.wakeups[deadline] = struct{}{}
			w.timeline.push(&event{at: deadline, kind: eventSchedulerWakeup})
		}
	}

	if w.metrics != nil {
		// Stats walks every task; only pay for it when someone reads the gauges.
		w.metrics.UpdateTaskStats(w.executor.Stats())
		w.metrics.SetClock(w.now)
	}
	return nil
}

// start runs a dispatched task on its machine.
func (w *World) start(a types.Assignment) error {
	key := a.Key()
	task, ok := w.executor.Task(key)
	if !ok {
		return fmt.Errorf("t=%v: dispatched unknown task %s", w.now, key)
	}

	duration := float64(task.Length) / float64(w.speeds[a.Machine])
	w.placements[key] = &solution.Placement{
		Workflow:  a.Workflow,
		Task:      a.Task,
		Machine:   a.Machine,
		StartTime: w.now,
		EndTime:   -1,
	}
	w.order = append(w.order, key)
	w.timeline.push(&event{at: w.now + duration, kind: eventTaskFinished, task: key})

	log.Debug("Task started", "task", key, "machine", a.Machine, "at", w.now, "duration", duration)
	return w.record(w.journal.RecordDispatch(w.now, a))
}

func (w *World) record(err error) error {
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

// finish assembles the solution and the final reward.
func (w *World) finish() Outcome {
	w.summary.Horizon = w.horizon
	w.summary.EndTime = w.now
	w.summary.Reward = FinalReward(w.summary.Makespan, w.horizon, w.summary.Buffered-w.summary.Completed, w.summary.Buffered)

	sol := solution.Solution{
		Algorithm:  w.algorithm,
		Horizon:    w.horizon,
		Makespan:   w.summary.Makespan,
		Reward:     w.summary.Reward,
		Placements: make([]solution.Placement, 0, len(w.order)),
	}
	for _, key := range w.order {
		p := w.placements[key]
		if p.EndTime < 0 {
			// started but cut off by the horizon
			continue
		}
		sol.Placements = append(sol.Placements, *p)
	}
	sol.Sort()

	return Outcome{Solution: sol, Summary: w.summary}
}
