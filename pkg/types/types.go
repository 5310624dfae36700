// Package types defines the core domain model shared by every gymflow package.
package types

import (
	"fmt"
)

// WorkflowID identifies a workflow (a DAG of tasks submitted together).
type WorkflowID int

// TaskID identifies a task within its workflow.
type TaskID int

// MachineID identifies an execution resource.
type MachineID int

// TaskKey is the composite identity of a task across all workflows.
// It is a comparable value type and is used directly as a map key.
type TaskKey struct {
	Workflow WorkflowID `json:"workflow_id"`
	Task     TaskID     `json:"task_id"`
}

// Key builds a TaskKey.
func Key(workflow WorkflowID, task TaskID) TaskKey {
	return TaskKey{Workflow: workflow, Task: task}
}

// String renders the key for logs, e.g. "3/7".
func (k TaskKey) String() string {
	return fmt.Sprintf("%d/%d", k.Workflow, k.Task)
}

// TaskStatus is the lifecycle state of a task inside the executor.
type TaskStatus string

const (
	StatusRegistered TaskStatus = "registered" // known, not yet committed to a machine
	StatusQueued     TaskStatus = "queued"     // committed and waiting in its machine queue
	StatusReady      TaskStatus = "ready"      // head of queue and dependency-satisfied
	StatusExecuting  TaskStatus = "executing"  // handed to the external executor
	StatusCompleted  TaskStatus = "completed"  // completion observed
)

// Task is a unit of work within a workflow. Immutable after registration.
type Task struct {
	ID       TaskID   `json:"id"`
	Length   int64    `json:"length"`    // work units (MI); used only by the simulation driver
	ChildIDs []TaskID `json:"child_ids"` // successors in the same workflow
}

// Workflow is a set of tasks sharing one id.
type Workflow struct {
	ID          WorkflowID `json:"id"`
	ArrivalTime float64    `json:"arrival_time"` // simulated seconds
	Tasks       []Task     `json:"tasks"`
}

// Machine is an execution resource. Speed is only meaningful to the simulation driver.
type Machine struct {
	ID    MachineID `json:"id"`
	Speed int64     `json:"speed"` // work units per simulated second (MIPS)
}

// Assignment pairs a task with a machine. It is used both for commitments
// (scheduling decisions) and for dispatches emitted by the executor.
type Assignment struct {
	Workflow WorkflowID `json:"workflow_id"`
	Task     TaskID     `json:"task_id"`
	Machine  MachineID  `json:"machine_id"`
}

// Key returns the task identity of the assignment.
func (a Assignment) Key() TaskKey {
	return TaskKey{Workflow: a.Workflow, Task: a.Task}
}

// TaskView is the snapshot of a pending task handed to scheduling algorithms.
type TaskView struct {
	Workflow WorkflowID `json:"workflow_id"`
	ID       TaskID     `json:"id"`
	Length   int64      `json:"length"`
	ChildIDs []TaskID   `json:"child_ids"`
}

// Key returns the task identity of the view.
func (v TaskView) Key() TaskKey {
	return TaskKey{Workflow: v.Workflow, Task: v.ID}
}

// ViewOf builds the scheduling view of a task.
func ViewOf(workflow WorkflowID, task Task) TaskView {
	return TaskView{
		Workflow: workflow,
		ID:       task.ID,
		Length:   task.Length,
		ChildIDs: task.ChildIDs,
	}
}
