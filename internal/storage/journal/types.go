package journal

import "github.com/ChuLiYu/gymflow/pkg/types"

// EventType names an executor notification.
type EventType string

const (
	EventRunStarted     EventType = "RUN_STARTED"     // a new run begins; earlier records belong to previous runs
	EventMachineAdded   EventType = "MACHINE_ADDED"   // machine registered
	EventWorkflowAdded  EventType = "WORKFLOW_ADDED"  // workflow and its tasks registered
	EventTaskCommitted  EventType = "TASK_COMMITTED"  // scheduling decision forwarded to the executor
	EventTaskDispatched EventType = "TASK_DISPATCHED" // task handed to a machine
	EventTaskCompleted  EventType = "TASK_COMPLETED"  // completion observed
)

// RunStart describes the run a RUN_STARTED record opens.
type RunStart struct {
	Algorithm string  `json:"algorithm"`
	Horizon   float64 `json:"horizon"`
}

// Record is one journal line. Exactly one payload field is set, matching Type.
type Record struct {
	Seq  uint64    `json:"seq"`  // monotonically increasing, starts at 1
	ID   string    `json:"id"`   // ULID, sortable by creation time
	Type EventType `json:"type"` // event type
	Time float64   `json:"time"` // simulated seconds

	Run        *RunStart         `json:"run,omitempty"`
	Machine    *types.Machine    `json:"machine,omitempty"`
	Workflow   *types.Workflow   `json:"workflow,omitempty"`
	Assignment *types.Assignment `json:"assignment,omitempty"`
	Task       *types.TaskKey    `json:"task,omitempty"`

	Checksum uint32 `json:"checksum"` // CRC32 over the record with Checksum = 0
}

// Handler is called once per record during replay.
type Handler func(record Record) error
