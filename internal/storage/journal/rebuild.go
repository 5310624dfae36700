package journal

import (
	"fmt"

	"github.com/ChuLiYu/gymflow/internal/executor"
	"github.com/ChuLiYu/gymflow/pkg/types"
)

// Summary describes the contents of a journal file. Records, LastSeq and
// LastTime cover the whole file; ByType and Run cover the rebuilt run.
type Summary struct {
	Records  int
	Runs     int
	Run      *RunStart // nil for journals without run markers
	ByType   map[EventType]int
	LastSeq  uint64
	LastTime float64
}

// Rebuild replays the last run of the journal at path into a fresh
// executor. Every notification goes through the executor's own validation,
// and every recorded dispatch must match what the executor itself emits.
// Each RUN_STARTED record discards the state of the run before it.
func Rebuild(path string) (*executor.Executor, Summary, error) {
	ex := executor.New()
	summary := Summary{ByType: make(map[EventType]int)}

	// Dispatches computed by the executor but not yet matched to a record.
	emitted := make(map[types.TaskKey]types.MachineID)

	err := Replay(path, func(r Record) error {
		summary.Records++
		summary.LastSeq = r.Seq
		summary.LastTime = r.Time

		if r.Type == EventRunStarted {
			if r.Run == nil {
				return missingPayload(r)
			}
			if len(emitted) > 0 {
				return fmt.Errorf("%w: %d dispatches never recorded before seq %d", ErrDivergence, len(emitted), r.Seq)
			}
			ex = executor.New()
			summary.Runs++
			summary.Run = r.Run
			summary.ByType = map[EventType]int{EventRunStarted: 1}
			return nil
		}
		if summary.Runs == 0 {
			// A journal without a leading marker holds a single run.
			summary.Runs = 1
		}
		summary.ByType[r.Type]++

		switch r.Type {
		case EventMachineAdded:
			if r.Machine == nil {
				return missingPayload(r)
			}
			return ex.OnMachineAdded(*r.Machine)

		case EventWorkflowAdded:
			if r.Workflow == nil {
				return missingPayload(r)
			}
			return ex.OnWorkflowAdded(*r.Workflow)

		case EventTaskCommitted:
			if r.Assignment == nil {
				return missingPayload(r)
			}
			return ex.OnTaskCommitted(*r.Assignment)

		case EventTaskDispatched:
			if r.Assignment == nil {
				return missingPayload(r)
			}
			key := r.Assignment.Key()
			if _, ok := emitted[key]; !ok {
				for _, a := range ex.PollAssignments() {
					emitted[a.Key()] = a.Machine
				}
			}
			machine, ok := emitted[key]
			if !ok || machine != r.Assignment.Machine {
				return fmt.Errorf("%w: %s on machine %d", ErrDivergence, key, r.Assignment.Machine)
			}
			delete(emitted, key)
			return nil

		case EventTaskCompleted:
			if r.Task == nil {
				return missingPayload(r)
			}
			return ex.OnTaskCompleted(r.Task.Workflow, r.Task.Task)
		}
		return fmt.Errorf("%w: unknown event type %q", ErrCorrupted, r.Type)
	})
	if err != nil {
		return nil, summary, err
	}

	if len(emitted) > 0 {
		return nil, summary, fmt.Errorf("%w: %d dispatches never recorded", ErrDivergence, len(emitted))
	}
	return ex, summary, nil
}

func missingPayload(r Record) error {
	return fmt.Errorf("%w: %s record without payload", ErrCorrupted, r.Type)
}
