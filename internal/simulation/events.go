package simulation

import (
	"container/heap"

	"github.com/ChuLiYu/gymflow/pkg/types"
)

type eventKind int

const (
	eventMachineAdded eventKind = iota
	eventWorkflowArrived
	eventTaskFinished
	eventSchedulerWakeup
)

// event is one entry of the simulated timeline.
type event struct {
	at   float64
	seq  uint64 // insertion order, breaks ties between equal times
	kind eventKind

	machine  types.Machine
	workflow types.Workflow
	task     types.TaskKey
}

// eventQueue is a min-heap ordered by (at, seq).
type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x interface{}) { *q = append(*q, x.(*event)) }

func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// timeline wraps the heap with sequence numbering.
type timeline struct {
	queue eventQueue
	next  uint64
}

func (t *timeline) push(e *event) {
	e.seq = t.next
	t.next++
	heap.Push(&t.queue, e)
}

func (t *timeline) pop() *event {
	return heap.Pop(&t.queue).(*event)
}

func (t *timeline) peek() *event {
	return t.queue[0]
}

func (t *timeline) empty() bool {
	return len(t.queue) == 0
}
