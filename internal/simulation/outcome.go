package simulation

import (
	"strconv"

	"github.com/ChuLiYu/gymflow/internal/solution"
	"github.com/ChuLiYu/gymflow/pkg/types"
)

// Penalty weights of the final reward.
const (
	makespanWeight   = 1.0
	incompleteWeight = 5.0
)

// Summary holds the counters of a finished run.
type Summary struct {
	Horizon   float64 // simulated time limit
	EndTime   float64 // time of the last processed event
	Makespan  float64 // finish time of the last completed task
	Buffered  int     // tasks handed to the scheduler
	Scheduled int     // tasks committed to a machine
	Executed  int     // tasks started
	Completed int     // tasks finished
	Reward    float64
}

// Incomplete counts tasks that never finished.
func (s Summary) Incomplete() int {
	return s.Buffered - s.Completed
}

// Outcome is what a run produces.
type Outcome struct {
	Solution solution.Solution
	Summary  Summary
}

// FinalReward is the negated weighted penalty of a run, in [-1, 0]:
//
//	makespan penalty   = makespan / horizon
//	incomplete penalty = incomplete / buffered   (0 when nothing was buffered)
//	reward             = -(1*makespan + 5*incomplete) / 6
func FinalReward(makespan, horizon float64, incomplete, buffered int) float64 {
	var makespanPenalty float64
	if horizon > 0 {
		makespanPenalty = makespan / horizon
	}
	var incompletePenalty float64
	if buffered > 0 {
		incompletePenalty = float64(incomplete) / float64(buffered)
	}
	penalty := (makespanWeight*makespanPenalty + incompleteWeight*incompletePenalty) / (makespanWeight + incompleteWeight)
	return -penalty
}

// FinalResult builds the truncated result pushed to a decision peer once
// the run is over. It carries the reward and the solution JSON.
func FinalResult(outcome Outcome) (types.AgentResult[types.StaticObservation], error) {
	result := types.TruncatedResult[types.StaticObservation](outcome.Summary.Reward)

	encoded, err := outcome.Solution.JSON()
	if err != nil {
		return result, err
	}
	result.AddInfo("solution", encoded)
	result.AddInfo("makespan", strconv.FormatFloat(outcome.Summary.Makespan, 'f', -1, 64))
	result.AddInfo("completed_tasks", strconv.Itoa(outcome.Summary.Completed))
	result.AddInfo("buffered_tasks", strconv.Itoa(outcome.Summary.Buffered))
	return result, nil
}
