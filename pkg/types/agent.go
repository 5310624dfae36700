package types

// StaticObservation is what the simulation shows a decision peer at a
// scheduling opportunity: the pending tasks and the machines available.
type StaticObservation struct {
	Tasks    []TaskView `json:"tasks"`
	Machines []Machine  `json:"machines"`
}

// StaticAction is the peer's decision for one StaticObservation.
type StaticAction struct {
	Assignments []Assignment `json:"assignments"`
}

// AgentResult wraps an observation together with the reward bookkeeping a
// gym-style peer expects. Terminal results usually carry no observation.
type AgentResult[O any] struct {
	Observation *O                `json:"observation,omitempty"`
	Reward      float64           `json:"reward"`
	Terminated  bool              `json:"terminated"`
	Truncated   bool              `json:"truncated"`
	Info        map[string]string `json:"info,omitempty"`
}

// RewardResult is a non-terminal result carrying an observation.
func RewardResult[O any](observation O, reward float64) AgentResult[O] {
	return AgentResult[O]{Observation: &observation, Reward: reward}
}

// TruncatedResult is the final result pushed when the simulation horizon ends.
func TruncatedResult[O any](reward float64) AgentResult[O] {
	return AgentResult[O]{Reward: reward, Truncated: true, Info: map[string]string{}}
}

// Done reports whether the peer should stop stepping.
func (r AgentResult[O]) Done() bool {
	return r.Terminated || r.Truncated
}

// AddInfo attaches a summary value to the result.
func (r *AgentResult[O]) AddInfo(key, value string) {
	if r.Info == nil {
		r.Info = make(map[string]string)
	}
	r.Info[key] = value
}
