package handshake

import (
	"context"

	"github.com/ChuLiYu/gymflow/pkg/types"
)

// Environment is the simulation's view of the channel. Scheduling code calls
// Step at every decision point and blocks until the peer answers.
type Environment[O, A any] struct {
	ch *Channel[types.AgentResult[O], A]
}

// NewEnvironment wraps the simulation side of ch.
func NewEnvironment[O, A any](ch *Channel[types.AgentResult[O], A]) *Environment[O, A] {
	return &Environment[O, A]{ch: ch}
}

// Step sends the result to the peer and returns its action.
func (e *Environment[O, A]) Step(ctx context.Context, result types.AgentResult[O]) (A, error) {
	return e.ch.Step(ctx, result)
}

// Finish publishes the final result. The peer does not answer it.
func (e *Environment[O, A]) Finish(ctx context.Context, result types.AgentResult[O]) error {
	return e.ch.Publish(ctx, result)
}

// Agent is the peer's view of the channel, in gym terms: Reset returns the
// first observation, Step submits an action and returns the next one.
type Agent[O, A any] struct {
	ch *Channel[types.AgentResult[O], A]
}

// NewAgent wraps the peer side of ch.
func NewAgent[O, A any](ch *Channel[types.AgentResult[O], A]) *Agent[O, A] {
	return &Agent[O, A]{ch: ch}
}

// Reset waits for the first observation of the episode.
func (a *Agent[O, A]) Reset(ctx context.Context) (types.AgentResult[O], error) {
	return a.ch.TakeObservation(ctx)
}

// Step answers the pending observation and waits for the next one.
func (a *Agent[O, A]) Step(ctx context.Context, action A) (types.AgentResult[O], error) {
	if err := a.ch.PutDecision(ctx, action); err != nil {
		return types.AgentResult[O]{}, err
	}
	return a.ch.TakeObservation(ctx)
}

// StaticChannel is the channel type used by delegated static scheduling.
type StaticChannel = Channel[types.AgentResult[types.StaticObservation], types.StaticAction]

// NewStaticChannel creates a channel for StaticObservation / StaticAction.
func NewStaticChannel() *StaticChannel {
	return NewChannel[types.AgentResult[types.StaticObservation], types.StaticAction]()
}
