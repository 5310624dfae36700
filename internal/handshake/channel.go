package handshake

import (
	"context"
	"sync"
)

// Channel pairs two mailboxes into the synchronous step protocol:
//
//	simulation                      peer
//	Step(obs) ── observations ──▶  TakeObservation()
//	          ◀──── decisions ───   PutDecision(d)
//
// Each side has exactly one outstanding call at a time, so observation i is
// always answered by decision i.
type Channel[O, D any] struct {
	observations *Mailbox[O]
	decisions    *Mailbox[D]

	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel creates an open channel with both slots empty.
func NewChannel[O, D any]() *Channel[O, D] {
	done := make(chan struct{})
	return &Channel[O, D]{
		observations: NewMailbox[O](done),
		decisions:    NewMailbox[D](done),
		done:         done,
	}
}

// Step publishes an observation and blocks until the peer's decision arrives.
func (c *Channel[O, D]) Step(ctx context.Context, observation O) (D, error) {
	if err := c.observations.Put(ctx, observation); err != nil {
		var zero D
		return zero, err
	}
	return c.decisions.Take(ctx)
}

// Publish stores an observation without waiting for a decision. It is used
// for the final observation, which the peer never answers.
func (c *Channel[O, D]) Publish(ctx context.Context, observation O) error {
	return c.observations.Put(ctx, observation)
}

// TakeObservation blocks until the simulation publishes an observation.
func (c *Channel[O, D]) TakeObservation(ctx context.Context) (O, error) {
	return c.observations.Take(ctx)
}

// PutDecision hands a decision back to the simulation.
func (c *Channel[O, D]) PutDecision(ctx context.Context, decision D) error {
	return c.decisions.Put(ctx, decision)
}

// Close tears the channel down. Every blocked and future call fails with
// ErrInterrupted. Safe to call more than once.
func (c *Channel[O, D]) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once Close has been called.
func (c *Channel[O, D]) Done() <-chan struct{} {
	return c.done
}
