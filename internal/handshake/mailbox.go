// ============================================================================
// gymflow handshake - capacity-one mailbox
// ============================================================================
//
// Package: internal/handshake
// File: mailbox.go
// Purpose: blocking single-slot exchange between the simulation and a
//          decision peer running on another goroutine
//
// A Mailbox holds at most one value. Put blocks while the slot is full, Take
// blocks while it is empty. Both return ErrInterrupted when their context is
// cancelled or when the owning channel is closed, so no goroutine stays
// parked after the run is torn down.
// ============================================================================

package handshake

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInterrupted is returned by a blocking call that was torn down before
	// it could complete. It wraps the cause (context error or ErrClosed).
	ErrInterrupted = errors.New("handshake interrupted")
	// ErrClosed is the cause attached when the channel was closed.
	ErrClosed = errors.New("handshake channel closed")
)

// interrupted wraps cause so both errors.Is(err, ErrInterrupted) and
// errors.Is(err, cause) hold.
func interrupted(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInterrupted, cause)
}

// Mailbox is a blocking slot of capacity one.
type Mailbox[T any] struct {
	slot chan T
	done <-chan struct{}
}

// NewMailbox creates an empty mailbox that is torn down when done is closed.
// A nil done channel never fires.
func NewMailbox[T any](done <-chan struct{}) *Mailbox[T] {
	return &Mailbox[T]{
		slot: make(chan T, 1),
		done: done,
	}
}

// Put stores v, blocking while the slot is occupied.
func (m *Mailbox[T]) Put(ctx context.Context, v T) error {
	// Refuse new values once torn down even if the slot happens to be free.
	select {
	case <-m.done:
		return interrupted("put", ErrClosed)
	default:
	}

	select {
	case m.slot <- v:
		return nil
	case <-ctx.Done():
		return interrupted("put", ctx.Err())
	case <-m.done:
		return interrupted("put", ErrClosed)
	}
}

// Take removes and returns the stored value, blocking while the slot is empty.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-m.done:
		return zero, interrupted("take", ErrClosed)
	default:
	}

	select {
	case v := <-m.slot:
		return v, nil
	case <-ctx.Done():
		return zero, interrupted("take", ctx.Err())
	case <-m.done:
		return zero, interrupted("take", ErrClosed)
	}
}

// Len reports whether the slot is occupied (0 or 1).
func (m *Mailbox[T]) Len() int {
	return len(m.slot)
}
