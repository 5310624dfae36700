package scheduling

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSelector is returned for an algorithm selector string that does
// not name a known scheduler.
var ErrInvalidSelector = errors.New("invalid algorithm selector")

// Selector kinds.
const (
	KindStatic   = "static"
	KindBuffered = "buffer"
)

// Selector is a parsed algorithm selector:
//
//	static:round-robin
//	static:gym
//	buffer:gym:<size>:<timeout>
type Selector struct {
	Raw     string
	Kind    string
	Gym     bool
	Size    int
	Timeout float64
}

// Delegated reports whether the selector needs a remote decision peer.
func (s Selector) Delegated() bool {
	return s.Gym
}

// ParseSelector validates and parses an algorithm selector.
func ParseSelector(raw string) (Selector, error) {
	parts := strings.Split(raw, ":")
	sel := Selector{Raw: raw, Kind: parts[0]}

	switch {
	case raw == "static:round-robin":
		return sel, nil
	case raw == "static:gym":
		sel.Gym = true
		return sel, nil
	case len(parts) == 4 && parts[0] == KindBuffered && parts[1] == "gym":
		size, err := strconv.Atoi(parts[2])
		if err != nil || size <= 0 {
			return Selector{}, fmt.Errorf("%w: %q: buffer size must be a positive integer", ErrInvalidSelector, raw)
		}
		timeout, err := strconv.Atoi(parts[3])
		if err != nil || timeout < 0 {
			return Selector{}, fmt.Errorf("%w: %q: buffer timeout must be a non-negative integer", ErrInvalidSelector, raw)
		}
		sel.Gym = true
		sel.Size = size
		sel.Timeout = float64(timeout)
		return sel, nil
	}
	return Selector{}, fmt.Errorf("%w: %q", ErrInvalidSelector, raw)
}

// Option configures schedulers built by New.
type Option func(*options)

type options struct {
	observe func(time.Duration)
}

// WithHandshakeObserver reports the duration of every delegated decision.
func WithHandshakeObserver(observe func(time.Duration)) Option {
	return func(o *options) { o.observe = observe }
}

// New builds the scheduler named by selector. env is required for gym
// selectors and ignored otherwise.
func New(selector string, env *StaticEnvironment, opts ...Option) (Scheduler, error) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	return FromSelector(sel, env, opts...)
}

// FromSelector builds the scheduler for an already parsed selector.
func FromSelector(sel Selector, env *StaticEnvironment, opts ...Option) (Scheduler, error) {
	if sel.Gym && env == nil {
		return nil, fmt.Errorf("%w: %q needs a decision peer", ErrInvalidSelector, sel.Raw)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	switch {
	case sel.Kind == KindBuffered:
		return NewBuffered(sel.Size, sel.Timeout, NewDelegated(env, o.observe)), nil
	case sel.Gym:
		return NewStatic(NewDelegated(env, o.observe)), nil
	default:
		return NewStatic(NewRoundRobin()), nil
	}
}
