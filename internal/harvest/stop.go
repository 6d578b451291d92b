package harvest

import (
	"context"
	"sync"
)

// StopState is the escalation level of a stop request
type StopState int

const (
	Running   StopState = iota
	Requested           // Finish the current page, then stop
	Forced              // Abort immediately
)

func (s StopState) String() string {
	switch s {
	case Requested:
		return "requested"
	case Forced:
		return "forced"
	default:
		return "running"
	}
}

// StopToken is a cooperative stop signal. The first Request asks the run
// to stop at the next page boundary; the second cancels its context.
type StopToken struct {
	mu     sync.Mutex
	state  StopState
	cancel context.CancelFunc
}

// NewStopToken derives a context that is canceled when the token is forced
func NewStopToken(parent context.Context) (*StopToken, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &StopToken{cancel: cancel}, ctx
}

// Request escalates the token one step and returns the new state
func (t *StopToken) Request() StopState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state < Forced {
		t.state++
	}
	if t.state == Forced && t.cancel != nil {
		t.cancel()
	}
	return t.state
}

// State returns the current escalation level
func (t *StopToken) State() StopState {
	if t == nil {
		return Running
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Release frees the token's context
func (t *StopToken) Release() {
	if t.cancel != nil {
		t.cancel()
	}
}
