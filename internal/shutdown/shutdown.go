// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package shutdown provides the single cancellation signal shared by
// every concurrent part of the hunt. The signal is monotonic: once
// stopping, never running again; once stopped, never merely stopping.
package shutdown

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// Reason records why the system is coming down.
type Reason string

const (
	// ReasonMatchFound means a worker found a resource whose address
	// is inside the target set.
	ReasonMatchFound Reason = "match found"
	// ReasonAuthFailure means the provider rejected our credential.
	ReasonAuthFailure Reason = "authentication failure"
	// ReasonInterrupt means an operator asked us to stop.
	ReasonInterrupt Reason = "interrupt"
)

// State is the coordinator's lifecycle position.
type State int32

const (
	Running State = iota
	Stopping
	Stopped
)

// ErrDrainTimeout is returned by AwaitDrain when in-flight workers
// fail to finish inside the allowed window.
const ErrDrainTimeout = errors.ConstError("timed out waiting for workers to drain")

// Coordinator is the shared shutdown signal. Signal is first-caller-
// wins and idempotent; IsStopping is a cheap atomic read suitable for
// every loop iteration and wait tick.
type Coordinator struct {
	clock clock.Clock
	state atomic.Int32

	mu     sync.Mutex
	reason Reason
	err    error
	dying  chan struct{}

	workers sync.WaitGroup
}

// NewCoordinator returns a Coordinator in the Running state.
func NewCoordinator(clk clock.Clock) *Coordinator {
	return &Coordinator{
		clock: clk,
		dying: make(chan struct{}),
	}
}

// Signal transitions the coordinator from Running to Stopping. Only
// the first call has any effect; it reports whether this call was the
// one that performed the transition. The winning reason and error are
// retained for Reason.
func (c *Coordinator) Signal(reason Reason, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return false
	}
	c.reason = reason
	c.err = err
	close(c.dying)
	return true
}

// IsStopping reports whether Signal has been called.
func (c *Coordinator) IsStopping() bool {
	return State(c.state.Load()) != Running
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Dying returns a channel closed on the first Signal call, for use in
// select loops.
func (c *Coordinator) Dying() <-chan struct{} {
	return c.dying
}

// Reason returns the reason and error recorded by the winning Signal
// call. Before any Signal it returns zero values.
func (c *Coordinator) Reason() (Reason, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason, c.err
}

// AddWorker registers an in-flight worker for draining purposes.
func (c *Coordinator) AddWorker() {
	c.workers.Add(1)
}

// WorkerDone marks a previously registered worker as finished.
func (c *Coordinator) WorkerDone() {
	c.workers.Done()
}

// AwaitDrain blocks until every registered worker has finished or the
// timeout elapses, then moves the coordinator to Stopped. A timeout is
// reported but the transition to Stopped happens regardless: workers
// the drain window left behind must not hold up process exit.
func (c *Coordinator) AwaitDrain(timeout time.Duration) error {
	defer c.state.CompareAndSwap(int32(Stopping), int32(Stopped))

	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-c.clock.After(timeout):
		return ErrDrainTimeout
	}
}
