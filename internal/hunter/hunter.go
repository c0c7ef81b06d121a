// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hunter runs the hunt itself: a pool of workers that each
// reserve a resource, wait for it to become usable, test its
// addresses against the target set and either claim it as the one
// result or release it and go again. The first worker to claim a
// match stops the whole pool; a rejected credential stops it too, as
// an error. Everything in between is contained within the worker that
// hit it.
package hunter

import (
	"sync"
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/tomb.v2"

	"github.com/magpie-cloud/magpie/internal/iprange"
	"github.com/magpie-cloud/magpie/internal/pacing"
	"github.com/magpie-cloud/magpie/internal/provision"
	"github.com/magpie-cloud/magpie/internal/shutdown"
)

var logger = loggo.GetLogger("magpie.hunter")

// Result is the single authoritative outcome of a hunt: the resource
// whose address landed in the target set, kept while everything else
// was released.
type Result struct {
	ResourceId string
	Address    string
	Addresses  []string
	Worker     int
}

// DelayBounds is an inclusive duration interval for one kind of
// pause.
type DelayBounds struct {
	Min time.Duration
	Max time.Duration
}

// Config holds a Hunter's dependencies and tuning.
type Config struct {
	Workers     int
	Ranges      iprange.Set
	Reserver    provision.Reserver
	Stats       StatsRecorder
	Pacing      *pacing.Policy
	Coordinator *shutdown.Coordinator

	// ReadyTimeout bounds each readiness wait. Exceeding it releases
	// the resource and starts over; it is not an error.
	ReadyTimeout time.Duration

	// BaseDelay paces every reservation; RetryDelay follows a
	// transient failure; BreakDelay is the occasional longer pause;
	// LongBreakDelay kicks in every LongBreakEvery attempts.
	BaseDelay      DelayBounds
	RetryDelay     DelayBounds
	BreakDelay     DelayBounds
	LongBreakDelay DelayBounds
	LongBreakEvery int
}

// StatsRecorder counts attempts and the addresses they produced.
type StatsRecorder interface {
	Note(addresses []string)
}

// Validate implements the usual config sanity check.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return errors.NotValidf("worker count %d", c.Workers)
	}
	if len(c.Ranges) == 0 {
		return errors.NotValidf("empty Ranges")
	}
	if c.Reserver == nil {
		return errors.NotValidf("nil Reserver")
	}
	if c.Stats == nil {
		return errors.NotValidf("nil Stats")
	}
	if c.Pacing == nil {
		return errors.NotValidf("nil Pacing")
	}
	if c.Coordinator == nil {
		return errors.NotValidf("nil Coordinator")
	}
	if c.ReadyTimeout <= 0 {
		return errors.NotValidf("ReadyTimeout %v", c.ReadyTimeout)
	}
	return nil
}

// Hunter owns the worker pool. It is a Kill/Wait worker; Wait returns
// nil when the hunt ended with a match or a clean stop, or the fatal
// error that brought it down.
type Hunter struct {
	tomb   tomb.Tomb
	config Config

	mu     sync.Mutex
	result *Result

	// reserved tracks the ids of in-flight resources so a forced
	// exit can still sweep them. Workers only ever add and remove
	// their own entries.
	reserved set.Strings
}

// New starts a Hunter with the given configuration.
func New(config Config) (*Hunter, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	h := &Hunter{
		config:   config,
		reserved: set.NewStrings(),
	}
	h.tomb.Go(h.run)
	return h, nil
}

// Kill implements the worker.Worker interface. Stopping the hunter
// goes through the shared coordinator so workers see one cancellation
// signal whatever triggered it.
func (h *Hunter) Kill() {
	h.config.Coordinator.Signal(shutdown.ReasonInterrupt, nil)
	h.tomb.Kill(nil)
}

// Wait implements the worker.Worker interface.
func (h *Hunter) Wait() error {
	return h.tomb.Wait()
}

// Result returns the authoritative result, or nil if the hunt stopped
// without one. Call after Wait.
func (h *Hunter) Result() *Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *Hunter) run() error {
	logger.Infof("starting %d hunt workers for targets %s", h.config.Workers, h.config.Ranges)
	for i := 0; i < h.config.Workers; i++ {
		worker := i + 1
		h.config.Coordinator.AddWorker()
		h.tomb.Go(func() error {
			defer h.config.Coordinator.WorkerDone()
			return h.worker(worker)
		})
	}
	return nil
}

// worker is one acquisition loop: backoff, reserve, wait ready, test,
// keep or release. It exits when the coordinator starts stopping or
// when the provider rejects our credential.
func (h *Hunter) worker(id int) error {
	cfg := h.config
	stop := cfg.Coordinator.Dying()
	attempt := 0

	for {
		if cfg.Coordinator.IsStopping() {
			logger.Debugf("worker %d: stopping", id)
			return nil
		}
		attempt++

		if cfg.Pacing.ShouldBreak(attempt) {
			pause := cfg.Pacing.Delay(cfg.BreakDelay.Min, cfg.BreakDelay.Max, pacing.Exponential)
			logger.Debugf("worker %d: taking a %v break", id, pause)
			if cfg.Pacing.Sleep(stop, pause) {
				return nil
			}
		}
		if cfg.LongBreakEvery > 0 && attempt%cfg.LongBreakEvery == 0 {
			pause := cfg.Pacing.Delay(cfg.LongBreakDelay.Min, cfg.LongBreakDelay.Max, pacing.Exponential)
			logger.Debugf("worker %d: long break after %d attempts: %v", id, attempt, pause)
			if cfg.Pacing.Sleep(stop, pause) {
				return nil
			}
		}

		base := cfg.Pacing.Delay(cfg.BaseDelay.Min, cfg.BaseDelay.Max, pacing.Normal)
		scaled := time.Duration(float64(base) * cfg.Pacing.TimeOfDayMultiplier())
		if cfg.Pacing.Sleep(stop, scaled) {
			return nil
		}

		logger.Debugf("worker %d: reserving (attempt %d)", id, attempt)
		res, err := cfg.Reserver.Reserve(stop)
		if err != nil {
			if provision.IsAuthFailure(err) {
				return h.authFailure(id, err)
			}
			retryIn := cfg.Pacing.Delay(cfg.RetryDelay.Min, cfg.RetryDelay.Max, pacing.Exponential)
			logger.Warningf("worker %d: reservation failed, retrying in %v: %v", id, retryIn, err)
			if cfg.Pacing.Sleep(stop, retryIn) {
				return nil
			}
			continue
		}
		h.track(res.Id)

		if err := cfg.Reserver.WaitReady(stop, res, cfg.ReadyTimeout); err != nil {
			h.release(id, res.Id)
			if provision.IsAuthFailure(err) {
				return h.authFailure(id, err)
			}
			logger.Infof("worker %d: %v", id, err)
			continue
		}

		cfg.Stats.Note(res.Addresses)

		if address, ok := cfg.Ranges.ContainsAny(res.Addresses); ok {
			if h.claim(id, res, address) {
				logger.Infof("worker %d: found matching address %s on %s", id, address, res.Id)
				return nil
			}
			// Raced with another match or a shutdown; ours goes back.
			logger.Infof("worker %d: match %s lost the race, releasing", id, address)
			h.release(id, res.Id)
			return nil
		}

		logger.Debugf("worker %d: %v not in target set, releasing %s", id, res.Addresses, res.Id)
		h.release(id, res.Id)
	}
}

// claim promotes the resource to the hunt's result. The coordinator's
// check-and-set decides the winner: only the call that actually
// performs the running to stopping transition owns the result.
func (h *Hunter) claim(id int, res *provision.Resource, address string) bool {
	if !h.config.Coordinator.Signal(shutdown.ReasonMatchFound, nil) {
		return false
	}
	h.mu.Lock()
	h.result = &Result{
		ResourceId: res.Id,
		Address:    address,
		Addresses:  res.Addresses,
		Worker:     id,
	}
	h.untrack(res.Id)
	h.mu.Unlock()
	return true
}

func (h *Hunter) authFailure(id int, err error) error {
	logger.Errorf("worker %d: %v", id, err)
	h.config.Coordinator.Signal(shutdown.ReasonAuthFailure, err)
	return errors.Trace(err)
}

// release gives a resource back and untracks it on success. A failed
// release stays tracked so the final sweep can try again.
func (h *Hunter) release(id int, resourceId string) {
	if err := h.config.Reserver.Release(resourceId); err != nil {
		logger.Errorf("worker %d: cannot release %s: %v", id, resourceId, err)
		return
	}
	h.mu.Lock()
	h.untrack(resourceId)
	h.mu.Unlock()
}

func (h *Hunter) track(resourceId string) {
	h.mu.Lock()
	h.reserved.Add(resourceId)
	h.mu.Unlock()
}

// untrack must be called with h.mu held.
func (h *Hunter) untrack(resourceId string) {
	h.reserved.Remove(resourceId)
}

// Reserved returns the ids still tracked as in flight.
func (h *Hunter) Reserved() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reserved.SortedValues()
}

// ReleaseStray sweeps anything still tracked after the pool has
// stopped. Best effort: failures are logged, and the count of
// successful releases returned.
func (h *Hunter) ReleaseStray() int {
	released := 0
	for _, id := range h.Reserved() {
		if err := h.config.Reserver.Release(id); err != nil {
			logger.Errorf("cannot release stray resource %s: %v", id, err)
			continue
		}
		h.mu.Lock()
		h.untrack(id)
		h.mu.Unlock()
		released++
	}
	return released
}
