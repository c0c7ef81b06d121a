// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package pacing produces the randomized delays that throttle hunt
// workers. Delays follow human-scale distributions and a wall-clock
// activity curve so that the request pattern stays within provider
// expectations, and every wait is decomposed into short ticks so
// cancellation latency stays bounded.
package pacing

import (
	"math/rand"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// Distribution selects the shape of a sampled delay.
type Distribution string

const (
	Uniform     Distribution = "uniform"
	Normal      Distribution = "normal"
	Exponential Distribution = "exponential"
)

const (
	// breakBaseChance is the break probability on the first attempt.
	breakBaseChance = 0.05
	// breakStep is the per-attempt increase of the break probability.
	breakStep = 0.01
	// breakCap bounds the break probability however long a worker
	// has been at it.
	breakCap = 0.25

	// sleepTick bounds how long a wait can go without checking for
	// cancellation.
	sleepTick = 5 * time.Second
)

// Policy produces randomized wait durations and break decisions.
// All randomness comes from the injected source so tests can pin it.
type Policy struct {
	clock clock.Clock

	mu   sync.Mutex
	rand *rand.Rand
}

// NewPolicy returns a Policy drawing randomness from source and time
// from clk.
func NewPolicy(clk clock.Clock, source rand.Source) (*Policy, error) {
	if clk == nil {
		return nil, errors.NotValidf("nil Clock")
	}
	if source == nil {
		return nil, errors.NotValidf("nil rand Source")
	}
	return &Policy{
		clock: clk,
		rand:  rand.New(source),
	}, nil
}

// Delay samples a duration from the given distribution. The result
// always lies in [min, max] whatever the distribution produced.
func (p *Policy) Delay(min, max time.Duration, dist Distribution) time.Duration {
	if max < min {
		min, max = max, min
	}
	mean := float64(min+max) / 2

	p.mu.Lock()
	var sampled float64
	switch dist {
	case Normal:
		stddev := float64(max-min) / 4
		sampled = p.rand.NormFloat64()*stddev + mean
	case Exponential:
		if mean <= 0 {
			sampled = 0
		} else {
			sampled = p.rand.ExpFloat64() * mean
		}
	default:
		sampled = mean
		if span := int64(max - min); span > 0 {
			sampled = float64(min) + float64(p.rand.Int63n(span+1))
		}
	}
	p.mu.Unlock()

	d := time.Duration(sampled)
	if d < min {
		d = min
	}
	if d > max {
		d = max
	}
	return d
}

// ShouldBreak decides whether the worker should pause for longer than
// usual. The probability grows with the attempt number up to a fixed
// cap.
func (p *Policy) ShouldBreak(attempt int) bool {
	chance := breakBaseChance + float64(attempt)*breakStep
	if chance > breakCap {
		chance = breakCap
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rand.Float64() < chance
}

// BreakChance exposes the probability ShouldBreak uses for a given
// attempt number.
func BreakChance(attempt int) float64 {
	chance := breakBaseChance + float64(attempt)*breakStep
	if chance > breakCap {
		chance = breakCap
	}
	return chance
}

// TimeOfDayMultiplier scales delays with the hour of day: close to
// unity during working hours, longest overnight. The sampled jitter
// keeps repeated calls from producing identical pacing.
func (p *Policy) TimeOfDayMultiplier() float64 {
	hour := p.clock.Now().Hour()
	var lo, hi float64
	switch {
	case hour >= 9 && hour < 18:
		lo, hi = 0.9, 1.1
	case hour >= 18 && hour < 22:
		lo, hi = 1.0, 1.3
	case hour >= 22 || hour < 6:
		lo, hi = 1.2, 1.8
	default:
		lo, hi = 1.1, 1.4
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo + p.rand.Float64()*(hi-lo)
}

// Sleep waits for d, checking stop at every tick boundary. It reports
// whether the sleep was interrupted by stop.
func (p *Policy) Sleep(stop <-chan struct{}, d time.Duration) bool {
	for d > 0 {
		tick := d
		if tick > sleepTick {
			tick = sleepTick
		}
		select {
		case <-stop:
			return true
		case <-p.clock.After(tick):
		}
		d -= tick
	}
	select {
	case <-stop:
		return true
	default:
	}
	return false
}
