// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pacing_test

import (
	"math/rand"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/magpie-cloud/magpie/internal/pacing"
)

type pacingSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&pacingSuite{})

func (s *pacingSuite) newPolicy(c *gc.C, clk *testclock.Clock) *pacing.Policy {
	policy, err := pacing.NewPolicy(clk, rand.NewSource(42))
	c.Assert(err, jc.ErrorIsNil)
	return policy
}

func (s *pacingSuite) TestNewPolicyValidates(c *gc.C) {
	_, err := pacing.NewPolicy(nil, rand.NewSource(1))
	c.Check(err, jc.ErrorIs, errors.NotValid)
	_, err = pacing.NewPolicy(testclock.NewClock(time.Time{}), nil)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *pacingSuite) TestDelayBounds(c *gc.C) {
	policy := s.newPolicy(c, testclock.NewClock(time.Time{}))
	min, max := 3*time.Second, 10*time.Second
	for _, dist := range []pacing.Distribution{pacing.Uniform, pacing.Normal, pacing.Exponential} {
		for i := 0; i < 1000; i++ {
			d := policy.Delay(min, max, dist)
			c.Assert(d >= min, jc.IsTrue, gc.Commentf("%s sample %v below %v", dist, d, min))
			c.Assert(d <= max, jc.IsTrue, gc.Commentf("%s sample %v above %v", dist, d, max))
		}
	}
}

func (s *pacingSuite) TestDelaySwappedBounds(c *gc.C) {
	policy := s.newPolicy(c, testclock.NewClock(time.Time{}))
	d := policy.Delay(10*time.Second, 3*time.Second, pacing.Uniform)
	c.Check(d >= 3*time.Second, jc.IsTrue)
	c.Check(d <= 10*time.Second, jc.IsTrue)
}

func (s *pacingSuite) TestDelayDegenerateInterval(c *gc.C) {
	policy := s.newPolicy(c, testclock.NewClock(time.Time{}))
	for _, dist := range []pacing.Distribution{pacing.Uniform, pacing.Normal, pacing.Exponential} {
		c.Check(policy.Delay(5*time.Second, 5*time.Second, dist), gc.Equals, 5*time.Second)
	}
}

func (s *pacingSuite) TestBreakChance(c *gc.C) {
	c.Check(pacing.BreakChance(0), gc.Equals, 0.05)
	c.Check(pacing.BreakChance(1), gc.Equals, 0.06)
	c.Check(pacing.BreakChance(10), gc.Equals, 0.15)
	c.Check(pacing.BreakChance(20), gc.Equals, 0.25)
	c.Check(pacing.BreakChance(1000), gc.Equals, 0.25)
	for attempt := 1; attempt < 50; attempt++ {
		c.Assert(pacing.BreakChance(attempt) >= pacing.BreakChance(attempt-1), jc.IsTrue)
	}
}

func (s *pacingSuite) TestShouldBreakFrequency(c *gc.C) {
	policy := s.newPolicy(c, testclock.NewClock(time.Time{}))
	breaks := 0
	const trials = 10000
	for i := 0; i < trials; i++ {
		if policy.ShouldBreak(100) {
			breaks++
		}
	}
	// Capped chance is 0.25; allow generous sampling slack.
	frequency := float64(breaks) / trials
	c.Check(frequency > 0.20, jc.IsTrue, gc.Commentf("frequency %v", frequency))
	c.Check(frequency < 0.30, jc.IsTrue, gc.Commentf("frequency %v", frequency))
}

func (s *pacingSuite) TestTimeOfDayMultiplier(c *gc.C) {
	for _, t := range []struct {
		hour   int
		lo, hi float64
	}{
		{hour: 10, lo: 0.9, hi: 1.1},
		{hour: 17, lo: 0.9, hi: 1.1},
		{hour: 19, lo: 1.0, hi: 1.3},
		{hour: 23, lo: 1.2, hi: 1.8},
		{hour: 3, lo: 1.2, hi: 1.8},
		{hour: 7, lo: 1.1, hi: 1.4},
	} {
		clk := testclock.NewClock(time.Date(2025, 6, 1, t.hour, 30, 0, 0, time.UTC))
		policy := s.newPolicy(c, clk)
		for i := 0; i < 100; i++ {
			m := policy.TimeOfDayMultiplier()
			c.Assert(m >= t.lo, jc.IsTrue, gc.Commentf("hour %d multiplier %v", t.hour, m))
			c.Assert(m <= t.hi, jc.IsTrue, gc.Commentf("hour %d multiplier %v", t.hour, m))
		}
	}
}

func (s *pacingSuite) TestSleepCompletes(c *gc.C) {
	clk := testclock.NewClock(time.Time{})
	policy := s.newPolicy(c, clk)

	done := make(chan bool)
	go func() {
		done <- policy.Sleep(make(chan struct{}), 7*time.Second)
	}()

	// 7s decomposes into a 5s tick and a 2s tick.
	c.Assert(clk.WaitAdvance(5*time.Second, testing.LongWait, 1), jc.ErrorIsNil)
	c.Assert(clk.WaitAdvance(2*time.Second, testing.LongWait, 1), jc.ErrorIsNil)

	select {
	case interrupted := <-done:
		c.Check(interrupted, jc.IsFalse)
	case <-time.After(testing.LongWait):
		c.Fatalf("sleep did not complete")
	}
}

func (s *pacingSuite) TestSleepInterrupted(c *gc.C) {
	clk := testclock.NewClock(time.Time{})
	policy := s.newPolicy(c, clk)

	stop := make(chan struct{})
	close(stop)
	c.Check(policy.Sleep(stop, time.Hour), jc.IsTrue)
}

func (s *pacingSuite) TestSleepZeroDuration(c *gc.C) {
	clk := testclock.NewClock(time.Time{})
	policy := s.newPolicy(c, clk)
	c.Check(policy.Sleep(make(chan struct{}), 0), jc.IsFalse)
}
