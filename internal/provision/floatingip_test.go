// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provision

import (
	"sync"
	"time"

	gooseerrors "github.com/go-goose/goose/v5/errors"
	"github.com/go-goose/goose/v5/neutron"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

// fakeNeutron scripts the neutron calls the floating IP reserver
// makes.
type fakeNeutron struct {
	mu sync.Mutex

	allocated  []string
	allocateIP *neutron.FloatingIPV2
	allocErr   error

	deleted    []string
	deleteErrs []error

	networks    []neutron.NetworkV2
	networksErr error
}

func (f *fakeNeutron) AllocateFloatingIPV2(floatingNetworkId string) (*neutron.FloatingIPV2, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocated = append(f.allocated, floatingNetworkId)
	if f.allocErr != nil {
		return nil, f.allocErr
	}
	return f.allocateIP, nil
}

func (f *fakeNeutron) DeleteFloatingIPV2(ipId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ipId)
	if len(f.deleteErrs) == 0 {
		return nil
	}
	err := f.deleteErrs[0]
	f.deleteErrs = f.deleteErrs[1:]
	return err
}

func (f *fakeNeutron) ListNetworksV2(filter ...*neutron.Filter) ([]neutron.NetworkV2, error) {
	return f.networks, f.networksErr
}

type floatingIPSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&floatingIPSuite{})

func (s *floatingIPSuite) TestNewValidates(c *gc.C) {
	clk := testclock.NewClock(time.Time{})
	_, err := NewFloatingIPReserver(nil, "net", clk)
	c.Check(err, jc.ErrorIs, errors.NotValid)
	_, err = NewFloatingIPReserver(&fakeNeutron{}, "", clk)
	c.Check(err, jc.ErrorIs, errors.NotValid)
	_, err = NewFloatingIPReserver(&fakeNeutron{}, "net", nil)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *floatingIPSuite) TestReserve(c *gc.C) {
	fake := &fakeNeutron{
		allocateIP: &neutron.FloatingIPV2{Id: "fip-1", IP: "203.0.113.7"},
	}
	r, err := NewFloatingIPReserver(fake, "ext-net", testclock.NewClock(time.Time{}))
	c.Assert(err, jc.ErrorIsNil)

	res, err := r.Reserve(nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(res.Id, gc.Equals, "fip-1")
	c.Check(res.Addresses, jc.DeepEquals, []string{"203.0.113.7"})
	c.Check(fake.allocated, jc.DeepEquals, []string{"ext-net"})
}

func (s *floatingIPSuite) TestReserveUnauthorised(c *gc.C) {
	fake := &fakeNeutron{
		allocErr: gooseerrors.NewUnauthorisedf(nil, "", "invalid credentials"),
	}
	r, err := NewFloatingIPReserver(fake, "ext-net", testclock.NewClock(time.Time{}))
	c.Assert(err, jc.ErrorIsNil)

	_, err = r.Reserve(nil)
	c.Assert(err, gc.NotNil)
	c.Check(IsAuthFailure(err), jc.IsTrue)
}

func (s *floatingIPSuite) TestWaitReadyImmediate(c *gc.C) {
	r, err := NewFloatingIPReserver(&fakeNeutron{}, "ext-net", testclock.NewClock(time.Time{}))
	c.Assert(err, jc.ErrorIsNil)

	res := &Resource{Id: "fip-1", Addresses: []string{"203.0.113.7"}}
	c.Check(r.WaitReady(nil, res, time.Minute), jc.ErrorIsNil)

	empty := &Resource{Id: "fip-2"}
	err = r.WaitReady(nil, empty, time.Minute)
	c.Check(IsNotReady(err), jc.IsTrue)
}

func (s *floatingIPSuite) TestRelease(c *gc.C) {
	fake := &fakeNeutron{}
	r, err := NewFloatingIPReserver(fake, "ext-net", testclock.NewClock(time.Time{}))
	c.Assert(err, jc.ErrorIsNil)

	c.Assert(r.Release("fip-1"), jc.ErrorIsNil)
	c.Check(fake.deleted, jc.DeepEquals, []string{"fip-1"})
}

func (s *floatingIPSuite) TestReleaseRetriesTransientFailures(c *gc.C) {
	clk := testclock.NewClock(time.Time{})
	fake := &fakeNeutron{
		deleteErrs: []error{errors.New("conflict"), errors.New("conflict")},
	}
	r, err := NewFloatingIPReserver(fake, "ext-net", clk)
	c.Assert(err, jc.ErrorIsNil)

	done := make(chan error)
	go func() {
		done <- r.Release("fip-1")
	}()

	// Two failures mean two retry delays before the third attempt
	// succeeds.
	c.Assert(clk.WaitAdvance(2*time.Second, testing.LongWait, 1), jc.ErrorIsNil)
	c.Assert(clk.WaitAdvance(2*time.Second, testing.LongWait, 1), jc.ErrorIsNil)

	select {
	case err := <-done:
		c.Assert(err, jc.ErrorIsNil)
	case <-time.After(testing.LongWait):
		c.Fatalf("release never finished")
	}
	c.Check(fake.deleted, gc.HasLen, 3)
}

func (s *floatingIPSuite) TestReleaseGivesUpAfterAttempts(c *gc.C) {
	clk := testclock.NewClock(time.Time{})
	fake := &fakeNeutron{
		deleteErrs: []error{
			errors.New("conflict"),
			errors.New("conflict"),
			errors.New("still conflicted"),
		},
	}
	r, err := NewFloatingIPReserver(fake, "ext-net", clk)
	c.Assert(err, jc.ErrorIsNil)

	done := make(chan error)
	go func() {
		done <- r.Release("fip-1")
	}()

	c.Assert(clk.WaitAdvance(2*time.Second, testing.LongWait, 1), jc.ErrorIsNil)
	c.Assert(clk.WaitAdvance(2*time.Second, testing.LongWait, 1), jc.ErrorIsNil)

	select {
	case err := <-done:
		c.Assert(err, gc.ErrorMatches, `releasing floating IP "fip-1": still conflicted`)
	case <-time.After(testing.LongWait):
		c.Fatalf("release never finished")
	}
	c.Check(fake.deleted, gc.HasLen, 3)
}

func (s *floatingIPSuite) TestReleaseAuthFailureIsFatal(c *gc.C) {
	fake := &fakeNeutron{
		deleteErrs: []error{gooseerrors.NewUnauthorisedf(nil, "", "token expired")},
	}
	r, err := NewFloatingIPReserver(fake, "ext-net", testclock.NewClock(time.Time{}))
	c.Assert(err, jc.ErrorIsNil)

	err = r.Release("fip-1")
	c.Assert(err, gc.NotNil)
	c.Check(IsAuthFailure(err), jc.IsTrue)
	c.Check(fake.deleted, gc.HasLen, 1)
}

func (s *floatingIPSuite) TestExternalNetworks(c *gc.C) {
	fake := &fakeNeutron{
		networks: []neutron.NetworkV2{
			{Id: "int-1", Name: "internal", External: false},
			{Id: "ext-1", Name: "public", External: true},
			{Id: "ext-2", Name: "public2", External: true},
		},
	}
	external, err := ExternalNetworks(fake)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(external, gc.HasLen, 2)
	c.Check(external[0].Id, gc.Equals, "ext-1")
	c.Check(external[1].Id, gc.Equals, "ext-2")
}
