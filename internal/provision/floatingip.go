// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provision

import (
	"time"

	"github.com/go-goose/goose/v5/neutron"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
)

// neutronOps is the slice of the neutron API the floating IP reserver
// uses, so tests can stand in for the real client.
type neutronOps interface {
	AllocateFloatingIPV2(floatingNetworkId string) (*neutron.FloatingIPV2, error)
	DeleteFloatingIPV2(ipId string) error
	ListNetworksV2(filter ...*neutron.Filter) ([]neutron.NetworkV2, error)
}

// FloatingIPReserver hunts addresses by allocating floating IPs on an
// external network. The address is assigned at allocation time, so
// readiness is immediate.
type FloatingIPReserver struct {
	neutron   neutronOps
	networkId string
	clock     clock.Clock
}

// NewFloatingIPReserver returns a Reserver allocating floating IPs on
// the given external network.
func NewFloatingIPReserver(client neutronOps, networkId string, clk clock.Clock) (*FloatingIPReserver, error) {
	if client == nil {
		return nil, errors.NotValidf("nil neutron client")
	}
	if networkId == "" {
		return nil, errors.NotValidf("empty floating network id")
	}
	if clk == nil {
		return nil, errors.NotValidf("nil Clock")
	}
	return &FloatingIPReserver{
		neutron:   client,
		networkId: networkId,
		clock:     clk,
	}, nil
}

// Reserve allocates one floating IP.
func (r *FloatingIPReserver) Reserve(stop <-chan struct{}) (*Resource, error) {
	fip, err := r.neutron.AllocateFloatingIPV2(r.networkId)
	if err != nil {
		return nil, errors.Annotate(classify(err), "allocating floating IP")
	}
	logger.Debugf("allocated floating IP %s (%s)", fip.IP, fip.Id)
	return &Resource{
		Id:        fip.Id,
		Addresses: []string{fip.IP},
	}, nil
}

// WaitReady is immediate for floating IPs: the address is known as
// soon as the allocation call returns.
func (r *FloatingIPReserver) WaitReady(stop <-chan struct{}, res *Resource, timeout time.Duration) error {
	if len(res.Addresses) == 0 {
		return errors.WithType(errors.Errorf("floating IP %q has no address", res.Id), ErrNotReady)
	}
	return nil
}

// Release deletes the floating IP, retrying briefly since releases
// are how we avoid leaking quota.
func (r *FloatingIPReserver) Release(id string) error {
	err := retry.Call(retry.CallArgs{
		Clock:    r.clock,
		Delay:    2 * time.Second,
		Attempts: 3,
		Func: func() error {
			return classify(r.neutron.DeleteFloatingIPV2(id))
		},
		IsFatalError: IsAuthFailure,
		NotifyFunc: func(lastError error, attempt int) {
			logger.Debugf("release of floating IP %q failed (attempt %d): %v", id, attempt, lastError)
		},
	})
	if retry.IsAttemptsExceeded(err) {
		err = retry.LastError(err)
	}
	return errors.Annotatef(err, "releasing floating IP %q", id)
}

// ExternalNetworks lists the networks floating IPs can be drawn from,
// for startup validation when no network is configured.
func ExternalNetworks(client neutronOps) ([]neutron.NetworkV2, error) {
	networks, err := client.ListNetworksV2()
	if err != nil {
		return nil, errors.Annotate(classify(err), "listing networks")
	}
	var external []neutron.NetworkV2
	for _, net := range networks {
		if net.External {
			external = append(external, net)
		}
	}
	return external, nil
}
