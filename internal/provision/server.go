// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provision

import (
	"math/rand"
	"sync"
	"time"

	"github.com/go-goose/goose/v5/nova"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
)

// novaOps is the slice of the nova API the server reserver uses.
type novaOps interface {
	RunServer(opts nova.RunServerOpts) (*nova.Entity, error)
	GetServer(serverId string) (*nova.ServerDetail, error)
	DeleteServer(serverId string) error
	ListFlavorsDetail() ([]nova.FlavorDetail, error)
}

// ServerSpec describes the throwaway servers a hunt boots.
type ServerSpec struct {
	FlavorId  string
	ImageId   string
	NetworkId string

	// VolumeSizeGB sizes the boot-from-volume root disk. The image is
	// cloned onto a volume that is deleted with the server, so failed
	// attempts leave nothing behind.
	VolumeSizeGB int

	// AvailabilityZone is optional.
	AvailabilityZone string
}

// Validate checks the mandatory attributes.
func (s ServerSpec) Validate() error {
	if s.FlavorId == "" {
		return errors.NotValidf("empty flavor id")
	}
	if s.ImageId == "" {
		return errors.NotValidf("empty image id")
	}
	if s.NetworkId == "" {
		return errors.NotValidf("empty network id")
	}
	if s.VolumeSizeGB <= 0 {
		return errors.NotValidf("volume size %d", s.VolumeSizeGB)
	}
	return nil
}

// ServerReserver hunts addresses by booting servers and reading the
// addresses they come up with. Servers take a while to build, so
// WaitReady polls until ACTIVE with a deadline.
type ServerReserver struct {
	nova  novaOps
	spec  ServerSpec
	clock clock.Clock

	mu    sync.Mutex
	rand  *rand.Rand
	names *nameGenerator

	// pollInterval is how often WaitReady asks for server status.
	pollInterval time.Duration
}

// NewServerReserver returns a Reserver booting servers per spec.
func NewServerReserver(client novaOps, spec ServerSpec, clk clock.Clock, source rand.Source) (*ServerReserver, error) {
	if client == nil {
		return nil, errors.NotValidf("nil nova client")
	}
	if err := spec.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if clk == nil {
		return nil, errors.NotValidf("nil Clock")
	}
	if source == nil {
		source = rand.NewSource(clk.Now().UnixNano())
	}
	rng := rand.New(source)
	return &ServerReserver{
		nova:         client,
		spec:         spec,
		clock:        clk,
		rand:         rng,
		names:        newNameGenerator(rng),
		pollInterval: 5 * time.Second,
	}, nil
}

// Reserve boots one server. Addresses are not known until WaitReady.
func (r *ServerReserver) Reserve(stop <-chan struct{}) (*Resource, error) {
	r.mu.Lock()
	name := r.names.next()
	r.mu.Unlock()

	configDrive := true
	opts := nova.RunServerOpts{
		Name:     name,
		FlavorId: r.spec.FlavorId,
		Networks: []nova.ServerNetworks{{
			NetworkId: r.spec.NetworkId,
		}},
		SecurityGroupNames: []nova.SecurityGroupName{{
			Name: "default",
		}},
		ConfigDrive:      &configDrive,
		AvailabilityZone: r.spec.AvailabilityZone,
		Metadata: map[string]string{
			"backup_policy": "disabled",
		},
		BlockDeviceMappings: []nova.BlockDeviceMapping{{
			BootIndex:           0,
			UUID:                r.spec.ImageId,
			SourceType:          "image",
			DestinationType:     "volume",
			VolumeSize:          r.spec.VolumeSizeGB,
			DeleteOnTermination: true,
		}},
	}

	server, err := r.nova.RunServer(opts)
	if err != nil {
		return nil, errors.Annotate(classify(err), "booting server")
	}
	logger.Debugf("booted server %q (%s)", name, server.Id)
	return &Resource{Id: server.Id}, nil
}

// WaitReady polls the server until it reaches ACTIVE and fills in the
// addresses it was given. ERROR states and expired deadlines are both
// ErrNotReady: the caller releases the server and starts over.
func (r *ServerReserver) WaitReady(stop <-chan struct{}, res *Resource, timeout time.Duration) error {
	deadline := r.clock.Now().Add(timeout)
	for {
		detail, err := r.nova.GetServer(res.Id)
		if err != nil {
			err = classify(err)
			if IsAuthFailure(err) {
				return errors.Trace(err)
			}
			logger.Debugf("cannot get server %q: %v", res.Id, err)
		} else {
			switch detail.Status {
			case nova.StatusActive:
				res.Addresses = serverAddresses(detail)
				if len(res.Addresses) == 0 {
					return errors.WithType(
						errors.Errorf("server %q is active with no addresses", res.Id), ErrNotReady)
				}
				return nil
			case nova.StatusError:
				message := "no fault details"
				if detail.Fault != nil {
					message = detail.Fault.Message
				}
				return errors.WithType(
					errors.Errorf("server %q entered ERROR state: %s", res.Id, message), ErrNotReady)
			}
			logger.Tracef("server %q status %q", res.Id, detail.Status)
		}

		if !r.clock.Now().Before(deadline) {
			return errors.WithType(
				errors.Errorf("server %q not active after %v", res.Id, timeout), ErrNotReady)
		}
		select {
		case <-stop:
			return errors.WithType(
				errors.Errorf("abandoned wait for server %q", res.Id), ErrNotReady)
		case <-r.clock.After(r.jitteredPoll()):
		}
	}
}

// jitteredPoll spreads status polls a little so a fleet of workers
// does not hammer the API in lockstep.
func (r *ServerReserver) jitteredPoll() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pollInterval + time.Duration(r.rand.Int63n(int64(r.pollInterval)))
}

// Release deletes the server and its boot volume.
func (r *ServerReserver) Release(id string) error {
	err := retry.Call(retry.CallArgs{
		Clock:    r.clock,
		Delay:    2 * time.Second,
		Attempts: 3,
		Func: func() error {
			return classify(r.nova.DeleteServer(id))
		},
		IsFatalError: IsAuthFailure,
		NotifyFunc: func(lastError error, attempt int) {
			logger.Debugf("deleting server %q failed (attempt %d): %v", id, attempt, lastError)
		},
	})
	if retry.IsAttemptsExceeded(err) {
		err = retry.LastError(err)
	}
	return errors.Annotatef(err, "deleting server %q", id)
}

// serverAddresses flattens the per-network address map nova reports.
func serverAddresses(detail *nova.ServerDetail) []string {
	var out []string
	for _, addrs := range detail.Addresses {
		for _, addr := range addrs {
			if addr.Address != "" {
				out = append(out, addr.Address)
			}
		}
	}
	return out
}

// SmallestFlavor returns the flavor with the least RAM, used to
// suggest configuration when no flavor id was supplied.
func SmallestFlavor(client novaOps) (*nova.FlavorDetail, error) {
	flavors, err := client.ListFlavorsDetail()
	if err != nil {
		return nil, errors.Annotate(classify(err), "listing flavors")
	}
	if len(flavors) == 0 {
		return nil, errors.NotFoundf("flavors")
	}
	smallest := flavors[0]
	for _, flavor := range flavors[1:] {
		if flavor.RAM < smallest.RAM {
			smallest = flavor
		}
	}
	return &smallest, nil
}
