// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provision

import (
	"time"
)

// Resource is one reserved, address-bearing provider object. It
// exists from the moment reservation succeeds until it is released or
// promoted to the hunt's final result, and is only ever touched by
// the worker that reserved it.
type Resource struct {
	Id        string
	Addresses []string
}

// Reserver acquires, readies and releases resources of one kind.
//
// Reserve and WaitReady observe stop between network calls; a call
// already in flight is always allowed to finish. WaitReady failures
// and timeouts surface as ErrNotReady; rejected credentials surface
// as ErrAuthExpired from any operation.
type Reserver interface {
	// Reserve acquires a fresh resource. The returned resource may
	// not yet carry addresses.
	Reserve(stop <-chan struct{}) (*Resource, error)

	// WaitReady blocks until the resource is usable and fills in its
	// addresses, or fails with ErrNotReady within the timeout.
	WaitReady(stop <-chan struct{}, res *Resource, timeout time.Duration) error

	// Release gives the resource back to the provider. Best effort
	// retries are the implementation's business; an error means the
	// resource may have leaked.
	Release(id string) error
}
