// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provision

import (
	gooseerrors "github.com/go-goose/goose/v5/errors"
	"github.com/juju/errors"
)

const (
	// ErrAuthExpired reports that the provider rejected our
	// credential. It is the only provisioning failure that escalates
	// beyond the worker that hit it.
	ErrAuthExpired = errors.ConstError("provider credential rejected")

	// ErrNotReady reports that a resource failed to reach a usable
	// state before its deadline. It is a normal hunt outcome, not an
	// escalation: release and reserve afresh.
	ErrNotReady = errors.ConstError("resource never became ready")
)

// classify maps a goose error onto the hunt's taxonomy. Unauthorised
// responses become ErrAuthExpired; anything else is left as is and
// treated as transient by the caller.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if gooseerrors.IsUnauthorised(err) {
		return errors.WithType(err, ErrAuthExpired)
	}
	return err
}

// IsAuthFailure reports whether err means our credential is no longer
// valid.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// IsNotReady reports whether err is a readiness timeout or failure.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}
