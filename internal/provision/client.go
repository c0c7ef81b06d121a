// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package provision reserves, inspects and releases the short-lived
// OpenStack resources a hunt churns through. Two resource kinds are
// supported: neutron floating IPs, which carry their address from the
// moment of allocation, and nova servers, which have to be polled
// until they come up with addresses attached.
package provision

import (
	"github.com/go-goose/goose/v5/client"
	"github.com/go-goose/goose/v5/identity"
	"github.com/go-goose/goose/v5/neutron"
	"github.com/go-goose/goose/v5/nova"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("magpie.provision")

// Credentials carries everything needed to open an authenticated
// OpenStack session.
type Credentials struct {
	AuthURL       string
	Username      string
	Password      string
	ProjectName   string
	UserDomain    string
	ProjectDomain string
	Region        string

	// SkipTLSVerify disables endpoint certificate validation, for
	// clouds fronted by self-signed certificates.
	SkipTLSVerify bool
}

// Validate checks the mandatory attributes.
func (c Credentials) Validate() error {
	if c.AuthURL == "" {
		return errors.NotValidf("empty auth URL")
	}
	if c.Username == "" {
		return errors.NotValidf("empty username")
	}
	if c.Password == "" {
		return errors.NotValidf("empty password")
	}
	return nil
}

// Session bundles the authenticated goose clients for one cloud.
type Session struct {
	Nova    *nova.Client
	Neutron *neutron.Client
}

// NewSession authenticates against the cloud and returns clients for
// the compute and networking services. A rejected credential comes
// back as ErrAuthExpired so the caller can stop the whole hunt rather
// than retry.
func NewSession(creds Credentials) (*Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	cred := identity.Credentials{
		URL:           creds.AuthURL,
		User:          creds.Username,
		Secrets:       creds.Password,
		TenantName:    creds.ProjectName,
		Region:        creds.Region,
		UserDomain:    creds.UserDomain,
		ProjectDomain: creds.ProjectDomain,
	}
	// Keystone v3 is the norm; fall back to v2 only when no domain
	// information is supplied at all.
	authMode := identity.AuthUserPass
	if cred.UserDomain != "" || cred.ProjectDomain != "" {
		authMode = identity.AuthUserPassV3
	}

	var authClient client.AuthenticatingClient
	if creds.SkipTLSVerify {
		logger.Warningf("TLS certificate validation disabled for %q", creds.AuthURL)
		authClient = client.NewNonValidatingClient(&cred, authMode, nil)
	} else {
		authClient = client.NewClient(&cred, authMode, nil)
	}

	if err := authClient.Authenticate(); err != nil {
		logger.Debugf("Authenticate() failed: %v", err)
		return nil, errors.Annotate(classify(err), "authenticating with cloud")
	}

	return &Session{
		Nova:    nova.New(authClient),
		Neutron: neutron.New(authClient),
	}, nil
}
