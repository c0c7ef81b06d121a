// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provision

import (
	gooseerrors "github.com/go-goose/goose/v5/errors"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type clientSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&clientSuite{})

func validCredentials() Credentials {
	return Credentials{
		AuthURL:       "https://keystone.example.com:5000/v3",
		Username:      "hunter",
		Password:      "sekrit",
		ProjectName:   "hunting",
		UserDomain:    "users",
		ProjectDomain: "default",
		Region:        "RegionOne",
	}
}

func (s *clientSuite) TestCredentialsValidate(c *gc.C) {
	c.Check(validCredentials().Validate(), jc.ErrorIsNil)

	creds := validCredentials()
	creds.AuthURL = ""
	c.Check(creds.Validate(), jc.ErrorIs, errors.NotValid)

	creds = validCredentials()
	creds.Username = ""
	c.Check(creds.Validate(), jc.ErrorIs, errors.NotValid)

	creds = validCredentials()
	creds.Password = ""
	c.Check(creds.Validate(), jc.ErrorIs, errors.NotValid)
}

func (s *clientSuite) TestNewSessionValidates(c *gc.C) {
	_, err := NewSession(Credentials{})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *clientSuite) TestClassify(c *gc.C) {
	c.Check(classify(nil), jc.ErrorIsNil)

	plain := errors.New("conflict")
	c.Check(classify(plain), gc.Equals, plain)
	c.Check(IsAuthFailure(classify(plain)), jc.IsFalse)

	unauth := gooseerrors.NewUnauthorisedf(nil, "", "bad token")
	c.Check(IsAuthFailure(classify(unauth)), jc.IsTrue)
	c.Check(IsNotReady(classify(unauth)), jc.IsFalse)
}
