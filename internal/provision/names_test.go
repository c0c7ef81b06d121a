// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provision

import (
	"math/rand"
	"regexp"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type namesSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&namesSuite{})

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*[a-z0-9]$`)

func (s *namesSuite) TestNamesAreValidHostnames(c *gc.C) {
	g := newNameGenerator(rand.New(rand.NewSource(7)))
	for i := 0; i < 500; i++ {
		name := g.next()
		c.Assert(validName.MatchString(name), jc.IsTrue, gc.Commentf("name %q", name))
		c.Assert(len(name) <= 63, jc.IsTrue, gc.Commentf("name %q too long", name))
	}
}

func (s *namesSuite) TestNamesVary(c *gc.C) {
	g := newNameGenerator(rand.New(rand.NewSource(7)))
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[g.next()] = true
	}
	c.Check(len(seen) > 95, jc.IsTrue, gc.Commentf("only %d distinct names", len(seen)))
}
