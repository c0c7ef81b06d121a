// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provision

import (
	"math/rand"
	"strings"
)

const (
	nameLetters = "abcdefghijklmnopqrstuvwxyz"
	nameAlnum   = "abcdefghijklmnopqrstuvwxyz0123456789"
	nameDigits  = "0123456789"
)

// nameGenerator produces server names in a handful of shapes so a
// sequence of hunt servers does not share an obvious common prefix.
// Callers serialize access.
type nameGenerator struct {
	rand *rand.Rand
}

func newNameGenerator(rng *rand.Rand) *nameGenerator {
	return &nameGenerator{rand: rng}
}

func (g *nameGenerator) next() string {
	switch g.rand.Intn(6) {
	case 0:
		return g.chunk(nameLetters, 4, 7) + "-" + g.chunk(nameLetters, 4, 6) + "-" + g.chunk(nameAlnum, 4, 8)
	case 1:
		return g.chunk(nameLetters, 3, 5) + "-" + g.chunk(nameLetters, 3, 5) + "-" + g.chunk(nameLetters, 3, 5)
	case 2:
		return g.chunk(nameLetters, 5, 8) + "-" + g.chunk(nameAlnum, 6, 10)
	case 3:
		return g.chunk(nameLetters, 4, 7) + "-" + g.chunk(nameDigits, 4, 8)
	case 4:
		return g.chunk(nameDigits, 3, 6) + "-" + g.chunk(nameLetters, 4, 7)
	default:
		return g.chunk(nameAlnum, 8, 15)
	}
}

// chunk draws a random-length string from the given alphabet. The
// first character is always a letter so names stay valid hostnames.
func (g *nameGenerator) chunk(alphabet string, min, max int) string {
	n := min + g.rand.Intn(max-min+1)
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		if i == 0 && alphabet != nameDigits {
			b.WriteByte(nameLetters[g.rand.Intn(len(nameLetters))])
			continue
		}
		b.WriteByte(alphabet[g.rand.Intn(len(alphabet))])
	}
	return b.String()
}
