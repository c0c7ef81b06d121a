// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package iprange holds the target address set a hunt is trying to
// land in, and answers membership queries for candidate addresses.
package iprange

import (
	"net/netip"
	"strings"

	cidrman "github.com/EvilSuperstars/go-cidrman"
	"github.com/juju/errors"
)

// Range is a single inclusive interval of IP addresses.
type Range struct {
	Lo netip.Addr
	Hi netip.Addr
}

// Contains reports whether addr falls inside the interval.
func (r Range) Contains(addr netip.Addr) bool {
	return r.Lo.Compare(addr) <= 0 && addr.Compare(r.Hi) <= 0
}

func (r Range) String() string {
	return r.Lo.String() + "-" + r.Hi.String()
}

// Set is an ordered collection of inclusive ranges with union
// membership semantics. Overlapping or unsorted ranges are fine;
// membership is a linear scan since target sets are small. Nothing
// here precludes swapping in an interval tree should that change.
type Set []Range

// ParseSet parses a list of target specifications. Each entry is one
// of:
//
//   - an inclusive range "10.0.0.1-10.0.0.99"
//   - a CIDR block "10.0.0.0/24"
//   - a single address "10.0.0.7"
//
// CIDR entries are merged with cidrman first so that adjacent and
// overlapping blocks collapse into the minimal covering set.
func ParseSet(specs []string) (Set, error) {
	var set Set
	var cidrs []string
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		switch {
		case strings.Contains(spec, "/"):
			if _, err := netip.ParsePrefix(spec); err != nil {
				return nil, errors.NotValidf("target CIDR %q", spec)
			}
			cidrs = append(cidrs, spec)
		case strings.Contains(spec, "-"):
			r, err := parseRange(spec)
			if err != nil {
				return nil, errors.Trace(err)
			}
			set = append(set, r)
		default:
			addr, err := netip.ParseAddr(spec)
			if err != nil {
				return nil, errors.NotValidf("target address %q", spec)
			}
			addr = addr.Unmap()
			set = append(set, Range{Lo: addr, Hi: addr})
		}
	}
	if len(cidrs) > 0 {
		merged, err := cidrman.MergeCIDRs(cidrs)
		if err != nil {
			return nil, errors.Annotate(err, "merging target CIDRs")
		}
		for _, cidr := range merged {
			prefix, err := netip.ParsePrefix(cidr)
			if err != nil {
				return nil, errors.NotValidf("merged CIDR %q", cidr)
			}
			set = append(set, prefixRange(prefix))
		}
	}
	if len(set) == 0 {
		return nil, errors.NotValidf("empty target range set")
	}
	return set, nil
}

func parseRange(spec string) (Range, error) {
	parts := strings.SplitN(spec, "-", 2)
	lo, err := netip.ParseAddr(strings.TrimSpace(parts[0]))
	if err != nil {
		return Range{}, errors.NotValidf("range start in %q", spec)
	}
	hi, err := netip.ParseAddr(strings.TrimSpace(parts[1]))
	if err != nil {
		return Range{}, errors.NotValidf("range end in %q", spec)
	}
	lo, hi = lo.Unmap(), hi.Unmap()
	if lo.Is4() != hi.Is4() {
		return Range{}, errors.NotValidf("mixed address families in %q", spec)
	}
	if hi.Less(lo) {
		return Range{}, errors.NotValidf("inverted range %q", spec)
	}
	return Range{Lo: lo, Hi: hi}, nil
}

func prefixRange(prefix netip.Prefix) Range {
	lo := prefix.Masked().Addr()
	raw := lo.AsSlice()
	for i := prefix.Bits(); i < len(raw)*8; i++ {
		raw[i/8] |= 1 << (7 - i%8)
	}
	hi, _ := netip.AddrFromSlice(raw)
	return Range{Lo: lo, Hi: hi.Unmap()}
}

// Contains reports whether the textual address falls inside any range
// of the set. Malformed input is simply not a member; membership is
// total and never errors.
func (s Set) Contains(address string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, r := range s {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// ContainsAny returns the first member of addresses that falls inside
// the set.
func (s Set) ContainsAny(addresses []string) (string, bool) {
	for _, address := range addresses {
		if s.Contains(address) {
			return address, true
		}
	}
	return "", false
}

func (s Set) String() string {
	specs := make([]string, len(s))
	for i, r := range s {
		specs[i] = r.String()
	}
	return strings.Join(specs, ",")
}
