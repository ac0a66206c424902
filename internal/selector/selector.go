// Package selector maps a decoded seed to one decoy address inside the
// configured ranges.
package selector

import (
	"fmt"
	"math/big"
	"net/netip"
	"strings"

	"go4.org/netipx"

	"firestige.xyz/decoystation/internal/core"
)

// DefaultRanges is used when no decoy range is configured.
var DefaultRanges = []string{"192.122.190.0/24"}

type span struct {
	from netip.Addr
	size *big.Int
}

// Selector is immutable after New and safe for concurrent use.
type Selector struct {
	set   *netipx.IPSet
	spans []span
	total *big.Int
}

// New parses the prefixes into a set. Overlapping prefixes are merged, so an
// address is never counted twice. Malformed input or an empty set is an error.
func New(prefixes []string) (*Selector, error) {
	var sb netipx.IPSetBuilder
	for _, s := range prefixes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("decoy range %q: %w", s, err)
		}
		sb.AddPrefix(p.Masked())
	}
	set, err := sb.IPSet()
	if err != nil {
		return nil, fmt.Errorf("build decoy set: %w", err)
	}

	sel := &Selector{set: set, total: new(big.Int)}
	for _, r := range set.Ranges() {
		size := new(big.Int).Sub(addrInt(r.To()), addrInt(r.From()))
		size.Add(size, big.NewInt(1))
		sel.spans = append(sel.spans, span{from: r.From(), size: size})
		sel.total.Add(sel.total, size)
	}
	if sel.total.Sign() == 0 {
		return nil, core.ErrNoAddress
	}
	return sel, nil
}

// Select reads the seed as a big-endian integer, reduces it modulo the number
// of addresses in the set and returns the address at that offset, walking
// ranges in ascending order.
func (s *Selector) Select(seed [16]byte) (netip.Addr, error) {
	if s == nil || s.total.Sign() == 0 {
		return netip.Addr{}, core.ErrNoAddress
	}

	off := new(big.Int).SetBytes(seed[:])
	off.Mod(off, s.total)
	for _, sp := range s.spans {
		if off.Cmp(sp.size) < 0 {
			return addrAdd(sp.from, off), nil
		}
		off.Sub(off, sp.size)
	}
	return netip.Addr{}, core.ErrNoAddress
}

// Contains reports whether addr belongs to the set.
func (s *Selector) Contains(addr netip.Addr) bool { return s.set.Contains(addr) }

// Size is the number of selectable addresses.
func (s *Selector) Size() *big.Int { return new(big.Int).Set(s.total) }

func (s *Selector) String() string {
	var out []string
	for _, p := range s.set.Prefixes() {
		out = append(out, p.String())
	}
	return strings.Join(out, ",")
}

func addrInt(a netip.Addr) *big.Int {
	return new(big.Int).SetBytes(a.AsSlice())
}

func addrAdd(base netip.Addr, off *big.Int) netip.Addr {
	v := addrInt(base)
	v.Add(v, off)
	if base.Is4() {
		var b [4]byte
		v.FillBytes(b[:])
		return netip.AddrFrom4(b)
	}
	var b [16]byte
	v.FillBytes(b[:])
	return netip.AddrFrom16(b)
}
