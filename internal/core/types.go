// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"net/netip"
)

// Flow identifies one direction of one TCP connection (protocol implicit).
// Addresses keep their native family: IPv4 is never stored in mapped form.
type Flow struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
}

func (f Flow) String() string {
	return fmt.Sprintf("%s -> %s",
		netip.AddrPortFrom(f.SrcIP, f.SrcPort), netip.AddrPortFrom(f.DstIP, f.DstPort))
}

// FlowNoSrcPort is the reduced flow identity used for tagged-flow lookups.
// The source port is left out so later connections of the same session still match.
type FlowNoSrcPort struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	DstPort uint16
}

func (f FlowNoSrcPort) String() string {
	return fmt.Sprintf("%s -> %s", f.SrcIP, netip.AddrPortFrom(f.DstIP, f.DstPort))
}

// Tag is the outcome of one successful decode: the client's seed plus the
// decoy address chosen for it.
type Tag struct {
	Seed [16]byte
	Dst  netip.Addr
}
