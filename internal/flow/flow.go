// Package flow derives flow identities and tracks their lifecycle.
package flow

import (
	"net/netip"

	"firestige.xyz/decoystation/internal/core"
	"firestige.xyz/decoystation/internal/core/decoder"
)

// TLSPort is the only destination port the station inspects.
const TLSPort = 443

// NewFlow builds the 5-tuple identity of one dissected TCP packet.
func NewFlow(ip decoder.IPPacket, tcp decoder.TCPSegment) core.Flow {
	return core.Flow{
		SrcIP:   ip.Src(),
		DstIP:   ip.Dst(),
		SrcPort: tcp.SrcPort(),
		DstPort: tcp.DstPort(),
	}
}

// FromFlow drops the source port.
func FromFlow(f core.Flow) core.FlowNoSrcPort {
	return core.FlowNoSrcPort{SrcIP: f.SrcIP, DstIP: f.DstIP, DstPort: f.DstPort}
}

func FromParts(src, dst netip.Addr, port uint16) core.FlowNoSrcPort {
	return core.FlowNoSrcPort{SrcIP: src, DstIP: dst, DstPort: port}
}
