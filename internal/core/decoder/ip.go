// Package decoder implements protocol decoding.
package decoder

import (
	"encoding/binary"
	"net/netip"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40

	// ProtocolTCP is the IP protocol number of TCP.
	ProtocolTCP = 6
)

// Version discriminates the IPPacket sum type.
type Version uint8

const (
	V4 Version = 4
	V6 Version = 6
)

// IPv4 is a read-only view over an IPv4 packet.
type IPv4 struct {
	b      []byte // header + payload, clamped to Total Length when consistent
	hdrLen int
}

// IPv6 is a read-only view over an IPv6 packet. Extension headers are not walked.
type IPv6 struct {
	b []byte
}

// IPPacket is either an IPv4 or an IPv6 view. The zero value is neither.
type IPPacket struct {
	version Version
	v4      IPv4
	v6      IPv6
}

// decodeIPv4 validates the IPv4 header and builds the view.
func decodeIPv4(data []byte) (IPPacket, bool) {
	if len(data) < ipv4HeaderMinLen || data[0]>>4 != 4 {
		return IPPacket{}, false
	}

	// IHL is in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || len(data) < headerLen {
		return IPPacket{}, false
	}

	// Drop Ethernet padding; keep the captured bytes if Total Length is bogus
	totalLen := int(binary.BigEndian.Uint16(data[2:4]))
	if totalLen >= headerLen && totalLen <= len(data) {
		data = data[:totalLen]
	}

	return IPPacket{version: V4, v4: IPv4{b: data, hdrLen: headerLen}}, true
}

// decodeIPv6 validates the fixed IPv6 header and builds the view.
func decodeIPv6(data []byte) (IPPacket, bool) {
	if len(data) < ipv6HeaderLen || data[0]>>4 != 6 {
		return IPPacket{}, false
	}

	// Payload Length 0 means jumbogram; keep the captured bytes then
	payloadLen := int(binary.BigEndian.Uint16(data[4:6]))
	if payloadLen > 0 && ipv6HeaderLen+payloadLen <= len(data) {
		data = data[:ipv6HeaderLen+payloadLen]
	}

	return IPPacket{version: V6, v6: IPv6{b: data}}, true
}

func (p IPv4) Src() netip.Addr { return netip.AddrFrom4([4]byte(p.b[12:16])) }
func (p IPv4) Dst() netip.Addr { return netip.AddrFrom4([4]byte(p.b[16:20])) }
func (p IPv4) Protocol() uint8 { return p.b[9] }
func (p IPv4) TTL() uint8      { return p.b[8] }
func (p IPv4) Bytes() []byte   { return p.b }
func (p IPv4) Payload() []byte { return p.b[p.hdrLen:] }

// IsFragment reports whether this is a fragment other than the first one;
// such packets carry no transport header.
func (p IPv4) IsFragment() bool {
	return binary.BigEndian.Uint16(p.b[6:8])&0x1FFF != 0
}

func (p IPv6) Src() netip.Addr   { return netip.AddrFrom16([16]byte(p.b[8:24])) }
func (p IPv6) Dst() netip.Addr   { return netip.AddrFrom16([16]byte(p.b[24:40])) }
func (p IPv6) NextHeader() uint8 { return p.b[6] }
func (p IPv6) HopLimit() uint8   { return p.b[7] }
func (p IPv6) Bytes() []byte     { return p.b }
func (p IPv6) Payload() []byte   { return p.b[ipv6HeaderLen:] }

// Version returns V4, V6, or 0 for the zero value.
func (p IPPacket) Version() Version { return p.version }

// V4 returns the IPv4 view if this packet is IPv4.
func (p IPPacket) V4() (IPv4, bool) { return p.v4, p.version == V4 }

// V6 returns the IPv6 view if this packet is IPv6.
func (p IPPacket) V6() (IPv6, bool) { return p.v6, p.version == V6 }

func (p IPPacket) Src() netip.Addr {
	switch p.version {
	case V4:
		return p.v4.Src()
	case V6:
		return p.v6.Src()
	}
	return netip.Addr{}
}

func (p IPPacket) Dst() netip.Addr {
	switch p.version {
	case V4:
		return p.v4.Dst()
	case V6:
		return p.v6.Dst()
	}
	return netip.Addr{}
}

// Protocol returns the IPv4 protocol or the IPv6 next header.
func (p IPPacket) Protocol() uint8 {
	switch p.version {
	case V4:
		return p.v4.Protocol()
	case V6:
		return p.v6.NextHeader()
	}
	return 0
}

// Bytes returns the whole IP packet, header and payload, exactly as received.
func (p IPPacket) Bytes() []byte {
	switch p.version {
	case V4:
		return p.v4.Bytes()
	case V6:
		return p.v6.Bytes()
	}
	return nil
}

// TCP returns the enclosed TCP segment, if the packet carries a complete TCP header.
func (p IPPacket) TCP() (TCPSegment, bool) {
	switch p.version {
	case V4:
		if p.v4.Protocol() != ProtocolTCP || p.v4.IsFragment() {
			return TCPSegment{}, false
		}
		return decodeTCP(p.v4.Payload())
	case V6:
		if p.v6.NextHeader() != ProtocolTCP {
			return TCPSegment{}, false
		}
		return decodeTCP(p.v6.Payload())
	}
	return TCPSegment{}, false
}
