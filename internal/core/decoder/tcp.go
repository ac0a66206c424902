// Package decoder implements protocol decoding.
package decoder

import "encoding/binary"

const tcpHeaderMinLen = 20

// TCP flag bits (lower 6 bits of header byte 13).
const (
	FlagFIN uint8 = 0x01
	FlagSYN uint8 = 0x02
	FlagRST uint8 = 0x04
	FlagPSH uint8 = 0x08
	FlagACK uint8 = 0x10
)

// TCPSegment is a read-only view over a TCP header and its payload.
type TCPSegment struct {
	b      []byte
	hdrLen int
}

// decodeTCP validates the TCP header, including options, against the buffer.
func decodeTCP(data []byte) (TCPSegment, bool) {
	if len(data) < tcpHeaderMinLen {
		return TCPSegment{}, false
	}

	// Data offset is in 32-bit words
	headerLen := int(data[12]>>4) * 4
	if headerLen < tcpHeaderMinLen || len(data) < headerLen {
		return TCPSegment{}, false
	}

	return TCPSegment{b: data, hdrLen: headerLen}, true
}

func (t TCPSegment) SrcPort() uint16 { return binary.BigEndian.Uint16(t.b[0:2]) }
func (t TCPSegment) DstPort() uint16 { return binary.BigEndian.Uint16(t.b[2:4]) }
func (t TCPSegment) Flags() uint8    { return t.b[13] & 0x3F }
func (t TCPSegment) Payload() []byte { return t.b[t.hdrLen:] }

// IsBareSYN reports SYN set with ACK clear: the opening packet of a connection.
func (t TCPSegment) IsBareSYN() bool {
	f := t.Flags()
	return f&FlagSYN != 0 && f&FlagACK == 0
}

// IsTeardown reports RST or FIN.
func (t TCPSegment) IsTeardown() bool {
	return t.Flags()&(FlagRST|FlagFIN) != 0
}
