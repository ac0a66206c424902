// Package decoder implements protocol decoding.
package decoder

import "encoding/binary"

const (
	// Ethernet constants
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4

	// EtherType values
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
)

// decodeEthernet strips the Ethernet header and at most one 802.1Q tag.
// Returns the L3 payload and the EtherType that describes it.
func decodeEthernet(data []byte) ([]byte, uint16, bool) {
	if len(data) < ethernetHeaderLen {
		return nil, 0, false
	}

	etherType := binary.BigEndian.Uint16(data[12:14])
	payload := data[ethernetHeaderLen:]

	// Single VLAN tag: 2 bytes TCI, then the inner EtherType.
	// Stacked tags are not unwrapped; the inner 0x8100 falls through as non-IP.
	if etherType == etherTypeVLAN {
		if len(payload) < vlanHeaderLen {
			return nil, 0, false
		}
		etherType = binary.BigEndian.Uint16(payload[2:4])
		payload = payload[vlanHeaderLen:]
	}

	return payload, etherType, true
}
