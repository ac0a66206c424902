// Package decoder implements the L2-L4 frame dissector.
//
// Every view in this package is a value type over sub-slices of the frame it
// was produced from: nothing is copied and nothing outlives the frame.
package decoder

// Dissect translates one captured Ethernet frame into an IP packet view.
// It returns ok=false for non-IP frames and for buffers too short to hold the
// headers they announce. It never allocates and never panics.
func Dissect(frame []byte) (pkt IPPacket, ok bool) {
	payload, etherType, ok := decodeEthernet(frame)
	if !ok {
		return IPPacket{}, false
	}

	switch etherType {
	case etherTypeIPv4:
		return decodeIPv4(payload)
	case etherTypeIPv6:
		return decodeIPv6(payload)
	default:
		return IPPacket{}, false
	}
}
