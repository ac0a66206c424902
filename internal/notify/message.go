package notify

import (
	"fmt"
	"net/netip"

	"firestige.xyz/decoystation/internal/core"
)

// RegistrationLen is the fixed size of a registration message:
// seed(16) | destination address(16).
const RegistrationLen = 32

// EncodeRegistration lays out a tag on the wire. IPv6 destinations are written
// as their 16 raw bytes, IPv4 destinations in IPv4-mapped form (::ffff:a.b.c.d).
func EncodeRegistration(tag core.Tag) [RegistrationLen]byte {
	var msg [RegistrationLen]byte
	copy(msg[:16], tag.Seed[:])
	addr := tag.Dst.As16()
	copy(msg[16:], addr[:])
	return msg
}

// DecodeRegistration is the inverse of EncodeRegistration. Mapped addresses
// come back as plain IPv4.
func DecodeRegistration(b []byte) (core.Tag, error) {
	if len(b) != RegistrationLen {
		return core.Tag{}, fmt.Errorf("%w: %d bytes", core.ErrBadRegistration, len(b))
	}
	var tag core.Tag
	copy(tag.Seed[:], b[:16])
	tag.Dst = netip.AddrFrom16([16]byte(b[16:32])).Unmap()
	return tag, nil
}
