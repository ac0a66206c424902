package tag

import "io"

const (
	// RecordHeaderLen is the TLS record header skipped before the body.
	RecordHeaderLen = 5
	// CarrierLen is the number of trailing body bytes holding the tag.
	CarrierLen = 92
	// TagLen is the number of tag bytes recovered from the carrier.
	TagLen = CarrierLen / 4 * 3

	// MinRecordLen is the shortest record that can carry a tag.
	MinRecordLen = RecordHeaderLen + CarrierLen
)

// extractTag reads 6 bits from each carrier byte, 4 carrier bytes per 3 tag
// bytes. carrier must be exactly CarrierLen bytes.
func extractTag(carrier []byte) [TagLen]byte {
	var out [TagLen]byte
	for i, j := 0, 0; i+4 <= len(carrier) && j+3 <= TagLen; i, j = i+4, j+3 {
		v := uint32(carrier[i]&0x3f)<<18 |
			uint32(carrier[i+1]&0x3f)<<12 |
			uint32(carrier[i+2]&0x3f)<<6 |
			uint32(carrier[i+3]&0x3f)
		out[j] = byte(v >> 16)
		out[j+1] = byte(v >> 8)
		out[j+2] = byte(v)
	}
	return out
}

// embedTag is the inverse of extractTag. The two high bits of every carrier
// byte come from rand.
func embedTag(tag *[TagLen]byte, carrier []byte, rand io.Reader) error {
	if _, err := io.ReadFull(rand, carrier[:CarrierLen]); err != nil {
		return err
	}
	for i, j := 0, 0; j < TagLen; i, j = i+4, j+3 {
		v := uint32(tag[j])<<16 | uint32(tag[j+1])<<8 | uint32(tag[j+2])
		carrier[i] = carrier[i]&0xc0 | byte(v>>18)&0x3f
		carrier[i+1] = carrier[i+1]&0xc0 | byte(v>>12)&0x3f
		carrier[i+2] = carrier[i+2]&0xc0 | byte(v>>6)&0x3f
		carrier[i+3] = carrier[i+3]&0xc0 | byte(v)&0x3f
	}
	return nil
}
