package tag

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// maxKeyAttempts bounds the search for a representable ephemeral key.
// Each attempt succeeds with probability about 1/2.
const maxKeyAttempts = 128

// Encoder builds tagged records addressed to one station. It is what a
// client does; the station uses it only to test deployments.
type Encoder struct {
	station PublicKey
	rand    io.Reader
}

// NewEncoder returns an encoder for the given station key. A nil reader
// selects crypto/rand.
func NewEncoder(station PublicKey, r io.Reader) *Encoder {
	if r == nil {
		r = rand.Reader
	}
	return &Encoder{station: station, rand: r}
}

// Encode returns a complete TLS application-data record whose body is
// bodyLen bytes long and ends with a carrier for seed and flags.
func (e *Encoder) Encode(seed [16]byte, flags uint8, bodyLen int) ([]byte, error) {
	if bodyLen < CarrierLen || bodyLen > 0xffff {
		return nil, fmt.Errorf("body length %d out of range [%d, %d]", bodyLen, CarrierLen, 0xffff)
	}

	priv, rep, err := e.representableKey()
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(priv, e.station[:])
	if err != nil {
		return nil, fmt.Errorf("station key: %w", err)
	}
	aead, nonce, err := tagCipher(shared, rep[:])
	if err != nil {
		return nil, err
	}

	plain := make([]byte, plaintextLen)
	copy(plain, seed[:])
	plain[18] = flags

	var raw [TagLen]byte
	copy(raw[:KeySize], rep[:])
	copy(raw[KeySize:], aead.Seal(nil, nonce, plain, nil))

	// Hide the fixed zero top bits of the representative.
	var noise [1]byte
	if _, err := io.ReadFull(e.rand, noise[:]); err != nil {
		return nil, err
	}
	raw[31] |= noise[0] &^ repMask

	record := make([]byte, RecordHeaderLen+bodyLen)
	record[0], record[1], record[2] = 0x17, 0x03, 0x03
	binary.BigEndian.PutUint16(record[3:5], uint16(bodyLen))

	body := record[RecordHeaderLen:]
	if _, err := io.ReadFull(e.rand, body[:bodyLen-CarrierLen]); err != nil {
		return nil, err
	}
	if err := embedTag(&raw, body[bodyLen-CarrierLen:], e.rand); err != nil {
		return nil, err
	}
	return record, nil
}

// representableKey draws ephemeral keys until one has an Elligator2
// representative.
func (e *Encoder) representableKey() ([]byte, [KeySize]byte, error) {
	priv := make([]byte, KeySize)
	for i := 0; i < maxKeyAttempts; i++ {
		if _, err := io.ReadFull(e.rand, priv); err != nil {
			return nil, [KeySize]byte{}, err
		}
		pub, err := curve25519.X25519(priv, curve25519.Basepoint)
		if err != nil {
			continue
		}
		var u [KeySize]byte
		copy(u[:], pub)
		if rep, ok := uToRepresentative(&u); ok {
			return priv, rep, nil
		}
	}
	return nil, [KeySize]byte{}, errors.New("no representable ephemeral key found")
}
