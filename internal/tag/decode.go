package tag

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"firestige.xyz/decoystation/internal/core"
)

const (
	keyLen   = 16
	nonceLen = 12

	// plaintext layout: seed(16) | vsp length(2) | flags(1) | reserved(2)
	plaintextLen = 21
	sealedLen    = plaintextLen + 16

	hkdfInfo = "decoy-station tag v1"
)

// Payload is the content of a successfully opened tag.
type Payload struct {
	Seed  [16]byte
	Flags uint8
}

// Decoder recovers a Payload from the TCP payload of a TLS application-data
// record. Implementations must return an error, never panic, on malformed input.
type Decoder interface {
	Decode(key *PrivateKey, payload []byte) (Payload, error)
}

// V1 is the tag format version 1 decoder.
type V1 struct{}

// Decode implements Decoder for V1 carriers.
func (V1) Decode(key *PrivateKey, payload []byte) (Payload, error) {
	return Decode(key, payload)
}

// Decode opens the tag carried in the last CarrierLen bytes of the record body.
// Failure is the normal outcome for untagged traffic.
func Decode(key *PrivateKey, payload []byte) (Payload, error) {
	if len(payload) < MinRecordLen {
		return Payload{}, core.ErrShortRecord
	}
	body := payload[RecordHeaderLen:]
	raw := extractTag(body[len(body)-CarrierLen:])

	var rep [KeySize]byte
	copy(rep[:], raw[:KeySize])
	rep[31] &= repMask

	u := representativeToU(&rep)
	shared, err := key.sharedSecret(u[:])
	if err != nil {
		return Payload{}, err
	}

	aead, nonce, err := tagCipher(shared, rep[:])
	if err != nil {
		return Payload{}, err
	}

	plain := make([]byte, 0, plaintextLen)
	plain, err = aead.Open(plain, nonce, raw[KeySize:], nil)
	if err != nil {
		return Payload{}, core.ErrTagMismatch
	}
	return parsePlaintext(plain)
}

// tagCipher derives the AES-128-GCM key and nonce from the shared secret,
// salted with the masked representative.
func tagCipher(shared, rep []byte) (cipher.AEAD, []byte, error) {
	kdf := hkdf.New(sha256.New, shared, rep, []byte(hkdfInfo))
	material := make([]byte, keyLen+nonceLen)
	if _, err := io.ReadFull(kdf, material); err != nil {
		return nil, nil, fmt.Errorf("derive tag key: %w", err)
	}

	block, err := aes.NewCipher(material[:keyLen])
	if err != nil {
		return nil, nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	return aead, material[keyLen:], nil
}

func parsePlaintext(plain []byte) (Payload, error) {
	if len(plain) != plaintextLen {
		return Payload{}, core.ErrTagVersion
	}
	// Variable-size payloads are not part of v1.
	if binary.BigEndian.Uint16(plain[16:18]) != 0 {
		return Payload{}, core.ErrTagVersion
	}

	var p Payload
	copy(p.Seed[:], plain[:16])
	p.Flags = plain[18]
	return p, nil
}
