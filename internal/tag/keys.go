// Package tag implements the station side of the tag scheme: recovering a
// client seed from a steganographic carrier at the end of a TLS
// application-data record, and the client-side encoder that produces one.
package tag

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/curve25519"

	"firestige.xyz/decoystation/internal/core"
)

// KeySize is the length of Curve25519 scalars and points.
const KeySize = 32

// PrivateKey is the station's long-term Curve25519 key. It is immutable after
// construction and safe to share between shards.
type PrivateKey struct {
	scalar [KeySize]byte
	public PublicKey
}

// PublicKey is the station's Curve25519 public key, as published to clients.
type PublicKey [KeySize]byte

func (k PublicKey) String() string { return hex.EncodeToString(k[:]) }

// ParsePublicKey parses 64 hex characters.
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != KeySize {
		return k, fmt.Errorf("%w: public key must be %d hex-encoded bytes", core.ErrInvalidKey, KeySize)
	}
	copy(k[:], b)
	return k, nil
}

// NewPrivateKey wraps 32 raw scalar bytes.
func NewPrivateKey(b []byte) (*PrivateKey, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", core.ErrInvalidKey, len(b), KeySize)
	}
	k := &PrivateKey{}
	copy(k.scalar[:], b)

	pub, err := curve25519.X25519(k.scalar[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidKey, err)
	}
	copy(k.public[:], pub)
	return k, nil
}

// GenerateKey draws a fresh private key from r.
func GenerateKey(r io.Reader) (*PrivateKey, error) {
	b := make([]byte, KeySize)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return NewPrivateKey(b)
}

// LoadPrivateKey reads a key file holding either 32 raw bytes or 64 hex
// characters (surrounding whitespace ignored).
func LoadPrivateKey(path string) (*PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	if len(data) == KeySize {
		return NewPrivateKey(data)
	}

	trimmed := bytes.TrimSpace(data)
	raw := make([]byte, hex.DecodedLen(len(trimmed)))
	if _, err := hex.Decode(raw, trimmed); err != nil {
		return nil, fmt.Errorf("%w: key file %s is neither raw nor hex", core.ErrInvalidKey, path)
	}
	return NewPrivateKey(raw)
}

// Public returns the matching public key.
func (k *PrivateKey) Public() PublicKey { return k.public }

// MarshalText renders the private key as hex, the format LoadPrivateKey accepts.
func (k *PrivateKey) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(KeySize))
	hex.Encode(out, k.scalar[:])
	return out, nil
}

// sharedSecret runs X25519 against a client point. Low-order points are
// rejected by the underlying implementation.
func (k *PrivateKey) sharedSecret(u []byte) ([]byte, error) {
	s, err := curve25519.X25519(k.scalar[:], u)
	if err != nil {
		return nil, core.ErrLowOrderPoint
	}
	return s, nil
}
