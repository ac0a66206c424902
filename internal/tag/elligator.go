package tag

import "filippo.io/edwards25519/field"

// Elligator2 over Curve25519 (Montgomery form v^2 = u^3 + A*u^2 + u) with the
// non-square constant 2. Representatives are field elements in [0, (p-1)/2],
// encoded little-endian in 32 bytes whose top two bits are free.

const (
	curveA  = 486662
	repMask = byte(0x3f)
)

var (
	feOne  = new(field.Element).One()
	feA    = new(field.Element).Mult32(feOne, curveA)
	feNegA = new(field.Element).Negate(feA)

	// (p-1)/2, little-endian
	halfP = [KeySize]byte{
		0xf6, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x3f,
	}
)

// representativeToU maps a representative to the u-coordinate of a curve
// point. Every input maps to some point; the top two bits of rep[31] are ignored.
func representativeToU(rep *[KeySize]byte) [KeySize]byte {
	var masked [KeySize]byte
	copy(masked[:], rep[:])
	masked[31] &= repMask

	var r field.Element
	if _, err := r.SetBytes(masked[:]); err != nil {
		panic(err) // unreachable: input is always 32 bytes
	}

	// w = -A / (1 + 2r^2). The denominator is never zero: -1/2 is not a square.
	var den, w field.Element
	den.Square(&r)
	den.Add(&den, &den)
	den.Add(&den, feOne)
	w.Invert(&den)
	w.Multiply(&w, feNegA)

	// g(w) = w^3 + A*w^2 + w = w*(w*(w + A) + 1)
	var g field.Element
	g.Add(&w, feA)
	g.Multiply(&g, &w)
	g.Add(&g, feOne)
	g.Multiply(&g, &w)

	_, square := new(field.Element).SqrtRatio(&g, feOne)

	// u = w when g(w) is square, otherwise -w - A
	var alt, u field.Element
	alt.Negate(&w)
	alt.Subtract(&alt, feA)
	u.Select(&w, &alt, square)

	var out [KeySize]byte
	copy(out[:], u.Bytes())
	return out
}

// uToRepresentative is the inverse for points whose u-coordinate is the
// direct image of the map. About half of all public keys qualify; the caller
// retries with a fresh key otherwise.
func uToRepresentative(pub *[KeySize]byte) ([KeySize]byte, bool) {
	var u field.Element
	if _, err := u.SetBytes(pub[:]); err != nil {
		return [KeySize]byte{}, false
	}
	// Reject non-canonical encodings (u >= p or the top bit set).
	if string(u.Bytes()) != string(pub[:]) {
		return [KeySize]byte{}, false
	}

	var zero, uPlusA field.Element
	uPlusA.Add(&u, feA)
	if u.Equal(&zero) == 1 || uPlusA.Equal(&zero) == 1 {
		return [KeySize]byte{}, false
	}

	// r^2 = -(u + A) / (2u)
	var num, den field.Element
	num.Negate(&uPlusA)
	den.Add(&u, &u)
	r, square := new(field.Element).SqrtRatio(&num, &den)
	if square == 0 {
		return [KeySize]byte{}, false
	}

	var out [KeySize]byte
	copy(out[:], r.Bytes())
	if aboveHalf(&out) {
		r.Negate(r)
		copy(out[:], r.Bytes())
	}
	return out, true
}

// aboveHalf reports whether the canonical little-endian element b is
// greater than (p-1)/2.
func aboveHalf(b *[KeySize]byte) bool {
	for i := KeySize - 1; i >= 0; i-- {
		if b[i] != halfP[i] {
			return b[i] > halfP[i]
		}
	}
	return false
}
