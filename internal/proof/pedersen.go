package proof

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const pointLen = 33

// generatorH is a second secp256k1 generator with no known discrete log
// relative to G, found by hashing a fixed label onto the curve.
var generatorH = deriveGenerator("credanchor/pedersen/H/v1")

func deriveGenerator(label string) secp256k1.JacobianPoint {
	var counter [4]byte
	for i := uint32(0); ; i++ {
		binary.BigEndian.PutUint32(counter[:], i)
		digest := sha256.Sum256(append([]byte(label), counter[:]...))
		candidate := append([]byte{0x02}, digest[:]...)
		pub, err := secp256k1.ParsePubKey(candidate)
		if err != nil {
			continue
		}
		var p secp256k1.JacobianPoint
		pub.AsJacobian(&p)
		return p
	}
}

// commit returns v*G + r*H.
func commit(v, r *secp256k1.ModNScalar) secp256k1.JacobianPoint {
	return add(mulG(v), mulH(r))
}

func mulG(k *secp256k1.ModNScalar) secp256k1.JacobianPoint {
	var out secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(k, &out)
	return out
}

func mulH(k *secp256k1.ModNScalar) secp256k1.JacobianPoint {
	var out secp256k1.JacobianPoint
	h := generatorH
	secp256k1.ScalarMultNonConst(k, &h, &out)
	return out
}

func mul(k *secp256k1.ModNScalar, p secp256k1.JacobianPoint) secp256k1.JacobianPoint {
	var out secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(k, &p, &out)
	return out
}

func add(a, b secp256k1.JacobianPoint) secp256k1.JacobianPoint {
	var out secp256k1.JacobianPoint
	secp256k1.AddNonConst(&a, &b, &out)
	return out
}

func sub(a, b secp256k1.JacobianPoint) secp256k1.JacobianPoint {
	return add(a, neg(b))
}

func neg(p secp256k1.JacobianPoint) secp256k1.JacobianPoint {
	if isInfinity(p) {
		return p
	}
	p.ToAffine()
	p.Y.Negate(1).Normalize()
	return p
}

func isInfinity(p secp256k1.JacobianPoint) bool {
	return p.Z.Normalize().IsZero()
}

// encodePoint serializes p compressed; the point at infinity is all zeros.
func encodePoint(p secp256k1.JacobianPoint) []byte {
	if isInfinity(p) {
		return make([]byte, pointLen)
	}
	p.ToAffine()
	return secp256k1.NewPublicKey(&p.X, &p.Y).SerializeCompressed()
}

func decodePoint(b []byte) (secp256k1.JacobianPoint, error) {
	var p secp256k1.JacobianPoint
	if len(b) != pointLen {
		return p, fmt.Errorf("point must be %d bytes", pointLen)
	}
	if allZero(b) {
		return p, nil
	}
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return p, err
	}
	pub.AsJacobian(&p)
	return p, nil
}

func equalPoints(a, b secp256k1.JacobianPoint) bool {
	return string(encodePoint(a)) == string(encodePoint(b))
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

func randomScalar() (*secp256k1.ModNScalar, error) {
	var buf [32]byte
	for range 16 {
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, err
		}
		var s secp256k1.ModNScalar
		if overflow := s.SetBytes(&buf); overflow == 0 && !s.IsZero() {
			return &s, nil
		}
	}
	return nil, errors.New("could not sample scalar")
}

// scalarFromInt64 maps v into the scalar field, negatives included.
func scalarFromInt64(v int64) *secp256k1.ModNScalar {
	var buf [32]byte
	abs := uint64(v)
	if v < 0 {
		abs = uint64(-v)
	}
	binary.BigEndian.PutUint64(buf[24:], abs)
	var s secp256k1.ModNScalar
	s.SetBytes(&buf)
	if v < 0 {
		s.Negate()
	}
	return &s
}

// hashToScalar derives a Fiat-Shamir challenge from its transcript parts.
func hashToScalar(parts ...[]byte) *secp256k1.ModNScalar {
	h := sha256.New()
	for _, p := range parts {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(p)))
		h.Write(n[:])
		h.Write(p)
	}
	var s secp256k1.ModNScalar
	s.SetByteSlice(h.Sum(nil))
	return &s
}

func scalarBytes(s *secp256k1.ModNScalar) []byte {
	b := s.Bytes()
	return b[:]
}

func parseScalar(b []byte) (*secp256k1.ModNScalar, error) {
	if len(b) != 32 {
		return nil, errors.New("scalar must be 32 bytes")
	}
	var s secp256k1.ModNScalar
	if s.SetByteSlice(b) {
		return nil, errors.New("scalar overflows group order")
	}
	return &s, nil
}
