package proof

import (
	"encoding/binary"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// rangeBits bounds the provable distance between a value and its bound.
const rangeBits = 32

// boundDistance returns hi-lo when lo <= hi and the gap fits the provable
// span. The subtraction is done in uint64 so extreme int64 bounds cannot wrap.
func boundDistance(lo, hi int64) (uint64, bool) {
	if lo > hi {
		return 0, false
	}
	d := uint64(hi) - uint64(lo)
	return d, d < 1<<rangeBits
}

// bitProof shows that C commits to 0 or 1 without saying which: a
// Cramer-Damgard-Schoenmakers OR of two Schnorr proofs over base H.
type bitProof struct {
	C  []byte `json:"c"`
	E0 []byte `json:"e0"`
	E1 []byte `json:"e1"`
	S0 []byte `json:"s0"`
	S1 []byte `json:"s1"`
}

// rangeArgument shows that target commits to a value in [0, 2^rangeBits).
type rangeArgument struct {
	Bits []bitProof `json:"bits"`
}

// proveRange decomposes d into bits whose commitments sum (weighted by powers
// of two) to target = d*G + r*H.
func proveRange(d uint64, r *secp256k1.ModNScalar, transcript []byte) (*rangeArgument, error) {
	if d >= 1<<rangeBits {
		return nil, errors.New("value outside provable span")
	}

	blinds := make([]*secp256k1.ModNScalar, rangeBits)
	var acc secp256k1.ModNScalar
	for i := 0; i < rangeBits-1; i++ {
		ri, err := randomScalar()
		if err != nil {
			return nil, err
		}
		blinds[i] = ri
		var weighted secp256k1.ModNScalar
		weighted.Mul2(ri, pow2(i))
		acc.Add(&weighted)
	}
	// the top blinding closes the sum so that sum(2^i * r_i) == r
	var last secp256k1.ModNScalar
	last.NegateVal(&acc).Add(r)
	var inv secp256k1.ModNScalar
	inv.InverseValNonConst(pow2(rangeBits - 1))
	last.Mul(&inv)
	blinds[rangeBits-1] = &last

	arg := &rangeArgument{Bits: make([]bitProof, rangeBits)}
	for i := range rangeBits {
		bit := (d >> i) & 1
		ci := commit(new(secp256k1.ModNScalar).SetInt(uint32(bit)), blinds[i])
		bp, err := proveBit(bit, blinds[i], ci, bitTranscript(transcript, i))
		if err != nil {
			return nil, err
		}
		arg.Bits[i] = bp
	}
	return arg, nil
}

func verifyRange(arg *rangeArgument, target secp256k1.JacobianPoint, transcript []byte) bool {
	if arg == nil || len(arg.Bits) != rangeBits {
		return false
	}
	var sum secp256k1.JacobianPoint
	for i, bp := range arg.Bits {
		ci, err := decodePoint(bp.C)
		if err != nil {
			return false
		}
		if !verifyBit(bp, ci, bitTranscript(transcript, i)) {
			return false
		}
		sum = add(sum, mul(pow2(i), ci))
	}
	return equalPoints(sum, target)
}

func proveBit(bit uint64, x *secp256k1.ModNScalar, ci secp256k1.JacobianPoint, transcript []byte) (bitProof, error) {
	statements := [2]secp256k1.JacobianPoint{ci, sub(ci, mulG(new(secp256k1.ModNScalar).SetInt(1)))}
	known, simulated := bit, 1-bit

	k, err := randomScalar()
	if err != nil {
		return bitProof{}, err
	}
	eFake, err := randomScalar()
	if err != nil {
		return bitProof{}, err
	}
	sFake, err := randomScalar()
	if err != nil {
		return bitProof{}, err
	}

	var commitments [2]secp256k1.JacobianPoint
	commitments[known] = mulH(k)
	commitments[simulated] = sub(mulH(sFake), mul(eFake, statements[simulated]))

	e := hashToScalar(transcript, encodePoint(ci), encodePoint(commitments[0]), encodePoint(commitments[1]))
	var eReal secp256k1.ModNScalar
	eReal.NegateVal(eFake).Add(e)
	var sReal secp256k1.ModNScalar
	sReal.Mul2(&eReal, x).Add(k)

	var es, ss [2]*secp256k1.ModNScalar
	es[known], es[simulated] = &eReal, eFake
	ss[known], ss[simulated] = &sReal, sFake
	return bitProof{
		C:  encodePoint(ci),
		E0: scalarBytes(es[0]),
		E1: scalarBytes(es[1]),
		S0: scalarBytes(ss[0]),
		S1: scalarBytes(ss[1]),
	}, nil
}

func verifyBit(bp bitProof, ci secp256k1.JacobianPoint, transcript []byte) bool {
	e0, err0 := parseScalar(bp.E0)
	e1, err1 := parseScalar(bp.E1)
	s0, err2 := parseScalar(bp.S0)
	s1, err3 := parseScalar(bp.S1)
	if err := errors.Join(err0, err1, err2, err3); err != nil {
		return false
	}
	p0 := ci
	p1 := sub(ci, mulG(new(secp256k1.ModNScalar).SetInt(1)))
	a0 := sub(mulH(s0), mul(e0, p0))
	a1 := sub(mulH(s1), mul(e1, p1))

	e := hashToScalar(transcript, encodePoint(ci), encodePoint(a0), encodePoint(a1))
	var sum secp256k1.ModNScalar
	sum.Add2(e0, e1)
	return sum.Equals(e)
}

func pow2(i int) *secp256k1.ModNScalar {
	return new(secp256k1.ModNScalar).SetInt(uint32(1) << uint(i))
}

func bitTranscript(transcript []byte, i int) []byte {
	out := make([]byte, len(transcript)+2)
	copy(out, transcript)
	binary.BigEndian.PutUint16(out[len(transcript):], uint16(i))
	return out
}
