package proof

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	envelopeVersion = 1
	domainTag       = "credanchor/proof/v1"
	rangeTag        = "credanchor/range/v1"
)

// envelope is the serialized proof: a type-specific body bound to the public
// inputs by the service signature.
type envelope struct {
	Version   int             `json:"v"`
	Type      Type            `json:"type"`
	Body      json.RawMessage `json:"body"`
	Signature []byte          `json:"sig"`
}

type existenceBody struct {
	DataHash  string    `json:"data_hash"`
	Networks  []string  `json:"networks"`
	CheckedAt time.Time `json:"checked_at"`
}

type attributeBody struct {
	DataHash    string    `json:"data_hash"`
	Commitments [][]byte  `json:"commitments"`
	Openings    []opening `json:"openings"`
}

type boundArgument struct {
	Bound int64          `json:"bound"`
	Proof *rangeArgument `json:"proof"`
}

type rangeBody struct {
	DataHash   string         `json:"data_hash"`
	Field      string         `json:"field"`
	Commitment []byte         `json:"commitment"`
	Lower      *boundArgument `json:"lower,omitempty"`
	Upper      *boundArgument `json:"upper,omitempty"`
}

// Signer holds the service key that binds proofs to their public inputs.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner parses a hex secp256k1 private key. An empty key generates an
// ephemeral one; proofs then stop verifying after a restart.
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate proof signing key: %w", err)
		}
		return &Signer{key: key}, nil
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse proof signing key: %w", err)
	}
	return &Signer{key: key}, nil
}

// VerificationKey is the 0x-prefixed compressed public key.
func (s *Signer) VerificationKey() string {
	return hexutil.Encode(crypto.CompressPubkey(&s.key.PublicKey))
}

func (s *Signer) seal(t Type, publicInputs []string, body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(envelopeDigest(t, publicInputs, raw), s.key)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(envelope{Version: envelopeVersion, Type: t, Body: raw, Signature: sig})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func envelopeDigest(t Type, publicInputs []string, body []byte) []byte {
	parts := make([][]byte, 0, len(publicInputs)+3)
	parts = append(parts, []byte(domainTag), []byte(t))
	for _, in := range publicInputs {
		parts = append(parts, []byte(in))
	}
	parts = append(parts, body)
	return crypto.Keccak256(lengthPrefixed(parts...))
}

func lengthPrefixed(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = binary.BigEndian.AppendUint32(out, uint32(len(p)))
		out = append(out, p...)
	}
	return out
}

// VerifyProof checks a proof against the service verification key and the
// public inputs it claims. It needs neither the payload nor network access.
func VerifyProof(proof, verificationKey string, publicInputs []string) bool {
	pub, err := hexutil.Decode(verificationKey)
	if err != nil || len(pub) != 33 {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(proof)
	if err != nil {
		return false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version != envelopeVersion {
		return false
	}
	if len(publicInputs) < 2 || publicInputs[0] != string(env.Type) || len(env.Signature) != 65 {
		return false
	}
	if !crypto.VerifySignature(pub, envelopeDigest(env.Type, publicInputs, env.Body), env.Signature[:64]) {
		return false
	}

	switch env.Type {
	case TypeExistence:
		return verifyExistence(env.Body, publicInputs)
	case TypeAttribute:
		return verifyAttributes(env.Body, publicInputs)
	case TypeRange:
		return verifyRangeBody(env.Body, publicInputs)
	default:
		return false
	}
}

func verifyExistence(raw []byte, inputs []string) bool {
	var body existenceBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return false
	}
	return len(inputs) == 2 && body.DataHash == inputs[1] && len(body.Networks) > 0
}

func verifyAttributes(raw []byte, inputs []string) bool {
	var body attributeBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return false
	}
	if body.DataHash != inputs[1] || len(body.Openings) == 0 || len(inputs) != 2+2*len(body.Openings) {
		return false
	}
	for i, o := range body.Openings {
		c, ok := verifyOpening(o, body.Commitments)
		if !ok {
			return false
		}
		if inputs[2+2*i] != o.Name+"="+displayValue(o.Value) || inputs[3+2*i] != hexutil.Encode(c) {
			return false
		}
	}
	return true
}

func verifyRangeBody(raw []byte, inputs []string) bool {
	var body rangeBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return false
	}
	if body.DataHash != inputs[1] || body.Lower == nil && body.Upper == nil {
		return false
	}
	expected := rangeInputs(body.DataHash, body.Field, body.Lower, body.Upper, body.Commitment)
	if !slices.Equal(expected, inputs) {
		return false
	}

	c, err := decodePoint(body.Commitment)
	if err != nil {
		return false
	}
	if body.Lower != nil {
		target := sub(c, mulG(scalarFromInt64(body.Lower.Bound)))
		if !verifyRange(body.Lower.Proof, target, rangeTranscript(body.DataHash, body.Field, lowerTag(body.Lower.Bound), body.Commitment)) {
			return false
		}
	}
	if body.Upper != nil {
		target := sub(mulG(scalarFromInt64(body.Upper.Bound)), c)
		if !verifyRange(body.Upper.Proof, target, rangeTranscript(body.DataHash, body.Field, upperTag(body.Upper.Bound), body.Commitment)) {
			return false
		}
	}
	return true
}

func rangeInputs(dataHash, field string, lower, upper *boundArgument, commitment []byte) []string {
	inputs := []string{string(TypeRange), dataHash, field}
	if lower != nil {
		inputs = append(inputs, lowerTag(lower.Bound))
	}
	if upper != nil {
		inputs = append(inputs, upperTag(upper.Bound))
	}
	return append(inputs, hexutil.Encode(commitment))
}

func rangeTranscript(dataHash, field, tag string, commitment []byte) []byte {
	return lengthPrefixed([]byte(rangeTag), []byte(dataHash), []byte(field), []byte(tag), commitment)
}

func lowerTag(bound int64) string { return "gte:" + strconv.FormatInt(bound, 10) }

func upperTag(bound int64) string { return "lte:" + strconv.FormatInt(bound, 10) }
