// Package proof produces and checks selective-disclosure proofs over anchored
// credentials: existence, attribute equality and numeric range. Proofs are
// signed by the service key so any holder of the verification key can check
// them without the payload.
package proof

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"credanchor/internal/credential/models"
	"credanchor/internal/credential/schema"
	"credanchor/internal/credential/verification"
	dErrors "credanchor/pkg/domain-errors"
)

// Type names a proof construction.
type Type string

const (
	TypeExistence Type = "existence"
	TypeAttribute Type = "attribute"
	TypeRange     Type = "range"
)

func ParseType(value string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(value))); t {
	case TypeExistence, TypeAttribute, TypeRange:
		return t, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported proof type %q", value))
	}
}

// rangeFields is the numeric field a range proof covers when none is named.
var rangeFields = map[models.CredentialType]string{
	models.CredentialTypeEducation:      "graduation_year",
	models.CredentialTypeProfessional:   "years_experience",
	models.CredentialTypeSkill:          "proficiency",
	models.CredentialTypeIdentity:       "birth_year",
	models.CredentialTypeWorkExperience: "years",
	models.CredentialTypeCertification:  "score",
	models.CredentialTypeLicense:        "valid_from_year",
}

// Request asks for one proof. Attributes holds field names, or name=value
// claims for attribute proofs; a range proof uses the first entry as its field.
type Request struct {
	CredentialID models.CredentialID
	Type         Type
	Attributes   []string
	Threshold    *int64
	UpperBound   *int64
}

// Result carries the proof and everything a verifier needs besides it.
type Result struct {
	Valid           bool     `json:"valid"`
	Proof           string   `json:"proof,omitempty"`
	PublicInputs    []string `json:"public_inputs,omitempty"`
	VerificationKey string   `json:"verification_key"`
	Reason          string   `json:"reason,omitempty"`
}

// Verifier judges the credential a proof is requested for.
type Verifier interface {
	Verify(ctx context.Context, id models.CredentialID, opts verification.Options) (*verification.Result, error)
}

// Metrics receives proof outcomes.
type Metrics interface {
	IncProof(proofType string, outcome string)
}

// Service generates proofs. It is read-only and safe for concurrent use.
type Service struct {
	verifier   Verifier
	signer     *Signer
	saltSecret []byte
	metrics    Metrics
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService builds a proof service. saltSecret keys the per-field salts of
// attribute commitments and must stay private.
func NewService(verifier Verifier, signer *Signer, saltSecret []byte, opts ...Option) *Service {
	s := &Service{
		verifier:   verifier,
		signer:     signer,
		saltSecret: saltSecret,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerificationKey returns the public key proofs are checked against.
func (s *Service) VerificationKey() string {
	return s.signer.VerificationKey()
}

// Prove generates a proof. A predicate that does not hold, or a credential
// that is not active, yields Valid=false and no proof rather than an error.
func (s *Service) Prove(ctx context.Context, req Request) (*Result, error) {
	res, err := s.prove(ctx, req)
	if s.metrics != nil {
		outcome := "error"
		if err == nil {
			outcome = "invalid"
			if res.Valid {
				outcome = "valid"
			}
		}
		s.metrics.IncProof(string(req.Type), outcome)
	}
	return res, err
}

func (s *Service) prove(ctx context.Context, req Request) (*Result, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	check, err := s.verifier.Verify(ctx, req.CredentialID, verification.Options{IncludeDetails: req.Type != TypeExistence})
	if err != nil {
		return nil, err
	}
	if !check.IsValid || check.Status != models.StatusActive {
		reason := fmt.Sprintf("credential is %s", check.Status)
		if check.Failure != verification.FailureNone {
			reason += ": " + string(check.Failure)
		}
		return s.invalid(reason), nil
	}

	if req.Type == TypeExistence {
		return s.proveExistence(check)
	}

	if !check.StorageVerified || check.Details == nil {
		detail := "payload unavailable"
		if check.Details != nil && check.Details.StorageError != "" {
			detail = check.Details.StorageError
		}
		return nil, dErrors.NewLayered(dErrors.CodeStorageUnavailable, dErrors.LayerStorage,
			"cannot prove over payload: "+detail)
	}
	fields, err := schema.Fields(check.Details.Payload)
	if err != nil {
		return nil, dErrors.WrapLayered(err, dErrors.CodeInternal, dErrors.LayerStorage, "stored payload is not a JSON object")
	}

	switch req.Type {
	case TypeAttribute:
		return s.proveAttributes(check, fields, req.Attributes)
	default:
		field := rangeFields[check.Details.Credential.Type]
		if len(req.Attributes) > 0 {
			field = strings.TrimSpace(req.Attributes[0])
		}
		return s.proveRange(check, fields, field, req.Threshold, req.UpperBound)
	}
}

func validate(req *Request) error {
	t, err := ParseType(string(req.Type))
	if err != nil {
		return err
	}
	req.Type = t
	if _, err := models.ParseCredentialID(req.CredentialID.String()); err != nil {
		return err
	}
	switch req.Type {
	case TypeAttribute:
		if len(req.Attributes) == 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "attribute proof needs at least one attribute")
		}
	case TypeRange:
		if req.Threshold == nil && req.UpperBound == nil {
			return dErrors.New(dErrors.CodeInvalidInput, "range proof needs a threshold or an upper bound")
		}
		if req.Threshold != nil && req.UpperBound != nil {
			if *req.Threshold > *req.UpperBound {
				return dErrors.New(dErrors.CodeInvalidInput, "threshold exceeds upper bound")
			}
			if _, ok := boundDistance(*req.Threshold, *req.UpperBound); !ok {
				return dErrors.New(dErrors.CodeInvalidInput, "bounds are too far apart for a range proof")
			}
		}
	}
	return nil
}

func (s *Service) proveExistence(check *verification.Result) (*Result, error) {
	var networks []string
	for _, a := range check.Anchors {
		if a.Verified {
			networks = append(networks, a.Network)
		}
	}
	inputs := []string{string(TypeExistence), check.DataHash.Hex()}
	body := existenceBody{DataHash: check.DataHash.Hex(), Networks: networks, CheckedAt: check.CheckedAt}
	return s.seal(TypeExistence, inputs, body)
}

func (s *Service) proveAttributes(check *verification.Result, fields map[string]any, attributes []string) (*Result, error) {
	dataHash := check.DataHash
	commitments, openings, err := commitFields(s.saltSecret, dataHash[:], fields)
	if err != nil {
		return nil, dErrors.WrapLayered(err, dErrors.CodeInternal, dErrors.LayerProof, "failed to commit to fields")
	}

	inputs := []string{string(TypeAttribute), dataHash.Hex()}
	body := attributeBody{DataHash: dataHash.Hex(), Commitments: commitments}
	seen := map[string]bool{}
	for _, attr := range attributes {
		name, claimed, hasClaim := strings.Cut(attr, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "attribute name is required")
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		o, ok := openings[name]
		if !ok {
			return s.invalid(fmt.Sprintf("%s: %v", name, errNotDisclosable)), nil
		}
		actual := displayValue(o.Value)
		if hasClaim && strings.TrimSpace(claimed) != actual {
			return s.invalid(fmt.Sprintf("%s does not hold the claimed value", name)), nil
		}
		body.Openings = append(body.Openings, o)
		inputs = append(inputs, name+"="+actual, hexutil.Encode(fieldCommitment(o.Salt, o.Name, o.Value)))
	}
	return s.seal(TypeAttribute, inputs, body)
}

func (s *Service) proveRange(check *verification.Result, fields map[string]any, field string, threshold, upper *int64) (*Result, error) {
	if field == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "range proof needs a field")
	}
	raw, ok := fields[field]
	if !ok {
		return s.invalid(fmt.Sprintf("%s: %v", field, errNotDisclosable)), nil
	}
	num, ok := raw.(json.Number)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s is not numeric", field))
	}
	value, err := num.Int64()
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s is not an integer", field))
	}

	if threshold != nil && value < *threshold {
		return s.invalid(fmt.Sprintf("%s is below the threshold", field)), nil
	}
	if upper != nil && value > *upper {
		return s.invalid(fmt.Sprintf("%s is above the upper bound", field)), nil
	}

	var lowerGap, upperGap uint64
	if threshold != nil {
		if lowerGap, ok = boundDistance(*threshold, value); !ok {
			return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("threshold is too far below %s for a range proof", field))
		}
	}
	if upper != nil {
		if upperGap, ok = boundDistance(value, *upper); !ok {
			return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("upper bound is too far above %s for a range proof", field))
		}
	}

	blinding, err := randomScalar()
	if err != nil {
		return nil, dErrors.WrapLayered(err, dErrors.CodeInternal, dErrors.LayerProof, "failed to sample blinding")
	}
	c := commit(scalarFromInt64(value), blinding)
	encoded := encodePoint(c)
	dataHash := check.DataHash.Hex()
	body := rangeBody{DataHash: dataHash, Field: field, Commitment: encoded}

	if threshold != nil {
		arg, err := proveRange(lowerGap, blinding, rangeTranscript(dataHash, field, lowerTag(*threshold), encoded))
		if err != nil {
			return s.invalid(fmt.Sprintf("%s: %v", field, err)), nil
		}
		body.Lower = &boundArgument{Bound: *threshold, Proof: arg}
	}
	if upper != nil {
		negated := new(secp256k1.ModNScalar).NegateVal(blinding)
		arg, err := proveRange(upperGap, negated, rangeTranscript(dataHash, field, upperTag(*upper), encoded))
		if err != nil {
			return s.invalid(fmt.Sprintf("%s: %v", field, err)), nil
		}
		body.Upper = &boundArgument{Bound: *upper, Proof: arg}
	}
	return s.seal(TypeRange, rangeInputs(dataHash, field, body.Lower, body.Upper, encoded), body)
}

func (s *Service) seal(t Type, inputs []string, body any) (*Result, error) {
	proof, err := s.signer.seal(t, inputs, body)
	if err != nil {
		return nil, dErrors.WrapLayered(err, dErrors.CodeInternal, dErrors.LayerProof, "failed to sign proof")
	}
	return &Result{
		Valid:           true,
		Proof:           proof,
		PublicInputs:    inputs,
		VerificationKey: s.signer.VerificationKey(),
	}, nil
}

func (s *Service) invalid(reason string) *Result {
	return &Result{Valid: false, VerificationKey: s.signer.VerificationKey(), Reason: reason}
}

// Verify checks a proof against this service's key.
func (s *Service) Verify(proof string, publicInputs []string) error {
	if !VerifyProof(proof, s.signer.VerificationKey(), publicInputs) {
		return dErrors.NewLayered(dErrors.CodeProofInvalid, dErrors.LayerProof, "proof does not verify")
	}
	return nil
}
