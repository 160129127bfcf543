package handler

import (
	"encoding/json"
	"strings"
	"time"

	"credanchor/internal/credential/models"
	"credanchor/internal/proof"
	dErrors "credanchor/pkg/domain-errors"
	strutil "credanchor/pkg/platform/strings"
)

// IssueRequest is the body of POST /api/v1/credentials/issue.
type IssueRequest struct {
	ID            string          `json:"id,omitempty"`
	IssuerRef     string          `json:"issuer_ref,omitempty" validate:"max=256"`
	HolderRef     string          `json:"holder_ref" validate:"required,max=256"`
	Type          string          `json:"credential_type" validate:"required"`
	SchemaVersion string          `json:"schema_version,omitempty" validate:"omitempty,max=16"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Networks      []string        `json:"networks,omitempty" validate:"max=16,dive,required"`
}

func (r *IssueRequest) Normalize() {
	if r == nil {
		return
	}
	r.ID = strings.TrimSpace(r.ID)
	r.IssuerRef = strings.TrimSpace(r.IssuerRef)
	r.HolderRef = strings.TrimSpace(r.HolderRef)
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	r.SchemaVersion = strings.TrimSpace(r.SchemaVersion)
	r.Networks = strutil.DedupeAndTrimLower(r.Networks)
}

func (r *IssueRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if _, err := models.ParseCredentialType(r.Type); err != nil {
		return err
	}
	if r.ID != "" {
		if _, err := models.ParseCredentialID(r.ID); err != nil {
			return err
		}
	}
	return nil
}

// VerifyRequest is the body of POST /api/v1/credentials/verify.
type VerifyRequest struct {
	CredentialID   string `json:"credential_id" validate:"required"`
	IncludeDetails bool   `json:"include_details"`
}

func (r *VerifyRequest) Normalize() {
	if r == nil {
		return
	}
	r.CredentialID = strings.TrimSpace(r.CredentialID)
}

// RevokeRequest is the body of POST /api/v1/credentials/revoke.
type RevokeRequest struct {
	CredentialID string `json:"credential_id" validate:"required"`
	Reason       string `json:"reason" validate:"max=512"`
}

func (r *RevokeRequest) Normalize() {
	if r == nil {
		return
	}
	r.CredentialID = strings.TrimSpace(r.CredentialID)
	r.Reason = strings.TrimSpace(r.Reason)
}

// ProveRequest is the body of POST /api/v1/proofs.
type ProveRequest struct {
	CredentialID string   `json:"credential_id" validate:"required"`
	ProofType    string   `json:"proof_type" validate:"required,oneof=existence attribute range"`
	Attributes   []string `json:"attributes,omitempty" validate:"max=32,dive,required,max=128"`
	Threshold    *int64   `json:"threshold,omitempty"`
	UpperBound   *int64   `json:"upper_bound,omitempty"`
}

func (r *ProveRequest) Normalize() {
	if r == nil {
		return
	}
	r.CredentialID = strings.TrimSpace(r.CredentialID)
	r.ProofType = strings.ToLower(strings.TrimSpace(r.ProofType))
	r.Attributes = strutil.DedupeAndTrim(r.Attributes)
}

// toProofRequest converts after validation; the service re-checks the
// combination of type, attributes and bounds.
func (r *ProveRequest) toProofRequest() (proof.Request, error) {
	id, err := models.ParseCredentialID(r.CredentialID)
	if err != nil {
		return proof.Request{}, err
	}
	t, err := proof.ParseType(r.ProofType)
	if err != nil {
		return proof.Request{}, err
	}
	return proof.Request{
		CredentialID: id,
		Type:         t,
		Attributes:   r.Attributes,
		Threshold:    r.Threshold,
		UpperBound:   r.UpperBound,
	}, nil
}

// VerifyProofRequest is the body of POST /api/v1/proofs/verify.
type VerifyProofRequest struct {
	Proof        string   `json:"proof" validate:"required"`
	PublicInputs []string `json:"public_inputs" validate:"required,min=1,max=64"`
}

// GasEstimateRequest is the body of POST /api/v1/credentials/estimate-gas.
type GasEstimateRequest struct {
	IssuerRef     string          `json:"issuer_ref,omitempty"`
	HolderRef     string          `json:"holder_ref" validate:"required,max=256"`
	Type          string          `json:"credential_type" validate:"required"`
	SchemaVersion string          `json:"schema_version,omitempty"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Networks      []string        `json:"networks,omitempty" validate:"max=16,dive,required"`
}

func (r *GasEstimateRequest) Normalize() {
	if r == nil {
		return
	}
	r.IssuerRef = strings.TrimSpace(r.IssuerRef)
	r.HolderRef = strings.TrimSpace(r.HolderRef)
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	r.Networks = strutil.DedupeAndTrimLower(r.Networks)
}
