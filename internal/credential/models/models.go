package models

import (
	"encoding/hex"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "credanchor/pkg/domain-errors"
)

// CredentialType captures the supported credential types.
type CredentialType string

const (
	CredentialTypeEducation      CredentialType = "education"
	CredentialTypeProfessional   CredentialType = "professional"
	CredentialTypeSkill          CredentialType = "skill"
	CredentialTypeIdentity       CredentialType = "identity"
	CredentialTypeWorkExperience CredentialType = "work_experience"
	CredentialTypeCertification  CredentialType = "certification"
	CredentialTypeLicense        CredentialType = "license"

	credentialIDPrefix = "cred_"
)

// CredentialTypes lists every supported type.
var CredentialTypes = []CredentialType{
	CredentialTypeEducation,
	CredentialTypeProfessional,
	CredentialTypeSkill,
	CredentialTypeIdentity,
	CredentialTypeWorkExperience,
	CredentialTypeCertification,
	CredentialTypeLicense,
}

// ParseCredentialType validates a credential type string and returns the domain type.
func ParseCredentialType(value string) (CredentialType, error) {
	if strings.TrimSpace(value) == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "type is required")
	}
	t := CredentialType(strings.ToLower(strings.TrimSpace(value)))
	if !slices.Contains(CredentialTypes, t) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported credential type")
	}
	return t, nil
}

// CredentialID is the prefixed identifier for issued credentials.
type CredentialID string

// NewCredentialID generates a new credential ID with a stable prefix.
func NewCredentialID() CredentialID {
	return CredentialID(credentialIDPrefix + uuid.NewString())
}

// ParseCredentialID validates and parses a credential ID string.
func ParseCredentialID(value string) (CredentialID, error) {
	if strings.TrimSpace(value) == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "credential_id is required")
	}
	if !strings.HasPrefix(value, credentialIDPrefix) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "credential_id must start with cred_")
	}
	if _, err := uuid.Parse(strings.TrimPrefix(value, credentialIDPrefix)); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid credential_id format")
	}
	return CredentialID(value), nil
}

func (id CredentialID) String() string {
	return string(id)
}

// DataHash is the SHA-256 digest of a credential's canonical payload.
type DataHash [32]byte

// ParseDataHash accepts a 64 character hex string with or without a 0x prefix.
func ParseDataHash(value string) (DataHash, error) {
	var h DataHash
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil || len(raw) != len(h) {
		return h, dErrors.New(dErrors.CodeInvalidInput, "data_hash must be 32 hex-encoded bytes")
	}
	copy(h[:], raw)
	return h, nil
}

func (h DataHash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h DataHash) String() string {
	return h.Hex()
}

func (h DataHash) IsZero() bool {
	return h == DataHash{}
}

func (h DataHash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *DataHash) UnmarshalText(text []byte) error {
	parsed, err := ParseDataHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Stage is the issuance pipeline position of a credential.
type Stage string

const (
	StageDraft     Stage = "draft"
	StageHashed    Stage = "hashed"
	StageStored    Stage = "stored"
	StageSubmitted Stage = "submitted"
	StageConfirmed Stage = "confirmed"
	StageFailed    Stage = "failed"
)

// Status is the caller-visible lifecycle state. It is always derived, never stored.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
	StatusFailed  Status = "failed"
)

// AnchorState tracks a single ledger transaction.
type AnchorState string

const (
	AnchorSubmitted AnchorState = "submitted"
	AnchorConfirmed AnchorState = "confirmed"
	AnchorReverted  AnchorState = "reverted"
	AnchorFailed    AnchorState = "failed"
)

// Anchor records one ledger transaction committing a dataHash (or its revocation).
type Anchor struct {
	Network       string      `json:"network"`
	TxRef         string      `json:"tx_ref,omitempty"`
	BlockHeight   uint64      `json:"block_height,omitempty"`
	Confirmations uint64      `json:"confirmations"`
	State         AnchorState `json:"state"`
	Error         string      `json:"error,omitempty"`
	SubmittedAt   time.Time   `json:"submitted_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Settled reports whether the anchor needs no further polling.
func (a Anchor) Settled() bool {
	return a.State == AnchorConfirmed || a.State == AnchorReverted || a.State == AnchorFailed
}

// ConfirmedAt reports whether the anchor reached min confirmations.
func (a Anchor) ConfirmedAt(min uint64) bool {
	return a.State == AnchorConfirmed && a.Confirmations >= min
}

// StorageRef points at the full payload in the content-addressed store.
// A degraded address is a placeholder and never authoritative.
type StorageRef struct {
	Address  string `json:"address"`
	Degraded bool   `json:"degraded"`
	Pinned   bool   `json:"pinned"`
}

// DocumentRef points at a supporting document attached at issuance. The
// digest and media type are committed in the canonical payload.
type DocumentRef struct {
	StorageRef
	SHA256    string `json:"sha256"`
	MediaType string `json:"media_type"`
}

// Revocation records who revoked a credential and the ledger transactions carrying it.
type Revocation struct {
	RevokedAt time.Time `json:"revoked_at"`
	RevokedBy string    `json:"revoked_by"`
	Reason    string    `json:"reason,omitempty"`
	Anchors   []Anchor  `json:"anchors"`
}

// Confirmed reports whether any revocation transaction reached min confirmations.
func (r *Revocation) Confirmed(min uint64) bool {
	if r == nil {
		return false
	}
	for _, a := range r.Anchors {
		if a.ConfirmedAt(min) {
			return true
		}
	}
	return false
}

// Pending reports a recorded revocation that has not yet been confirmed but
// still has a transaction in flight.
func (r *Revocation) Pending(min uint64) bool {
	if r == nil || r.Confirmed(min) {
		return false
	}
	for _, a := range r.Anchors {
		if !a.Settled() || a.State == AnchorConfirmed {
			return true
		}
	}
	return false
}

// Void reports a revocation whose every transaction was reverted or dropped.
// It carries no weight and may be replaced by a fresh revocation.
func (r *Revocation) Void() bool {
	if r == nil || len(r.Anchors) == 0 {
		return false
	}
	for _, a := range r.Anchors {
		if a.State != AnchorReverted && a.State != AnchorFailed {
			return false
		}
	}
	return true
}

// Credential is the locally held metadata for an issued credential.
type Credential struct {
	ID            CredentialID   `json:"id"`
	HolderRef     string         `json:"holder_ref"`
	IssuerRef     string         `json:"issuer_ref"`
	Type          CredentialType `json:"type"`
	SchemaVersion string         `json:"schema_version"`
	DataHash      DataHash       `json:"data_hash"`
	Storage       *StorageRef    `json:"storage,omitempty"`
	Document      *DocumentRef   `json:"document,omitempty"`
	Anchors       []Anchor       `json:"anchors"`
	IssuedAt      time.Time      `json:"issued_at"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	Stage         Stage          `json:"stage"`
	Revocation    *Revocation    `json:"revocation,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Anchor returns the anchor recorded for network.
func (c *Credential) Anchor(network string) (Anchor, bool) {
	for _, a := range c.Anchors {
		if a.Network == network {
			return a, true
		}
	}
	return Anchor{}, false
}

// SetAnchor inserts or replaces the anchor for a.Network, preserving insertion order.
func (c *Credential) SetAnchor(a Anchor) {
	c.Anchors = upsertAnchor(c.Anchors, a)
}

// ConfirmedNetworks lists networks whose anchor reached min confirmations.
func (c *Credential) ConfirmedNetworks(min uint64) []string {
	var out []string
	for _, a := range c.Anchors {
		if a.ConfirmedAt(min) {
			out = append(out, a.Network)
		}
	}
	return out
}

// Expired reports whether expiresAt has passed at now.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// UpsertAnchor replaces the entry for a.Network in anchors or appends it.
// Confirmation depth never decreases for the same transaction.
func UpsertAnchor(anchors []Anchor, a Anchor) []Anchor {
	return upsertAnchor(anchors, a)
}

func upsertAnchor(anchors []Anchor, a Anchor) []Anchor {
	for i, existing := range anchors {
		if existing.Network != a.Network {
			continue
		}
		if existing.TxRef == a.TxRef && existing.Confirmations > a.Confirmations {
			a.Confirmations = existing.Confirmations
		}
		if existing.State == AnchorConfirmed && a.State == AnchorSubmitted && existing.TxRef == a.TxRef {
			a.State = AnchorConfirmed
		}
		anchors[i] = a
		return anchors
	}
	return append(anchors, a)
}

// Clone returns a deep copy so stored credentials are never shared with callers.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	out.Anchors = slices.Clone(c.Anchors)
	if c.Storage != nil {
		s := *c.Storage
		out.Storage = &s
	}
	if c.Document != nil {
		d := *c.Document
		out.Document = &d
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		out.ExpiresAt = &t
	}
	if c.Revocation != nil {
		r := *c.Revocation
		r.Anchors = slices.Clone(c.Revocation.Anchors)
		out.Revocation = &r
	}
	return &out
}
