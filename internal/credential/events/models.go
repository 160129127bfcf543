package events

import "time"

// Type names a credential lifecycle transition.
type Type string

const (
	TypeHashed              Type = "credential_hashed"
	TypeStored              Type = "credential_stored"
	TypeSubmitted           Type = "credential_submitted"
	TypeAnchored            Type = "credential_anchored"
	TypeAnchorFailed        Type = "credential_anchor_failed"
	TypeActivated           Type = "credential_activated"
	TypeFailed              Type = "credential_failed"
	TypeRevocationSubmitted Type = "revocation_submitted"
	TypeRevoked             Type = "credential_revoked"
)

// Event is emitted on every persisted stage transition. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	CredentialID string    `json:"credential_id"`
	IssuerRef    string    `json:"issuer_ref,omitempty"`
	Stage        string    `json:"stage,omitempty"`
	Network      string    `json:"network,omitempty"`
	TxRef        string    `json:"tx_ref,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
