package store

import (
	"context"

	"credanchor/internal/credential/models"
	dErrors "credanchor/pkg/domain-errors"
)

var (
	// ErrNotFound keeps storage-specific 404s consistent across implementations.
	ErrNotFound = dErrors.New(dErrors.CodeNotFound, "credential not found")
	// ErrDuplicate is returned when the id or (issuer, dataHash) pair already exists.
	ErrDuplicate = dErrors.New(dErrors.CodeConflict, "credential already exists")
	// ErrDataHashImmutable guards the commitment once a credential has left draft.
	ErrDataHashImmutable = dErrors.New(dErrors.CodeInvariantViolation, "data hash cannot change after issuance started")
	// ErrRevocationExists is returned when a revocation record is written twice.
	ErrRevocationExists = dErrors.New(dErrors.CodeAlreadyRevoked, "revocation already recorded")
)

// Store persists credential metadata, anchors and revocations.
// Payloads are never stored here; only their content address.
type Store interface {
	Create(ctx context.Context, credential *models.Credential) error
	Update(ctx context.Context, credential *models.Credential) error
	FindByID(ctx context.Context, id models.CredentialID) (*models.Credential, error)
	FindByDataHash(ctx context.Context, issuerRef string, hash models.DataHash) (*models.Credential, error)
	ListByHolder(ctx context.Context, holderRef string) ([]*models.Credential, error)
	// ListUnsettled returns credentials with submitted anchors or unconfirmed revocations.
	ListUnsettled(ctx context.Context, limit int) ([]*models.Credential, error)
	UpsertAnchor(ctx context.Context, id models.CredentialID, anchor models.Anchor) error
	// SetRevocation records a revocation. It fails with ErrRevocationExists
	// unless the stored revocation is void, in which case it is replaced.
	SetRevocation(ctx context.Context, id models.CredentialID, revocation models.Revocation) error
	UpsertRevocationAnchor(ctx context.Context, id models.CredentialID, anchor models.Anchor) error
}

// needsReconcile reports whether the credential still has ledger work outstanding.
func needsReconcile(c *models.Credential) bool {
	if c.Stage == models.StageFailed {
		return false
	}
	for _, a := range c.Anchors {
		if !a.Settled() {
			return true
		}
	}
	if c.Revocation != nil {
		for _, a := range c.Revocation.Anchors {
			if !a.Settled() {
				return true
			}
		}
	}
	return false
}
