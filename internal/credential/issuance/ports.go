package issuance

import (
	"context"
	"time"

	"credanchor/internal/credential/models"
	"credanchor/internal/credential/schema"
	"credanchor/internal/issuer"
	"credanchor/internal/ledger"
	"credanchor/internal/storage/cas"
)

// Ledger is the subset of the provider pool the pipeline uses.
type Ledger interface {
	Submit(ctx context.Context, network string, tx ledger.Tx) (ledger.TxRef, error)
	WaitForConfirmations(ctx context.Context, network string, ref ledger.TxRef, min uint64, timeout time.Duration) (ledger.Confirmation, error)
	IsAuthorizedIssuer(ctx context.Context, network, issuerRef string) (bool, error)
}

// Storage is the content-addressed store client.
type Storage interface {
	Put(ctx context.Context, data []byte) (cas.Address, error)
	Pin(ctx context.Context, addr cas.Address) error
	Unpin(ctx context.Context, addr cas.Address) error
}

// Authorizer decides which networks a principal may issue on for an issuer.
type Authorizer interface {
	CanAct(ctx context.Context, principal, issuerRef string, action issuer.Action, networks []string) ([]string, error)
}

// Canonicalizer validates payloads and produces their canonical form.
type Canonicalizer interface {
	Canonicalize(t models.CredentialType, version string, payload []byte) (*schema.Canonical, error)
}

// Metrics receives pipeline observations.
type Metrics interface {
	IncIssuance(outcome string)
	ObserveIssuanceDuration(seconds float64)
}
