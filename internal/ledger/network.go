// Package ledger manages connections to the append-only ledgers credentials
// are anchored on. The Pool owns every Network handle; callers address
// networks by name on each call.
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// TxKind distinguishes anchoring from revocation transactions.
type TxKind string

const (
	TxAnchor TxKind = "anchor"
	TxRevoke TxKind = "revoke"
)

// Tx is a ledger write. Anchors carry the holder and expiry binding;
// revocations reference the original dataHash.
type Tx struct {
	Kind      TxKind
	DataHash  [32]byte
	HolderRef string
	IssuerRef string
	ExpiresAt *time.Time
	Reason    string
}

// TxRef identifies a broadcast transaction on one network.
type TxRef string

// Receipt is the mined outcome of a transaction.
type Receipt struct {
	TxRef       TxRef
	BlockHeight uint64
	Success     bool
}

// Record is the credential state a ledger holds for a dataHash.
// Holder and issuer are committed as RefHash values, never in clear.
type Record struct {
	DataHash  [32]byte
	Issuer    [32]byte
	Holder    [32]byte
	IssuedAt  time.Time
	ExpiresAt *time.Time
	Revoked   bool
}

// ChainInfo summarizes a network for status endpoints and fee estimates.
type ChainInfo struct {
	Network  string   `json:"network"`
	ChainID  uint64   `json:"chain_id"`
	Head     uint64   `json:"head"`
	GasPrice *big.Int `json:"gas_price,omitempty"`
	Healthy  bool     `json:"healthy"`
}

// Network is one ledger connection. Implementations classify failures
// with *Error and return ErrTxPending / ErrRecordNotFound where noted.
type Network interface {
	Name() string

	// Submit signs and broadcasts tx. Resubmitting after a transient failure
	// must not create a second transaction.
	Submit(ctx context.Context, tx Tx) (TxRef, error)

	// Receipt returns ErrTxPending until the transaction is mined.
	Receipt(ctx context.Context, ref TxRef) (*Receipt, error)

	BlockNumber(ctx context.Context) (uint64, error)

	// ReadCredential returns ErrRecordNotFound for unknown hashes.
	ReadCredential(ctx context.Context, dataHash [32]byte) (*Record, error)

	IsAuthorizedIssuer(ctx context.Context, issuerRef string) (bool, error)

	EstimateGas(ctx context.Context, tx Tx) (uint64, error)

	ChainInfo(ctx context.Context) (ChainInfo, error)

	Close()
}

// RefHash commits an opaque holder or issuer reference to 32 bytes.
func RefHash(ref string) [32]byte {
	return crypto.Keccak256Hash([]byte(ref))
}
