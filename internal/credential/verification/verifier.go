// Package verification reconstructs a trust judgment for a credential from
// live ledger state, the stored payload and local metadata. It never writes to
// the ledger or the credential store.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"credanchor/internal/credential/models"
	"credanchor/internal/credential/schema"
	"credanchor/internal/issuer"
	"credanchor/internal/ledger"
	"credanchor/internal/storage/cas"
	dErrors "credanchor/pkg/domain-errors"
)

// Ledger is the read-only side of the provider pool.
type Ledger interface {
	Confirmations(ctx context.Context, network string, ref ledger.TxRef) (ledger.Confirmation, error)
	ReadCredential(ctx context.Context, network string, dataHash [32]byte) (*ledger.Record, error)
}

// Storage fetches payloads from the content-addressed store.
type Storage interface {
	Get(ctx context.Context, addr cas.Address) ([]byte, error)
}

// Store loads local credential metadata.
type Store interface {
	FindByID(ctx context.Context, id models.CredentialID) (*models.Credential, error)
}

// Metrics receives verification outcomes.
type Metrics interface {
	IncVerification(outcome string)
}

// Failure names why a credential did not verify.
type Failure string

const (
	FailureNone         Failure = ""
	FailureExpired      Failure = "expired"
	FailureRevoked      Failure = "revoked"
	FailureHashMismatch Failure = "hash_mismatch"
	FailureNotAnchored  Failure = "not_anchored"
	FailureIssuance     Failure = "issuance_failed"
)

// Options controls how much work Verify does.
type Options struct {
	// IncludeDetails fetches and checks the stored payload and returns it.
	IncludeDetails bool
}

// AnchorCheck is the live state of one anchor.
type AnchorCheck struct {
	Network        string `json:"network"`
	TxRef          string `json:"tx_ref"`
	BlockHeight    uint64 `json:"block_height,omitempty"`
	Confirmations  uint64 `json:"confirmations"`
	Verified       bool   `json:"verified"`
	HashMatches    bool   `json:"hash_matches"`
	OnChainRevoked bool   `json:"on_chain_revoked,omitempty"`
	Error          string `json:"error,omitempty"`

	mismatch bool
}

// Details carries the data returned when Options.IncludeDetails is set.
type Details struct {
	Credential   *models.Credential `json:"credential"`
	Payload      json.RawMessage    `json:"payload,omitempty"`
	StorageError string             `json:"storage_error,omitempty"`
}

// Result is the outcome of a verification. BlockchainVerified and
// StorageVerified are independent; only the ledger check decides IsValid.
type Result struct {
	CredentialID       models.CredentialID `json:"credential_id"`
	DataHash           models.DataHash     `json:"data_hash"`
	Status             models.Status       `json:"status"`
	IsValid            bool                `json:"is_valid"`
	BlockchainVerified bool                `json:"blockchain_verified"`
	StorageVerified    bool                `json:"ipfs_verified"`
	PendingRevocation  bool                `json:"pending_revocation"`
	Failure            Failure             `json:"failure,omitempty"`
	FailureLayer       dErrors.Layer       `json:"failure_layer,omitempty"`
	Anchors            []AnchorCheck       `json:"anchors,omitempty"`
	Details            *Details            `json:"details,omitempty"`
	CheckedAt          time.Time           `json:"checked_at"`
}

// Verifier is safe for unlimited concurrent use.
type Verifier struct {
	store            Store
	ledger           Ledger
	storage          Storage
	issuers          issuer.Directory
	minConfirmations uint64
	metrics          Metrics
	logger           *slog.Logger
	now              func() time.Time

	// revoked remembers credentials observed as revoked so that a later
	// read against a lagging replica never reports them active again.
	revoked sync.Map
}

// Option configures a Verifier.
type Option func(*Verifier)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

func New(st Store, l Ledger, storage Storage, issuers issuer.Directory, minConfirmations uint64, opts ...Option) *Verifier {
	if minConfirmations == 0 {
		minConfirmations = 1
	}
	v := &Verifier{
		store:            st,
		ledger:           l,
		storage:          storage,
		issuers:          issuers,
		minConfirmations: minConfirmations,
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify judges a credential. Business outcomes (expired, revoked, hash
// mismatch) are reported in the Result; errors are returned only when the
// credential cannot be loaded.
func (v *Verifier) Verify(ctx context.Context, id models.CredentialID, opts Options) (*Result, error) {
	cred, err := v.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res := v.verify(ctx, cred, opts)
	if v.metrics != nil {
		outcome := string(res.Status)
		if res.Failure != FailureNone {
			outcome = string(res.Failure)
		}
		v.metrics.IncVerification(outcome)
	}
	return res, nil
}

func (v *Verifier) verify(ctx context.Context, cred *models.Credential, opts Options) *Result {
	now := v.now()
	res := &Result{
		CredentialID: cred.ID,
		DataHash:     cred.DataHash,
		CheckedAt:    now.UTC(),
	}
	if opts.IncludeDetails {
		res.Details = &Details{Credential: cred}
	}

	// expiry and terminal local states need no network round-trip
	if cred.Expired(now) {
		res.Status = models.DeriveStatus(cred, v.minConfirmations, now)
		res.Failure = FailureExpired
		if res.Status == models.StatusRevoked {
			res.Failure = FailureRevoked
		}
		return res
	}
	if cred.Stage == models.StageFailed {
		res.Status = models.StatusFailed
		res.Failure = FailureIssuance
		return res
	}
	if _, seen := v.revoked.Load(cred.ID); seen || cred.Revocation.Confirmed(v.minConfirmations) {
		return v.markRevoked(res, cred.ID)
	}
	if cred.Revocation != nil && v.revocationConfirmedLive(ctx, cred.Revocation) {
		return v.markRevoked(res, cred.ID)
	}
	res.PendingRevocation = cred.Revocation.Pending(v.minConfirmations)

	res.Anchors = v.checkAnchors(ctx, cred)
	for _, a := range res.Anchors {
		if a.mismatch {
			res.Status = models.StatusPending
			res.Failure = FailureHashMismatch
			res.FailureLayer = dErrors.LayerLedger
			v.logger.WarnContext(ctx, "ledger record does not match credential",
				"credential_id", cred.ID,
				"network", a.Network,
				"detail", a.Error,
			)
			return res
		}
		if a.Verified {
			res.BlockchainVerified = true
		}
		if a.OnChainRevoked {
			res.PendingRevocation = true
		}
	}

	if opts.IncludeDetails {
		if failed := v.checkPayload(ctx, cred, res); failed {
			return res
		}
	}

	if res.BlockchainVerified {
		res.Status = models.StatusActive
		res.IsValid = true
		return res
	}
	res.Status = models.StatusPending
	res.Failure = FailureNotAnchored
	res.FailureLayer = dErrors.LayerLedger
	return res
}

func (v *Verifier) markRevoked(res *Result, id models.CredentialID) *Result {
	v.revoked.Store(id, struct{}{})
	res.Status = models.StatusRevoked
	res.Failure = FailureRevoked
	return res
}

// revocationConfirmedLive re-polls revocation transactions that were not yet
// recorded as confirmed.
func (v *Verifier) revocationConfirmedLive(ctx context.Context, r *models.Revocation) bool {
	for _, a := range r.Anchors {
		if a.TxRef == "" || a.State == models.AnchorReverted || a.State == models.AnchorFailed {
			continue
		}
		c, err := v.ledger.Confirmations(ctx, a.Network, ledger.TxRef(a.TxRef))
		if err == nil && c.Mined && c.Confirmations >= v.minConfirmations {
			return true
		}
	}
	return false
}

// checkAnchors re-queries every broadcast anchor concurrently.
func (v *Verifier) checkAnchors(ctx context.Context, cred *models.Credential) []AnchorCheck {
	var scope *issuer.Issuer
	if iss, err := v.issuers.Find(ctx, cred.IssuerRef); err == nil {
		scope = iss
	}

	var candidates []models.Anchor
	for _, a := range cred.Anchors {
		if a.TxRef != "" && a.State != models.AnchorFailed {
			candidates = append(candidates, a)
		}
	}

	checks := make([]AnchorCheck, len(candidates))
	var g errgroup.Group
	for i, a := range candidates {
		g.Go(func() error {
			checks[i] = v.checkAnchor(ctx, cred, a, scope)
			return nil
		})
	}
	_ = g.Wait()
	return checks
}

func (v *Verifier) checkAnchor(ctx context.Context, cred *models.Credential, a models.Anchor, scope *issuer.Issuer) AnchorCheck {
	check := AnchorCheck{Network: a.Network, TxRef: a.TxRef}
	if scope == nil || !scope.AuthorizedOn(a.Network) {
		check.Error = "issuer not authorized on network"
		return check
	}

	c, err := v.ledger.Confirmations(ctx, a.Network, ledger.TxRef(a.TxRef))
	if err != nil {
		check.Error = err.Error()
		return check
	}
	check.BlockHeight = c.BlockHeight
	check.Confirmations = c.Confirmations
	if !c.Mined {
		check.Error = "transaction not yet mined"
		return check
	}

	rec, err := v.ledger.ReadCredential(ctx, a.Network, cred.DataHash)
	switch {
	case errors.Is(err, ledger.ErrRecordNotFound):
		// a mined, successful anchor must have produced a record for this hash
		check.mismatch = true
		check.Error = "no ledger record for data hash"
		return check
	case err != nil:
		check.Error = err.Error()
		return check
	}

	if detail := compareRecord(cred, rec); detail != "" {
		check.mismatch = true
		check.Error = detail
		return check
	}
	check.HashMatches = true
	check.OnChainRevoked = rec.Revoked
	check.Verified = c.Confirmations >= v.minConfirmations
	if !check.Verified {
		check.Error = fmt.Sprintf("%d of %d confirmations", c.Confirmations, v.minConfirmations)
	}
	return check
}

// compareRecord describes the first difference between the ledger record and
// the local binding, or returns "".
func compareRecord(cred *models.Credential, rec *ledger.Record) string {
	switch {
	case rec.DataHash != [32]byte(cred.DataHash):
		return "ledger data hash differs from credential"
	case rec.Issuer != ledger.RefHash(cred.IssuerRef):
		return "ledger issuer differs from credential"
	case rec.Holder != ledger.RefHash(cred.HolderRef):
		return "ledger holder differs from credential"
	}
	return ""
}

// checkPayload fetches the stored payload and compares its hash. It reports
// whether verification must stop with a hash mismatch.
func (v *Verifier) checkPayload(ctx context.Context, cred *models.Credential, res *Result) bool {
	if cred.Storage == nil || cred.Storage.Address == "" {
		res.Details.StorageError = "payload was not stored"
		return false
	}
	addr := cas.Address{Value: cred.Storage.Address, Degraded: cred.Storage.Degraded}
	if addr.Degraded {
		res.Details.StorageError = "payload only has a placeholder address"
		return false
	}

	data, err := v.storage.Get(ctx, addr)
	if err != nil {
		res.Details.StorageError = err.Error()
		v.logger.InfoContext(ctx, "payload unavailable during verification",
			"credential_id", cred.ID,
			"error", err,
		)
		return false
	}
	if schema.Hash(data) != cred.DataHash {
		res.Status = models.StatusPending
		res.IsValid = false
		res.Failure = FailureHashMismatch
		res.FailureLayer = dErrors.LayerStorage
		res.Details.StorageError = "stored payload does not match data hash"
		v.logger.WarnContext(ctx, "stored payload does not match data hash",
			"credential_id", cred.ID,
			"address", addr.Value,
		)
		return true
	}
	res.StorageVerified = true
	res.Details.Payload = data
	return false
}
