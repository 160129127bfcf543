// Package revocation withdraws trust in an active credential by anchoring a
// revocation transaction on every network the revoker is authorized on.
package revocation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"credanchor/internal/credential/confirm"
	"credanchor/internal/credential/events"
	"credanchor/internal/credential/lock"
	"credanchor/internal/credential/models"
	"credanchor/internal/credential/store"
	"credanchor/internal/issuer"
	"credanchor/internal/ledger"
	dErrors "credanchor/pkg/domain-errors"
)

// Ledger is the subset of the provider pool revocation needs.
type Ledger interface {
	Submit(ctx context.Context, network string, tx ledger.Tx) (ledger.TxRef, error)
	WaitForConfirmations(ctx context.Context, network string, ref ledger.TxRef, min uint64, timeout time.Duration) (ledger.Confirmation, error)
}

// Authorizer decides which networks a principal may revoke on.
type Authorizer interface {
	CanAct(ctx context.Context, principal, issuerRef string, action issuer.Action, networks []string) ([]string, error)
}

// Metrics receives revocation outcomes.
type Metrics interface {
	IncRevocation(outcome string)
}

// Config tunes confirmation waits.
type Config struct {
	MinConfirmations    uint64
	ConfirmationTimeout time.Duration
	BackgroundTimeout   time.Duration
}

// Receipt reports the state of a revocation when Revoke returned.
type Receipt struct {
	CredentialID models.CredentialID `json:"credential_id"`
	Revocation   models.Revocation   `json:"revocation"`
	Status       models.Status       `json:"status"`
	// Confirmed is false while the revocation is still propagating; the
	// credential stays provisionally active until then.
	Confirmed bool `json:"confirmed"`
}

// Revoker runs the revocation workflow. It shares the Locker with issuance so
// no credential is revoked while its issuance is still settling.
type Revoker struct {
	cfg        Config
	store      store.Store
	ledger     Ledger
	authorizer Authorizer
	locker     lock.Locker
	events     events.Emitter
	metrics    Metrics
	logger     *slog.Logger
	now        func() time.Time
	watcher    *confirm.Watcher

	// announced holds credentials whose revoked event has been emitted.
	announced sync.Map
}

// Option configures a Revoker.
type Option func(*Revoker)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Revoker) {
		r.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(r *Revoker) {
		r.metrics = m
	}
}

func WithEvents(e events.Emitter) Option {
	return func(r *Revoker) {
		r.events = e
	}
}

func WithLocker(l lock.Locker) Option {
	return func(r *Revoker) {
		r.locker = l
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Revoker) {
		r.now = now
	}
}

func New(cfg Config, st store.Store, l Ledger, authorizer Authorizer, opts ...Option) *Revoker {
	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = 1
	}
	if cfg.ConfirmationTimeout == 0 {
		cfg.ConfirmationTimeout = 2 * time.Minute
	}
	if cfg.BackgroundTimeout == 0 {
		cfg.BackgroundTimeout = 30 * time.Minute
	}
	r := &Revoker{
		cfg:        cfg,
		store:      st,
		ledger:     l,
		authorizer: authorizer,
		locker:     lock.NewLocal(),
		events:     events.Nop{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.watcher = confirm.NewWatcher(l, cfg.MinConfirmations, cfg.BackgroundTimeout, r.logger, r.now)
	return r
}

// Revoke records and anchors a revocation on behalf of principal.
func (r *Revoker) Revoke(ctx context.Context, id models.CredentialID, principal, reason string) (*Receipt, error) {
	receipt, err := r.revoke(ctx, id, principal, strings.TrimSpace(reason))
	if r.metrics != nil {
		outcome := "error"
		switch {
		case err == nil && receipt.Confirmed:
			outcome = "confirmed"
		case err == nil:
			outcome = "pending"
		case dErrors.HasCode(err, dErrors.CodeAlreadyRevoked):
			outcome = "already_revoked"
		case dErrors.HasCode(err, dErrors.CodeUnauthorized):
			outcome = "unauthorized"
		}
		r.metrics.IncRevocation(outcome)
	}
	return receipt, err
}

func (r *Revoker) revoke(ctx context.Context, id models.CredentialID, principal, reason string) (*Receipt, error) {
	if strings.TrimSpace(principal) == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "principal is required")
	}

	release, err := r.locker.Lock(ctx, id.String())
	if err != nil {
		return nil, err
	}
	defer release()

	cred, err := r.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cred.Revocation != nil && !cred.Revocation.Void() {
		return nil, dErrors.New(dErrors.CodeAlreadyRevoked, "credential already revoked")
	}
	if cred.Revocation != nil {
		r.logger.InfoContext(ctx, "replacing void revocation",
			"credential_id", id,
			"revoked_by", cred.Revocation.RevokedBy,
		)
	}
	now := r.now()
	switch models.DeriveStatus(cred, r.cfg.MinConfirmations, now) {
	case models.StatusActive:
	case models.StatusExpired:
		return nil, dErrors.New(dErrors.CodePolicyViolation, "credential has expired")
	default:
		return nil, dErrors.New(dErrors.CodeNotAnchored, "credential is not active")
	}

	allowed, err := r.authorizer.CanAct(ctx, principal, cred.IssuerRef, issuer.ActionRevoke, cred.ConfirmedNetworks(r.cfg.MinConfirmations))
	if err != nil {
		return nil, err
	}
	if len(allowed) == 0 {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "principal is not authorized on any anchoring network")
	}

	anchors := r.submitAll(ctx, cred, allowed)
	var submitted []models.Anchor
	var failures []string
	for _, a := range anchors {
		if a.State == models.AnchorSubmitted {
			submitted = append(submitted, a)
		} else {
			failures = append(failures, a.Network+": "+a.Error)
		}
	}
	if len(submitted) == 0 {
		return nil, dErrors.NewLayered(dErrors.CodeSubmissionFailed, dErrors.LayerLedger,
			"revocation rejected on every network: "+strings.Join(failures, "; "))
	}

	revocation := models.Revocation{
		RevokedAt: now.UTC(),
		RevokedBy: principal,
		Reason:    reason,
		Anchors:   anchors,
	}
	if err := r.store.SetRevocation(ctx, id, revocation); err != nil {
		// the transactions are broadcast; the ledger is authoritative and a
		// retry will be reported as already revoked once the record lands
		r.logger.ErrorContext(ctx, "failed to record revocation",
			"credential_id", id,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record revocation")
	}
	r.emit(ctx, cred, events.TypeRevocationSubmitted, "", "", reason)
	r.logger.InfoContext(ctx, "revocation submitted",
		"credential_id", id,
		"revoked_by", principal,
		"networks", len(submitted),
	)

	r.awaitFirst(ctx, cred, submitted)
	return r.receipt(ctx, id)
}

func (r *Revoker) submitAll(ctx context.Context, cred *models.Credential, networks []string) []models.Anchor {
	tx := ledger.Tx{
		Kind:      ledger.TxRevoke,
		DataHash:  cred.DataHash,
		HolderRef: cred.HolderRef,
		IssuerRef: cred.IssuerRef,
	}
	anchors := make([]models.Anchor, len(networks))
	var g errgroup.Group
	for i, network := range networks {
		g.Go(func() error {
			now := r.now().UTC()
			a := models.Anchor{Network: network, SubmittedAt: now, UpdatedAt: now}
			ref, err := r.ledger.Submit(ctx, network, tx)
			if err != nil {
				a.State = models.AnchorFailed
				a.Error = err.Error()
				r.logger.WarnContext(ctx, "revocation submission rejected",
					"credential_id", cred.ID,
					"network", network,
					"error", err,
				)
			} else {
				a.State = models.AnchorSubmitted
				a.TxRef = string(ref)
			}
			anchors[i] = a
			return nil
		})
	}
	_ = g.Wait()
	return anchors
}

func (r *Revoker) awaitFirst(ctx context.Context, cred *models.Credential, submitted []models.Anchor) {
	id := cred.ID
	record := func(ctx context.Context, a models.Anchor) error {
		return r.store.UpsertRevocationAnchor(ctx, id, a)
	}
	announce := func(ctx context.Context) {
		if err := r.Settle(ctx, id); err != nil {
			r.logger.Error("failed to settle revocation",
				"credential_id", id,
				"error", err,
			)
		}
	}

	network, ok := r.watcher.AwaitFirst(ctx, submitted, r.cfg.ConfirmationTimeout, record, announce)
	if ok {
		r.logger.InfoContext(ctx, "revocation confirmed",
			"credential_id", id,
			"network", network,
		)
		return
	}
	r.logger.InfoContext(ctx, "revocation still propagating",
		"credential_id", id,
	)
}

// Settle emits the revoked event once a revocation transaction has confirmed.
// It is called after every confirmation poll and by the reconcile worker.
func (r *Revoker) Settle(ctx context.Context, id models.CredentialID) error {
	if _, done := r.announced.Load(id); done {
		return nil
	}
	cred, err := r.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !cred.Revocation.Confirmed(r.cfg.MinConfirmations) {
		return nil
	}
	if _, loaded := r.announced.LoadOrStore(id, struct{}{}); loaded {
		return nil
	}
	r.emit(ctx, cred, events.TypeRevoked, "", "", cred.Revocation.Reason)
	return nil
}

func (r *Revoker) receipt(ctx context.Context, id models.CredentialID) (*Receipt, error) {
	cred, err := r.store.FindByID(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}
	if cred.Revocation == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "revocation record missing")
	}
	return &Receipt{
		CredentialID: id,
		Revocation:   *cred.Revocation,
		Status:       models.DeriveStatus(cred, r.cfg.MinConfirmations, r.now()),
		Confirmed:    cred.Revocation.Confirmed(r.cfg.MinConfirmations),
	}, nil
}

func (r *Revoker) emit(ctx context.Context, cred *models.Credential, t events.Type, network, txRef, detail string) {
	r.events.Emit(ctx, events.Event{
		Type:         t,
		CredentialID: cred.ID.String(),
		IssuerRef:    cred.IssuerRef,
		Stage:        string(cred.Stage),
		Network:      network,
		TxRef:        txRef,
		Detail:       detail,
		OccurredAt:   r.now().UTC(),
	})
}

// Close waits for background confirmation polls.
func (r *Revoker) Close(ctx context.Context) error {
	return r.watcher.Close(ctx)
}
