// Package issuance drives a credential from raw payload to ledger-anchored:
// draft, hashed, stored, submitted, then confirmed or failed.
package issuance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"credanchor/internal/credential/confirm"
	"credanchor/internal/credential/events"
	"credanchor/internal/credential/lock"
	"credanchor/internal/credential/models"
	"credanchor/internal/credential/schema"
	"credanchor/internal/credential/store"
	"credanchor/internal/issuer"
	"credanchor/internal/ledger"
	"credanchor/internal/storage/cas"
	dErrors "credanchor/pkg/domain-errors"
)

// Config tunes confirmation waits.
type Config struct {
	MinConfirmations uint64
	// ConfirmationTimeout bounds how long Issue waits for the first network.
	ConfirmationTimeout time.Duration
	// BackgroundTimeout bounds how long slower networks keep polling after Issue returns.
	BackgroundTimeout time.Duration
}

// Request carries everything needed to issue one credential.
type Request struct {
	ID            models.CredentialID
	Principal     string
	IssuerRef     string
	HolderRef     string
	Type          models.CredentialType
	SchemaVersion string
	Payload       json.RawMessage
	ExpiresAt     *time.Time
	Networks      []string
	// Document is an optional supporting file committed into the payload.
	Document      *Document
}

// Result is the credential as persisted when Issue returned.
type Result struct {
	Credential *models.Credential
	Status     models.Status
}

// Pipeline runs issuance. It is safe for concurrent use; transitions for one
// credential are serialized through the Locker.
type Pipeline struct {
	cfg        Config
	store      store.Store
	ledger     Ledger
	storage    Storage
	authorizer Authorizer
	schemas    Canonicalizer
	locker     lock.Locker
	events     events.Emitter
	metrics    Metrics
	logger     *slog.Logger
	now        func() time.Time
	watcher    *confirm.Watcher
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

func WithEvents(e events.Emitter) Option {
	return func(p *Pipeline) {
		p.events = e
	}
}

func WithLocker(l lock.Locker) Option {
	return func(p *Pipeline) {
		p.locker = l
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func New(cfg Config, st store.Store, l Ledger, storage Storage, authorizer Authorizer, schemas Canonicalizer, opts ...Option) *Pipeline {
	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = 1
	}
	if cfg.ConfirmationTimeout == 0 {
		cfg.ConfirmationTimeout = 2 * time.Minute
	}
	if cfg.BackgroundTimeout == 0 {
		cfg.BackgroundTimeout = 30 * time.Minute
	}
	p := &Pipeline{
		cfg:        cfg,
		store:      st,
		ledger:     l,
		storage:    storage,
		authorizer: authorizer,
		schemas:    schemas,
		locker:     lock.NewLocal(),
		events:     events.Nop{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.watcher = confirm.NewWatcher(l, cfg.MinConfirmations, cfg.BackgroundTimeout, p.logger, p.now)
	return p
}

// Issue runs the pipeline for one credential. A credential whose every
// submission was rejected is returned with status failed, not an error.
// A confirmation timeout returns the credential still pending.
func (p *Pipeline) Issue(ctx context.Context, req Request) (*Result, error) {
	start := p.now()
	res, err := p.issue(ctx, req)
	if p.metrics != nil {
		outcome := "error"
		if err == nil {
			outcome = string(res.Status)
		}
		p.metrics.IncIssuance(outcome)
		p.metrics.ObserveIssuanceDuration(p.now().Sub(start).Seconds())
	}
	return res, err
}

func (p *Pipeline) issue(ctx context.Context, req Request) (*Result, error) {
	// Draft: validate caller input and authorization
	networks, err := p.validate(ctx, &req)
	if err != nil {
		return nil, err
	}
	allowed, err := p.authorizer.CanAct(ctx, req.Principal, req.IssuerRef, issuer.ActionIssue, networks)
	if err != nil {
		return nil, err
	}

	// Hashed: commit the document, canonicalize and commit to the digest
	var document *models.DocumentRef
	if req.Document != nil {
		if req.Payload, document, err = p.attachDocument(ctx, req.Payload, req.Document); err != nil {
			return nil, err
		}
	}
	canonical, err := p.schemas.Canonicalize(req.Type, req.SchemaVersion, req.Payload)
	if err != nil {
		return nil, err
	}
	if existing, findErr := p.store.FindByDataHash(ctx, req.IssuerRef, canonical.Hash); findErr == nil {
		return nil, dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("payload already issued as %s", existing.ID))
	} else if !dErrors.HasCode(findErr, dErrors.CodeNotFound) {
		return nil, dErrors.Wrap(findErr, dErrors.CodeInternal, "failed to check for duplicate credential")
	}

	release, err := p.locker.Lock(ctx, req.ID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	now := p.now().UTC()
	cred := &models.Credential{
		ID:            req.ID,
		HolderRef:     req.HolderRef,
		IssuerRef:     req.IssuerRef,
		Type:          req.Type,
		SchemaVersion: req.SchemaVersion,
		DataHash:      canonical.Hash,
		Document:      document,
		IssuedAt:      now,
		ExpiresAt:     req.ExpiresAt,
		Stage:         models.StageHashed,
		UpdatedAt:     now,
	}
	if err := p.store.Create(ctx, cred); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record credential")
	}
	p.emit(ctx, cred, events.TypeHashed, "", "", "")
	p.logger.InfoContext(ctx, "credential hashed",
		"credential_id", cred.ID,
		"issuer_ref", cred.IssuerRef,
		"data_hash", cred.DataHash.Hex(),
	)

	// Stored: a storage failure downgrades confidence but never aborts anchoring
	p.storePayload(ctx, cred, canonical.Bytes)
	p.pinDocument(ctx, cred)
	if err := p.persist(ctx, cred, models.StageStored); err != nil {
		return nil, err
	}
	p.emit(ctx, cred, events.TypeStored, "", "", storageDetail(cred.Storage))

	// Submitted: fan out to every requested network independently
	submitted := p.submitAll(ctx, cred, networks, allowed)
	if len(submitted) == 0 {
		if err := p.fail(ctx, cred, "all submissions rejected"); err != nil {
			return nil, err
		}
		return p.result(ctx, cred.ID)
	}
	if err := p.persist(ctx, cred, models.StageSubmitted); err != nil {
		return nil, err
	}
	p.emit(ctx, cred, events.TypeSubmitted, "", "", strings.Join(submitted, ","))

	// Confirmed: first network to reach depth wins, the rest keep polling
	p.awaitFirst(ctx, cred, submitted)
	if err := p.settleLocked(ctx, cred.ID); err != nil {
		return nil, err
	}
	return p.result(ctx, cred.ID)
}

func (p *Pipeline) validate(_ context.Context, req *Request) ([]string, error) {
	if req.ID == "" {
		req.ID = models.NewCredentialID()
	} else if _, err := models.ParseCredentialID(req.ID.String()); err != nil {
		return nil, err
	}
	req.HolderRef = strings.TrimSpace(req.HolderRef)
	req.IssuerRef = strings.TrimSpace(req.IssuerRef)
	if req.HolderRef == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "holder_ref is required")
	}
	if req.IssuerRef == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "issuer_ref is required")
	}
	if _, err := models.ParseCredentialType(string(req.Type)); err != nil {
		return nil, err
	}
	if req.SchemaVersion == "" {
		req.SchemaVersion = schema.DefaultVersion
	}
	if len(req.Payload) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "payload is required")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(p.now()) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "expires_at must be in the future")
	}
	if req.Document != nil {
		if err := validateDocument(req.Document); err != nil {
			return nil, err
		}
	}

	var networks []string
	for _, n := range req.Networks {
		n = strings.TrimSpace(n)
		if n != "" && !slices.Contains(networks, n) {
			networks = append(networks, n)
		}
	}
	if len(networks) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one network is required")
	}
	return networks, nil
}

func (p *Pipeline) storePayload(ctx context.Context, cred *models.Credential, payload []byte) {
	addr, err := p.storage.Put(ctx, payload)
	if err != nil {
		p.logger.WarnContext(ctx, "payload upload failed, continuing anchor-only",
			"credential_id", cred.ID,
			"error", err,
		)
		return
	}
	ref := &models.StorageRef{Address: addr.Value, Degraded: addr.Degraded}
	if !addr.Degraded {
		ref.Pinned = p.storage.Pin(ctx, addr) == nil
	}
	cred.Storage = ref
}

// submitAll submits the anchor transaction to each network concurrently and
// records one anchor per network. It returns the networks that accepted it.
func (p *Pipeline) submitAll(ctx context.Context, cred *models.Credential, networks, allowed []string) []string {
	tx := ledger.Tx{
		Kind:      ledger.TxAnchor,
		DataHash:  cred.DataHash,
		HolderRef: cred.HolderRef,
		IssuerRef: cred.IssuerRef,
		ExpiresAt: cred.ExpiresAt,
	}

	anchors := make([]models.Anchor, len(networks))
	var g errgroup.Group
	for i, network := range networks {
		g.Go(func() error {
			anchors[i] = p.submitOne(ctx, cred, network, slices.Contains(allowed, network), tx)
			return nil
		})
	}
	_ = g.Wait()

	var submitted []string
	for _, a := range anchors {
		cred.SetAnchor(a)
		if a.State == models.AnchorSubmitted {
			submitted = append(submitted, a.Network)
			p.emit(ctx, cred, events.TypeAnchored, a.Network, a.TxRef, "")
		} else {
			p.emit(ctx, cred, events.TypeAnchorFailed, a.Network, "", a.Error)
		}
	}
	return submitted
}

func (p *Pipeline) submitOne(ctx context.Context, cred *models.Credential, network string, authorized bool, tx ledger.Tx) models.Anchor {
	now := p.now().UTC()
	anchor := models.Anchor{Network: network, SubmittedAt: now, UpdatedAt: now}
	reject := func(reason string) models.Anchor {
		anchor.State = models.AnchorFailed
		anchor.Error = reason
		p.logger.WarnContext(ctx, "anchor submission rejected",
			"credential_id", cred.ID,
			"network", network,
			"reason", reason,
		)
		return anchor
	}

	if !authorized {
		return reject("issuer not authorized on network")
	}
	onChain, err := p.ledger.IsAuthorizedIssuer(ctx, network, cred.IssuerRef)
	if err != nil {
		return reject(err.Error())
	}
	if !onChain {
		return reject("issuer not authorized on-chain")
	}
	ref, err := p.ledger.Submit(ctx, network, tx)
	if err != nil {
		return reject(err.Error())
	}

	anchor.TxRef = string(ref)
	anchor.State = models.AnchorSubmitted
	if err := p.store.UpsertAnchor(ctx, cred.ID, anchor); err != nil {
		// the transaction is broadcast; the reconcile worker cannot find it
		// without this row, so surface loudly
		p.logger.ErrorContext(ctx, "failed to record submitted anchor",
			"credential_id", cred.ID,
			"network", network,
			"tx_ref", ref,
			"error", err,
		)
	}
	return anchor
}

// awaitFirst hands every submitted anchor to the watcher and returns when the
// first confirms, all settle, the wait bound elapses, or ctx ends. Polls that
// outlive this call keep recording anchors and re-settling the credential.
func (p *Pipeline) awaitFirst(ctx context.Context, cred *models.Credential, networks []string) {
	pending := make([]models.Anchor, 0, len(networks))
	for _, network := range networks {
		if a, ok := cred.Anchor(network); ok {
			pending = append(pending, a)
		}
	}

	id := cred.ID
	record := func(ctx context.Context, a models.Anchor) error {
		return p.store.UpsertAnchor(ctx, id, a)
	}
	settle := func(ctx context.Context) {
		if err := p.Settle(ctx, id); err != nil {
			p.logger.Error("failed to settle credential after confirmation",
				"credential_id", id,
				"error", err,
			)
		}
	}

	network, ok := p.watcher.AwaitFirst(ctx, pending, p.cfg.ConfirmationTimeout, record, settle)
	if ok {
		p.logger.InfoContext(ctx, "credential confirmed",
			"credential_id", id,
			"network", network,
		)
		return
	}
	p.logger.InfoContext(ctx, "confirmation wait ended, credential left submitted",
		"credential_id", id,
	)
}

// Settle re-derives the pipeline stage of a credential from its recorded anchors.
// It is called after every confirmation and by the reconcile worker.
func (p *Pipeline) Settle(ctx context.Context, id models.CredentialID) error {
	release, err := p.locker.Lock(ctx, id.String())
	if err != nil {
		return err
	}
	defer release()
	return p.settleLocked(ctx, id)
}

func (p *Pipeline) settleLocked(ctx context.Context, id models.CredentialID) error {
	cred, err := p.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if cred.Stage != models.StageSubmitted {
		return nil
	}

	if len(cred.ConfirmedNetworks(p.cfg.MinConfirmations)) > 0 {
		if err := p.persist(ctx, cred, models.StageConfirmed); err != nil {
			return err
		}
		p.emit(ctx, cred, events.TypeActivated, "", "", "")
		return nil
	}

	for _, a := range cred.Anchors {
		if !a.Settled() {
			return nil
		}
	}
	return p.fail(ctx, cred, "no anchor confirmed")
}

func (p *Pipeline) fail(ctx context.Context, cred *models.Credential, reason string) error {
	if err := p.persist(ctx, cred, models.StageFailed); err != nil {
		return err
	}
	p.emit(ctx, cred, events.TypeFailed, "", "", reason)
	p.logger.WarnContext(ctx, "credential issuance failed",
		"credential_id", cred.ID,
		"reason", reason,
	)
	p.releasePins(ctx, cred)
	return nil
}

// releasePins unpins the payload and document of a failed credential.
func (p *Pipeline) releasePins(ctx context.Context, cred *models.Credential) {
	changed := false
	if cred.Storage != nil && cred.Storage.Pinned {
		if err := p.storage.Unpin(ctx, cas.ParseAddress(cred.Storage.Address)); err == nil {
			cred.Storage.Pinned = false
			changed = true
		}
	}
	if cred.Document != nil && cred.Document.Pinned {
		if err := p.storage.Unpin(ctx, cas.ParseAddress(cred.Document.Address)); err == nil {
			cred.Document.Pinned = false
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := p.store.Update(ctx, cred); err != nil {
		p.logger.WarnContext(ctx, "failed to record unpinned content",
			"credential_id", cred.ID,
			"error", err,
		)
	}
}

func (p *Pipeline) persist(ctx context.Context, cred *models.Credential, stage models.Stage) error {
	cred.Stage = stage
	cred.UpdatedAt = p.now().UTC()
	if err := p.store.Update(ctx, cred); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("failed to record stage %s", stage))
	}
	return nil
}

func (p *Pipeline) result(ctx context.Context, id models.CredentialID) (*Result, error) {
	cred, err := p.store.FindByID(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}
	return &Result{
		Credential: cred,
		Status:     models.DeriveStatus(cred, p.cfg.MinConfirmations, p.now()),
	}, nil
}

func (p *Pipeline) emit(ctx context.Context, cred *models.Credential, t events.Type, network, txRef, detail string) {
	p.events.Emit(ctx, events.Event{
		Type:         t,
		CredentialID: cred.ID.String(),
		IssuerRef:    cred.IssuerRef,
		Stage:        string(cred.Stage),
		Network:      network,
		TxRef:        txRef,
		Detail:       detail,
		OccurredAt:   p.now().UTC(),
	})
}

// Close waits for background confirmation polls. If ctx ends first the polls
// are cancelled; their anchors stay submitted for reconciliation.
func (p *Pipeline) Close(ctx context.Context) error {
	return p.watcher.Close(ctx)
}

func storageDetail(ref *models.StorageRef) string {
	switch {
	case ref == nil:
		return "unavailable"
	case ref.Degraded:
		return "degraded"
	default:
		return ref.Address
	}
}
