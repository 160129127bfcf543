// Package service is the caller-facing surface of the credential engine. It
// composes issuance, verification, revocation and proofs, and adds the read
// and ledger-status operations the HTTP layer exposes.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"credanchor/internal/credential/issuance"
	"credanchor/internal/credential/models"
	"credanchor/internal/credential/revocation"
	"credanchor/internal/credential/schema"
	"credanchor/internal/credential/verification"
	"credanchor/internal/ledger"
	"credanchor/internal/platform/tracer"
	"credanchor/internal/proof"
	dErrors "credanchor/pkg/domain-errors"
)

// Issuer runs the issuance pipeline.
type Issuer interface {
	Issue(ctx context.Context, req issuance.Request) (*issuance.Result, error)
}

// Verifier judges a credential.
type Verifier interface {
	Verify(ctx context.Context, id models.CredentialID, opts verification.Options) (*verification.Result, error)
}

// Revoker runs the revocation workflow.
type Revoker interface {
	Revoke(ctx context.Context, id models.CredentialID, principal, reason string) (*revocation.Receipt, error)
}

// Prover produces and checks selective-disclosure proofs.
type Prover interface {
	Prove(ctx context.Context, req proof.Request) (*proof.Result, error)
	Verify(proof string, publicInputs []string) error
	VerificationKey() string
}

// Reader loads credential metadata.
type Reader interface {
	FindByID(ctx context.Context, id models.CredentialID) (*models.Credential, error)
	ListByHolder(ctx context.Context, holderRef string) ([]*models.Credential, error)
}

// Ledger is the status side of the provider pool.
type Ledger interface {
	Networks() []string
	CheckHealth(ctx context.Context) map[string]bool
	ChainInfo(ctx context.Context, network string) (ledger.ChainInfo, error)
	EstimateGas(ctx context.Context, network string, tx ledger.Tx) (uint64, error)
}

// Storage reports content store health.
type Storage interface {
	Ping(ctx context.Context) error
	Degraded() bool
}

// Canonicalizer hashes payloads for gas estimates.
type Canonicalizer interface {
	Canonicalize(t models.CredentialType, version string, payload []byte) (*schema.Canonical, error)
}

// Service is safe for concurrent use.
type Service struct {
	issuer           Issuer
	verifier         Verifier
	revoker          Revoker
	prover           Prover
	reader           Reader
	ledger           Ledger
	storage          Storage
	schemas          Canonicalizer
	minConfirmations uint64
	tracer           tracer.Tracer
	logger           *slog.Logger
	now              func() time.Time
}

// Deps groups the collaborators of Service.
type Deps struct {
	Issuer   Issuer
	Verifier Verifier
	Revoker  Revoker
	Prover   Prover
	Reader   Reader
	Ledger   Ledger
	Storage  Storage
	Schemas  Canonicalizer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(deps Deps, minConfirmations uint64, opts ...Option) *Service {
	if minConfirmations == 0 {
		minConfirmations = 1
	}
	s := &Service{
		issuer:           deps.Issuer,
		verifier:         deps.Verifier,
		revoker:          deps.Revoker,
		prover:           deps.Prover,
		reader:           deps.Reader,
		ledger:           deps.Ledger,
		storage:          deps.Storage,
		schemas:          deps.Schemas,
		minConfirmations: minConfirmations,
		tracer:           tracer.NewNoop(),
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueRequest is the caller's view of an issuance request. An empty
// IssuerRef means the principal issues on its own behalf.
type IssueRequest struct {
	ID            string
	Principal     string
	IssuerRef     string
	HolderRef     string
	Type          string
	SchemaVersion string
	Payload       json.RawMessage
	ExpiresAt     *time.Time
	Networks      []string
	Document      *issuance.Document
}

// Issue validates the identifiers and runs the issuance pipeline. Networks
// default to every registered network.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (res *issuance.Result, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanIssue,
		tracer.String(tracer.AttrCredentialType, req.Type),
		tracer.String(tracer.AttrHolder, tracer.HashRef(req.HolderRef)),
	)
	defer func() { span.End(err) }()

	ctype, err := models.ParseCredentialType(req.Type)
	if err != nil {
		return nil, err
	}
	var id models.CredentialID
	if req.ID != "" {
		if id, err = models.ParseCredentialID(req.ID); err != nil {
			return nil, err
		}
	}
	issuerRef := strings.TrimSpace(req.IssuerRef)
	if issuerRef == "" {
		issuerRef = req.Principal
	}
	networks := req.Networks
	if len(networks) == 0 {
		networks = s.ledger.Networks()
	}

	res, err = s.issuer.Issue(ctx, issuance.Request{
		ID:            id,
		Principal:     req.Principal,
		IssuerRef:     issuerRef,
		HolderRef:     req.HolderRef,
		Type:          ctype,
		SchemaVersion: req.SchemaVersion,
		Payload:       req.Payload,
		ExpiresAt:     req.ExpiresAt,
		Networks:      networks,
		Document:      req.Document,
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		tracer.String(tracer.AttrCredentialID, res.Credential.ID.String()),
		tracer.String(tracer.AttrStatus, string(res.Status)),
	)
	for _, network := range res.Credential.ConfirmedNetworks(s.minConfirmations) {
		span.AddEvent(tracer.EventAnchored, tracer.String(tracer.AttrNetwork, network))
	}
	return res, nil
}

// Verify judges the credential identified by id.
func (s *Service) Verify(ctx context.Context, id string, opts verification.Options) (res *verification.Result, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanVerify,
		tracer.String(tracer.AttrCredentialID, id),
		tracer.Bool(tracer.AttrIncludeDetails, opts.IncludeDetails),
	)
	defer func() { span.End(err) }()

	cid, err := models.ParseCredentialID(id)
	if err != nil {
		return nil, err
	}
	res, err = s.verifier.Verify(ctx, cid, opts)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		tracer.String(tracer.AttrStatus, string(res.Status)),
		tracer.String(tracer.AttrFailure, string(res.Failure)),
	)
	return res, nil
}

// Revoke revokes the credential on behalf of principal.
func (s *Service) Revoke(ctx context.Context, id, principal, reason string) (receipt *revocation.Receipt, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanRevoke, tracer.String(tracer.AttrCredentialID, id))
	defer func() { span.End(err) }()

	cid, err := models.ParseCredentialID(id)
	if err != nil {
		return nil, err
	}
	receipt, err = s.revoker.Revoke(ctx, cid, principal, reason)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracer.String(tracer.AttrStatus, string(receipt.Status)))
	return receipt, nil
}

// Prove produces a selective-disclosure proof.
func (s *Service) Prove(ctx context.Context, req proof.Request) (res *proof.Result, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanProve,
		tracer.String(tracer.AttrCredentialID, req.CredentialID.String()),
		tracer.String(tracer.AttrProofType, string(req.Type)),
	)
	defer func() { span.End(err) }()

	res, err = s.prover.Prove(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracer.Bool(tracer.AttrProofValid, res.Valid))
	return res, nil
}

// ProofCheck is the outcome of VerifyProof.
type ProofCheck struct {
	Valid           bool   `json:"valid"`
	VerificationKey string `json:"verification_key"`
	Reason          string `json:"reason,omitempty"`
}

// VerifyProof checks a proof against its public inputs and this engine's
// verification key. An invalid proof is a result, not an error.
func (s *Service) VerifyProof(ctx context.Context, proofValue string, publicInputs []string) (*ProofCheck, error) {
	_, span := s.tracer.Start(ctx, tracer.SpanVerifyProof)
	check := &ProofCheck{VerificationKey: s.prover.VerificationKey()}
	if err := s.prover.Verify(proofValue, publicInputs); err != nil {
		check.Reason = err.Error()
	} else {
		check.Valid = true
	}
	span.SetAttributes(tracer.Bool(tracer.AttrProofValid, check.Valid))
	span.End(nil)
	return check, nil
}

// CredentialView is a credential together with its derived status.
type CredentialView struct {
	*models.Credential
	Status models.Status `json:"status"`
}

// Get returns local metadata for a credential without consulting the ledger.
func (s *Service) Get(ctx context.Context, id string) (view *CredentialView, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanGetCredential, tracer.String(tracer.AttrCredentialID, id))
	defer func() { span.End(err) }()

	cid, err := models.ParseCredentialID(id)
	if err != nil {
		return nil, err
	}
	c, err := s.reader.FindByID(ctx, cid)
	if err != nil {
		return nil, err
	}
	return s.view(c), nil
}

// ListByHolder returns the holder's credentials, newest first.
func (s *Service) ListByHolder(ctx context.Context, holderRef string) (views []*CredentialView, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanListByHolder, tracer.String(tracer.AttrHolder, tracer.HashRef(holderRef)))
	defer func() { span.End(err) }()

	holderRef = strings.TrimSpace(holderRef)
	if holderRef == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "holder reference is required")
	}
	creds, err := s.reader.ListByHolder(ctx, holderRef)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(creds, func(a, b *models.Credential) int {
		return b.IssuedAt.Compare(a.IssuedAt)
	})
	views = make([]*CredentialView, 0, len(creds))
	for _, c := range creds {
		views = append(views, s.view(c))
	}
	return views, nil
}

func (s *Service) view(c *models.Credential) *CredentialView {
	return &CredentialView{Credential: c, Status: models.DeriveStatus(c, s.minConfirmations, s.now())}
}

// NetworkInfo is the chain status of one network. Error is set when the
// network could not be queried.
type NetworkInfo struct {
	ledger.ChainInfo
	Error string `json:"error,omitempty"`
}

// ChainInfo reports head, chain ID and gas price for the given networks, or
// for every registered network when none are named.
func (s *Service) ChainInfo(ctx context.Context, networks ...string) ([]NetworkInfo, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanChainInfo)
	defer span.End(nil)

	if len(networks) == 0 {
		networks = s.ledger.Networks()
	}
	out := make([]NetworkInfo, len(networks))
	g, gctx := errgroup.WithContext(ctx)
	for i, network := range networks {
		g.Go(func() error {
			info, err := s.ledger.ChainInfo(gctx, network)
			out[i] = NetworkInfo{ChainInfo: info}
			if err != nil {
				out[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// GasEstimateRequest describes an issuance to price without submitting it.
type GasEstimateRequest struct {
	IssuerRef     string
	HolderRef     string
	Type          string
	SchemaVersion string
	Payload       json.RawMessage
	ExpiresAt     *time.Time
	Networks      []string
}

// GasEstimate is the anchoring cost on one network. Fee is Gas times the
// network's current gas price, when the price is known.
type GasEstimate struct {
	Network  string   `json:"network"`
	Gas      uint64   `json:"gas,omitempty"`
	GasPrice *big.Int `json:"gas_price,omitempty"`
	Fee      *big.Int `json:"fee,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// EstimateIssuanceGas prices the anchor transaction on each network. A
// network that cannot estimate reports its error; no default is substituted.
func (s *Service) EstimateIssuanceGas(ctx context.Context, req GasEstimateRequest) (estimates []GasEstimate, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanEstimateGas, tracer.String(tracer.AttrCredentialType, req.Type))
	defer func() { span.End(err) }()

	ctype, err := models.ParseCredentialType(req.Type)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.IssuerRef) == "" || strings.TrimSpace(req.HolderRef) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "issuer and holder references are required")
	}
	canonical, err := s.schemas.Canonicalize(ctype, req.SchemaVersion, req.Payload)
	if err != nil {
		return nil, err
	}
	tx := ledger.Tx{
		Kind:      ledger.TxAnchor,
		DataHash:  [32]byte(canonical.Hash),
		HolderRef: req.HolderRef,
		IssuerRef: req.IssuerRef,
		ExpiresAt: req.ExpiresAt,
	}

	networks := req.Networks
	if len(networks) == 0 {
		networks = s.ledger.Networks()
	}
	estimates = make([]GasEstimate, len(networks))
	g, gctx := errgroup.WithContext(ctx)
	for i, network := range networks {
		g.Go(func() error {
			est := GasEstimate{Network: network}
			gas, err := s.ledger.EstimateGas(gctx, network, tx)
			if err != nil {
				est.Error = err.Error()
				estimates[i] = est
				return nil
			}
			est.Gas = gas
			if info, err := s.ledger.ChainInfo(gctx, network); err == nil && info.GasPrice != nil {
				est.GasPrice = info.GasPrice
				est.Fee = new(big.Int).Mul(info.GasPrice, new(big.Int).SetUint64(gas))
			}
			estimates[i] = est
			return nil
		})
	}
	_ = g.Wait()
	return estimates, nil
}

// Health summarizes ledger and storage health.
type Health struct {
	Status          string          `json:"status"`
	Networks        map[string]bool `json:"networks"`
	StorageHealthy  bool            `json:"storage_healthy"`
	StorageDegraded bool            `json:"storage_degraded"`
	VerificationKey string          `json:"verification_key,omitempty"`
	CheckedAt       time.Time       `json:"checked_at"`
}

// Health status values.
const (
	HealthOK       = "healthy"
	HealthDegraded = "degraded"
	HealthDown     = "unhealthy"
)

// CheckHealth checks every ledger network and the content store. The engine
// is healthy when all of them respond, degraded while at least one network is
// reachable, and unhealthy otherwise.
func (s *Service) CheckHealth(ctx context.Context) *Health {
	ctx, span := s.tracer.Start(ctx, tracer.SpanHealth)
	defer span.End(nil)

	h := &Health{CheckedAt: s.now().UTC()}
	var g errgroup.Group
	g.Go(func() error {
		h.Networks = s.ledger.CheckHealth(ctx)
		return nil
	})
	g.Go(func() error {
		if err := s.storage.Ping(ctx); err != nil {
			s.logger.WarnContext(ctx, "content store health check failed", "error", err)
		}
		return nil
	})
	_ = g.Wait()

	h.StorageDegraded = s.storage.Degraded()
	h.StorageHealthy = !h.StorageDegraded
	if s.prover != nil {
		h.VerificationKey = s.prover.VerificationKey()
	}

	up := 0
	for _, ok := range h.Networks {
		if ok {
			up++
		}
	}
	switch {
	case up == 0:
		h.Status = HealthDown
	case up < len(h.Networks) || h.StorageDegraded:
		h.Status = HealthDegraded
	default:
		h.Status = HealthOK
	}
	return h
}

// SupportedTypes lists the credential types the engine issues.
func (s *Service) SupportedTypes() []models.CredentialType {
	return slices.Clone(models.CredentialTypes)
}
