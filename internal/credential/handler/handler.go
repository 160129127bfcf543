package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"credanchor/internal/credential/issuance"
	"credanchor/internal/credential/models"
	"credanchor/internal/credential/revocation"
	"credanchor/internal/credential/service"
	"credanchor/internal/credential/verification"
	"credanchor/internal/proof"
	"credanchor/pkg/platform/httputil"
	"credanchor/pkg/platform/middleware/request"
	"credanchor/pkg/requestcontext"
)

// Service is the credential engine as seen by HTTP callers.
type Service interface {
	Issue(ctx context.Context, req service.IssueRequest) (*issuance.Result, error)
	Verify(ctx context.Context, id string, opts verification.Options) (*verification.Result, error)
	Revoke(ctx context.Context, id, principal, reason string) (*revocation.Receipt, error)
	Prove(ctx context.Context, req proof.Request) (*proof.Result, error)
	VerifyProof(ctx context.Context, proof string, publicInputs []string) (*service.ProofCheck, error)
	Get(ctx context.Context, id string) (*service.CredentialView, error)
	ListByHolder(ctx context.Context, holderRef string) ([]*service.CredentialView, error)
	ChainInfo(ctx context.Context, networks ...string) ([]service.NetworkInfo, error)
	EstimateIssuanceGas(ctx context.Context, req service.GasEstimateRequest) ([]service.GasEstimate, error)
	CheckHealth(ctx context.Context) *service.Health
	SupportedTypes() []models.CredentialType
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterPublic registers routes that need no principal: verification,
// proof checking and status.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/status", h.HandleStatus)
	r.Post("/api/v1/credentials/verify", h.HandleVerify)
	r.Post("/api/v1/proofs/verify", h.HandleVerifyProof)
	r.Get("/api/v1/ledger/networks", h.HandleChainInfo)
}

// RegisterProtected registers routes that act for the authenticated principal.
// The router must already carry the auth middleware.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Post("/api/v1/credentials/issue", h.HandleIssue)
	r.Post("/api/v1/credentials/revoke", h.HandleRevoke)
	r.Post("/api/v1/credentials/estimate-gas", h.HandleEstimateGas)
	r.Get("/api/v1/credentials/holder/{holderRef}", h.HandleListByHolder)
	r.Get("/api/v1/credentials/{id}", h.HandleGet)
	r.Post("/api/v1/proofs", h.HandleProve)
}

// HandleIssue issues a credential for the authenticated principal. The body is
// either the JSON request or a multipart form with the JSON in "request" and a
// supporting file in "document". A credential rejected by every network is
// returned with status failed and 422.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	principal, err := httputil.RequirePrincipal(ctx, h.logger, requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var (
		req      *IssueRequest
		document *issuance.Document
	)
	if request.IsMultipart(r) {
		if req, document, err = decodeIssueUpload(r); err != nil {
			h.logger.WarnContext(ctx, "undecodable issuance upload", "error", err, "request_id", requestID)
			httputil.WriteError(w, err)
			return
		}
	} else {
		var ok bool
		if req, ok = httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID); !ok {
			return
		}
	}

	res, err := h.service.Issue(ctx, service.IssueRequest{
		ID:            req.ID,
		Principal:     principal,
		IssuerRef:     req.IssuerRef,
		HolderRef:     req.HolderRef,
		Type:          req.Type,
		SchemaVersion: req.SchemaVersion,
		Payload:       req.Payload,
		ExpiresAt:     req.ExpiresAt,
		Networks:      req.Networks,
		Document:      document,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "issue credential failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	switch res.Status {
	case models.StatusPending:
		status = http.StatusAccepted
	case models.StatusFailed:
		status = http.StatusUnprocessableEntity
	}
	httputil.WriteJSON(w, status, toIssueResponse(res))
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Verify(ctx, req.CredentialID, verification.Options{IncludeDetails: req.IncludeDetails})
	if err != nil {
		h.logger.ErrorContext(ctx, "verify credential failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	principal, err := httputil.RequirePrincipal(ctx, h.logger, requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[RevokeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	receipt, err := h.service.Revoke(ctx, req.CredentialID, principal, req.Reason)
	if err != nil {
		h.logger.ErrorContext(ctx, "revoke credential failed",
			"error", err,
			"request_id", requestID,
			"credential_id", req.CredentialID,
		)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if !receipt.Confirmed {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, receipt)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	view, err := h.service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.logger.WarnContext(ctx, "get credential failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleListByHolder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	views, err := h.service.ListByHolder(ctx, chi.URLParam(r, "holderRef"))
	if err != nil {
		h.logger.WarnContext(ctx, "list credentials failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &ListResponse{Credentials: views, Total: len(views)})
}

func (h *Handler) HandleProve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ProveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	proofReq, err := req.toProofRequest()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.Prove(ctx, proofReq)
	if err != nil {
		h.logger.ErrorContext(ctx, "prove failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleVerifyProof answers 200 for both outcomes; Valid carries the verdict.
func (h *Handler) HandleVerifyProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyProofRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	check, err := h.service.VerifyProof(ctx, req.Proof, req.PublicInputs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, check)
}

// HandleChainInfo reports chain status for ?network=a,b or every network.
func (h *Handler) HandleChainInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var networks []string
	if q := r.URL.Query().Get("network"); q != "" {
		for n := range strings.SplitSeq(q, ",") {
			if n = strings.TrimSpace(n); n != "" {
				networks = append(networks, n)
			}
		}
	}

	infos, err := h.service.ChainInfo(ctx, networks...)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &ChainInfoResponse{Networks: infos})
}

func (h *Handler) HandleEstimateGas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	principal, err := httputil.RequirePrincipal(ctx, h.logger, requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[GasEstimateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	issuerRef := req.IssuerRef
	if issuerRef == "" {
		issuerRef = principal
	}

	estimates, err := h.service.EstimateIssuanceGas(ctx, service.GasEstimateRequest{
		IssuerRef:     issuerRef,
		HolderRef:     req.HolderRef,
		Type:          req.Type,
		SchemaVersion: req.SchemaVersion,
		Payload:       req.Payload,
		ExpiresAt:     req.ExpiresAt,
		Networks:      req.Networks,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "estimate gas failed", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &GasEstimateResponse{Estimates: estimates})
}

// HandleHealth answers 503 only when no ledger network is reachable.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.service.CheckHealth(r.Context())
	status := http.StatusOK
	if health.Status == service.HealthDown {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, health)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	infos, err := h.service.ChainInfo(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	networks := make([]string, 0, len(infos))
	for _, info := range infos {
		networks = append(networks, info.Network)
	}
	httputil.WriteJSON(w, http.StatusOK, &StatusResponse{
		Service:        "credanchor",
		SupportedTypes: h.service.SupportedTypes(),
		Networks:       networks,
		ProofTypes:     []proof.Type{proof.TypeExistence, proof.TypeAttribute, proof.TypeRange},
	})
}
