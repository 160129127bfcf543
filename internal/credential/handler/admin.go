package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"credanchor/internal/credential/workers/reconcile"
	dErrors "credanchor/pkg/domain-errors"
	"credanchor/pkg/platform/httputil"
	"credanchor/pkg/platform/middleware/admin"
	"credanchor/pkg/requestcontext"
)

// Reconciler runs one pass over credentials with unsettled anchors.
type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Result, error)
}

// AdminHandler serves operator routes. Mount it behind admin.RequireAdminToken.
type AdminHandler struct {
	reconciler Reconciler
	logger     *slog.Logger
}

func NewAdmin(reconciler Reconciler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{reconciler: reconciler, logger: logger}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/admin/reconcile", h.HandleReconcile)
}

// HandleReconcile triggers a reconcile pass without waiting for the next tick.
// Partial failures still report the counts of what was reconciled.
func (h *AdminHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	res, err := h.reconciler.RunOnce(ctx)
	h.logger.InfoContext(ctx, "manual reconcile",
		"request_id", requestID,
		"actor", admin.Actor(ctx),
		"credentials", res.Credentials,
		"confirmed", res.Confirmed,
		"reverted", res.Reverted,
		"error", err,
	)
	if err != nil && res.Credentials == 0 {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "reconcile failed"))
		return
	}

	resp := ReconcileResponse{Result: res}
	if err != nil {
		resp.Error = err.Error()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
