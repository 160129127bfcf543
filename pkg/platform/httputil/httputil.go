// Package httputil writes JSON responses and translates domain errors into
// HTTP status codes and stable error names.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "credanchor/pkg/domain-errors"
	"credanchor/pkg/platform/middleware/auth"
)

type errorMapping struct {
	status int
	name   string
}

var errorMappings = map[dErrors.Code]errorMapping{
	dErrors.CodeNotFound:           {http.StatusNotFound, "not_found"},
	dErrors.CodeBadRequest:         {http.StatusBadRequest, "bad_request"},
	dErrors.CodeInvalidInput:       {http.StatusBadRequest, "bad_request"},
	dErrors.CodeValidation:         {http.StatusBadRequest, "validation_error"},
	dErrors.CodeInvariantViolation: {http.StatusBadRequest, "validation_error"},
	dErrors.CodeConflict:           {http.StatusConflict, "conflict"},
	dErrors.CodeAlreadyRevoked:     {http.StatusConflict, "already_revoked"},
	dErrors.CodeUnauthorized:       {http.StatusUnauthorized, "unauthorized"},
	dErrors.CodeForbidden:          {http.StatusForbidden, "forbidden"},
	dErrors.CodePolicyViolation:    {http.StatusPreconditionFailed, "policy_violation"},
	dErrors.CodeNotAnchored:        {http.StatusPreconditionFailed, "not_anchored"},
	dErrors.CodeProofInvalid:       {http.StatusUnprocessableEntity, "proof_invalid"},
	dErrors.CodeTimeout:            {http.StatusGatewayTimeout, "timeout"},
	dErrors.CodeNetworkUnavailable: {http.StatusServiceUnavailable, "network_unavailable"},
	dErrors.CodeStorageUnavailable: {http.StatusServiceUnavailable, "storage_unavailable"},
	dErrors.CodeSubmissionFailed:   {http.StatusBadGateway, "submission_failed"},
}

var internalError = errorMapping{http.StatusInternalServerError, "internal_error"}

func mappingFor(code dErrors.Code) errorMapping {
	if m, ok := errorMappings[code]; ok {
		return m
	}
	return internalError
}

// HTTPStatus returns the response status for a domain error code. Unknown
// codes map to 500.
func HTTPStatus(code dErrors.Code) int { return mappingFor(code).status }

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError renders err as {"error", "error_description", "layer"}. Errors
// without a domain code are reported as a bare internal_error so no
// infrastructure detail leaks to callers.
func WriteError(w http.ResponseWriter, err error) {
	var de *dErrors.Error
	if !errors.As(err, &de) {
		WriteJSON(w, internalError.status, map[string]string{"error": internalError.name})
		return
	}
	m := mappingFor(de.Code)
	body := map[string]string{"error": m.name}
	if de.Message != "" {
		body["error_description"] = de.Message
	}
	if layer := dErrors.LayerOf(err); layer != dErrors.LayerNone {
		body["layer"] = string(layer)
	}
	WriteJSON(w, m.status, body)
}

// RequirePrincipal returns the authenticated principal, or an unauthorized
// error when the route was reached without the auth middleware.
func RequirePrincipal(ctx context.Context, logger *slog.Logger, requestID string) (string, error) {
	if principal := auth.Principal(ctx); principal != "" {
		return principal, nil
	}
	if logger != nil {
		logger.ErrorContext(ctx, "no principal on an authenticated route", "request_id", requestID)
	}
	return "", dErrors.New(dErrors.CodeUnauthorized, "authentication required")
}
