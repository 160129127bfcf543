package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "credanchor/pkg/domain-errors"
	"credanchor/pkg/validation"
)

// Normalizable requests clean themselves up (trim, lower-case, dedupe)
// before validation.
type Normalizable interface {
	Normalize()
}

// Validatable requests check cross-field rules that struct tags cannot express.
type Validatable interface {
	Validate() error
}

// decodeBody reads exactly one JSON value from the body. Empty bodies and
// trailing data are rejected.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return dErrors.New(dErrors.CodeBadRequest, "request body required")
		}
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	if dec.More() {
		return dErrors.New(dErrors.CodeBadRequest, "request body must hold a single JSON object")
	}
	return nil
}

// PrepareRequest normalizes req, then applies `validate` tags and finally
// the request's own Validate method. Non-domain failures become validation errors.
func PrepareRequest(req any) error {
	if n, ok := req.(Normalizable); ok {
		n.Normalize()
	}
	err := validation.Struct(req)
	if err == nil {
		if v, ok := req.(Validatable); ok {
			err = v.Validate()
		}
	}
	if err == nil {
		return nil
	}
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	return dErrors.New(dErrors.CodeValidation, err.Error())
}

// DecodeAndPrepare decodes the body into a T and prepares it. On failure the
// error response is already written and ok is false.
//
//	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
//	if !ok {
//		return
//	}
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req := new(T)
	if err := decodeBody(r, req); err != nil {
		logger.WarnContext(ctx, "undecodable request body", "error", err, "request_id", requestID)
		WriteError(w, err)
		return nil, false
	}
	if err := PrepareRequest(req); err != nil {
		logger.WarnContext(ctx, "request failed validation", "error", err, "request_id", requestID)
		WriteError(w, err)
		return nil, false
	}
	return req, true
}
