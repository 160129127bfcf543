package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"credanchor/internal/credential/issuance"
	dErrors "credanchor/pkg/domain-errors"
	"credanchor/pkg/platform/httputil"
)

// maxUploadMemory is how much of a multipart body is held in memory; the
// rest spills to temporary files removed once the request is decoded.
const maxUploadMemory = 4 << 20

// decodeIssueUpload reads a multipart issuance request: the JSON request in
// the "request" field and an optional file in the "document" field.
func decodeIssueUpload(r *http.Request) (*IssueRequest, *issuance.Document, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid multipart body")
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	raw := r.FormValue("request")
	if strings.TrimSpace(raw) == "" {
		return nil, nil, dErrors.New(dErrors.CodeBadRequest, "multipart field request is required")
	}
	req := new(IssueRequest)
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(req); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request field")
	}
	if dec.More() {
		return nil, nil, dErrors.New(dErrors.CodeBadRequest, "request field must hold a single JSON object")
	}
	if err := httputil.PrepareRequest(req); err != nil {
		return nil, nil, err
	}

	file, header, err := r.FormFile("document")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil, nil
	}
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid document field")
	}
	defer file.Close()
	if header.Size > issuance.MaxDocumentBytes {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "document exceeds 10 MiB")
	}
	content, err := io.ReadAll(io.LimitReader(file, issuance.MaxDocumentBytes+1))
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read document")
	}

	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = http.DetectContentType(content)
	}
	return req, &issuance.Document{Content: content, MediaType: mediaType}, nil
}
