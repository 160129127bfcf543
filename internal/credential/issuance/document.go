package issuance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime"
	"slices"

	"credanchor/internal/credential/models"
	"credanchor/internal/storage/cas"
	dErrors "credanchor/pkg/domain-errors"
)

// MaxDocumentBytes bounds a supporting document attached at issuance.
const MaxDocumentBytes = 10 << 20

// DocumentMediaTypes lists the media types accepted for attached documents.
var DocumentMediaTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/tiff",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Document is a supporting file uploaded with a credential. Its digest is
// committed in the payload under "document", so it is covered by the dataHash.
type Document struct {
	Content   []byte
	MediaType string
}

type documentCommitment struct {
	Address   string `json:"address"`
	SHA256    string `json:"sha256"`
	MediaType string `json:"media_type"`
}

func validateDocument(doc *Document) error {
	if len(doc.Content) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "document is empty")
	}
	if len(doc.Content) > MaxDocumentBytes {
		return dErrors.New(dErrors.CodeInvalidInput, "document exceeds 10 MiB")
	}
	mediaType, _, err := mime.ParseMediaType(doc.MediaType)
	if err != nil || !slices.Contains(DocumentMediaTypes, mediaType) {
		return dErrors.New(dErrors.CodeInvalidInput, "document must be a PDF, image or Word file")
	}
	doc.MediaType = mediaType
	return nil
}

// attachDocument uploads doc and returns the payload with its commitment
// added. An unreachable store yields a placeholder address; the digest still
// binds the document to the credential.
func (p *Pipeline) attachDocument(ctx context.Context, payload json.RawMessage, doc *Document) (json.RawMessage, *models.DocumentRef, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "payload must be a JSON object to carry a document")
	}
	if _, taken := fields["document"]; taken {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "payload.document is reserved for the attached document")
	}

	addr, err := p.storage.Put(ctx, doc.Content)
	if err != nil {
		p.logger.WarnContext(ctx, "document upload failed, committing placeholder address", "error", err)
		if addr, err = cas.PlaceholderAddress(doc.Content); err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to address document")
		}
	}

	sum := sha256.Sum256(doc.Content)
	commitment := documentCommitment{
		Address:   addr.Value,
		SHA256:    hex.EncodeToString(sum[:]),
		MediaType: doc.MediaType,
	}
	raw, err := json.Marshal(commitment)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode document commitment")
	}
	fields["document"] = raw
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode payload")
	}

	ref := &models.DocumentRef{
		StorageRef: models.StorageRef{Address: addr.Value, Degraded: addr.Degraded},
		SHA256:     commitment.SHA256,
		MediaType:  commitment.MediaType,
	}
	return out, ref, nil
}

// pinDocument pins an uploaded document once its credential is recorded.
func (p *Pipeline) pinDocument(ctx context.Context, cred *models.Credential) {
	if cred.Document == nil || cred.Document.Degraded {
		return
	}
	cred.Document.Pinned = p.storage.Pin(ctx, cas.ParseAddress(cred.Document.Address)) == nil
}
