// Package tracer provides a small tracing abstraction for the credential
// workflows.
//
// Components depend on the Tracer interface rather than on OpenTelemetry, so
// tests can run with NoopTracer or Recorder and production wires OTelTracer.
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span. A non-nil err marks the span as failed.
	// End must be called exactly once, typically via defer.
	End(err error)

	SetAttributes(attrs ...Attribute)

	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a span and returns a context carrying it.
	//
	// Example:
	//   ctx, span := t.Start(ctx, tracer.SpanIssue,
	//       tracer.String(tracer.AttrCredentialType, "skill"),
	//   )
	//   defer func() { span.End(err) }()
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashRef shortens a holder or issuer reference to a stable digest so spans
// can be correlated without carrying the reference itself.
func HashRef(ref string) string {
	if ref == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(hash[:8])
}

// Span names.
const (
	SpanIssue         = "credential.issue"
	SpanVerify        = "credential.verify"
	SpanRevoke        = "credential.revoke"
	SpanProve         = "credential.prove"
	SpanVerifyProof   = "credential.verify_proof"
	SpanHealth        = "credential.health"
	SpanChainInfo     = "ledger.chain_info"
	SpanEstimateGas   = "ledger.estimate_gas"
	SpanListByHolder  = "credential.list_by_holder"
	SpanGetCredential = "credential.get"
)

// Attribute keys.
const (
	AttrCredentialID   = "credential.id"
	AttrCredentialType = "credential.type"
	AttrHolder         = "credential.holder_hash"
	AttrStatus         = "credential.status"
	AttrNetwork        = "ledger.network"
	AttrNetworks       = "ledger.networks"
	AttrProofType      = "proof.type"
	AttrProofValid     = "proof.valid"
	AttrIncludeDetails = "verify.include_details"
	AttrFailure        = "verify.failure"
)

// Event names.
const (
	EventAnchored = "credential.anchored"
)
