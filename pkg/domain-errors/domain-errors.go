package domainerrors

import "errors"

// Code represents a domain error category independent of transport layer.
// These codes describe what went wrong in business logic terms, not HTTP terms.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation_failed"
	CodeInternal           Code = "internal_error"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodePolicyViolation    Code = "policy_violation"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"

	// Credential lifecycle codes
	CodeNetworkUnavailable Code = "network_unavailable"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeSubmissionFailed   Code = "submission_failed"
	CodeAlreadyRevoked     Code = "already_revoked"
	CodeNotAnchored        Code = "not_anchored"
	CodeProofInvalid       Code = "proof_invalid"
)

// Layer names the subsystem a failure originated in so callers can tell a
// ledger problem from a storage problem.
type Layer string

const (
	LayerNone    Layer = ""
	LayerLedger  Layer = "ledger"
	LayerStorage Layer = "storage"
	LayerProof   Layer = "proof"
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and other layers.
type Error struct {
	Code    Code
	Layer   Layer
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// NewLayered creates a domain error attributed to a subsystem layer.
func NewLayered(code Code, layer Layer, msg string) error {
	return &Error{Code: code, Layer: layer, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code and layer are preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		// Preserve the original domain code, update message
		return &Error{Code: existing.Code, Layer: existing.Layer, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// WrapLayered wraps err with a code and a layer. An existing domain code is preserved.
func WrapLayered(err error, code Code, layer Layer, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		code = existing.Code
		if existing.Layer != LayerNone {
			layer = existing.Layer
		}
	}
	return &Error{Code: code, Layer: layer, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// LayerOf returns the layer recorded on the outermost domain error in the chain.
func LayerOf(err error) Layer {
	var e *Error
	if errors.As(err, &e) {
		return e.Layer
	}
	return LayerNone
}
