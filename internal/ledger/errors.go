package ledger

import (
	"errors"
	"fmt"

	dErrors "credanchor/pkg/domain-errors"
)

// ErrorKind is the normalized failure taxonomy for ledger operations.
//
// Network implementations classify their failures with these kinds so the
// pool can decide on retries consistently across RPC providers.
type ErrorKind string

const (
	// KindNetworkUnavailable indicates the network could not be reached or is marked unhealthy
	KindNetworkUnavailable ErrorKind = "network_unavailable"

	// KindSubmissionFailed indicates the network rejected a transaction
	KindSubmissionFailed ErrorKind = "submission_failed"

	// KindEstimationFailed indicates fee or gas estimation failed
	KindEstimationFailed ErrorKind = "estimation_failed"

	// KindTimedOut indicates a transaction did not reach the required depth in time
	KindTimedOut ErrorKind = "timed_out"

	// KindReverted indicates a transaction was mined but failed
	KindReverted ErrorKind = "reverted"
)

// Error wraps ledger failures with a normalized kind.
type Error struct {
	Kind       ErrorKind
	Network    string
	Message    string
	Underlying error
	Retryable  bool // set from Kind: only network_unavailable is retried
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("ledger %s [%s]: %s: %v", e.Network, e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("ledger %s [%s]: %s", e.Network, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError creates a ledger error with automatic retry classification.
func NewError(kind ErrorKind, network, message string, underlying error) *Error {
	return &Error{
		Kind:       kind,
		Network:    network,
		Message:    message,
		Underlying: underlying,
		Retryable:  kind == KindNetworkUnavailable,
	}
}

// IsRetryable checks if an error is worth retrying
func IsRetryable(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// KindOf extracts the error kind, defaulting to submission_failed for foreign errors.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindSubmissionFailed
}

// IsKind reports whether err is a ledger error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == kind
}

// Sentinel errors returned by Network implementations.
var (
	ErrNetworkNotFound = errors.New("ledger network not registered")
	ErrTxPending       = errors.New("transaction not yet mined")
	ErrRecordNotFound  = errors.New("no credential record on ledger")
)

// ToDomainError translates a ledger failure into a caller-facing domain error
// attributed to the ledger layer.
func ToDomainError(err error, msg string) error {
	if err == nil {
		return nil
	}
	code := dErrors.CodeInternal
	switch KindOf(err) {
	case KindNetworkUnavailable:
		code = dErrors.CodeNetworkUnavailable
	case KindSubmissionFailed, KindReverted, KindEstimationFailed:
		code = dErrors.CodeSubmissionFailed
	case KindTimedOut:
		code = dErrors.CodeTimeout
	}
	if errors.Is(err, ErrNetworkNotFound) {
		code = dErrors.CodeNetworkUnavailable
	}
	return &dErrors.Error{Code: code, Layer: dErrors.LayerLedger, Message: msg, Err: err}
}
