package issuer

import (
	"context"
	"log/slog"

	dErrors "credanchor/pkg/domain-errors"
)

// Authorizer answers whether a principal may act for an issuer on given networks.
type Authorizer struct {
	directory Directory
	logger    *slog.Logger
}

func NewAuthorizer(directory Directory, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{directory: directory, logger: logger}
}

// CanAct returns the subset of networks on which principal may perform action
// for issuerRef. An unknown or inactive issuer, or a principal that is neither
// the issuer nor a delegate, is Unauthorized. An empty result is not an error.
func (a *Authorizer) CanAct(ctx context.Context, principal, issuerRef string, action Action, networks []string) ([]string, error) {
	iss, err := a.directory.Find(ctx, issuerRef)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "issuer is not registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve issuer")
	}
	if !iss.Active {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "issuer is not active")
	}
	if !iss.ActsFor(principal) {
		a.logger.WarnContext(ctx, "principal cannot act for issuer",
			"principal", principal,
			"issuer_ref", issuerRef,
			"action", action,
		)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "principal cannot act for issuer")
	}

	allowed := make([]string, 0, len(networks))
	for _, n := range networks {
		if iss.AuthorizedOn(n) {
			allowed = append(allowed, n)
		}
	}
	return allowed, nil
}
