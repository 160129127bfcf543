package jwttoken

import (
	"context"

	dErrors "credanchor/pkg/domain-errors"
	"credanchor/pkg/platform/middleware/auth"
)

// Verifier checks principal tokens for the auth middleware. Tokens minted
// for another environment are rejected even when the signing key matches.
type Verifier struct {
	service *JWTService
}

func NewVerifier(service *JWTService) *Verifier {
	return &Verifier{service: service}
}

func (v *Verifier) VerifyToken(_ context.Context, raw string) (auth.Identity, error) {
	claims, err := v.service.ValidateToken(raw)
	if err != nil {
		return auth.Identity{}, err
	}
	if v.service.env != "" && claims.Env != v.service.env {
		return auth.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "token issued for another environment")
	}
	return auth.Identity{Principal: claims.Principal, TokenID: claims.ID}, nil
}
