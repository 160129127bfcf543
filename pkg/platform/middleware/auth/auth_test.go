package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"
)

type verifierFunc func(ctx context.Context, raw string) (Identity, error)

func (f verifierFunc) VerifyToken(ctx context.Context, raw string) (Identity, error) {
	return f(ctx, raw)
}

type RequireAuthSuite struct {
	suite.Suite
	seenTokens []string
	principal  string
	reached    bool
	handler    http.Handler
}

func (s *RequireAuthSuite) SetupTest() {
	s.seenTokens = nil
	s.principal = ""
	s.reached = false
	verifier := verifierFunc(func(_ context.Context, raw string) (Identity, error) {
		s.seenTokens = append(s.seenTokens, raw)
		switch raw {
		case "acme-token":
			return Identity{Principal: "issuer-acme", TokenID: "t1"}, nil
		case "blank-token":
			return Identity{Principal: " "}, nil
		default:
			return Identity{}, errors.New("signature mismatch")
		}
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.handler = RequireAuth(verifier, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.reached = true
		s.principal = Principal(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
}

func (s *RequireAuthSuite) serve(header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/credentials/issue", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *RequireAuthSuite) TestVerifiedTokenSetsPrincipal() {
	rr := s.serve("Bearer acme-token")
	s.Equal(http.StatusNoContent, rr.Code)
	s.True(s.reached)
	s.Equal("issuer-acme", s.principal)
}

func (s *RequireAuthSuite) TestSchemeIsCaseInsensitive() {
	rr := s.serve("bearer   acme-token")
	s.Equal(http.StatusNoContent, rr.Code)
	s.Equal([]string{"acme-token"}, s.seenTokens)
}

func (s *RequireAuthSuite) TestMalformedHeadersNeverReachVerifier() {
	for _, header := range []string{"", "acme-token", "Basic dXNlcjpwYXNz", "Bearer", "Bearer   ", "Bearertoken"} {
		rr := s.serve(header)
		s.Equal(http.StatusUnauthorized, rr.Code, "header %q", header)
		s.Equal(`Bearer realm="credanchor"`, rr.Header().Get("WWW-Authenticate"))
	}
	s.Empty(s.seenTokens)
	s.False(s.reached)
}

func (s *RequireAuthSuite) TestRejectedToken() {
	rr := s.serve("Bearer forged")
	s.Equal(http.StatusUnauthorized, rr.Code)
	s.Equal("application/json", rr.Header().Get("Content-Type"))
	s.JSONEq(`{"error":"unauthorized","error_description":"valid bearer token required"}`, rr.Body.String())
	s.False(s.reached)
}

func (s *RequireAuthSuite) TestTokenWithoutPrincipal() {
	rr := s.serve("Bearer blank-token")
	s.Equal(http.StatusUnauthorized, rr.Code)
	s.False(s.reached)
}

func TestRequireAuth(t *testing.T) {
	suite.Run(t, new(RequireAuthSuite))
}
