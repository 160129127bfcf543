package e2e

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"credanchor/internal/credential/credentialtest"
	"credanchor/internal/credential/handler"
	"credanchor/internal/credential/service"
	"credanchor/internal/credential/workers/reconcile"
	jwttoken "credanchor/internal/jwt_token"
	"credanchor/internal/proof"
	adminmw "credanchor/pkg/platform/middleware/admin"
	"credanchor/pkg/platform/middleware/auth"
	"credanchor/pkg/platform/middleware/request"
	"credanchor/pkg/platform/middleware/requesttime"
)

const (
	adminToken = "e2e-admin-token"
	signingKey = "e2e-signing-key"
)

// server is the full HTTP surface over the in-memory credential stack.
type server struct {
	*httptest.Server
	harness *credentialtest.Harness
	jwt     *jwttoken.JWTService
}

func newServer(t *testing.T) *server {
	h := credentialtest.New(t, credentialtest.WithConfirmationTimeout(2*time.Second))

	signer, err := proof.NewSigner("")
	if err != nil {
		t.Fatalf("proof signer: %v", err)
	}
	prover := proof.NewService(h.Verifier, signer, []byte("e2e-salt"), proof.WithLogger(h.Logger))
	svc := service.New(service.Deps{
		Issuer:   h.Pipeline,
		Verifier: h.Verifier,
		Revoker:  h.Revoker,
		Prover:   prover,
		Reader:   h.Store,
		Ledger:   h.Pool,
		Storage:  h.Storage,
		Schemas:  h.Schemas,
	}, h.MinConfirmations, service.WithLogger(h.Logger))

	reconciler, err := reconcile.New(h.Store, h.Pool, h.MinConfirmations,
		reconcile.WithLogger(h.Logger),
		reconcile.WithSettlers(h.Pipeline, h.Revoker),
	)
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}

	jwtService := jwttoken.NewJWTService(signingKey, "credanchor", "credanchor-api", time.Hour)

	r := chi.NewRouter()
	r.Use(request.Recovery(h.Logger))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)

	credentials := handler.New(svc, h.Logger)
	credentials.RegisterPublic(r)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(jwttoken.NewVerifier(jwtService), h.Logger))
		credentials.RegisterProtected(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(adminToken, h.Logger))
		handler.NewAdmin(reconciler, h.Logger).Register(r)
	})

	return &server{Server: httptest.NewServer(r), harness: h, jwt: jwtService}
}

func (s *server) token(principal string) (string, error) {
	return s.jwt.GenerateToken(context.Background(), principal)
}
