package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"credanchor/internal/credential/events"
	"credanchor/internal/credential/handler"
	"credanchor/internal/credential/issuance"
	"credanchor/internal/credential/metrics"
	"credanchor/internal/credential/revocation"
	"credanchor/internal/credential/schema"
	"credanchor/internal/credential/service"
	"credanchor/internal/credential/verification"
	"credanchor/internal/credential/workers/reconcile"
	"credanchor/internal/issuer"
	jwttoken "credanchor/internal/jwt_token"
	"credanchor/internal/ledger"
	"credanchor/internal/ledger/evm"
	"credanchor/internal/platform/config"
	"credanchor/internal/platform/health"
	"credanchor/internal/platform/tracer"
	"credanchor/internal/proof"
	"credanchor/internal/storage/cas"
	adminmw "credanchor/pkg/platform/middleware/admin"
	"credanchor/pkg/platform/middleware/auth"
	"credanchor/pkg/platform/middleware/metadata"
	"credanchor/pkg/platform/middleware/request"
	"credanchor/pkg/platform/middleware/requesttime"
)

// maxBodyBytes bounds JSON request bodies; credential payloads are small.
// maxUploadBytes bounds multipart issuance requests carrying a document.
const (
	maxBodyBytes   = 1 << 20
	maxUploadBytes = issuance.MaxDocumentBytes + maxBodyBytes
)

type app struct {
	router     chi.Router
	pool       *ledger.Pool
	storage    *cas.Client
	pipeline   *issuance.Pipeline
	revoker    *revocation.Revoker
	publisher  *events.Publisher
	reconciler *reconcile.Service
}

func buildApp(ctx context.Context, cfg config.Config, in *infra, log *slog.Logger) (*app, error) {
	m := metrics.New(in.registry)

	pool := ledger.NewPool(ledger.Config{
		HealthInterval: cfg.Credential.HealthInterval,
		PollInterval:   cfg.Credential.ConfirmationPollInterval,
	}, ledger.WithLogger(log), ledger.WithMetrics(m))
	for _, n := range cfg.Networks {
		network, err := evm.Dial(ctx, evm.Config{
			Name:            n.Name,
			RPCURL:          n.RPCURL,
			ChainID:         n.ChainID,
			ContractAddress: n.Contract,
			PrivateKeyHex:   n.PrivateKey,
			GasLimit:        n.GasLimit,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect ledger network %s: %w", n.Name, err)
		}
		if err := pool.Register(network); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("ledger network registered", "network", n.Name)
	}
	if len(cfg.Networks) == 0 {
		log.Warn("no ledger networks configured, issuance will fail")
	}

	storage := cas.NewClient(ctx, cas.NewIPFSBackend(cfg.Storage.IPFSURL, cfg.Storage.Timeout),
		cas.WithLogger(log),
		cas.WithMetrics(m),
	)

	directory, err := issuer.LoadJSON([]byte(cfg.IssuersJSON))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("load issuers: %w", err)
	}
	issuers := issuer.NewCachedDirectory(directory, 1024, 5*time.Minute, log)
	authorizer := issuer.NewAuthorizer(issuers, log)

	schemas, err := schema.NewRegistry()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("load credential schemas: %w", err)
	}

	publisher := events.NewPublisher(in.sink, events.WithAsyncBuffer(1024), events.WithLogger(log))

	minConf := cfg.Credential.MinConfirmations
	pipeline := issuance.New(issuance.Config{
		MinConfirmations:    minConf,
		ConfirmationTimeout: cfg.Credential.ConfirmationTimeout,
		BackgroundTimeout:   cfg.Credential.BackgroundTimeout,
	}, in.store, pool, storage, authorizer, schemas,
		issuance.WithLogger(log),
		issuance.WithMetrics(m),
		issuance.WithEvents(publisher),
		issuance.WithLocker(in.locker),
	)
	verifier := verification.New(in.store, pool, storage, issuers, minConf,
		verification.WithLogger(log),
		verification.WithMetrics(m),
	)
	revoker := revocation.New(revocation.Config{
		MinConfirmations:    minConf,
		ConfirmationTimeout: cfg.Credential.ConfirmationTimeout,
		BackgroundTimeout:   cfg.Credential.BackgroundTimeout,
	}, in.store, pool, authorizer,
		revocation.WithLogger(log),
		revocation.WithMetrics(m),
		revocation.WithEvents(publisher),
		revocation.WithLocker(in.locker),
	)

	signer, err := proof.NewSigner(cfg.Proof.SigningKey)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.Proof.SigningKey == "" {
		log.Warn("no proof signing key configured, proofs will not verify after a restart")
	}
	prover := proof.NewService(verifier, signer, []byte(cfg.Proof.SaltSecret),
		proof.WithLogger(log),
		proof.WithMetrics(m),
	)

	svc := service.New(service.Deps{
		Issuer:   pipeline,
		Verifier: verifier,
		Revoker:  revoker,
		Prover:   prover,
		Reader:   in.store,
		Ledger:   pool,
		Storage:  storage,
		Schemas:  schemas,
	}, minConf, service.WithLogger(log), service.WithTracer(tracer.NewOTel()))

	reconciler, err := reconcile.New(in.store, pool, minConf,
		reconcile.WithInterval(cfg.Credential.ReconcileInterval),
		reconcile.WithLogger(log),
		reconcile.WithMetrics(m),
		reconcile.WithSettlers(pipeline, revoker),
	)
	if err != nil {
		pool.Close()
		return nil, err
	}

	router, err := buildRouter(cfg, in, svc, storage, reconciler, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &app{
		router:     router,
		pool:       pool,
		storage:    storage,
		pipeline:   pipeline,
		revoker:    revoker,
		publisher:  publisher,
		reconciler: reconciler,
	}, nil
}

func buildRouter(cfg config.Config, in *infra, svc *service.Service, storage *cas.Client, reconciler *reconcile.Service, log *slog.Logger) (chi.Router, error) {
	proxies, err := metadata.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse TRUSTED_PROXIES: %w", err)
	}
	requestMetrics := request.NewMetrics(in.registry)

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(metadata.NewMiddleware(metadata.Config{TrustedProxies: proxies}).Handler)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(log))
	r.Use(request.LatencyMiddleware(requestMetrics))
	r.Use(request.ContentTypeJSON)
	r.Use(request.BodyLimit(maxBodyBytes, maxUploadBytes))

	r.Handle("/metrics", promhttp.HandlerFor(in.registry, promhttp.HandlerOpts{Registry: in.registry}))

	checks := health.New(cfg.Server.Environment)
	checks.RegisterCheck("content_store", storage.Health)
	if in.db != nil {
		checks.RegisterCheck("database", in.db.Health)
	}
	if in.redis != nil {
		checks.RegisterCheck("redis", in.redis.Health)
	}
	if in.producer != nil {
		checks.RegisterCheck("kafka", in.producer.Healthy)
	}
	checks.Register(r)

	jwtService := jwttoken.NewJWTService(
		cfg.Server.JWTSigningKey,
		cfg.Server.JWTIssuer,
		cfg.Server.JWTAudience,
		cfg.Server.TokenTTL,
	)
	jwtService.SetEnv(cfg.Server.Environment)

	credentials := handler.New(svc, log)
	credentials.RegisterPublic(r)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(jwttoken.NewVerifier(jwtService), log))
		credentials.RegisterProtected(r)
	})

	if cfg.Server.AdminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(adminmw.RequireAdminToken(cfg.Server.AdminToken, log))
			handler.NewAdmin(reconciler, log).Register(r)
		})
	} else {
		log.Info("ADMIN_API_TOKEN not set, admin routes disabled")
	}
	return r, nil
}

// Close drains background confirmation work and buffered events, then
// disconnects from the ledger networks.
func (a *app) Close(ctx context.Context, log *slog.Logger) {
	if err := a.pipeline.Close(ctx); err != nil {
		log.Warn("issuance watchers did not drain", "error", err)
	}
	if err := a.revoker.Close(ctx); err != nil {
		log.Warn("revocation watchers did not drain", "error", err)
	}
	a.publisher.Close()
	a.pool.Close()
}
