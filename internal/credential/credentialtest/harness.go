// Package credentialtest assembles the issuance stack over in-memory ledgers,
// content store and credential store for package and feature tests.
package credentialtest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"credanchor/internal/credential/events"
	"credanchor/internal/credential/issuance"
	"credanchor/internal/credential/lock"
	"credanchor/internal/credential/models"
	"credanchor/internal/credential/revocation"
	"credanchor/internal/credential/schema"
	"credanchor/internal/credential/store"
	"credanchor/internal/credential/verification"
	"credanchor/internal/issuer"
	"credanchor/internal/ledger"
	"credanchor/internal/ledger/ledgertest"
	"credanchor/internal/storage/cas"
	"credanchor/internal/storage/cas/castest"
)

// Fixture references shared by tests.
const (
	IssuerRef   = "issuer-acme"
	DelegateRef = "registrar-acme"
	OtherIssuer = "issuer-globex"
	HolderRef   = "holder-ada"
)

// Harness is a fully wired issuance stack.
type Harness struct {
	Chains     map[string]*ledgertest.Chain
	Pool       *ledger.Pool
	Backend    *castest.Backend
	Storage    *cas.Client
	Store      *store.InMemoryStore
	Issuers    *issuer.InMemoryDirectory
	Authorizer *issuer.Authorizer
	Schemas    *schema.Registry
	Events     *events.MemorySink
	Locker     lock.Locker
	Pipeline   *issuance.Pipeline
	Verifier   *verification.Verifier
	Revoker    *revocation.Revoker
	Logger     *slog.Logger

	MinConfirmations    uint64
	ConfirmationTimeout time.Duration
}

type settings struct {
	networks            []string
	authorized          []string
	minConfirmations    uint64
	confirmationTimeout time.Duration
	storageDown         bool
	manualMining        bool
}

// Option adjusts the harness before it is built.
type Option func(*settings)

// WithNetworks registers chains with these names. The issuer is authorized on all of them
// unless WithIssuerNetworks narrows it.
func WithNetworks(names ...string) Option {
	return func(s *settings) { s.networks = names }
}

// WithIssuerNetworks limits the networks the fixture issuer is authorized on.
func WithIssuerNetworks(names ...string) Option {
	return func(s *settings) { s.authorized = names }
}

func WithMinConfirmations(n uint64) Option {
	return func(s *settings) { s.minConfirmations = n }
}

// WithConfirmationTimeout bounds how long Issue waits for the first network.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(s *settings) { s.confirmationTimeout = d }
}

// WithStorageDown starts the content store client in degraded mode.
func WithStorageDown() Option {
	return func(s *settings) { s.storageDown = true }
}

// WithManualMining disables auto-mining; tests advance chains with Mine.
func WithManualMining() Option {
	return func(s *settings) { s.manualMining = true }
}

// New builds the harness and closes the pipeline when the test ends.
func New(t testing.TB, opts ...Option) *Harness {
	t.Helper()
	cfg := settings{
		networks:            []string{"sepolia", "amoy"},
		minConfirmations:    3,
		confirmationTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.authorized == nil {
		cfg.authorized = cfg.networks
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		Chains:              make(map[string]*ledgertest.Chain, len(cfg.networks)),
		Backend:             castest.NewBackend(),
		Store:               store.NewInMemoryStore(),
		Events:              events.NewMemorySink(),
		Locker:              lock.NewLocal(),
		Logger:              logger,
		MinConfirmations:    cfg.minConfirmations,
		ConfirmationTimeout: cfg.confirmationTimeout,
	}

	h.Pool = ledger.NewPool(ledger.Config{
		PollInterval: 2 * time.Millisecond,
		Backoff:      ledger.BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxRetries: 2},
	}, ledger.WithLogger(logger))
	for _, name := range cfg.networks {
		chainOpts := []ledgertest.Option{ledgertest.WithAuthorizedIssuers(IssuerRef, OtherIssuer)}
		if !cfg.manualMining {
			chainOpts = append(chainOpts, ledgertest.WithAutoMine())
		}
		chain := ledgertest.NewChain(name, chainOpts...)
		h.Chains[name] = chain
		if err := h.Pool.Register(chain); err != nil {
			t.Fatalf("register chain %s: %v", name, err)
		}
	}

	if cfg.storageDown {
		h.Backend.SetDown(true)
	}
	h.Storage = cas.NewClient(context.Background(), h.Backend, cas.WithLogger(logger))

	h.Issuers = issuer.NewInMemoryDirectory(
		issuer.Issuer{
			Ref:                IssuerRef,
			Name:               "Acme University",
			AuthorizedNetworks: cfg.authorized,
			Delegates:          []string{DelegateRef},
			Active:             true,
		},
		issuer.Issuer{
			Ref:                OtherIssuer,
			Name:               "Globex Corp",
			AuthorizedNetworks: cfg.networks,
			Active:             true,
		},
	)
	h.Authorizer = issuer.NewAuthorizer(h.Issuers, logger)

	registry, err := schema.NewRegistry()
	if err != nil {
		t.Fatalf("schema registry: %v", err)
	}
	h.Schemas = registry

	publisher := events.NewPublisher(h.Events, events.WithLogger(logger))
	h.Pipeline = issuance.New(issuance.Config{
		MinConfirmations:    cfg.minConfirmations,
		ConfirmationTimeout: cfg.confirmationTimeout,
		BackgroundTimeout:   5 * time.Second,
	}, h.Store, h.Pool, h.Storage, h.Authorizer, h.Schemas,
		issuance.WithLogger(logger),
		issuance.WithLocker(h.Locker),
		issuance.WithEvents(publisher),
	)
	h.Verifier = verification.New(h.Store, h.Pool, h.Storage, h.Issuers, cfg.minConfirmations,
		verification.WithLogger(logger),
	)
	h.Revoker = revocation.New(revocation.Config{
		MinConfirmations:    cfg.minConfirmations,
		ConfirmationTimeout: cfg.confirmationTimeout,
		BackgroundTimeout:   5 * time.Second,
	}, h.Store, h.Pool, h.Authorizer,
		revocation.WithLogger(logger),
		revocation.WithLocker(h.Locker),
		revocation.WithEvents(publisher),
	)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer cancel()
		_ = h.Pipeline.Close(ctx)
		_ = h.Revoker.Close(ctx)
		h.Pool.Close()
	})
	return h
}

// Networks returns the registered network names.
func (h *Harness) Networks() []string {
	return h.Pool.Networks()
}

// SkillPayload is a valid skill credential payload.
func SkillPayload(name string, proficiency int) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"name":          name,
		"proficiency":   proficiency,
		"assessed_by":   "Acme Assessment Board",
		"assessed_year": 2025,
	})
	return raw
}

// EducationPayload is a valid education credential payload.
func EducationPayload(degree string, year int) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"institution":     "Acme University",
		"degree":          degree,
		"field_of_study":  "Computer Science",
		"graduation_year": year,
	})
	return raw
}

// SkillRequest builds an issuance request for the fixture issuer on every network.
func (h *Harness) SkillRequest(name string, proficiency int) issuance.Request {
	return issuance.Request{
		Principal: IssuerRef,
		IssuerRef: IssuerRef,
		HolderRef: HolderRef,
		Type:      models.CredentialTypeSkill,
		Payload:   SkillPayload(name, proficiency),
		Networks:  h.Networks(),
	}
}

// Issue runs the pipeline and fails the test on error.
func (h *Harness) Issue(t testing.TB, req issuance.Request) *issuance.Result {
	t.Helper()
	res, err := h.Pipeline.Issue(context.Background(), req)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return res
}

// IssueActive issues a skill credential and waits until it is active.
func (h *Harness) IssueActive(t testing.TB, name string, proficiency int) *models.Credential {
	t.Helper()
	res := h.Issue(t, h.SkillRequest(name, proficiency))
	if res.Status != models.StatusActive {
		t.Fatalf("credential %s not active: %s", res.Credential.ID, res.Status)
	}
	return res.Credential
}

// Eventually polls the store until cond holds for the credential or the deadline passes.
func (h *Harness) Eventually(t testing.TB, id models.CredentialID, cond func(*models.Credential) bool) *models.Credential {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		c, err := h.Store.FindByID(context.Background(), id)
		if err == nil && cond(c) {
			return c
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met for %s", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
