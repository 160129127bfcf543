// Package reconcile re-polls ledger transactions that were still unconfirmed
// when their confirmation wait ended, so late confirmations are recorded
// without waiting for a verify call.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"credanchor/internal/credential/models"
	"credanchor/internal/ledger"
)

// Store exposes the credentials with outstanding ledger work.
type Store interface {
	ListUnsettled(ctx context.Context, limit int) ([]*models.Credential, error)
	UpsertAnchor(ctx context.Context, id models.CredentialID, anchor models.Anchor) error
	UpsertRevocationAnchor(ctx context.Context, id models.CredentialID, anchor models.Anchor) error
}

// Ledger polls a single transaction.
type Ledger interface {
	Confirmations(ctx context.Context, network string, ref ledger.TxRef) (ledger.Confirmation, error)
}

// Settler re-derives state after anchors change.
type Settler interface {
	Settle(ctx context.Context, id models.CredentialID) error
}

// Metrics counts settled anchors.
type Metrics interface {
	RecordReconcile(confirmed, reverted int)
}

// Result summarizes one reconcile pass.
type Result struct {
	Credentials int `json:"credentials"`
	Polled      int `json:"polled"`
	Confirmed   int `json:"confirmed"`
	Reverted    int `json:"reverted"`
}

// Service periodically reconciles unsettled anchors and revocations.
type Service struct {
	store            Store
	ledger           Ledger
	settlers         []Settler
	metrics          Metrics
	minConfirmations uint64
	interval         time.Duration
	batchSize        int
	logger           *slog.Logger
	now              func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithInterval overrides the reconcile interval when greater than zero.
func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithBatchSize bounds how many credentials one pass loads.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSettlers registers components that re-derive state after a pass
// changes a credential's anchors.
func WithSettlers(settlers ...Settler) Option {
	return func(s *Service) {
		s.settlers = append(s.settlers, settlers...)
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, l Ledger, minConfirmations uint64, opts ...Option) (*Service, error) {
	if store == nil || l == nil {
		return nil, fmt.Errorf("store and ledger are required")
	}
	if minConfirmations == 0 {
		minConfirmations = 1
	}
	svc := &Service{
		store:            store,
		ledger:           l,
		minConfirmations: minConfirmations,
		interval:         time.Minute,
		batchSize:        100,
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Start runs reconcile passes until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "reconcile pass failed", "error", err)
			}
			if res.Confirmed > 0 || res.Reverted > 0 {
				s.logger.InfoContext(ctx, "reconcile pass recorded ledger outcomes",
					"credentials", res.Credentials,
					"confirmed", res.Confirmed,
					"reverted", res.Reverted,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce polls every unsettled anchor once and settles the affected
// credentials. Errors are aggregated; one failing network does not stop the pass.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	creds, err := s.store.ListUnsettled(ctx, s.batchSize)
	if err != nil {
		return res, fmt.Errorf("list unsettled credentials: %w", err)
	}
	res.Credentials = len(creds)

	var errs []error
	for _, c := range creds {
		if err := s.reconcile(ctx, c, &res); err != nil {
			errs = append(errs, fmt.Errorf("credential %s: %w", c.ID, err))
		}
	}
	if s.metrics != nil {
		s.metrics.RecordReconcile(res.Confirmed, res.Reverted)
	}
	return res, errors.Join(errs...)
}

func (s *Service) reconcile(ctx context.Context, c *models.Credential, res *Result) error {
	var errs []error
	for _, a := range c.Anchors {
		if a.Settled() || a.TxRef == "" {
			continue
		}
		if updated, changed := s.poll(ctx, a, res); changed {
			if err := s.store.UpsertAnchor(ctx, c.ID, updated); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if c.Revocation != nil {
		for _, a := range c.Revocation.Anchors {
			if a.Settled() || a.TxRef == "" {
				continue
			}
			if updated, changed := s.poll(ctx, a, res); changed {
				if err := s.store.UpsertRevocationAnchor(ctx, c.ID, updated); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	for _, settler := range s.settlers {
		if err := settler.Settle(ctx, c.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) poll(ctx context.Context, a models.Anchor, res *Result) (models.Anchor, bool) {
	res.Polled++
	c, err := s.ledger.Confirmations(ctx, a.Network, ledger.TxRef(a.TxRef))
	switch {
	case ledger.IsKind(err, ledger.KindReverted):
		a.State = models.AnchorReverted
		a.Error = "transaction reverted"
		res.Reverted++
	case err != nil:
		s.logger.WarnContext(ctx, "reconcile poll failed",
			"network", a.Network,
			"tx_ref", a.TxRef,
			"error", err,
		)
		return a, false
	case !c.Mined:
		return a, false
	default:
		if c.Confirmations == a.Confirmations && c.BlockHeight == a.BlockHeight {
			return a, false
		}
		a.BlockHeight = c.BlockHeight
		a.Confirmations = c.Confirmations
		if c.Confirmations >= s.minConfirmations {
			a.State = models.AnchorConfirmed
			res.Confirmed++
		}
	}
	a.UpdatedAt = s.now().UTC()
	return a, true
}
