package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffConfig configures retry backoff for transient network failures
type BackoffConfig struct {
	InitialDelay time.Duration // default: 100ms
	MaxDelay     time.Duration // default: 2s
	MaxRetries   int           // default: 3
	Multiplier   float64       // default: 2.0
}

// Config configures the provider pool.
type Config struct {
	HealthInterval time.Duration // default: 30s
	HealthTimeout  time.Duration // default: 5s
	PollInterval   time.Duration // confirmation polling, default: 2s
	Backoff        BackoffConfig
}

// Metrics receives pool observations. Implemented by the credential metrics package.
type Metrics interface {
	SetNetworkHealth(network string, healthy bool)
	IncSubmission(network string, outcome string)
	ObserveConfirmationWait(network string, seconds float64)
}

// Confirmation is the observed inclusion state of a transaction.
type Confirmation struct {
	TxRef         TxRef
	Mined         bool
	BlockHeight   uint64
	Confirmations uint64
}

// Pool owns live connections to every configured ledger network and tracks
// their health. Each network is independent: a slow or failing network never
// blocks calls addressed to another.
type Pool struct {
	mu       sync.RWMutex
	networks map[string]Network
	healthy  map[string]bool

	cfg     Config
	logger  *slog.Logger
	metrics Metrics

	runOnce sync.Once
}

// Option configures a Pool.
type Option func(*Pool)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// NewPool creates an empty pool. Networks are added with Register.
func NewPool(cfg Config, opts ...Option) *Pool {
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Backoff.InitialDelay == 0 {
		cfg.Backoff.InitialDelay = 100 * time.Millisecond
	}
	if cfg.Backoff.MaxDelay == 0 {
		cfg.Backoff.MaxDelay = 2 * time.Second
	}
	if cfg.Backoff.MaxRetries == 0 {
		cfg.Backoff.MaxRetries = 3
	}
	if cfg.Backoff.Multiplier == 0 {
		cfg.Backoff.Multiplier = 2.0
	}

	p := &Pool{
		networks: make(map[string]Network),
		healthy:  make(map[string]bool),
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds a network. It is considered healthy until the first failed check.
func (p *Pool) Register(n Network) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := n.Name()
	if _, exists := p.networks[name]; exists {
		return fmt.Errorf("network %s already registered", name)
	}
	p.networks[name] = n
	p.healthy[name] = true
	if p.metrics != nil {
		p.metrics.SetNetworkHealth(name, true)
	}
	return nil
}

// Remove closes and forgets a network. In-flight calls holding the handle finish normally.
func (p *Pool) Remove(name string) {
	p.mu.Lock()
	n, ok := p.networks[name]
	delete(p.networks, name)
	delete(p.healthy, name)
	p.mu.Unlock()

	if ok {
		n.Close()
	}
}

// Networks returns registered network names in sorted order.
func (p *Pool) Networks() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.networks))
	for name := range p.networks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Provider returns the live handle for a network.
func (p *Pool) Provider(name string) (Network, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n, ok := p.networks[name]
	if !ok {
		return nil, NewError(KindNetworkUnavailable, name, "network not registered", ErrNetworkNotFound)
	}
	return n, nil
}

// Healthy reports the last observed health of a network.
func (p *Pool) Healthy(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy[name]
}

// Submit broadcasts tx on a healthy network, retrying transient failures.
func (p *Pool) Submit(ctx context.Context, name string, tx Tx) (TxRef, error) {
	n, err := p.Provider(name)
	if err != nil {
		return "", err
	}
	if !p.Healthy(name) {
		p.observeSubmission(name, "unhealthy")
		return "", NewError(KindNetworkUnavailable, name, "network is unhealthy", nil)
	}

	var ref TxRef
	err = p.retry(ctx, func() error {
		var submitErr error
		ref, submitErr = n.Submit(ctx, tx)
		return submitErr
	})
	if err != nil {
		p.observeSubmission(name, string(KindOf(err)))
		p.logger.WarnContext(ctx, "ledger submission failed",
			"network", name,
			"kind", tx.Kind,
			"error", err,
		)
		return "", classify(err, name, KindSubmissionFailed)
	}

	p.observeSubmission(name, "submitted")
	p.logger.InfoContext(ctx, "ledger transaction submitted",
		"network", name,
		"kind", tx.Kind,
		"tx_ref", ref,
	)
	return ref, nil
}

// Confirmations polls the current inclusion depth of a transaction once.
// A mined but failed transaction returns a reverted error.
func (p *Pool) Confirmations(ctx context.Context, name string, ref TxRef) (Confirmation, error) {
	n, err := p.Provider(name)
	if err != nil {
		return Confirmation{TxRef: ref}, err
	}

	receipt, err := n.Receipt(ctx, ref)
	if errors.Is(err, ErrTxPending) {
		return Confirmation{TxRef: ref}, nil
	}
	if err != nil {
		return Confirmation{TxRef: ref}, classify(err, name, KindNetworkUnavailable)
	}
	if !receipt.Success {
		return Confirmation{TxRef: ref, Mined: true, BlockHeight: receipt.BlockHeight},
			NewError(KindReverted, name, "transaction reverted", nil)
	}

	head, err := n.BlockNumber(ctx)
	if err != nil {
		return Confirmation{TxRef: ref, Mined: true, BlockHeight: receipt.BlockHeight}, classify(err, name, KindNetworkUnavailable)
	}

	c := Confirmation{TxRef: ref, Mined: true, BlockHeight: receipt.BlockHeight}
	if head >= receipt.BlockHeight {
		c.Confirmations = head - receipt.BlockHeight + 1
	}
	return c, nil
}

// WaitForConfirmations polls until ref reaches min confirmations, the
// transaction reverts, or timeout elapses. Polling does not consult health:
// a broadcast transaction is tracked even on a network marked unhealthy.
func (p *Pool) WaitForConfirmations(ctx context.Context, name string, ref TxRef, min uint64, timeout time.Duration) (Confirmation, error) {
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.ObserveConfirmationWait(name, time.Since(start).Seconds())
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	last := Confirmation{TxRef: ref}
	for {
		c, err := p.Confirmations(ctx, name, ref)
		switch {
		case IsKind(err, KindReverted):
			return c, err
		case errors.Is(err, ErrNetworkNotFound):
			return c, err
		case err != nil:
			p.logger.DebugContext(ctx, "confirmation poll failed",
				"network", name,
				"tx_ref", ref,
				"error", err,
			)
		default:
			last = c
			if c.Mined && c.Confirmations >= min {
				return c, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, NewError(KindTimedOut, name,
				fmt.Sprintf("tx %s reached %d of %d confirmations", ref, last.Confirmations, min), ctx.Err())
		case <-ticker.C:
		}
	}
}

// ReadCredential queries the ledger record for dataHash with retry.
func (p *Pool) ReadCredential(ctx context.Context, name string, dataHash [32]byte) (*Record, error) {
	n, err := p.Provider(name)
	if err != nil {
		return nil, err
	}

	var rec *Record
	err = p.retry(ctx, func() error {
		var readErr error
		rec, readErr = n.ReadCredential(ctx, dataHash)
		return readErr
	})
	if errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, classify(err, name, KindNetworkUnavailable)
	}
	return rec, nil
}

// IsAuthorizedIssuer checks the ledger's own issuer authorization.
func (p *Pool) IsAuthorizedIssuer(ctx context.Context, name, issuerRef string) (bool, error) {
	n, err := p.Provider(name)
	if err != nil {
		return false, err
	}

	var ok bool
	err = p.retry(ctx, func() error {
		var readErr error
		ok, readErr = n.IsAuthorizedIssuer(ctx, issuerRef)
		return readErr
	})
	if err != nil {
		return false, classify(err, name, KindNetworkUnavailable)
	}
	return ok, nil
}

// EstimateGas estimates the cost of tx. Failures are never replaced by a default.
func (p *Pool) EstimateGas(ctx context.Context, name string, tx Tx) (uint64, error) {
	n, err := p.Provider(name)
	if err != nil {
		return 0, err
	}
	gas, err := n.EstimateGas(ctx, tx)
	if err != nil {
		return 0, classify(err, name, KindEstimationFailed)
	}
	return gas, nil
}

// ChainInfo reports head height, chain ID and gas price for a network.
func (p *Pool) ChainInfo(ctx context.Context, name string) (ChainInfo, error) {
	n, err := p.Provider(name)
	if err != nil {
		return ChainInfo{Network: name}, err
	}
	info, err := n.ChainInfo(ctx)
	if err != nil {
		return ChainInfo{Network: name}, classify(err, name, KindNetworkUnavailable)
	}
	info.Network = name
	info.Healthy = p.Healthy(name)
	return info, nil
}

// CheckHealth pings every network concurrently and records the result.
func (p *Pool) CheckHealth(ctx context.Context) map[string]bool {
	p.mu.RLock()
	targets := make(map[string]Network, len(p.networks))
	for name, n := range p.networks {
		targets[name] = n
	}
	p.mu.RUnlock()

	results := make(map[string]bool, len(targets))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, n := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, p.cfg.HealthTimeout)
			defer cancel()
			_, err := n.BlockNumber(pingCtx)

			mu.Lock()
			results[name] = err == nil
			mu.Unlock()
		}()
	}
	wg.Wait()

	p.mu.Lock()
	for name, ok := range results {
		if _, still := p.networks[name]; !still {
			continue
		}
		if p.healthy[name] != ok {
			p.logger.InfoContext(ctx, "ledger network health changed",
				"network", name,
				"healthy", ok,
			)
		}
		p.healthy[name] = ok
		if p.metrics != nil {
			p.metrics.SetNetworkHealth(name, ok)
		}
	}
	p.mu.Unlock()

	return results
}

// Run performs health checks on a fixed interval until ctx is cancelled.
// Calling Run more than once has no additional effect.
func (p *Pool) Run(ctx context.Context) {
	p.runOnce.Do(func() {
		ticker := time.NewTicker(p.cfg.HealthInterval)
		defer ticker.Stop()

		p.CheckHealth(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.CheckHealth(ctx)
			}
		}
	})
}

// Close closes every network.
func (p *Pool) Close() {
	for _, name := range p.Networks() {
		p.Remove(name)
	}
}

func (p *Pool) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.Backoff.InitialDelay
	b.MaxInterval = p.cfg.Backoff.MaxDelay
	b.Multiplier = p.cfg.Backoff.Multiplier
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.Backoff.MaxRetries)), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (p *Pool) observeSubmission(name, outcome string) {
	if p.metrics != nil {
		p.metrics.IncSubmission(name, outcome)
	}
}

// classify wraps foreign errors so callers always see a ledger *Error.
func classify(err error, network string, fallback ErrorKind) error {
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(KindNetworkUnavailable, network, "request cancelled", err)
	}
	return NewError(fallback, network, "ledger call failed", err)
}
