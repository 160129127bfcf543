// Package cas stores canonical credential payloads in a content-addressed
// store. When the store is unreachable the client switches to a degraded
// mode that hands out clearly marked placeholder addresses.
package cas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"

	dErrors "credanchor/pkg/domain-errors"
	"credanchor/pkg/platform/circuit"
)

// DegradedPrefix marks placeholder addresses. Such addresses are never authoritative.
const DegradedPrefix = "degraded:"

// MaxObjectBytes bounds what Get reads back. Canonical payloads are far smaller;
// attached documents are written but never read through the client.
const MaxObjectBytes = 1 << 20

var (
	ErrNotFound           = errors.New("content not found")
	ErrStorageUnavailable = errors.New("content store unavailable")
	ErrTooLarge           = errors.New("content exceeds size limit")
)

// Backend is a content-addressed store.
type Backend interface {
	Add(ctx context.Context, data []byte) (string, error)
	// Cat returns ErrNotFound for unknown addresses.
	Cat(ctx context.Context, address string) ([]byte, error)
	Pin(ctx context.Context, address string) error
	Unpin(ctx context.Context, address string) error
	Ping(ctx context.Context) error
}

// Address is where a payload was stored.
type Address struct {
	Value    string
	Degraded bool
}

// ParseAddress recognises placeholder addresses by prefix.
func ParseAddress(value string) Address {
	return Address{Value: value, Degraded: strings.HasPrefix(value, DegradedPrefix)}
}

func (a Address) String() string { return a.Value }

// Metrics receives storage observations.
type Metrics interface {
	SetStorageDegraded(degraded bool)
}

// Client wraps a Backend with degraded-mode handling.
type Client struct {
	backend Backend
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics Metrics

	runOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithBreaker overrides the default circuit breaker (5 failures to open, 3 successes to close).
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// NewClient pings the backend once; an unreachable backend starts the client degraded.
func NewClient(ctx context.Context, backend Backend, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		breaker: circuit.New("content-store"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := backend.Ping(ctx); err != nil {
		c.breaker.Trip()
		c.logger.WarnContext(ctx, "content store unreachable, starting in degraded mode", "error", err)
	}
	c.reportMode()
	return c
}

// Degraded reports whether the client is handing out placeholder addresses.
func (c *Client) Degraded() bool {
	return c.breaker.IsOpen()
}

// Put stores data and returns its address. In degraded mode it returns a
// deterministic placeholder without contacting the backend.
func (c *Client) Put(ctx context.Context, data []byte) (Address, error) {
	if c.Degraded() {
		addr, err := PlaceholderAddress(data)
		if err != nil {
			return Address{}, err
		}
		c.logger.WarnContext(ctx, "content store degraded, issued placeholder address", "address", addr.Value)
		return addr, nil
	}

	value, err := c.backend.Add(ctx, data)
	if err != nil {
		c.recordFailure(ctx, err)
		return Address{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	c.recordSuccess(ctx)
	return Address{Value: value}, nil
}

// Get fetches the payload at addr. Placeholder addresses have no content.
func (c *Client) Get(ctx context.Context, addr Address) ([]byte, error) {
	if addr.Degraded || strings.HasPrefix(addr.Value, DegradedPrefix) {
		return nil, fmt.Errorf("%w: %s is a placeholder address", ErrStorageUnavailable, addr.Value)
	}
	if c.Degraded() {
		return nil, fmt.Errorf("%w: degraded mode", ErrStorageUnavailable)
	}

	data, err := c.backend.Cat(ctx, addr.Value)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTooLarge) {
		c.recordSuccess(ctx)
		return nil, err
	}
	if err != nil {
		c.recordFailure(ctx, err)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	c.recordSuccess(ctx)
	if len(data) > MaxObjectBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Pin asks the backend to retain addr. Failures are logged and returned but
// callers treat pinning as a hint.
func (c *Client) Pin(ctx context.Context, addr Address) error {
	if addr.Degraded || c.Degraded() {
		return ErrStorageUnavailable
	}
	if err := c.backend.Pin(ctx, addr.Value); err != nil {
		c.logger.WarnContext(ctx, "pin failed", "address", addr.Value, "error", err)
		return err
	}
	return nil
}

// Unpin releases addr.
func (c *Client) Unpin(ctx context.Context, addr Address) error {
	if addr.Degraded || c.Degraded() {
		return ErrStorageUnavailable
	}
	if err := c.backend.Unpin(ctx, addr.Value); err != nil {
		c.logger.WarnContext(ctx, "unpin failed", "address", addr.Value, "error", err)
		return err
	}
	return nil
}

// Ping checks the backend and feeds the result to the breaker so a degraded
// client recovers once the store answers again.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.backend.Ping(ctx); err != nil {
		c.recordFailure(ctx, err)
		return err
	}
	c.recordSuccess(ctx)
	return nil
}

// Run pings the backend every interval until ctx is done. It is safe to call
// more than once; only the first call starts the loop.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	c.runOnce.Do(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Ping(ctx); err != nil && c.Degraded() {
					c.logger.DebugContext(ctx, "content store still unreachable", "error", err)
				}
			}
		}
	})
}

// Health reports nil when the client is not degraded. Used by health checks.
func (c *Client) Health(ctx context.Context) error {
	if c.Degraded() {
		return ErrStorageUnavailable
	}
	return nil
}

func (c *Client) recordFailure(ctx context.Context, err error) {
	if c.breaker.Failure() == circuit.Opened {
		c.logger.ErrorContext(ctx, "content store failing, entering degraded mode", "error", err)
		c.reportMode()
	}
}

func (c *Client) recordSuccess(ctx context.Context) {
	if c.breaker.Success() == circuit.Closed {
		c.logger.InfoContext(ctx, "content store recovered, leaving degraded mode")
		c.reportMode()
	}
}

func (c *Client) reportMode() {
	if c.metrics != nil {
		c.metrics.SetStorageDegraded(c.breaker.IsOpen())
	}
}

// PlaceholderAddress derives the deterministic degraded-mode address for data:
// the base58btc multibase encoding of its sha2-256 multihash.
func PlaceholderAddress(data []byte) (Address, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return Address{}, err
	}
	encoded, err := multibase.Encode(multibase.Base58BTC, mh)
	if err != nil {
		return Address{}, err
	}
	return Address{Value: DegradedPrefix + encoded, Degraded: true}, nil
}

// ToDomainError attributes storage failures to the storage layer.
func ToDomainError(err error, msg string) error {
	if err == nil {
		return nil
	}
	code := dErrors.CodeStorageUnavailable
	switch {
	case errors.Is(err, ErrNotFound):
		code = dErrors.CodeNotFound
	case errors.Is(err, ErrTooLarge):
		code = dErrors.CodeInvariantViolation
	}
	return &dErrors.Error{Code: code, Layer: dErrors.LayerStorage, Message: msg, Err: err}
}
