// Package ledgertest provides an in-memory ledger.Network for tests.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"credanchor/internal/ledger"
)

type tx struct {
	ref      ledger.TxRef
	block    uint64
	reverted bool
}

type record struct {
	ledger.Record
	anchoredAt uint64
	revokedAt  uint64
}

// Chain is a deterministic in-memory ledger. With auto-mining enabled every
// Receipt or BlockNumber call produces a new block, so confirmations grow as
// callers poll.
type Chain struct {
	name    string
	chainID uint64

	mu         sync.Mutex
	head       uint64
	autoMine   bool
	down       bool
	submitErr  error
	failNext   int
	revertNext bool
	txs        map[ledger.TxRef]*tx
	records    map[[32]byte]*record
	authorized map[[32]byte]bool
	nonce      int

	Submits atomic.Int32
	Reads   atomic.Int32
	Polls   atomic.Int32
}

// Option configures a Chain.
type Option func(*Chain)

// WithAutoMine advances the head on every Receipt and BlockNumber call.
func WithAutoMine() Option {
	return func(c *Chain) { c.autoMine = true }
}

// WithAuthorizedIssuers marks issuer references as authorized on-chain.
func WithAuthorizedIssuers(refs ...string) Option {
	return func(c *Chain) {
		for _, r := range refs {
			c.authorized[ledger.RefHash(r)] = true
		}
	}
}

// NewChain creates a chain at height 1.
func NewChain(name string, opts ...Option) *Chain {
	c := &Chain{
		name:       name,
		chainID:    11155111,
		head:       1,
		txs:        make(map[ledger.TxRef]*tx),
		records:    make(map[[32]byte]*record),
		authorized: make(map[[32]byte]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) Name() string { return c.name }

// Mine advances the head by n blocks.
func (c *Chain) Mine(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head += n
}

// SetAutoMine toggles automatic block production.
func (c *Chain) SetAutoMine(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoMine = on
}

// SetDown makes every call fail as if the RPC endpoint were unreachable.
func (c *Chain) SetDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

// FailSubmissions makes Submit return err until cleared with nil.
func (c *Chain) FailSubmissions(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitErr = err
}

// FailNextSubmissions makes the next n Submit calls return err.
func (c *Chain) FailNextSubmissions(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
	c.submitErr = err
}

// RevertNext makes the next submitted transaction revert when mined.
func (c *Chain) RevertNext() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revertNext = true
}

// Authorize marks issuerRef as authorized on-chain.
func (c *Chain) Authorize(issuerRef string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorized[ledger.RefHash(issuerRef)] = true
}

// Tamper rewrites the stored dataHash of an anchored record.
func (c *Chain) Tamper(dataHash [32]byte, replacement [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.records[dataHash]; ok {
		r.DataHash = replacement
	}
}

func (c *Chain) unavailable() error {
	return ledger.NewError(ledger.KindNetworkUnavailable, c.name, "connection refused", nil)
}

func (c *Chain) Submit(ctx context.Context, t ledger.Tx) (ledger.TxRef, error) {
	c.Submits.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		return "", c.unavailable()
	}
	if c.submitErr != nil {
		if c.failNext > 0 {
			c.failNext--
			err := c.submitErr
			if c.failNext == 0 {
				c.submitErr = nil
			}
			return "", err
		}
		return "", c.submitErr
	}

	c.nonce++
	entry := &tx{
		ref:   ledger.TxRef(fmt.Sprintf("0x%s-%064x", c.name, c.nonce)),
		block: c.head + 1,
	}
	entry.reverted = c.revertNext || !c.authorized[ledger.RefHash(t.IssuerRef)]
	c.revertNext = false

	existing, anchored := c.records[t.DataHash]
	switch t.Kind {
	case ledger.TxAnchor:
		if anchored {
			entry.reverted = true
		}
		if !entry.reverted {
			rec := &record{anchoredAt: entry.block}
			rec.DataHash = t.DataHash
			rec.Issuer = ledger.RefHash(t.IssuerRef)
			rec.Holder = ledger.RefHash(t.HolderRef)
			rec.IssuedAt = time.Now().UTC()
			rec.ExpiresAt = t.ExpiresAt
			c.records[t.DataHash] = rec
		}
	case ledger.TxRevoke:
		if !anchored || existing.revokedAt != 0 || existing.Issuer != ledger.RefHash(t.IssuerRef) {
			entry.reverted = true
		}
		if !entry.reverted {
			existing.revokedAt = entry.block
		}
	}

	c.txs[entry.ref] = entry
	return entry.ref, nil
}

func (c *Chain) Receipt(ctx context.Context, ref ledger.TxRef) (*ledger.Receipt, error) {
	c.Polls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		return nil, c.unavailable()
	}
	if c.autoMine {
		c.head++
	}
	entry, ok := c.txs[ref]
	if !ok {
		return nil, ledger.NewError(ledger.KindSubmissionFailed, c.name, "unknown transaction", nil)
	}
	if entry.block > c.head {
		return nil, ledger.ErrTxPending
	}
	return &ledger.Receipt{TxRef: ref, BlockHeight: entry.block, Success: !entry.reverted}, nil
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		return 0, c.unavailable()
	}
	if c.autoMine {
		c.head++
	}
	return c.head, nil
}

func (c *Chain) ReadCredential(ctx context.Context, dataHash [32]byte) (*ledger.Record, error) {
	c.Reads.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		return nil, c.unavailable()
	}
	rec, ok := c.records[dataHash]
	if !ok || rec.anchoredAt > c.head {
		return nil, ledger.ErrRecordNotFound
	}
	out := rec.Record
	out.Revoked = rec.revokedAt != 0 && rec.revokedAt <= c.head
	return &out, nil
}

func (c *Chain) IsAuthorizedIssuer(ctx context.Context, issuerRef string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		return false, c.unavailable()
	}
	return c.authorized[ledger.RefHash(issuerRef)], nil
}

func (c *Chain) EstimateGas(ctx context.Context, t ledger.Tx) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		return 0, ledger.NewError(ledger.KindEstimationFailed, c.name, "estimate failed", c.unavailable())
	}
	if t.Kind == ledger.TxRevoke {
		return 48_000, nil
	}
	return 120_000, nil
}

func (c *Chain) ChainInfo(ctx context.Context) (ledger.ChainInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		return ledger.ChainInfo{}, c.unavailable()
	}
	return ledger.ChainInfo{Network: c.name, ChainID: c.chainID, Head: c.head, GasPrice: big.NewInt(1_000_000_000)}, nil
}

func (c *Chain) Close() {}

var _ ledger.Network = (*Chain)(nil)
