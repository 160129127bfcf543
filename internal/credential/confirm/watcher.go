// Package confirm tracks ledger transactions until they reach the required
// confirmation depth. Waiting runs per network concurrently; the caller
// resumes on the first confirmation while slower networks keep polling.
package confirm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"credanchor/internal/credential/models"
	"credanchor/internal/ledger"
)

// Ledger is the polling side of the provider pool.
type Ledger interface {
	WaitForConfirmations(ctx context.Context, network string, ref ledger.TxRef, min uint64, timeout time.Duration) (ledger.Confirmation, error)
}

// RecordFunc persists an observed anchor state.
type RecordFunc func(ctx context.Context, anchor models.Anchor) error

// Watcher owns background confirmation polls so they can be drained on shutdown.
type Watcher struct {
	ledger  Ledger
	min     uint64
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher polls each transaction for at most timeout after submission.
func NewWatcher(l Ledger, min uint64, timeout time.Duration, logger *slog.Logger, now func() time.Time) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{ledger: l, min: min, timeout: timeout, logger: logger, now: now, ctx: ctx, cancel: cancel}
}

// Context is cancelled when the watcher is closed. Background follow-up work
// (stage settlement, events) should use it instead of a request context.
func (w *Watcher) Context() context.Context {
	return w.ctx
}

// AwaitFirst starts one tracked poll per anchor and blocks until one confirms,
// all settle, wait elapses, or ctx ends. Each poll calls record with the final
// observed state and then after, whether or not AwaitFirst has returned.
// It returns the network that confirmed first, if any.
func (w *Watcher) AwaitFirst(ctx context.Context, anchors []models.Anchor, wait time.Duration, record RecordFunc, after func(ctx context.Context)) (string, bool) {
	type outcome struct {
		network   string
		confirmed bool
	}
	results := make(chan outcome, len(anchors))

	for _, anchor := range anchors {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			final := w.poll(anchor)
			if err := record(w.ctx, final); err != nil {
				w.logger.Error("failed to record anchor state",
					"network", final.Network,
					"tx_ref", final.TxRef,
					"error", err,
				)
			}
			results <- outcome{network: final.Network, confirmed: final.State == models.AnchorConfirmed}
			if after != nil {
				after(w.ctx)
			}
		}()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for pending := len(anchors); pending > 0; pending-- {
		select {
		case o := <-results:
			if o.confirmed {
				return o.network, true
			}
		case <-timer.C:
			return "", false
		case <-ctx.Done():
			return "", false
		}
	}
	return "", false
}

// poll waits for one anchor and maps the ledger outcome onto its state.
// A timeout or cancellation leaves the anchor submitted.
func (w *Watcher) poll(anchor models.Anchor) models.Anchor {
	c, err := w.ledger.WaitForConfirmations(w.ctx, anchor.Network, ledger.TxRef(anchor.TxRef), w.min, w.timeout)

	anchor.UpdatedAt = w.now().UTC()
	if c.Mined {
		anchor.BlockHeight = c.BlockHeight
		anchor.Confirmations = c.Confirmations
	}
	switch {
	case err == nil:
		anchor.State = models.AnchorConfirmed
	case ledger.IsKind(err, ledger.KindReverted):
		anchor.State = models.AnchorReverted
		anchor.Error = "transaction reverted"
	default:
		anchor.State = models.AnchorSubmitted
	}
	return anchor
}

// Close waits for in-flight polls. If ctx ends first the polls are cancelled;
// their anchors stay submitted for the reconcile worker.
func (w *Watcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}
