package confirm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credanchor/internal/credential/models"
	"credanchor/internal/ledger"
)

type scriptedLedger struct {
	delays map[string]time.Duration
	errs   map[string]error
}

func (l *scriptedLedger) WaitForConfirmations(ctx context.Context, network string, ref ledger.TxRef, min uint64, _ time.Duration) (ledger.Confirmation, error) {
	select {
	case <-time.After(l.delays[network]):
	case <-ctx.Done():
		return ledger.Confirmation{TxRef: ref}, ledger.NewError(ledger.KindTimedOut, network, "cancelled", ctx.Err())
	}
	if err := l.errs[network]; err != nil {
		return ledger.Confirmation{TxRef: ref, Mined: true, BlockHeight: 10}, err
	}
	return ledger.Confirmation{TxRef: ref, Mined: true, BlockHeight: 10, Confirmations: min}, nil
}

type recorder struct {
	mu      sync.Mutex
	anchors map[string]models.Anchor
	after   int
}

func (r *recorder) record(_ context.Context, a models.Anchor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anchors[a.Network] = a
	return nil
}

func (r *recorder) afterFn(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.after++
}

func anchors(networks ...string) []models.Anchor {
	out := make([]models.Anchor, 0, len(networks))
	for _, n := range networks {
		out = append(out, models.Anchor{Network: n, TxRef: "0x" + n, State: models.AnchorSubmitted})
	}
	return out
}

func TestAwaitFirst_FirstSuccessWinsAndSlowerKeepsRecording(t *testing.T) {
	l := &scriptedLedger{delays: map[string]time.Duration{
		"fast": 5 * time.Millisecond,
		"slow": 60 * time.Millisecond,
	}}
	w := NewWatcher(l, 3, time.Second, nil, nil)
	rec := &recorder{anchors: map[string]models.Anchor{}}

	network, ok := w.AwaitFirst(context.Background(), anchors("fast", "slow"), time.Second, rec.record, rec.afterFn)
	require.True(t, ok)
	assert.Equal(t, "fast", network)

	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, models.AnchorConfirmed, rec.anchors["slow"].State)
	assert.EqualValues(t, 3, rec.anchors["slow"].Confirmations)
	assert.Equal(t, 2, rec.after)
}

func TestAwaitFirst_RevertedIsNotConfirmation(t *testing.T) {
	l := &scriptedLedger{
		delays: map[string]time.Duration{"a": time.Millisecond},
		errs:   map[string]error{"a": ledger.NewError(ledger.KindReverted, "a", "reverted", nil)},
	}
	w := NewWatcher(l, 1, time.Second, nil, nil)
	rec := &recorder{anchors: map[string]models.Anchor{}}

	_, ok := w.AwaitFirst(context.Background(), anchors("a"), time.Second, rec.record, nil)
	assert.False(t, ok)
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, models.AnchorReverted, rec.anchors["a"].State)
}

func TestAwaitFirst_WaitBoundLeavesAnchorSubmitted(t *testing.T) {
	l := &scriptedLedger{delays: map[string]time.Duration{"slow": time.Hour}}
	w := NewWatcher(l, 1, time.Hour, nil, nil)
	rec := &recorder{anchors: map[string]models.Anchor{}}

	_, ok := w.AwaitFirst(context.Background(), anchors("slow"), 10*time.Millisecond, rec.record, nil)
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Close(ctx), context.DeadlineExceeded)
	assert.Equal(t, models.AnchorSubmitted, rec.anchors["slow"].State)
}
