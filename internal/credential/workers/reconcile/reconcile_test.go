package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credanchor/internal/credential/credentialtest"
	"credanchor/internal/credential/metrics"
	"credanchor/internal/credential/models"
	"credanchor/internal/credential/workers/reconcile"
)

// stopWatchers cancels background confirmation polls so only the reconcile
// worker can record ledger outcomes.
func stopWatchers(t *testing.T, h *credentialtest.Harness) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = h.Pipeline.Close(ctx)
	_ = h.Revoker.Close(ctx)
}

func newService(t *testing.T, h *credentialtest.Harness, opts ...reconcile.Option) *reconcile.Service {
	t.Helper()
	opts = append([]reconcile.Option{
		reconcile.WithLogger(h.Logger),
		reconcile.WithSettlers(h.Pipeline, h.Revoker),
	}, opts...)
	svc, err := reconcile.New(h.Store, h.Pool, h.MinConfirmations, opts...)
	require.NoError(t, err)
	return svc
}

func TestRunOnceActivatesLateConfirmations(t *testing.T) {
	h := credentialtest.New(t,
		credentialtest.WithManualMining(),
		credentialtest.WithConfirmationTimeout(20*time.Millisecond),
	)
	res := h.Issue(t, h.SkillRequest("Go", 5))
	require.Equal(t, models.StatusPending, res.Status)
	stopWatchers(t, h)

	svc := newService(t, h)
	out, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Credentials)
	assert.Zero(t, out.Confirmed)

	h.Chains["sepolia"].Mine(1)
	out, err = svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, out.Confirmed, "one block is below the required depth")
	c, err := h.Store.FindByID(context.Background(), res.Credential.ID)
	require.NoError(t, err)
	sepolia, _ := c.Anchor("sepolia")
	assert.Equal(t, uint64(1), sepolia.Confirmations)
	assert.Equal(t, models.StageSubmitted, c.Stage)

	h.Chains["sepolia"].Mine(3)
	out, err = svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Confirmed)

	c, err = h.Store.FindByID(context.Background(), res.Credential.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageConfirmed, c.Stage)
	assert.Equal(t, models.StatusActive, models.DeriveStatus(c, h.MinConfirmations, time.Now()))
}

func TestRunOnceRecordsRevertsAndFailsCredential(t *testing.T) {
	h := credentialtest.New(t,
		credentialtest.WithNetworks("sepolia"),
		credentialtest.WithManualMining(),
		credentialtest.WithConfirmationTimeout(20*time.Millisecond),
	)
	h.Chains["sepolia"].RevertNext()
	res := h.Issue(t, h.SkillRequest("Go", 5))
	require.Equal(t, models.StageSubmitted, res.Credential.Stage)
	stopWatchers(t, h)

	h.Chains["sepolia"].Mine(1)
	m := metrics.New(prometheus.NewRegistry())
	out, err := newService(t, h, reconcile.WithMetrics(m)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Reverted)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ReconciledAnchorTotal.WithLabelValues("reverted")), 0)

	c, err := h.Store.FindByID(context.Background(), res.Credential.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageFailed, c.Stage)
}

func TestRunOnceConfirmsPendingRevocation(t *testing.T) {
	h := credentialtest.New(t, credentialtest.WithConfirmationTimeout(30*time.Millisecond))
	cred := h.IssueActive(t, "Go", 5)
	h.Eventually(t, cred.ID, func(c *models.Credential) bool {
		return len(c.ConfirmedNetworks(h.MinConfirmations)) == len(h.Chains)
	})
	for _, c := range h.Chains {
		c.SetAutoMine(false)
	}
	receipt, err := h.Revoker.Revoke(context.Background(), cred.ID, credentialtest.IssuerRef, "")
	require.NoError(t, err)
	require.False(t, receipt.Confirmed)
	stopWatchers(t, h)

	for _, c := range h.Chains {
		c.Mine(3)
	}
	out, err := newService(t, h).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Confirmed)

	c, err := h.Store.FindByID(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRevoked, models.DeriveStatus(c, h.MinConfirmations, time.Now()))

	out, err = newService(t, h).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, out.Credentials, "settled credentials are not reloaded")
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := reconcile.New(nil, nil, 1)
	assert.Error(t, err)
}
