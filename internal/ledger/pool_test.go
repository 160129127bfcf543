package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"credanchor/internal/ledger"
	"credanchor/internal/ledger/ledgertest"
)

type PoolSuite struct {
	suite.Suite
	ctx     context.Context
	pool    *ledger.Pool
	sepolia *ledgertest.Chain
	polygon *ledgertest.Chain
	metrics *stubMetrics
}

func TestPoolSuite(t *testing.T) {
	suite.Run(t, new(PoolSuite))
}

type stubMetrics struct {
	mu          sync.Mutex
	health      map[string]bool
	submissions map[string]int
}

func (m *stubMetrics) SetNetworkHealth(network string, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health[network] = healthy
}

func (m *stubMetrics) IncSubmission(network, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[network+":"+outcome]++
}

func (m *stubMetrics) ObserveConfirmationWait(string, float64) {}

func (s *PoolSuite) SetupTest() {
	s.ctx = context.Background()
	s.metrics = &stubMetrics{health: map[string]bool{}, submissions: map[string]int{}}
	s.pool = ledger.NewPool(ledger.Config{
		PollInterval: 5 * time.Millisecond,
		Backoff:      ledger.BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxRetries: 2},
	}, ledger.WithMetrics(s.metrics))

	s.sepolia = ledgertest.NewChain("sepolia", ledgertest.WithAutoMine(), ledgertest.WithAuthorizedIssuers("issuer-1"))
	s.polygon = ledgertest.NewChain("polygon", ledgertest.WithAutoMine(), ledgertest.WithAuthorizedIssuers("issuer-1"))
	s.Require().NoError(s.pool.Register(s.sepolia))
	s.Require().NoError(s.pool.Register(s.polygon))
}

func (s *PoolSuite) anchorTx(b byte) ledger.Tx {
	return ledger.Tx{Kind: ledger.TxAnchor, DataHash: [32]byte{b}, HolderRef: "holder-1", IssuerRef: "issuer-1"}
}

func (s *PoolSuite) TestRegisterAndProvider() {
	s.Run("lists networks sorted", func() {
		s.Equal([]string{"polygon", "sepolia"}, s.pool.Networks())
	})

	s.Run("rejects duplicate registration", func() {
		s.Error(s.pool.Register(ledgertest.NewChain("sepolia")))
	})

	s.Run("unknown network is unavailable", func() {
		_, err := s.pool.Provider("mainnet")
		s.Require().Error(err)
		s.True(ledger.IsKind(err, ledger.KindNetworkUnavailable))
		s.True(errors.Is(err, ledger.ErrNetworkNotFound))
	})

	s.Run("removed network is no longer addressable", func() {
		s.pool.Remove("polygon")
		_, err := s.pool.Submit(s.ctx, "polygon", s.anchorTx(1))
		s.True(ledger.IsKind(err, ledger.KindNetworkUnavailable))
	})
}

func (s *PoolSuite) TestSubmitAndConfirm() {
	ref, err := s.pool.Submit(s.ctx, "sepolia", s.anchorTx(1))
	s.Require().NoError(err)

	c, err := s.pool.WaitForConfirmations(s.ctx, "sepolia", ref, 3, time.Second)
	s.Require().NoError(err)
	s.True(c.Mined)
	s.GreaterOrEqual(c.Confirmations, uint64(3))

	rec, err := s.pool.ReadCredential(s.ctx, "sepolia", [32]byte{1})
	s.Require().NoError(err)
	s.Equal(ledger.RefHash("issuer-1"), rec.Issuer)
	s.Equal(1, s.metrics.submissions["sepolia:submitted"])
}

func (s *PoolSuite) TestUnhealthyNetworkRejectsSubmissionButStillPolls() {
	ref, err := s.pool.Submit(s.ctx, "sepolia", s.anchorTx(2))
	s.Require().NoError(err)

	s.sepolia.SetDown(true)
	health := s.pool.CheckHealth(s.ctx)
	s.False(health["sepolia"])
	s.True(health["polygon"])
	s.False(s.metrics.health["sepolia"])

	_, err = s.pool.Submit(s.ctx, "sepolia", s.anchorTx(3))
	s.True(ledger.IsKind(err, ledger.KindNetworkUnavailable))

	// other networks are unaffected
	_, err = s.pool.Submit(s.ctx, "polygon", s.anchorTx(3))
	s.NoError(err)

	// the already broadcast transaction is still tracked once the node answers again
	s.sepolia.SetDown(false)
	c, err := s.pool.WaitForConfirmations(s.ctx, "sepolia", ref, 2, time.Second)
	s.Require().NoError(err)
	s.GreaterOrEqual(c.Confirmations, uint64(2))
	s.False(s.pool.Healthy("sepolia"), "health only changes on the next check")

	s.pool.CheckHealth(s.ctx)
	s.True(s.pool.Healthy("sepolia"))
}

func (s *PoolSuite) TestSubmitRetriesTransientFailures() {
	s.sepolia.FailNextSubmissions(2, ledger.NewError(ledger.KindNetworkUnavailable, "sepolia", "eof", nil))

	ref, err := s.pool.Submit(s.ctx, "sepolia", s.anchorTx(4))
	s.Require().NoError(err)
	s.NotEmpty(ref)
	s.Equal(int32(3), s.sepolia.Submits.Load())
}

func (s *PoolSuite) TestSubmitDoesNotRetryRejections() {
	s.sepolia.FailSubmissions(errors.New("insufficient funds"))

	_, err := s.pool.Submit(s.ctx, "sepolia", s.anchorTx(5))
	s.Require().Error(err)
	s.True(ledger.IsKind(err, ledger.KindSubmissionFailed))
	s.Equal(int32(1), s.sepolia.Submits.Load())
}

func (s *PoolSuite) TestWaitTimesOut() {
	s.sepolia.SetAutoMine(false)
	ref, err := s.pool.Submit(s.ctx, "sepolia", s.anchorTx(6))
	s.Require().NoError(err)

	_, err = s.pool.WaitForConfirmations(s.ctx, "sepolia", ref, 3, 30*time.Millisecond)
	s.Require().Error(err)
	s.True(ledger.IsKind(err, ledger.KindTimedOut))
}

func (s *PoolSuite) TestWaitReportsRevert() {
	s.sepolia.RevertNext()
	ref, err := s.pool.Submit(s.ctx, "sepolia", s.anchorTx(7))
	s.Require().NoError(err)

	_, err = s.pool.WaitForConfirmations(s.ctx, "sepolia", ref, 1, time.Second)
	s.Require().Error(err)
	s.True(ledger.IsKind(err, ledger.KindReverted))
}

func (s *PoolSuite) TestEstimateGasSurfacesFailure() {
	gas, err := s.pool.EstimateGas(s.ctx, "polygon", s.anchorTx(8))
	s.Require().NoError(err)
	s.Positive(gas)

	s.polygon.SetDown(true)
	_, err = s.pool.EstimateGas(s.ctx, "polygon", s.anchorTx(8))
	s.Require().Error(err)
	s.True(ledger.IsKind(err, ledger.KindEstimationFailed))
}

func (s *PoolSuite) TestChainInfo() {
	info, err := s.pool.ChainInfo(s.ctx, "sepolia")
	s.Require().NoError(err)
	s.Equal("sepolia", info.Network)
	s.True(info.Healthy)
	s.NotNil(info.GasPrice)
}

func (s *PoolSuite) TestRunIsIdempotent() {
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{}, 2)
	for range 2 {
		go func() {
			s.pool.Run(ctx)
			done <- struct{}{}
		}()
	}
	cancel()
	for range 2 {
		select {
		case <-done:
		case <-time.After(time.Second):
			s.Fail("Run did not return after cancellation")
		}
	}
}

func (s *PoolSuite) TestToDomainError() {
	err := ledger.ToDomainError(ledger.NewError(ledger.KindNetworkUnavailable, "sepolia", "down", nil), "anchor failed")
	s.Contains(err.Error(), "anchor failed")
}
