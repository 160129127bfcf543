package verification_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"credanchor/internal/credential/credentialtest"
	"credanchor/internal/credential/models"
	"credanchor/internal/credential/schema"
	"credanchor/internal/credential/store"
	"credanchor/internal/credential/verification"
	dErrors "credanchor/pkg/domain-errors"
)

type VerifierSuite struct {
	suite.Suite
	ctx context.Context
}

func TestVerifierSuite(t *testing.T) {
	suite.Run(t, new(VerifierSuite))
}

func (s *VerifierSuite) SetupTest() {
	s.ctx = context.Background()
}

// settled waits until every network holds a confirmed anchor so that no
// background poll touches the chains during the assertion.
func settled(t *testing.T, h *credentialtest.Harness, id models.CredentialID) *models.Credential {
	return h.Eventually(t, id, func(c *models.Credential) bool {
		return len(c.ConfirmedNetworks(h.MinConfirmations)) == len(h.Chains)
	})
}

func (s *VerifierSuite) TestActiveCredentialVerifies() {
	h := credentialtest.New(s.T())
	cred := h.IssueActive(s.T(), "Go", 7)
	settled(s.T(), h, cred.ID)

	res, err := h.Verifier.Verify(s.ctx, cred.ID, verification.Options{IncludeDetails: true})
	s.Require().NoError(err)
	s.Equal(models.StatusActive, res.Status)
	s.True(res.IsValid)
	s.True(res.BlockchainVerified)
	s.True(res.StorageVerified)
	s.False(res.PendingRevocation)
	s.Equal(verification.FailureNone, res.Failure)
	s.Len(res.Anchors, 2)
	for _, a := range res.Anchors {
		s.True(a.Verified, a.Network)
		s.True(a.HashMatches, a.Network)
	}

	s.Require().NotNil(res.Details)
	s.Equal(cred.DataHash, schema.Hash(res.Details.Payload))
	fields, err := schema.Fields(res.Details.Payload)
	s.Require().NoError(err)
	s.Equal("Go", fields["name"])
}

func (s *VerifierSuite) TestWithoutDetailsSkipsStorage() {
	h := credentialtest.New(s.T())
	cred := h.IssueActive(s.T(), "Go", 7)
	before := h.Backend.Gets.Load()

	res, err := h.Verifier.Verify(s.ctx, cred.ID, verification.Options{})
	s.Require().NoError(err)
	s.True(res.IsValid)
	s.False(res.StorageVerified)
	s.Nil(res.Details)
	s.Equal(before, h.Backend.Gets.Load())
}

func (s *VerifierSuite) TestUnknownCredential() {
	h := credentialtest.New(s.T())
	_, err := h.Verifier.Verify(s.ctx, models.NewCredentialID(), verification.Options{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *VerifierSuite) TestExpiredNeedsNoRoundTrip() {
	h := credentialtest.New(s.T())
	expires := time.Now().Add(time.Hour)
	req := h.SkillRequest("COBOL", 3)
	req.ExpiresAt = &expires
	res := h.Issue(s.T(), req)
	settled(s.T(), h, res.Credential.ID)

	for _, c := range h.Chains {
		c.Reads.Store(0)
		c.Polls.Store(0)
	}
	later := verification.New(h.Store, h.Pool, h.Storage, h.Issuers, h.MinConfirmations,
		verification.WithClock(func() time.Time { return expires.Add(time.Minute) }),
	)

	out, err := later.Verify(s.ctx, res.Credential.ID, verification.Options{})
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, out.Status)
	s.Equal(verification.FailureExpired, out.Failure)
	s.False(out.IsValid)
	for name, c := range h.Chains {
		s.Zero(c.Reads.Load(), name)
		s.Zero(c.Polls.Load(), name)
	}
}

func (s *VerifierSuite) TestLedgerTamperIsHashMismatch() {
	h := credentialtest.New(s.T())
	cred := h.IssueActive(s.T(), "Prolog", 4)
	settled(s.T(), h, cred.ID)

	h.Chains["amoy"].Tamper(cred.DataHash, schema.Hash([]byte("forged")))

	res, err := h.Verifier.Verify(s.ctx, cred.ID, verification.Options{})
	s.Require().NoError(err)
	s.False(res.IsValid)
	s.Equal(verification.FailureHashMismatch, res.Failure)
	s.Equal(dErrors.LayerLedger, res.FailureLayer)
	s.NotEqual(models.StatusActive, res.Status)
}

func (s *VerifierSuite) TestStoredPayloadMutationIsHashMismatch() {
	h := credentialtest.New(s.T())
	cred := h.IssueActive(s.T(), "Fortran", 6)
	settled(s.T(), h, cred.ID)

	h.Backend.Replace(cred.Storage.Address, credentialtest.SkillPayload("Fortran", 10))

	res, err := h.Verifier.Verify(s.ctx, cred.ID, verification.Options{IncludeDetails: true})
	s.Require().NoError(err)
	s.False(res.IsValid)
	s.False(res.StorageVerified)
	s.Equal(verification.FailureHashMismatch, res.Failure)
	s.Equal(dErrors.LayerStorage, res.FailureLayer)
	s.Empty(res.Details.Payload)
}

func (s *VerifierSuite) TestStorageOutageKeepsCredentialValid() {
	h := credentialtest.New(s.T())
	cred := h.IssueActive(s.T(), "Elixir", 5)
	settled(s.T(), h, cred.ID)
	h.Backend.SetDown(true)

	res, err := h.Verifier.Verify(s.ctx, cred.ID, verification.Options{IncludeDetails: true})
	s.Require().NoError(err)
	s.True(res.IsValid)
	s.True(res.BlockchainVerified)
	s.False(res.StorageVerified)
	s.NotEmpty(res.Details.StorageError)
}

func (s *VerifierSuite) TestDegradedAddressIsNeverFetched() {
	h := credentialtest.New(s.T(), credentialtest.WithStorageDown())
	cred := h.IssueActive(s.T(), "OCaml", 5)
	h.Backend.SetDown(false)

	res, err := h.Verifier.Verify(s.ctx, cred.ID, verification.Options{IncludeDetails: true})
	s.Require().NoError(err)
	s.True(res.IsValid)
	s.False(res.StorageVerified)
	s.Zero(h.Backend.Gets.Load())
}

func (s *VerifierSuite) TestUnconfirmedCredentialIsPending() {
	h := credentialtest.New(s.T(),
		credentialtest.WithManualMining(),
		credentialtest.WithConfirmationTimeout(20*time.Millisecond),
	)
	res := h.Issue(s.T(), h.SkillRequest("Ada", 2))
	s.Require().Equal(models.StatusPending, res.Status)

	out, err := h.Verifier.Verify(s.ctx, res.Credential.ID, verification.Options{})
	s.Require().NoError(err)
	s.Equal(models.StatusPending, out.Status)
	s.False(out.IsValid)
	s.False(out.BlockchainVerified)
	s.Equal(verification.FailureNotAnchored, out.Failure)
}

func (s *VerifierSuite) TestRevertedRevocationIsNotPending() {
	h := credentialtest.New(s.T())
	cred := h.IssueActive(s.T(), "OCaml", 6)
	settled(s.T(), h, cred.ID)
	for _, c := range h.Chains {
		c.RevertNext()
	}

	_, err := h.Revoker.Revoke(s.ctx, cred.ID, credentialtest.IssuerRef, "")
	s.Require().NoError(err)
	h.Eventually(s.T(), cred.ID, func(c *models.Credential) bool {
		return c.Revocation.Void()
	})

	res, err := h.Verifier.Verify(s.ctx, cred.ID, verification.Options{})
	s.Require().NoError(err)
	s.Equal(models.StatusActive, res.Status)
	s.True(res.IsValid)
	s.False(res.PendingRevocation)
}

func (s *VerifierSuite) TestPendingRevocationStaysActiveUntilConfirmed() {
	h := credentialtest.New(s.T(), credentialtest.WithConfirmationTimeout(50*time.Millisecond))
	cred := h.IssueActive(s.T(), "Scala", 6)
	settled(s.T(), h, cred.ID)
	for _, c := range h.Chains {
		c.SetAutoMine(false)
	}

	receipt, err := h.Revoker.Revoke(s.ctx, cred.ID, credentialtest.IssuerRef, "superseded")
	s.Require().NoError(err)
	s.False(receipt.Confirmed)

	res, err := h.Verifier.Verify(s.ctx, cred.ID, verification.Options{})
	s.Require().NoError(err)
	s.Equal(models.StatusActive, res.Status)
	s.True(res.IsValid)
	s.True(res.PendingRevocation)

	for _, c := range h.Chains {
		c.Mine(5)
	}
	h.Eventually(s.T(), cred.ID, func(c *models.Credential) bool {
		return c.Revocation.Confirmed(h.MinConfirmations)
	})

	res, err = h.Verifier.Verify(s.ctx, cred.ID, verification.Options{})
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, res.Status)
	s.Equal(verification.FailureRevoked, res.Failure)
	s.False(res.IsValid)
}

// laggingStore serves a credential as a replica that has not seen its
// revocation yet.
type laggingStore struct {
	store.Store
	lag atomic.Bool
}

func (l *laggingStore) FindByID(ctx context.Context, id models.CredentialID) (*models.Credential, error) {
	c, err := l.Store.FindByID(ctx, id)
	if err != nil || !l.lag.Load() {
		return c, err
	}
	c.Revocation = nil
	return c, nil
}

func TestRevokedNeverFlickersBackToActive(t *testing.T) {
	h := credentialtest.New(t)
	cred := h.IssueActive(t, "Pascal", 3)
	settled(t, h, cred.ID)

	receipt, err := h.Revoker.Revoke(context.Background(), cred.ID, credentialtest.IssuerRef, "")
	require.NoError(t, err)
	require.True(t, receipt.Confirmed)

	replica := &laggingStore{Store: h.Store}
	v := verification.New(replica, h.Pool, h.Storage, h.Issuers, h.MinConfirmations)

	first, err := v.Verify(context.Background(), cred.ID, verification.Options{})
	require.NoError(t, err)
	require.Equal(t, models.StatusRevoked, first.Status)

	replica.lag.Store(true)
	const readers = 16
	var wg sync.WaitGroup
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := v.Verify(context.Background(), cred.ID, verification.Options{})
			if assert.NoError(t, err) {
				assert.Equal(t, models.StatusRevoked, res.Status)
			}
		}()
	}
	wg.Wait()
}

func TestConcurrentVerifiesAgree(t *testing.T) {
	h := credentialtest.New(t)
	cred := h.IssueActive(t, "Kotlin", 8)
	settled(t, h, cred.ID)

	const readers = 24
	results := make([]*verification.Result, readers)
	var wg sync.WaitGroup
	for i := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.Verifier.Verify(context.Background(), cred.ID, verification.Options{IncludeDetails: i%2 == 0})
			if assert.NoError(t, err) {
				results[i] = res
			}
		}()
	}
	wg.Wait()

	for i, res := range results {
		require.NotNil(t, res, i)
		assert.Equal(t, models.StatusActive, res.Status, i)
		assert.True(t, res.IsValid, i)
	}

	// verification never writes to the store
	after, err := h.Store.FindByID(context.Background(), cred.ID)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, after.ID)
	assert.Nil(t, after.Revocation)
}
