package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"credanchor/internal/credential/models"
	"credanchor/internal/platform/database"
	dErrors "credanchor/pkg/domain-errors"
)

// StoreSuite runs the same contract against every Store implementation.
type StoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	ctx      context.Context
	now      time.Time
}

func (s *StoreSuite) SetupTest() {
	s.store = s.newStore(s.T())
	s.ctx = context.Background()
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func TestInMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(*testing.T) Store { return NewInMemoryStore() }})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(t *testing.T) Store {
		db, err := sql.Open(database.DriverSQLite, database.SQLiteDSN(filepath.Join(t.TempDir(), "credentials.db")))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = db.Close() })
		if err := database.Migrate(db, database.DriverSQLite); err != nil {
			t.Fatalf("migrate sqlite: %v", err)
		}
		return NewSQLite(db)
	}})
}

func (s *StoreSuite) credential(holder, payload string) *models.Credential {
	expires := s.now.Add(365 * 24 * time.Hour)
	return &models.Credential{
		ID:            models.NewCredentialID(),
		HolderRef:     holder,
		IssuerRef:     "issuer-acme",
		Type:          models.CredentialTypeEducation,
		SchemaVersion: "v1",
		DataHash:      models.DataHash(sha256.Sum256([]byte(payload))),
		Storage:       &models.StorageRef{Address: "bafy-" + payload, Pinned: true},
		IssuedAt:      s.now,
		ExpiresAt:     &expires,
		Stage:         models.StageHashed,
		UpdatedAt:     s.now,
	}
}

func (s *StoreSuite) anchor(network, tx string, state models.AnchorState, confirmations uint64) models.Anchor {
	return models.Anchor{
		Network:       network,
		TxRef:         tx,
		BlockHeight:   100,
		Confirmations: confirmations,
		State:         state,
		SubmittedAt:   s.now,
		UpdatedAt:     s.now,
	}
}

func (s *StoreSuite) TestCreateAndFind() {
	cred := s.credential("holder-1", "a")
	s.Require().NoError(s.store.Create(s.ctx, cred))

	got, err := s.store.FindByID(s.ctx, cred.ID)
	s.Require().NoError(err)
	s.Equal(cred.ID, got.ID)
	s.Equal(cred.DataHash, got.DataHash)
	s.Equal(cred.Storage, got.Storage)
	s.True(cred.ExpiresAt.Equal(*got.ExpiresAt))
	s.True(cred.IssuedAt.Equal(got.IssuedAt))
	s.Nil(got.Revocation)

	byHash, err := s.store.FindByDataHash(s.ctx, "issuer-acme", cred.DataHash)
	s.Require().NoError(err)
	s.Equal(cred.ID, byHash.ID)

	_, err = s.store.FindByDataHash(s.ctx, "issuer-other", cred.DataHash)
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestDocumentReferenceRoundTrip() {
	cred := s.credential("holder-1", "a")
	cred.Document = &models.DocumentRef{
		StorageRef: models.StorageRef{Address: "bafydoc", Pinned: true},
		SHA256:     "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		MediaType:  "application/pdf",
	}
	s.Require().NoError(s.store.Create(s.ctx, cred))

	got, err := s.store.FindByID(s.ctx, cred.ID)
	s.Require().NoError(err)
	s.Equal(cred.Document, got.Document)

	got.Document.Pinned = false
	s.Require().NoError(s.store.Update(s.ctx, got))
	again, err := s.store.FindByID(s.ctx, cred.ID)
	s.Require().NoError(err)
	s.Require().NotNil(again.Document)
	s.False(again.Document.Pinned)
	s.Equal("application/pdf", again.Document.MediaType)

	plain := s.credential("holder-1", "b")
	s.Require().NoError(s.store.Create(s.ctx, plain))
	got, err = s.store.FindByID(s.ctx, plain.ID)
	s.Require().NoError(err)
	s.Nil(got.Document)
}

func (s *StoreSuite) TestFindMissing() {
	_, err := s.store.FindByID(s.ctx, models.NewCredentialID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *StoreSuite) TestCreateRejectsDuplicates() {
	cred := s.credential("holder-1", "a")
	s.Require().NoError(s.store.Create(s.ctx, cred))

	s.ErrorIs(s.store.Create(s.ctx, cred), ErrDuplicate)

	sameHash := s.credential("holder-2", "a")
	s.True(dErrors.HasCode(s.store.Create(s.ctx, sameHash), dErrors.CodeConflict))
}

func (s *StoreSuite) TestUpdateKeepsDataHashImmutable() {
	cred := s.credential("holder-1", "a")
	s.Require().NoError(s.store.Create(s.ctx, cred))

	changed := cred.Clone()
	changed.DataHash = models.DataHash(sha256.Sum256([]byte("b")))
	err := s.store.Update(s.ctx, changed)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	cred.Stage = models.StageStored
	cred.Storage = &models.StorageRef{Address: "degraded:zabc", Degraded: true}
	s.Require().NoError(s.store.Update(s.ctx, cred))

	got, err := s.store.FindByID(s.ctx, cred.ID)
	s.Require().NoError(err)
	s.Equal(models.StageStored, got.Stage)
	s.True(got.Storage.Degraded)
}

func (s *StoreSuite) TestDraftDataHashMayChange() {
	cred := s.credential("holder-1", "a")
	cred.Stage = models.StageDraft
	s.Require().NoError(s.store.Create(s.ctx, cred))

	cred.DataHash = models.DataHash(sha256.Sum256([]byte("b")))
	cred.Stage = models.StageHashed
	s.Require().NoError(s.store.Update(s.ctx, cred))
}

func (s *StoreSuite) TestUpsertAnchorIsMonotonic() {
	cred := s.credential("holder-1", "a")
	s.Require().NoError(s.store.Create(s.ctx, cred))

	s.Require().NoError(s.store.UpsertAnchor(s.ctx, cred.ID, s.anchor("sepolia", "0x01", models.AnchorSubmitted, 0)))
	s.Require().NoError(s.store.UpsertAnchor(s.ctx, cred.ID, s.anchor("amoy", "0x02", models.AnchorSubmitted, 0)))
	s.Require().NoError(s.store.UpsertAnchor(s.ctx, cred.ID, s.anchor("sepolia", "0x01", models.AnchorConfirmed, 6)))
	// a stale poll must not lower depth or state
	s.Require().NoError(s.store.UpsertAnchor(s.ctx, cred.ID, s.anchor("sepolia", "0x01", models.AnchorSubmitted, 2)))

	got, err := s.store.FindByID(s.ctx, cred.ID)
	s.Require().NoError(err)
	s.Require().Len(got.Anchors, 2)
	s.Equal("sepolia", got.Anchors[0].Network)
	s.Equal("amoy", got.Anchors[1].Network)
	s.Equal(models.AnchorConfirmed, got.Anchors[0].State)
	s.EqualValues(6, got.Anchors[0].Confirmations)

	s.ErrorIs(s.store.UpsertAnchor(s.ctx, models.NewCredentialID(), s.anchor("sepolia", "0x01", models.AnchorSubmitted, 0)), ErrNotFound)
}

func (s *StoreSuite) TestRevocation() {
	cred := s.credential("holder-1", "a")
	s.Require().NoError(s.store.Create(s.ctx, cred))

	s.ErrorIs(s.store.UpsertRevocationAnchor(s.ctx, cred.ID, s.anchor("sepolia", "0x09", models.AnchorSubmitted, 0)), ErrNotFound)

	rev := models.Revocation{
		RevokedAt: s.now,
		RevokedBy: "issuer-acme",
		Reason:    "superseded",
		Anchors:   []models.Anchor{s.anchor("sepolia", "0x09", models.AnchorSubmitted, 0)},
	}
	s.Require().NoError(s.store.SetRevocation(s.ctx, cred.ID, rev))
	s.True(dErrors.HasCode(s.store.SetRevocation(s.ctx, cred.ID, rev), dErrors.CodeAlreadyRevoked))

	s.Require().NoError(s.store.UpsertRevocationAnchor(s.ctx, cred.ID, s.anchor("sepolia", "0x09", models.AnchorConfirmed, 3)))

	got, err := s.store.FindByID(s.ctx, cred.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.Revocation)
	s.Equal("superseded", got.Revocation.Reason)
	s.True(got.Revocation.Confirmed(3))
}

func (s *StoreSuite) TestVoidRevocationIsReplaced() {
	cred := s.credential("holder-1", "a")
	s.Require().NoError(s.store.Create(s.ctx, cred))

	first := models.Revocation{
		RevokedAt: s.now,
		RevokedBy: "issuer-acme",
		Reason:    "first attempt",
		Anchors: []models.Anchor{
			s.anchor("sepolia", "0x09", models.AnchorSubmitted, 0),
			s.anchor("amoy", "0x0a", models.AnchorSubmitted, 0),
		},
	}
	s.Require().NoError(s.store.SetRevocation(s.ctx, cred.ID, first))
	s.Require().NoError(s.store.UpsertRevocationAnchor(s.ctx, cred.ID, s.anchor("sepolia", "0x09", models.AnchorReverted, 0)))

	second := first
	second.Reason = "second attempt"
	second.Anchors = []models.Anchor{s.anchor("sepolia", "0x0b", models.AnchorSubmitted, 0)}
	s.True(dErrors.HasCode(s.store.SetRevocation(s.ctx, cred.ID, second), dErrors.CodeAlreadyRevoked),
		"a revocation with a transaction in flight is not void")

	s.Require().NoError(s.store.UpsertRevocationAnchor(s.ctx, cred.ID, s.anchor("amoy", "0x0a", models.AnchorFailed, 0)))
	s.Require().NoError(s.store.SetRevocation(s.ctx, cred.ID, second))

	got, err := s.store.FindByID(s.ctx, cred.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.Revocation)
	s.Equal("second attempt", got.Revocation.Reason)
	s.Require().Len(got.Revocation.Anchors, 1)
	s.Equal("0x0b", got.Revocation.Anchors[0].TxRef)
	s.Equal(models.AnchorSubmitted, got.Revocation.Anchors[0].State)
}

func (s *StoreSuite) TestListByHolderNewestFirst() {
	older := s.credential("holder-1", "a")
	older.IssuedAt = s.now.Add(-time.Hour)
	newer := s.credential("holder-1", "b")
	other := s.credential("holder-2", "c")
	for _, c := range []*models.Credential{older, newer, other} {
		s.Require().NoError(s.store.Create(s.ctx, c))
	}

	list, err := s.store.ListByHolder(s.ctx, "holder-1")
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(newer.ID, list[0].ID)
	s.Equal(older.ID, list[1].ID)

	none, err := s.store.ListByHolder(s.ctx, "holder-unknown")
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *StoreSuite) TestListUnsettled() {
	pending := s.credential("holder-1", "a")
	settled := s.credential("holder-1", "b")
	failed := s.credential("holder-1", "c")
	failed.Stage = models.StageFailed
	for _, c := range []*models.Credential{pending, settled, failed} {
		s.Require().NoError(s.store.Create(s.ctx, c))
	}
	s.Require().NoError(s.store.UpsertAnchor(s.ctx, pending.ID, s.anchor("sepolia", "0x01", models.AnchorSubmitted, 0)))
	s.Require().NoError(s.store.UpsertAnchor(s.ctx, settled.ID, s.anchor("sepolia", "0x02", models.AnchorConfirmed, 12)))
	s.Require().NoError(s.store.UpsertAnchor(s.ctx, failed.ID, s.anchor("sepolia", "0x03", models.AnchorSubmitted, 0)))

	list, err := s.store.ListUnsettled(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(pending.ID, list[0].ID)
}

func (s *StoreSuite) TestReturnedCredentialsAreCopies() {
	cred := s.credential("holder-1", "a")
	s.Require().NoError(s.store.Create(s.ctx, cred))

	got, err := s.store.FindByID(s.ctx, cred.ID)
	s.Require().NoError(err)
	got.Storage.Address = "mutated"
	got.Anchors = append(got.Anchors, s.anchor("x", "0x", models.AnchorSubmitted, 0))

	again, err := s.store.FindByID(s.ctx, cred.ID)
	s.Require().NoError(err)
	s.Equal("bafy-a", again.Storage.Address)
	s.Empty(again.Anchors)
}

func (s *StoreSuite) TestConcurrentAnchorWrites() {
	cred := s.credential("holder-1", "a")
	s.Require().NoError(s.store.Create(s.ctx, cred))

	networks := []string{"sepolia", "amoy", "holesky", "base-sepolia"}
	var wg sync.WaitGroup
	for _, n := range networks {
		wg.Add(1)
		go func(network string) {
			defer wg.Done()
			s.NoError(s.store.UpsertAnchor(s.ctx, cred.ID, s.anchor(network, "0x"+network, models.AnchorSubmitted, 0)))
		}(n)
	}
	wg.Wait()

	got, err := s.store.FindByID(s.ctx, cred.ID)
	s.Require().NoError(err)
	s.Len(got.Anchors, len(networks))
}
