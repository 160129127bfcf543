package issuance_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"credanchor/internal/credential/credentialtest"
	"credanchor/internal/credential/events"
	"credanchor/internal/credential/issuance"
	"credanchor/internal/credential/models"
	"credanchor/internal/credential/store"
	"credanchor/internal/storage/cas"
	dErrors "credanchor/pkg/domain-errors"
)

type PipelineSuite struct {
	suite.Suite
	ctx context.Context
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *PipelineSuite) TestIssueReachesActiveOnEveryNetwork() {
	h := credentialtest.New(s.T())

	res := h.Issue(s.T(), h.SkillRequest("Go", 5))
	s.Equal(models.StatusActive, res.Status)
	s.Equal(models.StageConfirmed, res.Credential.Stage)
	s.False(res.Credential.DataHash.IsZero())

	s.Require().NotNil(res.Credential.Storage)
	s.False(res.Credential.Storage.Degraded)
	s.True(res.Credential.Storage.Pinned)
	s.True(h.Backend.Pinned(res.Credential.Storage.Address))

	// the slower network keeps polling and is recorded as an additional anchor
	cred := h.Eventually(s.T(), res.Credential.ID, func(c *models.Credential) bool {
		return len(c.ConfirmedNetworks(h.MinConfirmations)) == 2
	})
	for _, a := range cred.Anchors {
		s.NotEmpty(a.TxRef)
		s.GreaterOrEqual(a.Confirmations, h.MinConfirmations)
	}

	s.Equal([]events.Type{
		events.TypeHashed,
		events.TypeStored,
		events.TypeAnchored,
		events.TypeAnchored,
		events.TypeSubmitted,
		events.TypeActivated,
	}, h.Events.Types(res.Credential.ID.String()))
}

func (s *PipelineSuite) TestSamePayloadHashesIdentically() {
	h := credentialtest.New(s.T())

	a, err := h.Schemas.Canonicalize(models.CredentialTypeSkill, "v1",
		[]byte(`{"name":"Go","proficiency":5,"assessed_year":2025}`))
	s.Require().NoError(err)
	b, err := h.Schemas.Canonicalize(models.CredentialTypeSkill, "v1",
		[]byte(`{ "assessed_year": 2025,
		  "proficiency": 5, "name": "Go" }`))
	s.Require().NoError(err)
	s.Equal(a.Hash, b.Hash)
	s.Equal(a.Bytes, b.Bytes)

	first := h.Issue(s.T(), h.SkillRequest("Rust", 4))
	_, err = h.Pipeline.Issue(s.ctx, h.SkillRequest("Rust", 4))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Contains(err.Error(), first.Credential.ID.String())
}

func (s *PipelineSuite) TestPartialSubmissionIsValid() {
	h := credentialtest.New(s.T(), credentialtest.WithIssuerNetworks("sepolia"))

	res := h.Issue(s.T(), h.SkillRequest("SQL", 6))
	s.Equal(models.StatusActive, res.Status)

	amoy, ok := res.Credential.Anchor("amoy")
	s.Require().True(ok)
	s.Equal(models.AnchorFailed, amoy.State)
	s.Contains(amoy.Error, "not authorized")
	s.Zero(h.Chains["amoy"].Submits.Load())

	sepolia, ok := res.Credential.Anchor("sepolia")
	s.Require().True(ok)
	s.Equal(models.AnchorConfirmed, sepolia.State)
}

func (s *PipelineSuite) TestNetworkOutageDoesNotBlockOtherNetworks() {
	h := credentialtest.New(s.T())
	h.Chains["amoy"].SetDown(true)

	res := h.Issue(s.T(), h.SkillRequest("Kubernetes", 7))
	s.Equal(models.StatusActive, res.Status)

	amoy, _ := res.Credential.Anchor("amoy")
	s.Equal(models.AnchorFailed, amoy.State)
	sepolia, _ := res.Credential.Anchor("sepolia")
	s.Equal(models.AnchorConfirmed, sepolia.State)
}

func (s *PipelineSuite) TestRevertedAnchorDoesNotPreventActivation() {
	h := credentialtest.New(s.T())
	h.Chains["sepolia"].RevertNext()

	res := h.Issue(s.T(), h.SkillRequest("Terraform", 3))
	s.Equal(models.StatusActive, res.Status)

	cred := h.Eventually(s.T(), res.Credential.ID, func(c *models.Credential) bool {
		a, _ := c.Anchor("sepolia")
		return a.State == models.AnchorReverted
	})
	s.Equal([]string{"amoy"}, cred.ConfirmedNetworks(h.MinConfirmations))
}

func (s *PipelineSuite) TestAllSubmissionsRejectedFails() {
	h := credentialtest.New(s.T())
	rejection := errors.New("execution reverted: malformed anchor")
	for _, c := range h.Chains {
		c.FailSubmissions(rejection)
	}

	res := h.Issue(s.T(), h.SkillRequest("Haskell", 2))
	s.Equal(models.StatusFailed, res.Status)
	s.Equal(models.StageFailed, res.Credential.Stage)
	for _, a := range res.Credential.Anchors {
		s.Equal(models.AnchorFailed, a.State)
	}

	s.Require().NotNil(res.Credential.Storage)
	s.False(res.Credential.Storage.Pinned, "payload of a failed credential is unpinned")
	s.False(h.Backend.Pinned(res.Credential.Storage.Address))
	s.Contains(h.Events.Types(res.Credential.ID.String()), events.TypeFailed)
}

func (s *PipelineSuite) TestStorageOutageDowngradesButAnchors() {
	h := credentialtest.New(s.T(), credentialtest.WithStorageDown())
	s.True(h.Storage.Degraded())

	res := h.Issue(s.T(), h.SkillRequest("Erlang", 5))
	s.Equal(models.StatusActive, res.Status)
	s.Require().NotNil(res.Credential.Storage)
	s.True(res.Credential.Storage.Degraded)
	s.False(res.Credential.Storage.Pinned)
}

func (s *PipelineSuite) TestStorageRecoversInTheBackground() {
	h := credentialtest.New(s.T(), credentialtest.WithStorageDown())
	s.Require().True(h.Storage.Degraded())

	ctx, cancel := context.WithCancel(s.ctx)
	s.T().Cleanup(cancel)
	go h.Storage.Run(ctx, 5*time.Millisecond)

	h.Backend.SetDown(false)
	s.Eventually(func() bool { return !h.Storage.Degraded() }, 2*time.Second, 5*time.Millisecond)

	res := h.Issue(s.T(), h.SkillRequest("Zig", 4))
	s.Require().NotNil(res.Credential.Storage)
	s.False(res.Credential.Storage.Degraded)
	s.True(res.Credential.Storage.Pinned)
}

var samplePDF = []byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")

func (s *PipelineSuite) TestDocumentIsStoredAndCommitted() {
	h := credentialtest.New(s.T())
	req := h.SkillRequest("Go", 5)
	req.Document = &issuance.Document{Content: samplePDF, MediaType: "application/pdf; name=diploma.pdf"}

	res := h.Issue(s.T(), req)
	s.Equal(models.StatusActive, res.Status)

	doc := res.Credential.Document
	s.Require().NotNil(doc)
	sum := sha256.Sum256(samplePDF)
	s.Equal(hex.EncodeToString(sum[:]), doc.SHA256)
	s.Equal("application/pdf", doc.MediaType)
	s.False(doc.Degraded)
	s.True(doc.Pinned)
	s.True(h.Backend.Pinned(doc.Address))

	stored, err := h.Storage.Get(s.ctx, cas.ParseAddress(doc.Address))
	s.Require().NoError(err)
	s.Equal(samplePDF, stored)

	payload, err := h.Storage.Get(s.ctx, cas.ParseAddress(res.Credential.Storage.Address))
	s.Require().NoError(err)
	var fields struct {
		Document map[string]string `json:"document"`
	}
	s.Require().NoError(json.Unmarshal(payload, &fields))
	s.Equal(map[string]string{
		"address":    doc.Address,
		"sha256":     doc.SHA256,
		"media_type": "application/pdf",
	}, fields.Document)

	plain := h.Issue(s.T(), h.SkillRequest("Go", 5))
	s.NotEqual(res.Credential.DataHash, plain.Credential.DataHash, "the document is covered by the data hash")
	s.Nil(plain.Credential.Document)
}

func (s *PipelineSuite) TestDocumentWhileStorageDegraded() {
	h := credentialtest.New(s.T(), credentialtest.WithStorageDown())
	req := h.SkillRequest("Erlang", 5)
	req.Document = &issuance.Document{Content: samplePDF, MediaType: "application/pdf"}

	res := h.Issue(s.T(), req)
	s.Equal(models.StatusActive, res.Status)
	s.Require().NotNil(res.Credential.Document)
	s.True(res.Credential.Document.Degraded)
	s.True(strings.HasPrefix(res.Credential.Document.Address, cas.DegradedPrefix))
	s.False(res.Credential.Document.Pinned)
}

func (s *PipelineSuite) TestFailedIssuanceUnpinsDocument() {
	h := credentialtest.New(s.T())
	for _, c := range h.Chains {
		c.FailSubmissions(errors.New("execution reverted"))
	}
	req := h.SkillRequest("Cobol", 2)
	req.Document = &issuance.Document{Content: samplePDF, MediaType: "application/pdf"}

	res := h.Issue(s.T(), req)
	s.Equal(models.StatusFailed, res.Status)
	s.Require().NotNil(res.Credential.Document)
	s.False(res.Credential.Document.Pinned)
	s.False(h.Backend.Pinned(res.Credential.Document.Address))
}

// unpinFailingStore rejects the write that records released pins.
type unpinFailingStore struct {
	*store.InMemoryStore
}

func (s unpinFailingStore) Update(ctx context.Context, c *models.Credential) error {
	if c.Stage == models.StageFailed && c.Storage != nil && !c.Storage.Pinned {
		return errors.New("disk full")
	}
	return s.InMemoryStore.Update(ctx, c)
}

func (s *PipelineSuite) TestUnpinRecordFailureIsLogged() {
	h := credentialtest.New(s.T())
	for _, c := range h.Chains {
		c.FailSubmissions(errors.New("execution reverted"))
	}
	var logs bytes.Buffer
	p := issuance.New(issuance.Config{
		MinConfirmations:    h.MinConfirmations,
		ConfirmationTimeout: h.ConfirmationTimeout,
	}, unpinFailingStore{store.NewInMemoryStore()}, h.Pool, h.Storage, h.Authorizer, h.Schemas,
		issuance.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)
	s.T().Cleanup(func() { _ = p.Close(context.Background()) })

	res, err := p.Issue(s.ctx, h.SkillRequest("Fortran", 3))
	s.Require().NoError(err)
	s.Equal(models.StatusFailed, res.Status)
	s.False(h.Backend.Pinned(res.Credential.Storage.Address))
	s.Contains(logs.String(), "failed to record unpinned content")
	s.Contains(logs.String(), "disk full")
}

func (s *PipelineSuite) TestDocumentValidation() {
	h := credentialtest.New(s.T())

	cases := []struct {
		name   string
		mutate func(r *issuance.Request)
	}{
		{"empty document", func(r *issuance.Request) {
			r.Document = &issuance.Document{MediaType: "application/pdf"}
		}},
		{"unsupported media type", func(r *issuance.Request) {
			r.Document = &issuance.Document{Content: []byte("#!/bin/sh"), MediaType: "text/x-shellscript"}
		}},
		{"oversized document", func(r *issuance.Request) {
			r.Document = &issuance.Document{Content: make([]byte, issuance.MaxDocumentBytes+1), MediaType: "application/pdf"}
		}},
		{"payload already names a document", func(r *issuance.Request) {
			r.Payload = []byte(`{"name":"Go","proficiency":5,"document":{"address":"x","sha256":"00","media_type":"application/pdf"}}`)
			r.Document = &issuance.Document{Content: samplePDF, MediaType: "application/pdf"}
		}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			req := h.SkillRequest("Go", 5)
			tc.mutate(&req)
			_, err := h.Pipeline.Issue(s.ctx, req)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "got %v", err)
		})
	}
}

func (s *PipelineSuite) TestConfirmationTimeoutLeavesCredentialSubmitted() {
	h := credentialtest.New(s.T(),
		credentialtest.WithManualMining(),
		credentialtest.WithConfirmationTimeout(30*time.Millisecond),
	)

	res := h.Issue(s.T(), h.SkillRequest("Zig", 4))
	s.Equal(models.StatusPending, res.Status)
	s.Equal(models.StageSubmitted, res.Credential.Stage)

	// the background poll keeps going and activates the credential once mined
	h.Chains["sepolia"].Mine(5)
	cred := h.Eventually(s.T(), res.Credential.ID, func(c *models.Credential) bool {
		return c.Stage == models.StageConfirmed
	})
	s.Equal(models.StatusActive, models.DeriveStatus(cred, h.MinConfirmations, time.Now()))
}

func (s *PipelineSuite) TestValidation() {
	h := credentialtest.New(s.T())
	past := time.Now().Add(-time.Hour)

	cases := []struct {
		name   string
		mutate func(r *issuance.Request)
		code   dErrors.Code
	}{
		{"missing holder", func(r *issuance.Request) { r.HolderRef = " " }, dErrors.CodeInvalidInput},
		{"unknown type", func(r *issuance.Request) { r.Type = "diploma" }, dErrors.CodeInvalidInput},
		{"expiry in the past", func(r *issuance.Request) { r.ExpiresAt = &past }, dErrors.CodeInvalidInput},
		{"no networks", func(r *issuance.Request) { r.Networks = nil }, dErrors.CodeInvalidInput},
		{"bad credential id", func(r *issuance.Request) { r.ID = "abc" }, dErrors.CodeInvalidInput},
		{"unknown field", func(r *issuance.Request) { r.Payload = []byte(`{"name":"Go","proficiency":5,"rank":1}`) }, dErrors.CodeValidation},
		{"stranger principal", func(r *issuance.Request) { r.Principal = "mallory" }, dErrors.CodeUnauthorized},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			req := h.SkillRequest("Go", 5)
			tc.mutate(&req)
			_, err := h.Pipeline.Issue(s.ctx, req)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, tc.code), "got %v", err)
		})
	}
}

func (s *PipelineSuite) TestDelegateMayIssue() {
	h := credentialtest.New(s.T())
	req := h.SkillRequest("Lisp", 8)
	req.Principal = credentialtest.DelegateRef

	res := h.Issue(s.T(), req)
	s.Equal(models.StatusActive, res.Status)
	s.Equal(credentialtest.IssuerRef, res.Credential.IssuerRef)
}

func TestConcurrentIssuesReachIndependentStates(t *testing.T) {
	h := credentialtest.New(t)

	const n = 8
	results := make([]models.Status, n)
	ids := make([]models.CredentialID, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := h.SkillRequest(fmt.Sprintf("skill-%d", i), 1+i%10)
			res, err := h.Pipeline.Issue(context.Background(), req)
			if !assert.NoError(t, err) {
				return
			}
			results[i] = res.Status
			ids[i] = res.Credential.ID
		}()
	}
	wg.Wait()

	seen := map[models.CredentialID]bool{}
	for i := range n {
		assert.Equal(t, models.StatusActive, results[i])
		require.NotEmpty(t, ids[i])
		assert.False(t, seen[ids[i]], "credential ids are unique")
		seen[ids[i]] = true

		c, err := h.Store.FindByID(context.Background(), ids[i])
		require.NoError(t, err)
		assert.Equal(t, models.StageConfirmed, c.Stage)
	}
}
