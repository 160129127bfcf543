package store

import (
	"context"
	"sort"
	"sync"

	"credanchor/internal/credential/models"
)

// InMemoryStore is an in-memory implementation of Store for tests or local use.
// It is safe for concurrent access but does not persist across process restarts.
type InMemoryStore struct {
	mu          sync.RWMutex
	credentials map[models.CredentialID]*models.Credential
}

// NewInMemoryStore constructs an empty in-memory credential store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{credentials: make(map[models.CredentialID]*models.Credential)}
}

func (s *InMemoryStore) Create(_ context.Context, credential *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credentials[credential.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range s.credentials {
		if existing.IssuerRef == credential.IssuerRef && existing.DataHash == credential.DataHash {
			return ErrDuplicate
		}
	}
	s.credentials[credential.ID] = credential.Clone()
	return nil
}

// Update replaces credential metadata and merges its anchors.
// The revocation record is left untouched; use SetRevocation.
func (s *InMemoryStore) Update(_ context.Context, credential *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.credentials[credential.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.DataHash != credential.DataHash && existing.Stage != models.StageDraft {
		return ErrDataHashImmutable
	}
	next := credential.Clone()
	anchors := existing.Anchors
	for _, a := range next.Anchors {
		anchors = models.UpsertAnchor(anchors, a)
	}
	next.Anchors = anchors
	next.Revocation = existing.Revocation
	s.credentials[credential.ID] = next
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id models.CredentialID) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.credentials[id]; ok {
		return c.Clone(), nil
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) FindByDataHash(_ context.Context, issuerRef string, hash models.DataHash) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.credentials {
		if c.IssuerRef == issuerRef && c.DataHash == hash {
			return c.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// ListByHolder returns the holder's credentials, newest first.
func (s *InMemoryStore) ListByHolder(_ context.Context, holderRef string) ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Credential
	for _, c := range s.credentials {
		if c.HolderRef == holderRef {
			out = append(out, c.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) ListUnsettled(_ context.Context, limit int) ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Credential
	for _, c := range s.credentials {
		if needsReconcile(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) UpsertAnchor(_ context.Context, id models.CredentialID, anchor models.Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok {
		return ErrNotFound
	}
	c.Anchors = models.UpsertAnchor(c.Anchors, anchor)
	if anchor.UpdatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = anchor.UpdatedAt
	}
	return nil
}

func (s *InMemoryStore) SetRevocation(_ context.Context, id models.CredentialID, revocation models.Revocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok {
		return ErrNotFound
	}
	if c.Revocation != nil && !c.Revocation.Void() {
		return ErrRevocationExists
	}
	c.Revocation = (&models.Credential{Revocation: &revocation}).Clone().Revocation
	return nil
}

func (s *InMemoryStore) UpsertRevocationAnchor(_ context.Context, id models.CredentialID, anchor models.Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok || c.Revocation == nil {
		return ErrNotFound
	}
	c.Revocation.Anchors = models.UpsertAnchor(c.Revocation.Anchors, anchor)
	return nil
}

func sortNewestFirst(list []*models.Credential) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].IssuedAt.Equal(list[j].IssuedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].IssuedAt.After(list[j].IssuedAt)
	})
}
