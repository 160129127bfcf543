// Package castest provides an in-memory cas.Backend for tests.
package castest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"

	"credanchor/internal/storage/cas"
)

// Backend keeps payloads in a map keyed by their hex SHA-256.
type Backend struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	pinned map[string]bool
	down   bool

	Gets atomic.Int32
}

func NewBackend() *Backend {
	return &Backend{blobs: map[string][]byte{}, pinned: map[string]bool{}}
}

var errDown = errors.New("connection refused")

// SetDown makes every call fail.
func (b *Backend) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// Replace overwrites the content stored at address, simulating corruption.
func (b *Backend) Replace(address string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[address] = data
}

func (b *Backend) Pinned(address string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pinned[address]
}

func (b *Backend) Add(_ context.Context, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return "", errDown
	}
	sum := sha256.Sum256(data)
	addr := "mem-" + hex.EncodeToString(sum[:])
	b.blobs[addr] = append([]byte(nil), data...)
	return addr, nil
}

func (b *Backend) Cat(_ context.Context, address string) ([]byte, error) {
	b.Gets.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, errDown
	}
	data, ok := b.blobs[address]
	if !ok {
		return nil, cas.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *Backend) Pin(_ context.Context, address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errDown
	}
	b.pinned[address] = true
	return nil
}

func (b *Backend) Unpin(_ context.Context, address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errDown
	}
	delete(b.pinned, address)
	return nil
}

func (b *Backend) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errDown
	}
	return nil
}

var _ cas.Backend = (*Backend)(nil)
