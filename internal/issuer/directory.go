package issuer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluele/gcache"

	dErrors "credanchor/pkg/domain-errors"
)

// ErrNotFound is returned when no issuer is registered under a ref.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "issuer not found")

// Directory resolves issuer records by ref.
type Directory interface {
	Find(ctx context.Context, ref string) (*Issuer, error)
}

// InMemoryDirectory holds issuers loaded from configuration.
type InMemoryDirectory struct {
	mu      sync.RWMutex
	issuers map[string]Issuer
}

func NewInMemoryDirectory(issuers ...Issuer) *InMemoryDirectory {
	d := &InMemoryDirectory{issuers: make(map[string]Issuer, len(issuers))}
	for _, i := range issuers {
		d.issuers[i.Ref] = i
	}
	return d
}

// LoadJSON parses a JSON array of issuers, as supplied through ISSUERS_JSON.
func LoadJSON(data []byte) (*InMemoryDirectory, error) {
	if len(data) == 0 {
		return NewInMemoryDirectory(), nil
	}
	var issuers []Issuer
	if err := json.Unmarshal(data, &issuers); err != nil {
		return nil, fmt.Errorf("parse issuers: %w", err)
	}
	for _, i := range issuers {
		if i.Ref == "" {
			return nil, fmt.Errorf("parse issuers: issuer without ref")
		}
	}
	return NewInMemoryDirectory(issuers...), nil
}

func (d *InMemoryDirectory) Put(i Issuer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.issuers[i.Ref] = i
}

func (d *InMemoryDirectory) Find(_ context.Context, ref string) (*Issuer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.issuers[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return &i, nil
}

// CachedDirectory fronts a slower Directory with an LRU cache.
// Misses are not cached so newly registered issuers appear immediately.
type CachedDirectory struct {
	next   Directory
	cache  gcache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedDirectory wraps next with an LRU of the given size and entry ttl.
func NewCachedDirectory(next Directory, size int, ttl time.Duration, logger *slog.Logger) *CachedDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDirectory{
		next:   next,
		cache:  gcache.New(size).LRU().Build(),
		ttl:    ttl,
		logger: logger,
	}
}

func (d *CachedDirectory) Find(ctx context.Context, ref string) (*Issuer, error) {
	if v, err := d.cache.Get(ref); err == nil {
		if i, ok := v.(Issuer); ok {
			return &i, nil
		}
	}
	i, err := d.next.Find(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := d.cache.SetWithExpire(ref, *i, d.ttl); err != nil {
		d.logger.WarnContext(ctx, "issuer cache set failed", "issuer_ref", ref, "error", err)
	}
	return i, nil
}

// Invalidate drops a cached issuer, e.g. after its network scope changed.
func (d *CachedDirectory) Invalidate(ref string) {
	d.cache.Remove(ref)
}
