// Package sync provides keyed locking for per-resource serialization.
package sync

import (
	"hash/fnv"
	"sync"
)

const defaultShards = 64

// ShardedMutex maps keys onto a fixed set of mutexes. Two keys may share a
// shard, so holding one key's lock can delay an unrelated key but never
// lets two holders of the same key in at once.
type ShardedMutex struct {
	shards []sync.Mutex
}

// NewShardedMutex creates a ShardedMutex with n shards, or 64 when n <= 0.
func NewShardedMutex(n ...int) *ShardedMutex {
	size := defaultShards
	if len(n) > 0 && n[0] > 0 {
		size = n[0]
	}
	return &ShardedMutex{shards: make([]sync.Mutex, size)}
}

func (m *ShardedMutex) Lock(key string) {
	m.shard(key).Lock()
}

func (m *ShardedMutex) Unlock(key string) {
	m.shard(key).Unlock()
}

func (m *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%uint32(len(m.shards))]
}
