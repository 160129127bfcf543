package sync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedMutexSerializesSameCredential(t *testing.T) {
	m := NewShardedMutex()
	total := 0
	var wg sync.WaitGroup
	for range 200 {
		wg.Go(func() {
			m.Lock("cred-1")
			defer m.Unlock("cred-1")
			total++
		})
	}
	wg.Wait()
	assert.Equal(t, 200, total)
}

func TestShardedMutexBlocksUntilUnlocked(t *testing.T) {
	m := NewShardedMutex(4)
	m.Lock("cred-2")

	acquired := make(chan struct{})
	go func() {
		m.Lock("cred-2")
		close(acquired)
		m.Unlock("cred-2")
	}()

	select {
	case <-acquired:
		t.Fatal("second holder entered while the key was locked")
	case <-time.After(50 * time.Millisecond):
	}
	m.Unlock("cred-2")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}

func TestNewShardedMutexShardCount(t *testing.T) {
	require.Len(t, NewShardedMutex().shards, defaultShards)
	require.Len(t, NewShardedMutex(0).shards, defaultShards)
	require.Len(t, NewShardedMutex(8).shards, 8)

	m := NewShardedMutex(1)
	assert.Same(t, m.shard("a"), m.shard("b"))
}
