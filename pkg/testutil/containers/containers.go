//go:build integration

// Package containers starts the backing services used by integration tests.
// Each service is started once per test binary and shared by every suite in
// it; suites reset state themselves. Ryuk removes the containers when the
// process exits.
package containers

import (
	"sync"
	"testing"
)

type shared[T any] struct {
	mu    sync.Mutex
	value *T
}

// get starts the service with start on first use. A failed start is not
// cached, so the next suite retries.
func (s *shared[T]) get(t *testing.T, start func(*testing.T) *T) *T {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == nil {
		s.value = start(t)
	}
	return s.value
}

var (
	postgresOnce shared[Postgres]
	redisOnce    shared[Redis]
	kafkaOnce    shared[Kafka]
)

// SharedPostgres returns the migrated PostgreSQL instance for this test binary.
func SharedPostgres(t *testing.T) *Postgres { return postgresOnce.get(t, startPostgres) }

// SharedRedis returns the Redis instance for this test binary.
func SharedRedis(t *testing.T) *Redis { return redisOnce.get(t, startRedis) }

// SharedKafka returns the Kafka-compatible broker for this test binary.
func SharedKafka(t *testing.T) *Kafka { return kafkaOnce.get(t, startKafka) }
