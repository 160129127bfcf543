// Package lock serializes state transitions per credential.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	dErrors "credanchor/pkg/domain-errors"
	"credanchor/pkg/platform/sync"
)

// Release frees a held lock. It is safe to call more than once.
type Release func()

// Locker grants at most one in-flight transition per key.
type Locker interface {
	Lock(ctx context.Context, key string) (Release, error)
}

// Local locks within one process using sharded mutexes.
type Local struct {
	mu *sync.ShardedMutex
}

func NewLocal() *Local {
	return &Local{mu: sync.NewShardedMutex()}
}

func (l *Local) Lock(ctx context.Context, key string) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock(key)
	return once(func() { l.mu.Unlock(key) }), nil
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis locks across instances with SET NX PX and token-checked release.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedis builds a distributed locker. ttl bounds how long a crashed holder
// can block others; retry is the poll interval while waiting.
func NewRedis(client redis.Cmdable, ttl, retry time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	return &Redis{client: client, prefix: "credanchor:lock:", ttl: ttl, retry: retry}
}

func (r *Redis) Lock(ctx context.Context, key string) (Release, error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("acquire lock %s", key))
		}
		if ok {
			return once(func() {
				// release must outlive a cancelled request context
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err()
			}), nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, dErrors.New(dErrors.CodeTimeout, "timed out waiting for credential lock")
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func once(fn func()) Release {
	var done bool
	return func() {
		if done {
			return
		}
		done = true
		fn()
	}
}
