//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "credanchor/pkg/domain-errors"
	"credanchor/pkg/testutil/containers"
)

type RedisLockSuite struct {
	suite.Suite
	redis *containers.Redis
}

func TestRedisLockSuite(t *testing.T) {
	suite.Run(t, new(RedisLockSuite))
}

func (s *RedisLockSuite) SetupSuite() {
	s.redis = containers.SharedRedis(s.T())
}

func (s *RedisLockSuite) SetupTest() {
	s.Require().NoError(s.redis.Reset(context.Background()))
}

func (s *RedisLockSuite) TestSecondHolderWaits() {
	locker := NewRedis(s.redis.Client, time.Minute, 10*time.Millisecond)
	release, err := locker.Lock(context.Background(), "cred_1")
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "cred_1")
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))

	release()
	again, err := locker.Lock(context.Background(), "cred_1")
	s.Require().NoError(err)
	again()
}

func (s *RedisLockSuite) TestExpiredLockIsNotReleasedByStaleHolder() {
	locker := NewRedis(s.redis.Client, 50*time.Millisecond, 10*time.Millisecond)
	stale, err := locker.Lock(context.Background(), "cred_2")
	s.Require().NoError(err)

	time.Sleep(80 * time.Millisecond)
	fresh, err := locker.Lock(context.Background(), "cred_2")
	s.Require().NoError(err)

	stale()
	exists, err := s.redis.Client.Exists(context.Background(), "credanchor:lock:cred_2").Result()
	s.Require().NoError(err)
	s.EqualValues(1, exists, "stale release must not delete the new holder's key")
	fresh()
}
