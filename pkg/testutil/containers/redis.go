//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type Redis struct {
	URL    string
	Client *redis.Client
}

func startRedis(t *testing.T) *Redis {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "start redis")

	url, err := ctr.ConnectionString(ctx)
	require.NoError(t, err, "redis url")
	opts, err := redis.ParseURL(url)
	require.NoError(t, err, "parse redis url")

	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(ctx).Err(), "ping redis")
	return &Redis{URL: url, Client: client}
}

// Reset drops every key, including locks left behind by a failed test.
func (r *Redis) Reset(ctx context.Context) error {
	return r.Client.FlushDB(ctx).Err()
}
