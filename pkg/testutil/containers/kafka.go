//go:build integration

package containers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

type Kafka struct {
	Brokers []string
}

// startKafka runs Redpanda, which speaks the Kafka protocol and starts in
// seconds.
func startKafka(t *testing.T) *Kafka {
	t.Helper()
	ctx := context.Background()

	ctr, err := kafka.Run(ctx, "redpandadata/redpanda:latest", kafka.WithClusterID("credanchor"))
	require.NoError(t, err, "start kafka")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err, "kafka brokers")
	return &Kafka{Brokers: brokers}
}

// BrokerList returns the brokers in the comma-separated form KAFKA_BROKERS uses.
func (k *Kafka) BrokerList() string {
	return strings.Join(k.Brokers, ",")
}

// CreateTopic creates topic with the given partition count and a single replica.
func (k *Kafka) CreateTopic(ctx context.Context, topic string, partitions int32) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(k.Brokers...))
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := kadm.NewClient(client).CreateTopic(ctx, partitions, 1, nil, topic)
	if err != nil {
		return err
	}
	return resp.Err
}

// Reader consumes topics from the earliest offset under a fresh group.
func (k *Kafka) Reader(group string, topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(k.Brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
}

// ReadUntil feeds records from client to done, in order, until done reports
// true or timeout passes. It returns every record read.
func ReadUntil(ctx context.Context, client *kgo.Client, timeout time.Duration, done func(*kgo.Record) bool) []*kgo.Record {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var read []*kgo.Record
	for ctx.Err() == nil {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			break
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			r := iter.Next()
			read = append(read, r)
			if done(r) {
				return read
			}
		}
	}
	return read
}
