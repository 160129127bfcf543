//go:build integration

package producer_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"credanchor/internal/platform/kafka/producer"
	"credanchor/pkg/testutil/containers"
)

type ProducerIntegrationSuite struct {
	suite.Suite
	kafka    *containers.Kafka
	producer *producer.Producer
}

func TestProducerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerIntegrationSuite))
}

func (s *ProducerIntegrationSuite) SetupSuite() {
	s.kafka = containers.SharedKafka(s.T())

	prod, err := producer.New(producer.Config{
		Brokers:         producer.ParseBrokers(s.kafka.BrokerList()),
		ClientID:        "credanchor-test",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}, nil)
	s.Require().NoError(err)
	s.producer = prod
}

func (s *ProducerIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

func (s *ProducerIntegrationSuite) TestProduceDeliversWithHeaders() {
	ctx := context.Background()
	topic := "credential-events-headers"
	s.Require().NoError(s.kafka.CreateTopic(ctx, topic, 1))

	s.Require().NoError(s.producer.Produce(ctx, &producer.Message{
		Topic:   topic,
		Key:     []byte("cred-headers"),
		Value:   []byte(`{"type":"credential_activated"}`),
		Headers: map[string]string{"event_type": "credential_activated"},
	}))

	consumer, err := s.kafka.Reader("credanchor-headers", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	read := containers.ReadUntil(ctx, consumer, 5*time.Second, func(r *kgo.Record) bool {
		return string(r.Key) == "cred-headers"
	})
	s.Require().NotEmpty(read)
	record := read[len(read)-1]
	s.Require().Equal("cred-headers", string(record.Key))
	s.Equal(`{"type":"credential_activated"}`, string(record.Value))
	s.Require().Len(record.Headers, 1)
	s.Equal("credential_activated", string(record.Headers[0].Value))
}

// Records for one credential must stay ordered even on a multi-partition topic.
func (s *ProducerIntegrationSuite) TestSameKeyKeepsOrderAcrossPartitions() {
	ctx := context.Background()
	topic := "credential-events-ordering"
	s.Require().NoError(s.kafka.CreateTopic(ctx, topic, 4))

	for i := range 5 {
		s.Require().NoError(s.producer.Produce(ctx, &producer.Message{
			Topic: topic,
			Key:   []byte("cred-ordered"),
			Value: fmt.Appendf(nil, "%d", i),
		}))
	}

	consumer, err := s.kafka.Reader("credanchor-ordering", topic)
	s.Require().NoError(err)
	defer consumer.Close()

	ordered := 0
	read := containers.ReadUntil(ctx, consumer, 10*time.Second, func(r *kgo.Record) bool {
		if string(r.Key) == "cred-ordered" {
			ordered++
		}
		return ordered == 5
	})
	var seen []string
	partitions := map[int32]bool{}
	for _, r := range read {
		if string(r.Key) != "cred-ordered" {
			continue
		}
		seen = append(seen, string(r.Value))
		partitions[r.Partition] = true
	}
	s.Equal([]string{"0", "1", "2", "3", "4"}, seen)
	s.Len(partitions, 1)
}

func (s *ProducerIntegrationSuite) TestHealthy() {
	s.NoError(s.producer.Healthy(context.Background()))
}
