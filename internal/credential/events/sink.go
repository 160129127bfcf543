package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"credanchor/internal/platform/kafka/producer"
)

// Producer is the subset of the Kafka producer used for events.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// KafkaSink publishes events as JSON keyed by credential id, so every event
// for one credential lands on the same partition in order.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(p Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic}
}

func (s *KafkaSink) Append(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.producer.Produce(ctx, &producer.Message{
		Topic: s.topic,
		Key:   []byte(event.CredentialID),
		Value: value,
		Headers: map[string]string{
			"event_type": string(event.Type),
		},
	})
}

// MemorySink keeps events in process; used when no broker is configured.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// ListByCredential returns events for one credential in emission order.
func (s *MemorySink) ListByCredential(credentialID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.CredentialID == credentialID {
			out = append(out, e)
		}
	}
	return out
}

// Types returns the event types recorded for one credential, in order.
func (s *MemorySink) Types(credentialID string) []Type {
	var out []Type
	for _, e := range s.ListByCredential(credentialID) {
		out = append(out, e.Type)
	}
	return out
}
