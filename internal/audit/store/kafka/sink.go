// Package kafka streams audit events to a Kafka topic for downstream
// consumers. It is a write-only sink layered behind the primary store with
// audit.Tee.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"credverify/internal/audit"
)

// Record is the JSON value written for each event. The record key is the
// event subject so one credential or account stays on one partition.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject,omitempty"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// Sink produces audit events to one topic.
type Sink struct {
	client *kgo.Client
	topic  string
}

// New connects a producer to brokers. The topic is created when missing.
func New(ctx context.Context, brokers []string, topic string, partitions int32) (*Sink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := ensureTopic(ctx, kadm.NewClient(client), topic, partitions); err != nil {
		client.Close()
		return nil, err
	}
	return &Sink{client: client, topic: topic}, nil
}

func ensureTopic(ctx context.Context, adm *kadm.Client, topic string, partitions int32) error {
	resp, err := adm.CreateTopics(ctx, partitions, -1, nil, topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Append implements audit.Sink. It waits for the broker acknowledgement.
func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(Record{
		ID:        event.ID.String(),
		Timestamp: event.Timestamp,
		Action:    string(event.Action),
		Subject:   event.Subject,
		Outcome:   string(event.Outcome),
		Reason:    event.Reason,
		RequestID: event.RequestID,
	})
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	rec := &kgo.Record{
		Key:   []byte(event.Subject),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
		},
	}
	if err := s.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce audit record: %w", err)
	}
	return nil
}

// Topic is the destination topic.
func (s *Sink) Topic() string {
	return s.topic
}

// Close flushes and releases the producer.
func (s *Sink) Close() {
	s.client.Close()
}
