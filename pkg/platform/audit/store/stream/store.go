// Package stream mirrors audit events onto a message broker topic so
// downstream SIEM consumers see security decisions in near real time.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"aegis/internal/platform/kafka/producer"
	audit "aegis/pkg/platform/audit"
)

// Sender is the subset of producer.Producer the stream needs.
type Sender interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// Store is a write-only audit.Store. Events are keyed by subject so every
// decision about one source lands on the same partition in order.
type Store struct {
	sender Sender
	topic  string
}

var errWriteOnly = errors.New("audit stream is write-only")

func New(sender Sender, topic string) *Store {
	return &Store{sender: sender, topic: topic}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.sender.Produce(ctx, &producer.Message{
		Topic: s.topic,
		Key:   []byte(event.Subject),
		Value: payload,
		Headers: map[string]string{
			"event_type": string(event.EventType),
			"severity":   string(event.Severity),
		},
	})
}

func (s *Store) ListRecent(context.Context, int) ([]audit.Event, error) {
	return nil, errWriteOnly
}
