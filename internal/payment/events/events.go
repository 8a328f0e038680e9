// Package events publishes payment domain events to Kafka after a
// reconciliation commits.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"circlesphere/internal/payment/models"
	"circlesphere/internal/platform/kafka"
)

type Type string

const (
	TypePaymentRecorded     Type = "payment.recorded"
	TypeMembershipActivated Type = "membership.activated"
	TypeEventRegistered     Type = "event.registered"
)

// Event is the JSON envelope written to the payments topic. Records are keyed
// by payment intent id so all events for one payment share a partition.
type Event struct {
	ID              string          `json:"id"`
	Type            Type            `json:"type"`
	PaymentIntentID string          `json:"payment_intent_id"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Data            json.RawMessage `json:"data"`
}

// New wraps payload into an event envelope.
func New(t Type, intentID string, at time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{
		ID:              uuid.NewString(),
		Type:            t,
		PaymentIntentID: intentID,
		OccurredAt:      at.UTC(),
		Data:            data,
	}, nil
}

// ForOutcome builds the events describing a freshly recorded payment.
func ForOutcome(p *models.Payment, m *models.Membership, r *models.EventRegistration) ([]Event, error) {
	out := make([]Event, 0, 2)
	ev, err := New(TypePaymentRecorded, p.PaymentIntentID, p.CreatedAt, p)
	if err != nil {
		return nil, err
	}
	out = append(out, ev)

	switch {
	case m != nil:
		ev, err = New(TypeMembershipActivated, p.PaymentIntentID, p.CreatedAt, m)
	case r != nil:
		ev, err = New(TypeEventRegistered, p.PaymentIntentID, p.CreatedAt, r)
	default:
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return append(out, ev), nil
}

// Producer is the subset of *kgo.Client used by the publisher.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type KafkaPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evs ...Event) error {
	records := make([]*kgo.Record, 0, len(evs))
	for _, ev := range evs {
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.Type, err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(ev.PaymentIntentID),
			Value: value,
			Headers: kafka.InjectHeaders(ctx, []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(ev.Type)},
			}),
		})
	}
	if err := p.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce payment events: %w", err)
	}
	return nil
}

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
