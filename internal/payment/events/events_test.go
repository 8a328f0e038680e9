package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"circlesphere/internal/payment/models"
)

type recordingProducer struct {
	records []*kgo.Record
	err     error
}

func (p *recordingProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.records = append(p.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func testPayment() *models.Payment {
	return &models.Payment{
		ID:              uuid.New(),
		Email:           "ada@example.com",
		Amount:          2500,
		Kind:            models.KindMembership,
		TargetID:        "club-1",
		PaymentIntentID: "pi_123",
		Status:          models.PaymentStatusCompleted,
		CreatedAt:       time.Now(),
	}
}

func TestForOutcome(t *testing.T) {
	p := testPayment()
	m := &models.Membership{ID: uuid.New(), Email: p.Email, ClubID: "club-1", Status: models.MembershipActive, PaymentID: p.ID}

	evs, err := ForOutcome(p, m, nil)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, TypePaymentRecorded, evs[0].Type)
	assert.Equal(t, TypeMembershipActivated, evs[1].Type)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(evs[0].Data, &decoded))
	assert.Equal(t, 25.0, decoded["amount"])
}

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := &recordingProducer{}
	pub := NewKafkaPublisher(producer, "circlesphere.payments")

	evs, err := ForOutcome(testPayment(), nil, &models.EventRegistration{ID: uuid.New(), EventID: "evt-1"})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), evs...))

	require.Len(t, producer.records, 2)
	for _, r := range producer.records {
		assert.Equal(t, "circlesphere.payments", r.Topic)
		assert.Equal(t, "pi_123", string(r.Key))
	}
	assert.Equal(t, "event_type", producer.records[1].Headers[0].Key)
	assert.Equal(t, string(TypeEventRegistered), string(producer.records[1].Headers[0].Value))
}

func TestKafkaPublisher_ProduceError(t *testing.T) {
	producer := &recordingProducer{err: errors.New("broker down")}
	pub := NewKafkaPublisher(producer, "t")

	ev, err := New(TypePaymentRecorded, "pi_1", time.Now(), map[string]string{"a": "b"})
	require.NoError(t, err)
	err = pub.Publish(context.Background(), ev)
	assert.ErrorContains(t, err, "broker down")
}
