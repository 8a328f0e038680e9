//go:build integration

package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"circlesphere/internal/payment/events"
	"circlesphere/internal/payment/models"
	"circlesphere/internal/platform/config"
	"circlesphere/internal/platform/kafka"
	"circlesphere/pkg/testutil/containers"
)

func TestKafkaPublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rp := containers.GetManager().GetRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "circlesphere.payments." + uuid.NewString()
	producer, err := kafka.NewProducer(config.KafkaConfig{Brokers: []string{rp.Broker}, Topic: topic})
	require.NoError(t, err)
	require.NotNil(t, producer)
	defer producer.Close()

	require.NoError(t, kafka.EnsureTopic(ctx, producer, topic, 1))
	require.NoError(t, kafka.EnsureTopic(ctx, producer, topic, 1), "existing topic is not an error")

	p := &models.Payment{
		ID:              uuid.New(),
		Email:           "ada@example.com",
		Amount:          2500,
		Kind:            models.KindEvent,
		TargetID:        "evt-1",
		PaymentIntentID: "pi_kafka",
		Status:          models.PaymentStatusCompleted,
		CreatedAt:       time.Now().UTC(),
	}
	r := &models.EventRegistration{ID: uuid.New(), Email: p.Email, EventID: "evt-1", PaymentID: p.ID, RegisteredAt: p.CreatedAt}
	evs, err := events.ForOutcome(p, nil, r)
	require.NoError(t, err)

	pub := events.NewKafkaPublisher(producer, topic)
	require.NoError(t, pub.Publish(ctx, evs...))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var got []*kgo.Record
	for len(got) < len(evs) && ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		fetches.EachRecord(func(rec *kgo.Record) {
			got = append(got, rec)
		})
	}
	require.Len(t, got, len(evs))

	for i, rec := range got {
		assert.Equal(t, "pi_kafka", string(rec.Key))

		var env events.Event
		require.NoError(t, json.Unmarshal(rec.Value, &env))
		assert.Equal(t, evs[i].Type, env.Type)

		var header string
		for _, h := range rec.Headers {
			if h.Key == "event_type" {
				header = string(h.Value)
			}
		}
		assert.Equal(t, string(env.Type), header)
	}
}
