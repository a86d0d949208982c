package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

func TestDecodeReplay_ConsumerDeadLetter(t *testing.T) {
	value, err := json.Marshal(DeadLetter{
		OriginalTopic: TopicOrderEvents,
		OriginalKey:   "order-1",
		OriginalValue: `{"event_type":"order.created"}`,
		ErrorMessage:  "dashboard unavailable",
		RetryCount:    3,
	})
	require.NoError(t, err)

	replay, err := DecodeReplay(value, "fallback", time.Now())
	require.NoError(t, err)
	require.Equal(t, TopicOrderEvents, replay.Topic)
	require.Equal(t, "order-1", replay.Key)
	require.JSONEq(t, `{"event_type":"order.created"}`, string(replay.Value))
}

func TestDecodeReplay_ConsumerDeadLetterWithoutTopic(t *testing.T) {
	value, err := json.Marshal(DeadLetter{OriginalKey: "k", OriginalValue: `{}`})
	require.NoError(t, err)

	replay, err := DecodeReplay(value, TopicOrderEvents, time.Now())
	require.NoError(t, err)
	require.Equal(t, TopicOrderEvents, replay.Topic)
}

func TestDecodeReplay_OutboxDeadLetter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dead, err := json.Marshal(domain.OutboxDeadLetter{
		OutboxID:      "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-42",
		EventType:     domain.EventOrderCreated,
		Payload:       json.RawMessage(`{"order_id":"order-42"}`),
		PublishError:  "broker down",
	})
	require.NoError(t, err)
	value, err := json.Marshal(NewEnvelope(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-42",
		EventType:     domain.EventOrderCreated,
		Payload:       dead,
	}, now.Add(-time.Hour)))
	require.NoError(t, err)

	replay, err := DecodeReplay(value, TopicOrderEvents, now)
	require.NoError(t, err)
	require.Equal(t, TopicOrderEvents, replay.Topic)
	require.Equal(t, "order-42", replay.Key)

	var env Envelope
	require.NoError(t, json.Unmarshal(replay.Value, &env))
	require.Equal(t, "outbox-1", env.ID)
	require.True(t, env.IsOrderEvent())
	require.True(t, env.PublishedAt.Equal(now))
	require.JSONEq(t, `{"order_id":"order-42"}`, string(env.Payload))
}

func TestDecodeReplay_Unsupported(t *testing.T) {
	cases := map[string]string{
		"not json":          `garbage`,
		"envelope no body":  `{"id":"x","event_type":"order.created"}`,
		"dead letter empty": `{"id":"x","payload":{"outbox_id":"x"}}`,
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeReplay([]byte(value), TopicOrderEvents, time.Now())
			require.True(t, errors.Is(err, ErrNotReplayable), "got %v", err)
		})
	}
}
