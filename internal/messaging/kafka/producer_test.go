package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"
)

func TestProducer_PublishWithHeaders(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"order_id":"order-123"}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})

	require.NoError(t, producer.PublishWithHeaders(TopicOrderEvents, "order-123", map[string]string{"order_id": "order-123"}, nil))
	require.NoError(t, mockProducer.Close())
}

func TestProducer_SendError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishRaw(TopicOrderEvents, "order-123", []byte(`{}`), nil)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.ErrorContains(t, err, TopicOrderEvents)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_MarshalErrorSendsNothing(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	require.Error(t, producer.PublishWithHeaders(TopicOrderEvents, "k", make(chan int), nil))
	// без ожиданий Close упадёт, если сообщение всё же ушло
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishRawKeepsBytes(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	raw := []byte("not json at all")
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != string(raw) {
			return errors.New("value was re-encoded")
		}
		return nil
	})

	require.NoError(t, producer.PublishRaw(TopicOrderEvents, "order-1", raw, map[string]string{HeaderEventType: "order.created"}))
	require.NoError(t, mockProducer.Close())
}

func TestRecordHeaders_SortedByKey(t *testing.T) {
	require.Nil(t, recordHeaders(nil))

	got := recordHeaders(map[string]string{
		HeaderMessageID: "outbox-1",
		HeaderEventType: "order.created",
		HeaderFailedAt:  "2026-01-01T00:00:00Z",
	})
	keys := make([]string, len(got))
	for i, h := range got {
		keys[i] = string(h.Key)
	}
	require.Equal(t, []string{HeaderEventType, HeaderFailedAt, HeaderMessageID}, keys)
	require.Equal(t, "order.created", string(got[0].Value))
}

func TestNewProducerConfig(t *testing.T) {
	cfg := newProducerConfig("fluidstore-test")
	require.Equal(t, "fluidstore-test", cfg.ClientID)
	require.True(t, cfg.Producer.Idempotent)
	require.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	require.Equal(t, 1, cfg.Net.MaxOpenRequests)
	require.Equal(t, 200*time.Millisecond, cfg.Producer.Retry.Backoff)
	require.NoError(t, cfg.Validate())

	require.Equal(t, sarama.NewConfig().ClientID, newProducerConfig("").ClientID)
}

func TestNewProducer_InvalidBroker(t *testing.T) {
	_, err := NewProducer([]string{"invalid-broker:9092"}, "fluidstore-test")
	require.Error(t, err)
}
