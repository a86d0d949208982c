package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "fluidstore.order.events"
	TopicDeadLetterQueue = "fluidstore.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// Envelope — конверт outbox-события в топике заказов.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, at time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   at,
	}
}

// IsOrderEvent сообщает, что конверт несёт событие заказа.
func (e Envelope) IsOrderEvent() bool {
	switch e.EventType {
	case domain.EventOrderCreated, domain.EventOrderStatusChanged, domain.EventOrderPaymentStatusChanged:
		return e.AggregateType == domain.AggregateOrder
	}
	return false
}

// ParseEnvelope разбирает конверт из сообщения.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("envelope without event type")
	}
	return env, nil
}

// ParseOrderEvent достаёт полезную нагрузку события заказа.
func ParseOrderEvent(env Envelope) (domain.OrderEventPayload, error) {
	var payload domain.OrderEventPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return domain.OrderEventPayload{}, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	if payload.OrderID == "" {
		payload.OrderID = env.AggregateID
	}
	return payload, nil
}
