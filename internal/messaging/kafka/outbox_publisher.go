package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

// HeaderMessageID несёт id outbox-записи, чтобы повтор можно было узнать без разбора тела.
const HeaderMessageID = "x-message-id"

var errPublisherNotReady = errors.New("kafka outbox publisher is not initialized")

// RawPublisher отправляет готовые байты. *Producer реализует его.
type RawPublisher interface {
	PublishRaw(topic, key string, value []byte, headers map[string]string) error
}

// OutboxTopicPublisher кладёт события outbox в один топик, упаковывая их в Envelope.
type OutboxTopicPublisher struct {
	out   RawPublisher
	topic string
	now   func() time.Time
}

// NewOutboxPublisher привязывает publisher к топику; пустой topic означает топик заказов.
func NewOutboxPublisher(out RawPublisher, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{out: out, topic: topic, now: time.Now}
}

// Publish ключует сообщение id заказа: события одного заказа идут в одну партицию по порядку.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || isNilPublisher(p.out) {
		return errPublisherNotReady
	}

	value, err := json.Marshal(NewEnvelope(event, p.now().UTC()))
	if err != nil {
		return fmt.Errorf("encode outbox envelope %s: %w", event.ID, err)
	}
	if err := p.out.PublishRaw(p.topic, messageKey(event), value, outboxHeaders(event)); err != nil {
		return fmt.Errorf("publish outbox %s to %s: %w", event.ID, p.topic, err)
	}
	return nil
}

func messageKey(event domain.OutboxMessage) string {
	if event.AggregateID != "" {
		return event.AggregateID
	}
	return event.ID
}

func outboxHeaders(event domain.OutboxMessage) map[string]string {
	h := map[string]string{HeaderEventType: event.EventType}
	if event.ID != "" {
		h[HeaderMessageID] = event.ID
	}
	return h
}

func isNilPublisher(out RawPublisher) bool {
	if out == nil {
		return true
	}
	p, ok := out.(*Producer)
	return ok && p == nil
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
var _ RawPublisher = (*Producer)(nil)
