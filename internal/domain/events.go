package domain

import (
	"encoding/json"
	"time"
)

// Типы событий заказа, которые уходят через outbox.
const (
	EventOrderCreated              = "order.created"
	EventOrderStatusChanged        = "order.status_changed"
	EventOrderPaymentStatusChanged = "order.payment_status_changed"
)

// AggregateOrder — тип агрегата для outbox.
const AggregateOrder = "order"

// OrderEventPayload — полезная нагрузка события заказа.
type OrderEventPayload struct {
	OrderID       string        `json:"order_id"`
	CustomerEmail string        `json:"customer_email"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	TotalAmount   string        `json:"total_amount"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// NewOrderOutboxMessage собирает outbox-сообщение по состоянию заказа.
func NewOrderOutboxMessage(eventType string, o Order) (OutboxMessage, error) {
	payload, err := json.Marshal(OrderEventPayload{
		OrderID:       o.ID,
		CustomerEmail: o.CustomerEmail,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   o.TotalAmount.StringFixed(2),
		OccurredAt:    o.UpdatedAt,
	})
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   o.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}

// EventForField возвращает тип события для обновлённого поля.
func EventForField(field OrderField) string {
	if field == OrderFieldPaymentStatus {
		return EventOrderPaymentStatusChanged
	}
	return EventOrderStatusChanged
}

// OutboxDeadLetter — полезная нагрузка записи DLQ для события, которое outbox
// не смог опубликовать. По ней dlq-reprocess восстанавливает исходный конверт.
type OutboxDeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}
