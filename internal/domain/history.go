package domain

import "time"

// Типы событий истории заказа.
const (
	HistoryOrderCreated         = "order_created"
	HistoryStatusChanged        = "status_changed"
	HistoryPaymentStatusChanged = "payment_status_changed"
)

// HistoryEvent описывает событие в жизни заказа.
type HistoryEvent struct {
	OrderID  string    `json:"order_id"`
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}
