package checkout

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Level — тип уведомления.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification — временное уведомление для покупателя.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	OrderID string    `json:"order_id,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier получает уведомления машины. Вызывается вне блокировок.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc адаптирует функцию к Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier пишет уведомления в лог.
func LogNotifier(logger *log.Entry) Notifier {
	if logger == nil {
		logger = log.WithField("component", "checkout-notify")
	}
	return NotifierFunc(func(n Notification) {
		entry := logger.WithFields(log.Fields{"notice": n.Level, "order_id": n.OrderID})
		if n.Level == LevelError {
			entry.Warn(n.Message)
			return
		}
		entry.Info(n.Message)
	})
}
