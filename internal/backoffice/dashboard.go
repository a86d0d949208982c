// Package backoffice содержит административную сторону: список заказов,
// сводные показатели и обновление статусов заказа и оплаты.
package backoffice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/metrics"
)

// DefaultRefreshDelay — пауза перед пересчётом показателей после подтверждённой записи.
const DefaultRefreshDelay = 500 * time.Millisecond

// DefaultListLimit — размер списка заказов по умолчанию.
const DefaultListLimit = 50

// UpdateKind различает "ничего не произошло" и "что-то сломалось".
type UpdateKind string

const (
	UpdateNotFound UpdateKind = "not_found"
	UpdateFailed   UpdateKind = "failed"
)

// UpdateError — результат неудачного обновления поля заказа.
type UpdateError struct {
	Kind    UpdateKind
	OrderID string
	Field   domain.OrderField
	Err     error
}

func (e *UpdateError) Error() string {
	if e.Kind == UpdateNotFound {
		return fmt.Sprintf("order %s not found: %s update rejected", e.OrderID, e.Field)
	}
	return fmt.Sprintf("update %s of order %s: %v", e.Field, e.OrderID, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Stats — сводные показатели панели.
type Stats struct {
	TotalOrders   int             `json:"total_orders"`
	PendingOrders int             `json:"pending_orders"`
	Revenue       decimal.Decimal `json:"revenue"`
	PaidRevenue   decimal.Decimal `json:"paid_revenue"`
	RefreshedAt   time.Time       `json:"refreshed_at"`
}

// Option настраивает Dashboard.
type Option func(*Dashboard)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(d *Dashboard) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(d *Dashboard) { d.metrics = m }
}

// WithRefreshDelay задаёт паузу перед пересчётом; d < 0 игнорируется.
func WithRefreshDelay(delay time.Duration) Option {
	return func(d *Dashboard) {
		if delay >= 0 {
			d.refreshDelay = delay
		}
	}
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(d *Dashboard) {
		if now != nil {
			d.now = now
		}
	}
}

// Dashboard кэширует список заказов и показатели административной панели.
type Dashboard struct {
	gateway domain.OrderGateway
	history domain.HistoryRepository
	logger  *log.Entry
	metrics *metrics.CheckoutMetrics
	now     func() time.Time

	mu     sync.RWMutex
	orders []domain.Order
	stats  Stats

	refreshDelay time.Duration
	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	refreshWG    sync.WaitGroup
	closed       bool
}

// NewDashboard создаёт панель. history может быть nil.
func NewDashboard(gateway domain.OrderGateway, history domain.HistoryRepository, opts ...Option) *Dashboard {
	d := &Dashboard{
		gateway:      gateway,
		history:      history,
		logger:       log.WithField("component", "backoffice"),
		now:          time.Now,
		refreshDelay: DefaultRefreshDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// LoadOrders загружает и кэширует список заказов.
func (d *Dashboard) LoadOrders(ctx context.Context, filter domain.OrderFilter, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	orders, err := d.gateway.ListOrders(ctx, filter, limit, domain.OrderSortNewest)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	d.mu.Lock()
	d.orders = orders
	d.mu.Unlock()
	return cloneOrders(orders), nil
}

// Orders возвращает копию кэшированного списка.
func (d *Dashboard) Orders() []domain.Order {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return cloneOrders(d.orders)
}

// Order возвращает заказ: из кэша, иначе из шлюза.
func (d *Dashboard) Order(ctx context.Context, id string) (domain.Order, error) {
	d.mu.RLock()
	for _, o := range d.orders {
		if o.ID == id {
			d.mu.RUnlock()
			return o, nil
		}
	}
	d.mu.RUnlock()
	return d.gateway.GetOrder(ctx, id)
}

// Stats возвращает последние рассчитанные показатели.
func (d *Dashboard) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// RefreshStats пересчитывает показатели агрегирующими запросами.
func (d *Dashboard) RefreshStats(ctx context.Context) (Stats, error) {
	total, err := d.gateway.CountOrders(ctx, domain.OrderFilter{})
	if err != nil {
		return Stats{}, fmt.Errorf("count orders: %w", err)
	}
	pending, err := d.gateway.CountOrders(ctx, domain.OrderFilter{Status: domain.OrderStatusPending})
	if err != nil {
		return Stats{}, fmt.Errorf("count pending orders: %w", err)
	}
	revenue, err := d.gateway.SumField(ctx, domain.OrderFilter{ExcludeStatus: domain.OrderStatusCancelled}, domain.AmountTotal)
	if err != nil {
		return Stats{}, fmt.Errorf("sum revenue: %w", err)
	}
	paid, err := d.gateway.SumField(ctx, domain.OrderFilter{PaymentStatus: domain.PaymentStatusPaid}, domain.AmountTotal)
	if err != nil {
		return Stats{}, fmt.Errorf("sum paid revenue: %w", err)
	}

	stats := Stats{
		TotalOrders:   total,
		PendingOrders: pending,
		Revenue:       revenue,
		PaidRevenue:   paid,
		RefreshedAt:   d.now(),
	}
	d.mu.Lock()
	d.stats = stats
	d.mu.Unlock()
	return stats, nil
}

// SetOrderStatus меняет статус заказа.
func (d *Dashboard) SetOrderStatus(ctx context.Context, orderID, status string) (domain.Order, error) {
	s, err := domain.ParseOrderStatus(status)
	if err != nil {
		return domain.Order{}, err
	}
	return d.update(ctx, orderID, domain.OrderFieldStatus, string(s))
}

// SetPaymentStatus меняет статус оплаты.
func (d *Dashboard) SetPaymentStatus(ctx context.Context, orderID, status string) (domain.Order, error) {
	s, err := domain.ParsePaymentStatus(status)
	if err != nil {
		return domain.Order{}, err
	}
	return d.update(ctx, orderID, domain.OrderFieldPaymentStatus, string(s))
}

// update выполняет обновление по id. Кэш меняется только после подтверждённой записи.
func (d *Dashboard) update(ctx context.Context, orderID string, field domain.OrderField, value string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	logger := d.logger.WithFields(log.Fields{"order_id": orderID, "field": field, "value": value})

	updated, err := d.gateway.UpdateOrderField(ctx, orderID, field, value)
	if err != nil {
		kind := UpdateFailed
		outcome := metrics.OutcomeFailed
		if errors.Is(err, domain.ErrOrderNotFound) {
			kind = UpdateNotFound
			outcome = metrics.OutcomeNotFound
		}
		d.recordUpdate(field, outcome)
		logger.WithError(err).Warn("order update failed")
		return domain.Order{}, &UpdateError{Kind: kind, OrderID: orderID, Field: field, Err: err}
	}

	d.patch(updated)
	d.appendHistory(updated, field, value)
	d.recordUpdate(field, metrics.OutcomeSucceeded)
	d.ScheduleRefresh()

	logger.Info("order updated")
	return updated, nil
}

// patch заменяет кэшированную копию заказа без полного перечитывания.
func (d *Dashboard) patch(updated domain.Order) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.orders {
		if d.orders[i].ID == updated.ID {
			d.orders[i] = updated
			return
		}
	}
}

func (d *Dashboard) appendHistory(o domain.Order, field domain.OrderField, value string) {
	if d.history == nil {
		return
	}
	eventType := domain.HistoryStatusChanged
	if field == domain.OrderFieldPaymentStatus {
		eventType = domain.HistoryPaymentStatusChanged
	}
	occurred := o.UpdatedAt
	if occurred.IsZero() {
		occurred = d.now()
	}
	if err := d.history.Append(domain.HistoryEvent{
		OrderID:  o.ID,
		Type:     eventType,
		Reason:   value,
		Occurred: occurred,
	}); err != nil {
		d.logger.WithError(err).WithField("order_id", o.ID).Warn("failed to append order history")
		return
	}
	if d.metrics != nil {
		d.metrics.RecordHistoryEvent()
	}
}

// History возвращает историю заказа.
func (d *Dashboard) History(orderID string) ([]domain.HistoryEvent, error) {
	if d.history == nil {
		return nil, nil
	}
	return d.history.List(orderID)
}

// ScheduleRefresh откладывает пересчёт показателей; повторные вызовы в окне
// задержки сливаются в один пересчёт.
func (d *Dashboard) ScheduleRefresh() {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	if d.closed {
		return
	}
	if d.refreshTimer != nil && d.refreshTimer.Stop() {
		d.refreshWG.Done()
	}
	d.refreshWG.Add(1)
	d.refreshTimer = time.AfterFunc(d.refreshDelay, func() {
		defer d.refreshWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := d.RefreshStats(ctx); err != nil {
			d.logger.WithError(err).Warn("stats refresh failed")
		}
	})
}

// HandleOrderEvent реагирует на событие заказа из шины немедленным пересчётом.
func (d *Dashboard) HandleOrderEvent(ctx context.Context, payload domain.OrderEventPayload) error {
	logger := d.logger.WithField("order_id", payload.OrderID)
	if payload.OrderID != "" {
		if o, err := d.gateway.GetOrder(ctx, payload.OrderID); err == nil {
			d.patch(o)
		} else if !errors.Is(err, domain.ErrOrderNotFound) {
			logger.WithError(err).Debug("failed to fetch order for event")
		}
	}
	_, err := d.RefreshStats(ctx)
	return err
}

// Close останавливает отложенный пересчёт и ждёт уже запущенный.
func (d *Dashboard) Close() {
	d.refreshMu.Lock()
	d.closed = true
	if d.refreshTimer != nil && d.refreshTimer.Stop() {
		d.refreshWG.Done()
	}
	d.refreshMu.Unlock()
	d.refreshWG.Wait()
}

// Flush ждёт завершения запланированного пересчёта (используется в тестах).
func (d *Dashboard) Flush() {
	d.refreshWG.Wait()
}

func (d *Dashboard) recordUpdate(field domain.OrderField, outcome string) {
	if d.metrics != nil {
		d.metrics.RecordStatusUpdate(string(field), outcome)
	}
}

func cloneOrders(in []domain.Order) []domain.Order {
	out := make([]domain.Order, len(in))
	copy(out, in)
	return out
}
