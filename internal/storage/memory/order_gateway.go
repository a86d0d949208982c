package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

// orderGatewayInMemory — in-memory реализация OrderGateway для разработки и тестов.
type orderGatewayInMemory struct {
	mu     sync.RWMutex
	items  map[string]domain.Order
	outbox domain.OutboxRepository
	now    func() time.Time
}

// NewOrderGateway возвращает in-memory шлюз заказов. outbox может быть nil.
func NewOrderGateway(outbox domain.OutboxRepository) *orderGatewayInMemory {
	return &orderGatewayInMemory{
		items:  make(map[string]domain.Order),
		outbox: outbox,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SubmitOrder проверяет черновик и сохраняет заказ целиком.
func (g *orderGatewayInMemory) SubmitOrder(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	if errs := draft.Validate(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("invalid order draft: %w", errs[0])
	}

	order := domain.OrderFromDraft(uuid.NewString(), draft, g.now())

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.outbox != nil {
		msg, err := domain.NewOrderOutboxMessage(domain.EventOrderCreated, order)
		if err != nil {
			return domain.Order{}, fmt.Errorf("build outbox message: %w", err)
		}
		if _, err := g.outbox.Enqueue(msg); err != nil {
			return domain.Order{}, fmt.Errorf("enqueue outbox message: %w", err)
		}
	}
	g.items[order.ID] = order
	return cloneOrder(order), nil
}

// UpdateOrderField меняет статус или статус оплаты; неизвестный id даёт ErrOrderNotFound.
func (g *orderGatewayInMemory) UpdateOrderField(ctx context.Context, id string, field domain.OrderField, value string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	normalized, err := field.ValidateValue(value)
	if err != nil {
		return domain.Order{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	order, ok := g.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	switch field {
	case domain.OrderFieldStatus:
		order.Status = domain.OrderStatus(normalized)
	case domain.OrderFieldPaymentStatus:
		order.PaymentStatus = domain.PaymentStatus(normalized)
	}
	order.UpdatedAt = g.now()

	if g.outbox != nil {
		msg, err := domain.NewOrderOutboxMessage(domain.EventForField(field), order)
		if err != nil {
			return domain.Order{}, fmt.Errorf("build outbox message: %w", err)
		}
		if _, err := g.outbox.Enqueue(msg); err != nil {
			return domain.Order{}, fmt.Errorf("enqueue outbox message: %w", err)
		}
	}
	g.items[id] = order
	return cloneOrder(order), nil
}

// GetOrder возвращает заказ или ErrOrderNotFound.
func (g *orderGatewayInMemory) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	order, ok := g.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListOrders возвращает отфильтрованные заказы, ограничивая выборку limit (если >0).
func (g *orderGatewayInMemory) ListOrders(ctx context.Context, filter domain.OrderFilter, limit int, order domain.OrderSort) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	result := make([]domain.Order, 0, len(g.items))
	for _, o := range g.items {
		if filter.Match(o) {
			result = append(result, cloneOrder(o))
		}
	}
	g.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		switch order {
		case domain.OrderSortOldest:
			if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
				return result[i].CreatedAt.Before(result[j].CreatedAt)
			}
		case domain.OrderSortTotalDesc:
			if !result[i].TotalAmount.Equal(result[j].TotalAmount) {
				return result[i].TotalAmount.GreaterThan(result[j].TotalAmount)
			}
		default:
			if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
				return result[i].CreatedAt.After(result[j].CreatedAt)
			}
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountOrders считает заказы по фильтру.
func (g *orderGatewayInMemory) CountOrders(ctx context.Context, filter domain.OrderFilter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, o := range g.items {
		if filter.Match(o) {
			n++
		}
	}
	return n, nil
}

// SumField суммирует денежную колонку по фильтру.
func (g *orderGatewayInMemory) SumField(ctx context.Context, filter domain.OrderFilter, field domain.AmountField) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	if !field.Valid() {
		return decimal.Zero, domain.ErrInvalidAmountField
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	sum := decimal.Zero
	for _, o := range g.items {
		if filter.Match(o) {
			sum = sum.Add(field.Of(o))
		}
	}
	return sum, nil
}

func cloneOrder(o domain.Order) domain.Order {
	items := make([]domain.OrderLine, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}

var _ domain.OrderGateway = (*orderGatewayInMemory)(nil)
