// Package gateway содержит декораторы над domain.OrderGateway.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/metrics"
	"github.com/vladislavdragonenkov/fluidstore/internal/telemetry"
)

// Observable добавляет span и метрики латентности к каждому вызову шлюза.
// Результаты и ошибки вложенного шлюза возвращаются без изменений.
type Observable struct {
	next    domain.OrderGateway
	metrics *metrics.GatewayMetrics
	now     func() time.Time
}

// NewObservable оборачивает next. m может быть nil.
func NewObservable(next domain.OrderGateway, m *metrics.GatewayMetrics) *Observable {
	return &Observable{next: next, metrics: m, now: time.Now}
}

func (o *Observable) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := telemetry.StartSpan(ctx, "OrderGateway."+op, attrs...)
	start := o.now()
	return ctx, func(err error) {
		o.metrics.Observe(op, o.now().Sub(start), err)
		telemetry.EndSpan(span, err)
	}
}

func (o *Observable) SubmitOrder(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	ctx, done := o.observe(ctx, "SubmitOrder",
		attribute.Int("order.items", len(draft.Items)),
		attribute.String("order.total", draft.TotalAmount.StringFixed(2)),
	)
	order, err := o.next.SubmitOrder(ctx, draft)
	done(err)
	return order, err
}

func (o *Observable) UpdateOrderField(ctx context.Context, id string, field domain.OrderField, value string) (domain.Order, error) {
	ctx, done := o.observe(ctx, "UpdateOrderField",
		attribute.String("order.id", id),
		attribute.String("order.field", string(field)),
		attribute.String("order.value", value),
	)
	order, err := o.next.UpdateOrderField(ctx, id, field, value)
	done(err)
	return order, err
}

func (o *Observable) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	ctx, done := o.observe(ctx, "GetOrder", attribute.String("order.id", id))
	order, err := o.next.GetOrder(ctx, id)
	done(err)
	return order, err
}

func (o *Observable) ListOrders(ctx context.Context, filter domain.OrderFilter, limit int, sort domain.OrderSort) ([]domain.Order, error) {
	ctx, done := o.observe(ctx, "ListOrders",
		attribute.Int("query.limit", limit),
		attribute.String("query.sort", string(sort)),
		attribute.String("filter.status", string(filter.Status)),
	)
	orders, err := o.next.ListOrders(ctx, filter, limit, sort)
	done(err)
	return orders, err
}

func (o *Observable) CountOrders(ctx context.Context, filter domain.OrderFilter) (int, error) {
	ctx, done := o.observe(ctx, "CountOrders", attribute.String("filter.status", string(filter.Status)))
	n, err := o.next.CountOrders(ctx, filter)
	done(err)
	return n, err
}

func (o *Observable) SumField(ctx context.Context, filter domain.OrderFilter, field domain.AmountField) (decimal.Decimal, error) {
	ctx, done := o.observe(ctx, "SumField",
		attribute.String("query.field", string(field)),
		attribute.String("filter.status", string(filter.Status)),
	)
	sum, err := o.next.SumField(ctx, filter, field)
	done(err)
	return sum, err
}

var _ domain.OrderGateway = (*Observable)(nil)
