package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

func sampleDraft(email string, qty int) domain.OrderDraft {
	oil := domain.Product{ID: "eo-5w30", Name: "Premium Engine Oil 5W-30", Price: decimal.RequireFromString("2450")}
	lines := []domain.CartLine{{Product: oil, Quantity: qty}}
	subtotal := oil.Price.Mul(decimal.NewFromInt(int64(qty)))
	return domain.NewOrderDraft(
		domain.CustomerDetails{Name: "Jane Doe", Email: email},
		lines,
		domain.Amounts{
			Subtotal:     subtotal,
			ShippingCost: decimal.NewFromInt(250),
			TaxAmount:    subtotal.Mul(decimal.RequireFromString("0.15")),
		},
	)
}

func TestOrderGateway_PostgresSubmitGetAndUpdate(t *testing.T) {
	ctx := context.Background()
	store := openPostgresStoreForIntegrationTest(t)
	gw := NewOrderGateway(store)
	outbox := NewOutboxRepository(store)

	order, err := gw.SubmitOrder(ctx, sampleDraft("jane@example.com", 2))
	if err != nil {
		t.Fatalf("submit order: %v", err)
	}
	if order.ID == "" || order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order: %+v", order)
	}

	got, err := gw.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !got.TotalAmount.Equal(decimal.RequireFromString("5885")) {
		t.Fatalf("unexpected total: %s", got.TotalAmount)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items: %+v", got.Items)
	}

	updated, err := gw.UpdateOrderField(ctx, order.ID, domain.OrderFieldStatus, "Confirmed")
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.OrderStatusConfirmed || len(updated.Items) != 1 {
		t.Fatalf("unexpected updated order: %+v", updated)
	}

	pending, err := outbox.PullPending(10)
	if err != nil {
		t.Fatalf("pull outbox: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected created + status events, got %d", len(pending))
	}
	if pending[0].EventType != domain.EventOrderCreated || pending[1].EventType != domain.EventOrderStatusChanged {
		t.Fatalf("unexpected event order: %s, %s", pending[0].EventType, pending[1].EventType)
	}
	var payload domain.OrderEventPayload
	if err := json.Unmarshal(pending[1].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.OrderID != order.ID || payload.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestOrderGateway_PostgresErrors(t *testing.T) {
	ctx := context.Background()
	store := openPostgresStoreForIntegrationTest(t)
	gw := NewOrderGateway(store)

	if _, err := gw.GetOrder(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := gw.UpdateOrderField(ctx, "missing", domain.OrderFieldPaymentStatus, "paid"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on update, got %v", err)
	}
	if _, err := gw.UpdateOrderField(ctx, "missing", domain.OrderFieldStatus, "shipped"); !errors.Is(err, domain.ErrInvalidOrderStatus) {
		t.Fatalf("expected ErrInvalidOrderStatus, got %v", err)
	}
	if _, err := gw.SubmitOrder(ctx, sampleDraft("not-an-email", 1)); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := gw.SumField(ctx, domain.OrderFilter{}, domain.AmountField("id")); !errors.Is(err, domain.ErrInvalidAmountField) {
		t.Fatalf("expected ErrInvalidAmountField, got %v", err)
	}
}

func TestOrderGateway_PostgresAggregates(t *testing.T) {
	ctx := context.Background()
	store := openPostgresStoreForIntegrationTest(t)
	gw := NewOrderGateway(store)

	first, err := gw.SubmitOrder(ctx, sampleDraft("a@example.com", 1))
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	if _, err := gw.SubmitOrder(ctx, sampleDraft("B@example.com", 3)); err != nil {
		t.Fatalf("submit second: %v", err)
	}
	if _, err := gw.UpdateOrderField(ctx, first.ID, domain.OrderFieldStatus, "cancelled"); err != nil {
		t.Fatalf("cancel first: %v", err)
	}

	total, err := gw.CountOrders(ctx, domain.OrderFilter{})
	if err != nil || total != 2 {
		t.Fatalf("count all: n=%d err=%v", total, err)
	}
	active, err := gw.CountOrders(ctx, domain.OrderFilter{ExcludeStatus: domain.OrderStatusCancelled})
	if err != nil || active != 1 {
		t.Fatalf("count active: n=%d err=%v", active, err)
	}

	revenue, err := gw.SumField(ctx, domain.OrderFilter{ExcludeStatus: domain.OrderStatusCancelled}, domain.AmountTotal)
	if err != nil {
		t.Fatalf("sum revenue: %v", err)
	}
	// Черновик собран вручную с доставкой: 7350 + 250 + 1102.50.
	if !revenue.Equal(decimal.RequireFromString("8702.50")) {
		t.Fatalf("unexpected revenue: %s", revenue)
	}

	byEmail, err := gw.ListOrders(ctx, domain.OrderFilter{CustomerEmail: "b@example.com"}, 10, domain.OrderSortNewest)
	if err != nil || len(byEmail) != 1 {
		t.Fatalf("list by email: %+v err=%v", byEmail, err)
	}
	if len(byEmail[0].Items) != 1 {
		t.Fatalf("expected items loaded in list, got %+v", byEmail[0].Items)
	}

	limited, err := gw.ListOrders(ctx, domain.OrderFilter{}, 1, domain.OrderSortTotalDesc)
	if err != nil || len(limited) != 1 || limited[0].CustomerEmail != "B@example.com" {
		t.Fatalf("list with limit: %+v err=%v", limited, err)
	}

	empty, err := gw.SumField(ctx, domain.OrderFilter{Status: domain.OrderStatusCompleted}, domain.AmountTotal)
	if err != nil || !empty.IsZero() {
		t.Fatalf("sum over empty set: %s err=%v", empty, err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
}
