package backoffice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/storage/memory"
)

func seedOrders(t *testing.T, g domain.OrderGateway, totals ...int64) []domain.Order {
	t.Helper()
	out := make([]domain.Order, 0, len(totals))
	for _, total := range totals {
		line := domain.CartLine{
			Product:  domain.Product{ID: "cl-adv", Name: "Advanced Coolant Formula", Price: decimal.NewFromInt(total)},
			Quantity: 1,
		}
		draft := domain.NewOrderDraft(
			domain.CustomerDetails{Name: "Jane Doe", Email: "jane@example.com"},
			[]domain.CartLine{line},
			domain.Amounts{Subtotal: decimal.NewFromInt(total)},
		)
		o, err := g.SubmitOrder(context.Background(), draft)
		require.NoError(t, err)
		out = append(out, o)
	}
	return out
}

// failingGateway возвращает err на любое обновление.
type failingGateway struct {
	domain.OrderGateway
	err error
}

func (g failingGateway) UpdateOrderField(context.Context, string, domain.OrderField, string) (domain.Order, error) {
	return domain.Order{}, g.err
}

func TestDashboard_SetOrderStatusPatchesCache(t *testing.T) {
	ctx := context.Background()
	g := memory.NewOrderGateway(nil)
	history := memory.NewHistoryRepository()
	orders := seedOrders(t, g, 100, 200)
	d := NewDashboard(g, history, WithRefreshDelay(0))
	defer d.Close()

	_, err := d.LoadOrders(ctx, domain.OrderFilter{}, 0)
	require.NoError(t, err)

	updated, err := d.SetOrderStatus(ctx, orders[0].ID, "confirmed")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, updated.Status)

	var cached domain.Order
	for _, o := range d.Orders() {
		if o.ID == orders[0].ID {
			cached = o
		}
	}
	require.Equal(t, domain.OrderStatusConfirmed, cached.Status)

	events, err := d.History(orders[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.HistoryStatusChanged, events[0].Type)
	require.Equal(t, "confirmed", events[0].Reason)

	d.Flush()
	stats := d.Stats()
	require.Equal(t, 2, stats.TotalOrders)
	require.Equal(t, 1, stats.PendingOrders)
}

func TestDashboard_ZeroRowUpdateIsNotFound(t *testing.T) {
	ctx := context.Background()
	g := memory.NewOrderGateway(nil)
	seedOrders(t, g, 100)
	d := NewDashboard(g, nil, WithRefreshDelay(time.Hour))
	defer d.Close()

	before, err := d.LoadOrders(ctx, domain.OrderFilter{}, 0)
	require.NoError(t, err)

	_, err = d.SetOrderStatus(ctx, "does-not-exist", "completed")
	var upErr *UpdateError
	require.ErrorAs(t, err, &upErr)
	require.Equal(t, UpdateNotFound, upErr.Kind)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.Equal(t, before, d.Orders(), "cache untouched")
}

func TestDashboard_RemoteErrorIsDistinct(t *testing.T) {
	boom := errors.New("connection refused")
	d := NewDashboard(failingGateway{err: boom}, nil)
	defer d.Close()

	_, err := d.SetPaymentStatus(context.Background(), "o-1", "paid")
	var upErr *UpdateError
	require.ErrorAs(t, err, &upErr)
	require.Equal(t, UpdateFailed, upErr.Kind)
	require.ErrorIs(t, err, boom)
	require.False(t, errors.Is(err, domain.ErrOrderNotFound))
}

func TestDashboard_InvalidValueNoIO(t *testing.T) {
	d := NewDashboard(failingGateway{err: errors.New("must not be called")}, nil)
	defer d.Close()

	_, err := d.SetOrderStatus(context.Background(), "o-1", "shipped")
	require.ErrorIs(t, err, domain.ErrInvalidOrderStatus)

	_, err = d.SetPaymentStatus(context.Background(), "o-1", "refunded")
	require.ErrorIs(t, err, domain.ErrInvalidPaymentStatus)
}

func TestDashboard_RefreshStats(t *testing.T) {
	ctx := context.Background()
	g := memory.NewOrderGateway(nil)
	orders := seedOrders(t, g, 100, 200, 300)
	d := NewDashboard(g, nil, WithRefreshDelay(time.Hour))
	defer d.Close()

	_, err := g.UpdateOrderField(ctx, orders[2].ID, domain.OrderFieldStatus, "cancelled")
	require.NoError(t, err)
	_, err = g.UpdateOrderField(ctx, orders[1].ID, domain.OrderFieldPaymentStatus, "paid")
	require.NoError(t, err)

	stats, err := d.RefreshStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalOrders)
	require.Equal(t, 2, stats.PendingOrders)
	require.Equal(t, "300", stats.Revenue.String())
	require.Equal(t, "200", stats.PaidRevenue.String())
	require.Equal(t, stats, d.Stats())
}

func TestDashboard_ScheduleRefreshDebounces(t *testing.T) {
	g := &countingGateway{OrderGateway: memory.NewOrderGateway(nil)}
	d := NewDashboard(g, nil, WithRefreshDelay(30*time.Millisecond))

	for i := 0; i < 5; i++ {
		d.ScheduleRefresh()
	}
	d.Flush()
	d.Close()

	// Один пересчёт = два CountOrders.
	require.Equal(t, 2, g.counts)
}

func TestDashboard_HandleOrderEvent(t *testing.T) {
	ctx := context.Background()
	g := memory.NewOrderGateway(nil)
	orders := seedOrders(t, g, 100)
	d := NewDashboard(g, nil, WithRefreshDelay(time.Hour))
	defer d.Close()
	_, err := d.LoadOrders(ctx, domain.OrderFilter{}, 0)
	require.NoError(t, err)

	// Изменение пришло из другого процесса.
	_, err = g.UpdateOrderField(ctx, orders[0].ID, domain.OrderFieldStatus, "completed")
	require.NoError(t, err)

	require.NoError(t, d.HandleOrderEvent(ctx, domain.OrderEventPayload{OrderID: orders[0].ID}))
	require.Equal(t, domain.OrderStatusCompleted, d.Orders()[0].Status)
	require.Equal(t, 0, d.Stats().PendingOrders)
	require.Equal(t, 1, d.Stats().TotalOrders)
}

type countingGateway struct {
	domain.OrderGateway
	counts int
}

func (g *countingGateway) CountOrders(ctx context.Context, f domain.OrderFilter) (int, error) {
	g.counts++
	return g.OrderGateway.CountOrders(ctx, f)
}
