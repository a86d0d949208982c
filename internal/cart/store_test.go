package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/storage/memory"
)

func product(id, price string) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          "Product " + id,
		Price:         decimal.RequireFromString(price),
		StockQuantity: 50,
	}
}

func quantities(lines []domain.CartLine) map[string]int {
	out := make(map[string]int, len(lines))
	for _, l := range lines {
		out[l.Product.ID] = l.Quantity
	}
	return out
}

func TestStore_AddItemMergesLines(t *testing.T) {
	ctx := context.Background()
	s := Open(ctx, memory.NewCartStorage(), "c1")

	require.NoError(t, s.AddItem(ctx, product("oil", "10.00"), 2))
	require.NoError(t, s.AddItem(ctx, product("oil", "10.00"), 3))
	require.NoError(t, s.AddItem(ctx, product("coolant", "5.00"), 1))

	lines := s.Lines()
	require.Len(t, lines, 2)
	require.Equal(t, "oil", lines[0].Product.ID, "insertion order kept")
	require.Equal(t, 5, lines[0].Quantity)
	require.Equal(t, 6, s.TotalItemCount())

	require.ErrorIs(t, s.AddItem(ctx, product("oil", "10.00"), 0), ErrQuantityInvalid)
	require.ErrorIs(t, s.AddItem(ctx, domain.Product{ID: "x", Name: "x", Price: decimal.NewFromInt(-1)}, 1), domain.ErrProductPriceNegative)
}

func TestStore_UpdateQuantityFloor(t *testing.T) {
	for _, n := range []int{0, -1} {
		ctx := context.Background()
		s := Open(ctx, memory.NewCartStorage(), "c1")
		require.NoError(t, s.AddItem(ctx, product("oil", "10.00"), 2))

		require.NoError(t, s.UpdateQuantity(ctx, "oil", n))
		require.Empty(t, s.Lines(), "quantity %d removes the line", n)
	}
}

func TestStore_UpdateQuantityAbsoluteAndMissing(t *testing.T) {
	ctx := context.Background()
	s := Open(ctx, memory.NewCartStorage(), "c1")
	require.NoError(t, s.AddItem(ctx, product("oil", "10.00"), 2))

	require.NoError(t, s.UpdateQuantity(ctx, "oil", 7))
	require.Equal(t, 7, s.TotalItemCount())

	require.NoError(t, s.UpdateQuantity(ctx, "missing", 3))
	require.NoError(t, s.RemoveItem(ctx, "missing"))
	require.Equal(t, map[string]int{"oil": 7}, quantities(s.Lines()))
}

func TestStore_PersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewCartStorage()
	s := Open(ctx, storage, "c1")
	require.NoError(t, s.AddItem(ctx, product("oil", "2450.00"), 2))
	require.NoError(t, s.AddItem(ctx, product("coolant", "1650.50"), 1))
	require.NoError(t, s.AddItem(ctx, product("brake", "890"), 4))
	require.NoError(t, s.RemoveItem(ctx, "brake"))

	reloaded := Open(ctx, storage, "c1")
	require.Equal(t, quantities(s.Lines()), quantities(reloaded.Lines()))
	require.True(t, reloaded.Lines()[1].Product.Price.Equal(decimal.RequireFromString("1650.5")))

	other := Open(ctx, storage, "c2")
	require.True(t, other.IsEmpty(), "carts are isolated by id")
}

func TestStore_FailsOpenOnBadSlot(t *testing.T) {
	cases := map[string]string{
		"corrupt json":     `{"state":`,
		"not an object":    `[1,2,3]`,
		"missing state":    `{"version":0}`,
		"schema mismatch":  `{"state":{"items":[{"product":{"id":"a","name":"A","price":1},"quantity":1}]},"version":3}`,
		"wrong item shape": `{"state":{"items":"nope"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			storage := memory.NewCartStorage()
			storage.Put(SlotKey("c1"), []byte(raw))

			s := Open(context.Background(), storage, "c1")
			require.True(t, s.IsEmpty())
		})
	}
}

func TestStore_NormalizesLoadedLines(t *testing.T) {
	storage := memory.NewCartStorage()
	storage.Put(SlotKey("c1"), []byte(`{"state":{"items":[
		{"product":{"id":"a","name":"A","price":"10.00","stock_quantity":5},"quantity":1},
		{"product":{"id":"a","name":"A","price":"10.00","stock_quantity":5},"quantity":2},
		{"product":{"id":"b","name":"B","price":-3},"quantity":1},
		{"product":{"id":"c","name":"C","price":4},"quantity":0},
		{"product":{"id":"d","name":"D","price":4},"quantity":1}
	]}}`))

	s := Open(context.Background(), storage, "c1")
	require.Equal(t, map[string]int{"a": 3, "d": 1}, quantities(s.Lines()))
}

func TestStore_PersistFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewCartStorage()
	s := Open(ctx, storage, "c1")
	require.NoError(t, s.AddItem(ctx, product("oil", "10"), 1))

	boom := errors.New("disk full")
	storage.FailWrites(boom)

	err := s.AddItem(ctx, product("oil", "10"), 1)
	require.ErrorIs(t, err, ErrPersist)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, s.TotalItemCount(), "failed write must not change the view")

	require.ErrorIs(t, s.Clear(ctx), ErrPersist)
	require.Equal(t, 1, s.Len())
}

func TestStore_SubscribeAndReload(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewCartStorage()
	tabA := Open(ctx, storage, "c1")
	tabB := Open(ctx, storage, "c1")

	var mu sync.Mutex
	var seen []int
	unsubscribe := tabB.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.TotalItems)
		mu.Unlock()
	})

	require.NoError(t, tabA.AddItem(ctx, product("oil", "10"), 2))
	require.NoError(t, tabB.Reload(ctx))
	require.Equal(t, 2, tabB.TotalItemCount())

	// Повторная перезагрузка без изменений не будит подписчиков.
	require.NoError(t, tabB.Reload(ctx))

	unsubscribe()
	require.NoError(t, tabA.Clear(ctx))
	require.NoError(t, tabB.Reload(ctx))
	require.True(t, tabB.IsEmpty())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{2}, seen)
}

func TestStore_WatchPicksUpExternalWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage := memory.NewCartStorage()
	tabA := Open(ctx, storage, "c1")
	tabB := Open(ctx, storage, "c1")

	updates := make(chan Snapshot, 4)
	tabB.Subscribe(func(s Snapshot) { updates <- s })

	done := make(chan error, 1)
	go func() { done <- tabB.Watch(ctx) }()

	require.Eventually(t, func() bool {
		_ = tabA.AddItem(ctx, product("oil", "10"), 1)
		select {
		case s := <-updates:
			return s.TotalItems > 0
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch must return after cancel")
	}
}

func TestEncodeShape(t *testing.T) {
	data, err := encode([]domain.CartLine{{Product: product("oil", "1.50"), Quantity: 2}})
	require.NoError(t, err)
	require.Contains(t, string(data), `"state":{"items":[{"product":{"id":"oil"`)
	require.Contains(t, string(data), `"quantity":2`)
	require.Contains(t, string(data), `"version":0`)

	empty, err := encode(nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"state":{"items":[]},"version":0}`, string(empty))
}
