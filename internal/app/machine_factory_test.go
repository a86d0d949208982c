package app

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fluidstore/internal/cart"
	"github.com/vladislavdragonenkov/fluidstore/internal/checkout"
	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/pricing"
	"github.com/vladislavdragonenkov/fluidstore/internal/storage/memory"
)

func TestMachineFactory_SubmitsThroughSharedStorage(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewCartStorage()
	outbox := memory.NewOutboxRepository()
	orders := memory.NewOrderGateway(outbox)
	calc, err := pricing.NewCalculator(pricing.DefaultConfig())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.SubmitTimeout = time.Second
	factory := newMachineFactory(storage, nil, calc, orders, cfg, nil, log.WithField("test", "factory"))
	registry := checkout.NewRegistry(factory, time.Minute)

	// Корзина наполняется через отдельный Store, как это делает HTTP-слой.
	products := memory.SeedProducts()
	require.NotEmpty(t, products)
	require.NoError(t, cart.Open(ctx, storage, "cart-1").AddItem(ctx, products[0], 2))

	machine, err := registry.Begin(ctx, "cart-1")
	require.NoError(t, err)
	require.Equal(t, checkout.StateDetailsEntry, machine.State())

	orderID, err := machine.Submit(ctx, domain.CustomerDetails{
		Name:            "Иван Петров",
		Email:           "ivan@example.com",
		Phone:           "+7 900 000-00-00",
		ShippingAddress: "Москва, Тверская 1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, orderID)

	order, err := orders.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.Equal(t, 2, order.Items[0].Quantity)
	require.Len(t, outbox.AllPending(), 1, "order.created must go to outbox")

	require.Empty(t, cart.Open(ctx, storage, "cart-1").Lines(), "cart is cleared after submit")
}

func TestMachineFactory_WatchesExternalCartWrites(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewCartStorage()
	calc, err := pricing.NewCalculator(pricing.DefaultConfig())
	require.NoError(t, err)

	factory := newMachineFactory(storage, nil, calc, memory.NewOrderGateway(nil), DefaultConfig(), nil, log.WithField("test", "factory"))
	registry := checkout.NewRegistry(factory, time.Minute)

	machine, err := registry.Machine(ctx, "cart-watch")
	require.NoError(t, err)
	defer machine.Close()
	require.Zero(t, machine.Snapshot().ItemCount)

	external := cart.Open(ctx, storage, "cart-watch")
	require.NoError(t, external.AddItem(ctx, memory.SeedProducts()[0], 3))
	slot, err := storage.Load(ctx, cart.SlotKey("cart-watch"))
	require.NoError(t, err)

	// Watch подписывается асинхронно: пока машина не увидела запись, слот
	// перезаписывается тем же содержимым, чтобы разбудить подписчика.
	require.Eventually(t, func() bool {
		if machine.Snapshot().ItemCount == 3 {
			return true
		}
		storage.Put(cart.SlotKey("cart-watch"), slot)
		return false
	}, time.Second, 10*time.Millisecond)
}
