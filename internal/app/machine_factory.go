package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fluidstore/internal/cart"
	"github.com/vladislavdragonenkov/fluidstore/internal/checkout"
	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/metrics"
	"github.com/vladislavdragonenkov/fluidstore/internal/pricing"
)

// newMachineFactory открывает корзину и собирает для неё машину оформления.
func newMachineFactory(
	storage domain.CartStorage,
	cartOptions []cart.Option,
	calc *pricing.Calculator,
	orders domain.OrderGateway,
	cfg Config,
	mx *metrics.CheckoutMetrics,
	logger *log.Entry,
) checkout.Factory {
	notifier := checkout.LogNotifier(logger)
	return func(ctx context.Context, cartID string) (*checkout.Machine, error) {
		store := cart.Open(ctx, storage, cartID, cartOptions...)
		machineLogger := logger.WithField("cart_id", cartID)

		// Корзину машины меняют другие запросы и реплики; Watch подтягивает
		// их записи, пока машина живёт в реестре.
		watchCtx, stopWatch := context.WithCancel(context.WithoutCancel(ctx))
		go func() {
			if err := store.Watch(watchCtx); err != nil {
				machineLogger.WithError(err).Warn("cart watch stopped")
			}
		}()

		return checkout.NewMachine(store, calc, orders,
			checkout.WithLogger(machineLogger),
			checkout.WithMetrics(mx),
			checkout.WithNotifier(notifier),
			checkout.WithSubmitTimeout(cfg.SubmitTimeout),
			checkout.WithCloser(stopWatch),
		), nil
	}
}
