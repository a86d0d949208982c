package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/health"
	"github.com/vladislavdragonenkov/fluidstore/internal/storage/memory"
	"github.com/vladislavdragonenkov/fluidstore/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/fluidstore/internal/storage/redis"
)

// runtimeDependencies содержит хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	gateway     domain.OrderGateway
	catalog     domain.ProductCatalog
	outboxRepo  domain.OutboxRepository
	historyRepo domain.HistoryRepository
	cartStorage domain.CartStorage
	sessions    domain.SessionStore

	// checkers регистрируются в /healthz и /readyz.
	checkers map[string]health.Checker
	closers  []func() error
}

// Close освобождает соединения в обратном порядке открытия.
func (d *runtimeDependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]health.Checker)}

	if err := initOrderStorage(ctx, cfg, logger, deps); err != nil {
		_ = deps.Close()
		return nil, err
	}
	if err := initCartStorage(ctx, cfg, logger, deps); err != nil {
		_ = deps.Close()
		return nil, err
	}
	return deps, nil
}

func initOrderStorage(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies) error {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		outbox := memory.NewOutboxRepository()
		catalog := memory.NewCatalog()
		if cfg.SeedCatalog {
			for _, p := range memory.SeedProducts() {
				catalog.Upsert(p)
			}
		}
		deps.outboxRepo = outbox
		deps.gateway = memory.NewOrderGateway(outbox)
		deps.historyRepo = memory.NewHistoryRepository()
		deps.catalog = catalog
		logger.Info("используем in-memory хранилище заказов")
		return nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return fmt.Errorf("postgres storage requires dsn")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		deps.closers = append(deps.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			state, err := store.MigrationStatus(ctx)
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}
			logger.WithFields(log.Fields{"version": state.Version, "applied": state.Applied}).Info("схема PostgreSQL актуальна")
		}

		catalog := postgres.NewCatalog(store)
		if cfg.SeedCatalog {
			for _, p := range memory.SeedProducts() {
				if err := catalog.Upsert(ctx, p); err != nil {
					return fmt.Errorf("seed catalog: %w", err)
				}
			}
		}

		deps.gateway = postgres.NewOrderGateway(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.historyRepo = postgres.NewHistoryRepository(store)
		deps.catalog = catalog
		deps.checkers["postgres"] = health.NewPingChecker("postgres", store, 0)
		logger.Info("используем PostgreSQL хранилище заказов")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initCartStorage(ctx context.Context, cfg Config, logger *log.Entry, deps *runtimeDependencies) error {
	switch cfg.CartDriver {
	case CartDriverMemory, "":
		deps.cartStorage = memory.NewCartStorage()
		deps.sessions = memory.NewSessionStore()
		return nil

	case CartDriverRedis:
		if cfg.RedisAddr == "" {
			return fmt.Errorf("redis cart driver requires addr")
		}
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		deps.closers = append(deps.closers, client.Close)

		storage := redisstore.NewCartStorage(client, cfg.CartTTL)
		if err := storage.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		deps.cartStorage = storage
		deps.sessions = redisstore.NewSessionStore(client)
		// Недоступный Redis переводит сервис в degraded: каталог продолжает работать.
		deps.checkers["redis"] = health.NewPingChecker("redis", storage, 0).Optional()
		logger.WithField("addr", cfg.RedisAddr).Info("корзины хранятся в Redis")
		return nil

	default:
		return fmt.Errorf("unsupported cart driver %q", cfg.CartDriver)
	}
}
