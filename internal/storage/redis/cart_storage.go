// Package redis хранит слоты корзин и сессии администраторов в Redis.
// Запись в слот сопровождается PUBLISH, поэтому все процессы, открывшие ту же
// корзину, узнают о внешних изменениях через SUBSCRIBE.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

// DefaultCartTTL — срок хранения корзины без изменений.
const DefaultCartTTL = 30 * 24 * time.Hour

const eventsPrefix = "cart-storage-events:"

// CartStorage реализует domain.CartStorage поверх Redis.
type CartStorage struct {
	client *goredis.Client
	ttl    time.Duration
	logger *log.Entry
}

// NewCartStorage создаёт хранилище; ttl <= 0 даёт DefaultCartTTL.
func NewCartStorage(client *goredis.Client, ttl time.Duration) *CartStorage {
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}
	return &CartStorage{
		client: client,
		ttl:    ttl,
		logger: log.WithField("component", "redis-cart-storage"),
	}
}

func eventsChannel(key string) string {
	return eventsPrefix + key
}

// Load читает слот; отсутствующий ключ даёт nil.
func (s *CartStorage) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

// Save записывает слот и публикует уведомление в одной транзакции.
func (s *CartStorage) Save(ctx context.Context, key string, value []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, key, value, s.ttl)
		pipe.Publish(ctx, eventsChannel(key), "saved")
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Subscribe подписывается на уведомления слота. Возвращается после
// подтверждения подписки сервером.
func (s *CartStorage) Subscribe(ctx context.Context, key string) (<-chan struct{}, error) {
	pubsub := s.client.Subscribe(ctx, eventsChannel(key))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	out := make(chan struct{}, 1)
	msgs := pubsub.Channel()
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

// Ping проверяет соединение (для health checks).
func (s *CartStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ domain.CartStorage = (*CartStorage)(nil)
