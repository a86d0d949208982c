package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CartStorage — долговременный слот, в котором лежит снимок корзины.
type CartStorage interface {
	// Load возвращает сохранённое значение или nil, если слот пуст.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save перезаписывает слот целиком (last write wins) и оповещает подписчиков.
	Save(ctx context.Context, key string, value []byte) error
	// Subscribe возвращает канал уведомлений о записи в слот.
	// Канал закрывается после отмены ctx.
	Subscribe(ctx context.Context, key string) (<-chan struct{}, error)
}

// OrderGateway — граница с хранилищем заказов.
type OrderGateway interface {
	// SubmitOrder атомарно сохраняет заказ и возвращает его с присвоенным id.
	SubmitOrder(ctx context.Context, draft OrderDraft) (Order, error)
	// UpdateOrderField обновляет поле по id; ErrOrderNotFound, если строк не затронуто.
	UpdateOrderField(ctx context.Context, id string, field OrderField, value string) (Order, error)
	// GetOrder возвращает заказ по id.
	GetOrder(ctx context.Context, id string) (Order, error)
	ListOrders(ctx context.Context, filter OrderFilter, limit int, sort OrderSort) ([]Order, error)
	CountOrders(ctx context.Context, filter OrderFilter) (int, error)
	SumField(ctx context.Context, filter OrderFilter, field AmountField) (decimal.Decimal, error)
}

// ProductCatalog — чтение каталога товаров.
type ProductCatalog interface {
	ListProducts(ctx context.Context, q ProductQuery) ([]Product, error)
	// GetProduct возвращает товар или ErrProductNotFound.
	GetProduct(ctx context.Context, id string) (Product, error)
	// GetProductBySlug возвращает товар по адресу страницы или ErrProductNotFound.
	GetProductBySlug(ctx context.Context, slug string) (Product, error)
	// SuggestProducts ищет товары по подстроке названия.
	SuggestProducts(ctx context.Context, term string, limit int) ([]Product, error)
	// RelatedProducts возвращает товары той же категории, новые первыми.
	RelatedProducts(ctx context.Context, category, excludeID string, limit int) ([]Product, error)
	Categories(ctx context.Context) ([]string, error)
}

// HistoryRepository хранит историю изменений заказа.
type HistoryRepository interface {
	Append(event HistoryEvent) error
	List(orderID string) ([]HistoryEvent, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// Session — подтверждённая сервером сессия администратора.
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore хранит сессии администраторов с ограниченным сроком жизни.
type SessionStore interface {
	Put(ctx context.Context, s Session) error
	// Get возвращает ErrSessionNotFound для неизвестной или истёкшей сессии.
	Get(ctx context.Context, token string) (Session, error)
	Delete(ctx context.Context, token string) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
