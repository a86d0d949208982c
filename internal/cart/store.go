// Package cart реализует корзину покупателя с долговременным слотом хранения.
//
// Store — единственный владелец состояния корзины. Каждая мутация синхронно
// записывает полный снимок в domain.CartStorage до возврата; при ошибке записи
// состояние в памяти не меняется.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/metrics"
)

var (
	// ErrQuantityInvalid — попытка добавить меньше одной единицы товара.
	ErrQuantityInvalid = errors.New("quantity must be at least 1")
	// ErrPersist — снимок корзины не удалось записать в слот.
	ErrPersist = errors.New("cart persist failed")
)

// Snapshot — неизменяемый вид корзины для подписчиков.
type Snapshot struct {
	CartID     string
	Lines      []domain.CartLine
	TotalItems int
}

// Option настраивает Store.
type Option func(*Store)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики записей.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store хранит строки корзины и синхронизирует их со слотом.
type Store struct {
	mu      sync.Mutex
	storage domain.CartStorage
	cartID  string
	key     string
	lines   []domain.CartLine
	logger  *log.Entry
	metrics *metrics.CartMetrics

	obsMu     sync.Mutex
	observers map[int]func(Snapshot)
	nextObs   int
}

// Open создаёт Store и читает слот. Пустой, битый или несовместимый снимок
// превращается в пустую корзину; ошибка наружу не возвращается.
func Open(ctx context.Context, storage domain.CartStorage, cartID string, opts ...Option) *Store {
	s := &Store{
		storage:   storage,
		cartID:    cartID,
		key:       SlotKey(cartID),
		logger:    log.WithField("component", "cart-store"),
		observers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("cart_id", cartID)

	lines, err := s.read(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("cart slot unreadable, starting empty")
	}
	s.lines = lines
	return s
}

// ID возвращает идентификатор корзины.
func (s *Store) ID() string { return s.cartID }

// read загружает слот; при ошибке возвращает пустую корзину и саму ошибку для лога.
func (s *Store) read(ctx context.Context) ([]domain.CartLine, error) {
	data, err := s.storage.Load(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("load cart slot: %w", err)
	}
	lines, dropped, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode cart slot: %w", err)
	}
	if dropped > 0 {
		s.logger.WithField("dropped", dropped).Warn("malformed cart lines dropped")
	}
	return lines, nil
}

// AddItem увеличивает количество существующей строки или добавляет новую.
// Верхняя граница по остатку проверяется вызывающей стороной.
func (s *Store) AddItem(ctx context.Context, product domain.Product, quantity int) error {
	if quantity < 1 {
		return ErrQuantityInvalid
	}
	if err := product.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, func(lines []domain.CartLine) ([]domain.CartLine, bool) {
		for i := range lines {
			if lines[i].Product.ID == product.ID {
				lines[i].Quantity += quantity
				return lines, true
			}
		}
		return append(lines, domain.CartLine{Product: product, Quantity: quantity}), true
	})
}

// UpdateQuantity задаёт абсолютное количество; n <= 0 удаляет строку.
// Отсутствующий товар игнорируется.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, n int) error {
	if n <= 0 {
		return s.RemoveItem(ctx, productID)
	}
	return s.mutate(ctx, func(lines []domain.CartLine) ([]domain.CartLine, bool) {
		for i := range lines {
			if lines[i].Product.ID == productID {
				if lines[i].Quantity == n {
					return lines, false
				}
				lines[i].Quantity = n
				return lines, true
			}
		}
		return lines, false
	})
}

// RemoveItem удаляет строку, если она есть.
func (s *Store) RemoveItem(ctx context.Context, productID string) error {
	return s.mutate(ctx, func(lines []domain.CartLine) ([]domain.CartLine, bool) {
		for i := range lines {
			if lines[i].Product.ID == productID {
				return append(lines[:i], lines[i+1:]...), true
			}
		}
		return lines, false
	})
}

// Clear очищает корзину.
func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, func(lines []domain.CartLine) ([]domain.CartLine, bool) {
		return nil, true
	})
}

// mutate применяет fn к копии строк, сохраняет снимок и только затем фиксирует его.
func (s *Store) mutate(ctx context.Context, fn func([]domain.CartLine) ([]domain.CartLine, bool)) error {
	s.mu.Lock()
	next, changed := fn(cloneLines(s.lines))
	if !changed {
		s.mu.Unlock()
		return nil
	}

	data, err := encode(next)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}
	if err := s.storage.Save(ctx, s.key, data); err != nil {
		s.mu.Unlock()
		s.metrics.RecordWrite(false)
		s.logger.WithError(err).Error("failed to persist cart")
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	s.lines = next
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.metrics.RecordWrite(true)

	s.notify(snap)
	return nil
}

// Lines возвращает копию строк в порядке добавления.
func (s *Store) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLines(s.lines)
}

// TotalItemCount возвращает сумму количеств по всем строкам.
func (s *Store) TotalItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return totalItems(s.lines)
}

// Len возвращает число различных товаров.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// IsEmpty сообщает, что корзина пуста.
func (s *Store) IsEmpty() bool {
	return s.Len() == 0
}

// Snapshot возвращает текущий вид корзины.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{CartID: s.cartID, Lines: cloneLines(s.lines), TotalItems: totalItems(s.lines)}
}

// Reload перечитывает слот после внешней записи. Битый снимок даёт пустую
// корзину, ошибка чтения хранилища оставляет текущий вид и возвращается.
func (s *Store) Reload(ctx context.Context) error {
	data, err := s.storage.Load(ctx, s.key)
	if err != nil {
		return fmt.Errorf("load cart slot: %w", err)
	}
	lines, _, err := decode(data)
	if err != nil {
		s.logger.WithError(err).Warn("cart slot corrupt on reload, treating as empty")
		lines = nil
	}

	s.mu.Lock()
	if equalLines(s.lines, lines) {
		s.mu.Unlock()
		return nil
	}
	s.lines = lines
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.metrics.RecordExternalReload()

	s.notify(snap)
	return nil
}

// Subscribe регистрирует наблюдателя. Возвращает функцию отписки.
// Наблюдатели вызываются вне блокировки корзины.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *Store) notify(snap Snapshot) {
	s.obsMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Watch подписывается на уведомления слота и перечитывает его после каждой
// внешней записи. Блокируется до отмены ctx.
func (s *Store) Watch(ctx context.Context) error {
	ch, err := s.storage.Subscribe(ctx, s.key)
	if err != nil {
		return fmt.Errorf("subscribe cart slot: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.Reload(ctx); err != nil {
				s.logger.WithError(err).Warn("cart reload after external write failed")
			}
		}
	}
}

func cloneLines(lines []domain.CartLine) []domain.CartLine {
	if len(lines) == 0 {
		return nil
	}
	out := make([]domain.CartLine, len(lines))
	copy(out, lines)
	return out
}

func totalItems(lines []domain.CartLine) int {
	total := 0
	for _, l := range lines {
		total += l.Quantity
	}
	return total
}

func equalLines(a, b []domain.CartLine) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Product.ID != b[i].Product.ID || a[i].Quantity != b[i].Quantity ||
			!a[i].Product.Price.Equal(b[i].Product.Price) {
			return false
		}
	}
	return true
}
