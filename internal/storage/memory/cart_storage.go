package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

// cartStorageInMemory — слот корзин в памяти с рассылкой уведомлений о записи.
type cartStorageInMemory struct {
	mu     sync.RWMutex
	slots  map[string][]byte
	subs   map[string]map[chan struct{}]struct{}
	failOn error
}

// NewCartStorage создаёт in-memory реализацию CartStorage.
func NewCartStorage() *cartStorageInMemory {
	return &cartStorageInMemory{
		slots: make(map[string][]byte),
		subs:  make(map[string]map[chan struct{}]struct{}),
	}
}

// Load возвращает копию значения слота или nil.
func (s *cartStorageInMemory) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.slots[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Save перезаписывает слот и будит подписчиков без блокировки.
func (s *cartStorageInMemory) Save(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	if s.failOn != nil {
		err := s.failOn
		s.mu.Unlock()
		return err
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.slots[key] = stored
	// Отправка под блокировкой: Subscribe закрывает канал только под ней же.
	for ch := range s.subs[key] {
		select {
		case ch <- struct{}{}:
		default:
			// Уведомление уже ждёт обработки, повторное не нужно.
		}
	}
	s.mu.Unlock()
	return nil
}

// Subscribe регистрирует канал уведомлений до отмены ctx.
func (s *cartStorageInMemory) Subscribe(ctx context.Context, key string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[chan struct{}]struct{})
	}
	s.subs[key][ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs[key], ch)
		if len(s.subs[key]) == 0 {
			delete(s.subs, key)
		}
		s.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// Put записывает сырое значение в обход кодека (используется в тестах и при импорте).
func (s *cartStorageInMemory) Put(key string, value []byte) {
	_ = s.Save(context.Background(), key, value)
}

// FailWrites заставляет последующие Save возвращать err; nil снимает отказ.
func (s *cartStorageInMemory) FailWrites(err error) {
	s.mu.Lock()
	s.failOn = err
	s.mu.Unlock()
}

var _ domain.CartStorage = (*cartStorageInMemory)(nil)
