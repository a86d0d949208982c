package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

// sessionStoreInMemory хранит сессии администраторов; срок проверяется при чтении.
type sessionStoreInMemory struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	now      func() time.Time
}

// NewSessionStore создаёт in-memory хранилище сессий.
func NewSessionStore() *sessionStoreInMemory {
	return &sessionStoreInMemory{
		sessions: make(map[string]domain.Session),
		now:      time.Now,
	}
}

// WithClock подменяет часы (для тестов истечения).
func (s *sessionStoreInMemory) WithClock(now func() time.Time) *sessionStoreInMemory {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

func (s *sessionStoreInMemory) Put(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Token] = session
	return nil
}

func (s *sessionStoreInMemory) Get(_ context.Context, token string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if !s.now().Before(session.ExpiresAt) {
		delete(s.sessions, token)
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *sessionStoreInMemory) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// DeleteExpired удаляет не более limit сессий, истёкших к моменту before.
func (s *sessionStoreInMemory) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for token, session := range s.sessions {
		if limit > 0 && deleted >= limit {
			break
		}
		if before.Before(session.ExpiresAt) {
			continue
		}
		delete(s.sessions, token)
		deleted++
	}
	return deleted, nil
}

var _ domain.SessionStore = (*sessionStoreInMemory)(nil)
