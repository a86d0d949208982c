// Package auth проверяет учётные данные администратора на сервере и выдаёт
// сессионные токены с ограниченным сроком жизни.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

// DefaultSessionTTL — срок жизни сессии администратора.
const DefaultSessionTTL = 24 * time.Hour

const tokenBytes = 32

var (
	// ErrInvalidCredentials — неверный логин или пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotConfigured — учётная запись администратора не задана.
	ErrNotConfigured = errors.New("admin credentials are not configured")
)

// Option настраивает Authenticator.
type Option func(*Authenticator)

// WithSessionTTL задаёт срок жизни сессии.
func WithSessionTTL(ttl time.Duration) Option {
	return func(a *Authenticator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Authenticator сверяет логин с bcrypt-хешем и управляет сессиями.
type Authenticator struct {
	username     string
	passwordHash []byte
	sessions     domain.SessionStore
	ttl          time.Duration
	now          func() time.Time
	logger       *log.Entry
}

// NewAuthenticator создаёт Authenticator. passwordHash — bcrypt-хеш пароля.
func NewAuthenticator(username, passwordHash string, sessions domain.SessionStore, opts ...Option) (*Authenticator, error) {
	if username == "" || passwordHash == "" {
		return nil, ErrNotConfigured
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("invalid admin password hash: %w", err)
	}
	a := &Authenticator{
		username:     username,
		passwordHash: []byte(passwordHash),
		sessions:     sessions,
		ttl:          DefaultSessionTTL,
		now:          time.Now,
		logger:       log.WithField("component", "auth"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// HashPassword возвращает bcrypt-хеш для конфигурации.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Login проверяет учётные данные и создаёт сессию.
func (a *Authenticator) Login(ctx context.Context, username, password string) (domain.Session, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	// Хеш сверяется всегда, чтобы время ответа не выдавало верный логин.
	passErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		a.logger.WithField("username", username).Warn("admin login rejected")
		return domain.Session{}, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return domain.Session{}, fmt.Errorf("generate session token: %w", err)
	}
	session := domain.Session{
		Token:     token,
		Username:  a.username,
		ExpiresAt: a.now().Add(a.ttl),
	}
	if err := a.sessions.Put(ctx, session); err != nil {
		return domain.Session{}, fmt.Errorf("store session: %w", err)
	}
	a.logger.WithField("username", a.username).Info("admin logged in")
	return session, nil
}

// Verify возвращает живую сессию по токену.
func (a *Authenticator) Verify(ctx context.Context, token string) (domain.Session, error) {
	if token == "" {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	session, err := a.sessions.Get(ctx, token)
	if err != nil {
		return domain.Session{}, err
	}
	if !a.now().Before(session.ExpiresAt) {
		_ = a.sessions.Delete(ctx, token)
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

// Logout удаляет сессию.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return a.sessions.Delete(ctx, token)
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
