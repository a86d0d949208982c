// Package postgres хранит заказы, каталог, историю и outbox витрины в PostgreSQL.
//
// Соединения идут через database/sql с драйвером pgx/stdlib; схема ведётся
// встроенными миграциями (см. migrator.go).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	connectTimeout = 5 * time.Second
	// opTimeout ограничивает одиночный запрос репозитория.
	opTimeout = 5 * time.Second
)

var errStoreClosed = errors.New("postgres store is not initialized")

// PoolConfig задаёт размер пула. Нулевые поля оставляют значения по умолчанию.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func defaultPool() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func (p PoolConfig) merge(over PoolConfig) PoolConfig {
	if over.MaxOpenConns > 0 {
		p.MaxOpenConns = over.MaxOpenConns
	}
	if over.MaxIdleConns > 0 {
		p.MaxIdleConns = over.MaxIdleConns
	}
	if over.ConnMaxLifetime > 0 {
		p.ConnMaxLifetime = over.ConnMaxLifetime
	}
	if over.ConnMaxIdleTime > 0 {
		p.ConnMaxIdleTime = over.ConnMaxIdleTime
	}
	p.MaxIdleConns = min(p.MaxIdleConns, p.MaxOpenConns)
	return p
}

func (p PoolConfig) apply(db *sql.DB) {
	db.SetMaxOpenConns(p.MaxOpenConns)
	db.SetMaxIdleConns(p.MaxIdleConns)
	db.SetConnMaxLifetime(p.ConnMaxLifetime)
	db.SetConnMaxIdleTime(p.ConnMaxIdleTime)
}

// OpenOption настраивает Open.
type OpenOption func(*PoolConfig)

// WithPool переопределяет ненулевые параметры пула.
func WithPool(p PoolConfig) OpenOption {
	return func(cfg *PoolConfig) { *cfg = cfg.merge(p) }
}

// Store владеет пулом соединений; репозитории пакета строятся поверх него.
type Store struct {
	db *sql.DB
}

// Open подключается по dsn и проверяет, что база отвечает.
func Open(ctx context.Context, dsn string, opts ...OpenOption) (*Store, error) {
	pool := defaultPool()
	for _, opt := range opts {
		opt(&pool)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	pool.apply(db)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB отдаёт пул для запросов, которым не хватает репозиториев.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping ограничен connectTimeout, чтобы health check не висел на мёртвом соединении.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, opTimeout)
}
