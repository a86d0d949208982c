package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

const (
	defaultPullLimit = 100
	// defaultClaimLease — сколько строка скрыта от других реплик после выборки.
	// Если реплика упала, не отметив событие, оно вернётся в выборку по истечении lease.
	defaultClaimLease = time.Minute
)

const (
	insertOutboxSQL = `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $6)`

	// claimPendingSQL забирает батч и продлевает lease одной командой;
	// SKIP LOCKED не даёт двум репликам взять одни и те же строки.
	claimPendingSQL = `
		WITH batch AS (
			SELECT id
			FROM outbox_messages
			WHERE status = 'pending'
			  AND (claimed_until IS NULL OR claimed_until <= $1)
			ORDER BY created_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_messages AS o
		SET claimed_until = $3
		FROM batch
		WHERE o.id = batch.id
		RETURNING o.id, o.aggregate_type, o.aggregate_id, o.event_type, o.payload, o.created_at`

	pendingStatsSQL = `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = 'pending'`

	finishOutboxSQL = `
		UPDATE outbox_messages
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    claimed_until = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = 'pending'`
)

const (
	outboxSent   = "sent"
	outboxFailed = "failed"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type outboxRepository struct {
	db    *sql.DB
	lease time.Duration
	now   func() time.Time
}

// NewOutboxRepository создаёт очередь transactional outbox поверх таблицы outbox_messages.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB(), lease: defaultClaimLease, now: time.Now}
}

// insertOutbox пишет событие через e: пул или транзакцию, в которой сохраняется заказ.
func insertOutbox(ctx context.Context, e execer, msg domain.OutboxMessage, at time.Time) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, err := e.ExecContext(ctx, insertOutboxSQL,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, at,
	); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}
	return msg, nil
}

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := withTimeout(context.Background())
	defer cancel()
	return insertOutbox(ctx, r.db, msg, r.now().UTC())
}

// PullPending захватывает до limit событий в порядке создания.
func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultPullLimit
	}
	ctx, cancel := withTimeout(context.Background())
	defer cancel()

	now := r.now().UTC()
	rows, err := r.db.QueryContext(ctx, claimPendingSQL, now, limit, now.Add(r.lease))
	if err != nil {
		return nil, fmt.Errorf("claim pending outbox messages: %w", err)
	}
	defer rows.Close()

	type claimed struct {
		msg     domain.OutboxMessage
		created time.Time
	}
	var batch []claimed
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.msg.ID, &c.msg.AggregateType, &c.msg.AggregateID, &c.msg.EventType, &c.msg.Payload, &c.created); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	// RETURNING не сохраняет порядок подзапроса.
	slices.SortFunc(batch, func(a, b claimed) int {
		if c := a.created.Compare(b.created); c != 0 {
			return c
		}
		return strings.Compare(a.msg.ID, b.msg.ID)
	})

	out := make([]domain.OutboxMessage, len(batch))
	for i, c := range batch {
		out[i] = c.msg
	}
	return out, nil
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := withTimeout(context.Background())
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, pendingStatsSQL).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error   { return r.finish(id, outboxSent) }
func (r *outboxRepository) MarkFailed(id string) error { return r.finish(id, outboxFailed) }

// finish переводит pending-событие в конечный статус и снимает lease.
// Для неизвестного или уже завершённого id возвращается domain.ErrOutboxPublish.
func (r *outboxRepository) finish(id, status string) error {
	ctx, cancel := withTimeout(context.Background())
	defer cancel()

	res, err := r.db.ExecContext(ctx, finishOutboxSQL, id, status, r.now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox %s as %s: %w", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox %s as %s: %w", id, status, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: outbox %s is not pending", domain.ErrOutboxPublish, id)
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
