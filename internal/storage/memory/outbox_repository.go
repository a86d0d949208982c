package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
)

const defaultOutboxPullLimit = 100

type queuedEvent struct {
	msg      domain.OutboxMessage
	queuedAt time.Time
}

// OutboxRepository — очередь outbox в памяти процесса. Отправленные и
// проваленные события удаляются сразу: в памяти некому читать их историю.
type OutboxRepository struct {
	mu sync.Mutex
	// queue хранит pending-события в порядке Enqueue.
	queue []queuedEvent
	index map[string]struct{}
	now   func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		index: make(map[string]struct{}),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, dup := r.index[msg.ID]; dup {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: id %s already pending", msg.ID)
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	r.queue = append(r.queue, queuedEvent{msg: msg, queuedAt: r.now()})
	r.index[msg.ID] = struct{}{}
	return msg, nil
}

// PullPending отдаёт голову очереди, не удаляя её.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(limit), nil
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := domain.OutboxStats{PendingCount: len(r.queue)}
	if len(r.queue) > 0 {
		stats.OldestPendingAt = r.queue[0].queuedAt
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error   { return r.finish(id) }
func (r *OutboxRepository) MarkFailed(id string) error { return r.finish(id) }

func (r *OutboxRepository) finish(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[id]; !ok {
		return fmt.Errorf("%w: outbox %s is not pending", domain.ErrOutboxPublish, id)
	}
	delete(r.index, id)
	for i := range r.queue {
		if r.queue[i].msg.ID == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			break
		}
	}
	return nil
}

// AllPending возвращает копию всей очереди.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(len(r.queue))
}

func (r *OutboxRepository) snapshotLocked(limit int) []domain.OutboxMessage {
	n := min(limit, len(r.queue))
	out := make([]domain.OutboxMessage, n)
	for i := range n {
		out[i] = r.queue[i].msg
	}
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
