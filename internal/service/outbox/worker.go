// Package outbox доставляет события заказов из transactional outbox в Kafka.
//
// Worker опрашивает репозиторий, каждое событие публикует с экспоненциальным
// backoff и после исчерпания попыток отправляет его в DLQ, помечая failed.
// Остановка ctx посреди ретраев оставляет событие pending до следующего запуска.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithClock подменяет часы для возраста backlog и отметки времени в DLQ.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithDLQPublisher включает отправку в DLQ. Без него событие просто помечается failed.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) { w.pollInterval = interval }
}

func WithBatchSize(n int) Option {
	return func(w *Worker) { w.batchSize = n }
}

// WithMaxAttempts задаёт число публикаций одного события до DLQ.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) { w.maxAttempts = n }
}

// WithRetryBaseDelay задаёт первую паузу; каждая следующая вдвое длиннее. 0 отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retry.base = delay }
}

// WithRetryJitter добавляет случайный разброс пауз, доля от 0 до 1.
func WithRetryJitter(factor float64) Option {
	return func(w *Worker) { w.retry.jitter = factor }
}

// Worker публикует pending-события outbox.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher

	logger  *log.Entry
	metrics *metrics.OutboxMetrics
	now     func() time.Time

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retry        retryPolicy
}

// BatchResult — итог одного цикла опроса.
type BatchResult struct {
	Sent   int
	Failed int
	// Deferred — события, оставленные pending из-за остановки.
	Deferred int
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		now:          time.Now,
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		retry:        retryPolicy{base: defaultRetryBaseDelay, max: maxRetryDelay},
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	w.retry.normalize()
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if res := w.ProcessOnce(ctx); res.Sent+res.Failed > 0 {
			w.logger.WithFields(log.Fields{"sent": res.Sent, "failed": res.Failed}).Debug("outbox batch delivered")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает один батч и доставляет его.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var res BatchResult
	if ctx.Err() != nil {
		return res
	}

	w.refreshBacklogMetrics()
	defer w.refreshBacklogMetrics()

	batch, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return res
	}

	for i, event := range batch {
		if ctx.Err() != nil {
			res.Deferred += len(batch) - i
			break
		}
		switch w.deliver(ctx, event) {
		case deliverySent:
			res.Sent++
		case deliveryFailed:
			res.Failed++
		case deliveryDeferred:
			res.Deferred++
		}
	}
	return res
}

type delivery int

const (
	deliverySent delivery = iota
	deliveryFailed
	deliveryDeferred
)

func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) delivery {
	entry := w.logger.WithFields(log.Fields{"outbox_id": event.ID, "event_type": event.EventType})

	err := w.publishWithRetry(ctx, event)
	switch {
	case err == nil:
		if markErr := w.repo.MarkSent(event.ID); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark outbox as sent")
		}
		return deliverySent
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		entry.Debug("outbox delivery interrupted, event stays pending")
		return deliveryDeferred
	}

	entry.WithError(err).Error("outbox publish failed after retries")
	w.metrics.RecordAttempt(metrics.PublishFailed)
	if dlqErr := w.sendToDLQ(event, err); dlqErr != nil {
		entry.WithError(dlqErr).Warn("failed to publish to DLQ")
		w.metrics.RecordAttempt(metrics.PublishDLQFailed)
	}
	if markErr := w.repo.MarkFailed(event.ID); markErr != nil {
		entry.WithError(markErr).Warn("failed to mark outbox as failed")
	}
	return deliveryFailed
}

func (w *Worker) refreshBacklogMetrics() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}

// sendToDLQ сохраняет исходный payload внутри domain.OutboxDeadLetter под тем же ID.
func (w *Worker) sendToDLQ(event domain.OutboxMessage, cause error) error {
	if w.dlq == nil {
		return nil
	}

	payload, err := json.Marshal(domain.OutboxDeadLetter{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		PublishError:   cause.Error(),
		DLQPublishedAt: w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	letter := event
	letter.Payload = payload
	if err := w.dlq.Publish(letter); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
