// Package cleanup периодически удаляет истёкшие записи из in-memory хранилищ:
// сессии администраторов и простаивающие машины оформления.
package cleanup

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fluidstore/internal/metrics"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultBatchSize = 500
)

// Target удаляет не более limit записей, истёкших к моменту before.
type Target interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval задаёт интервал между прогонами.
func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт размер порции удаления.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.CleanupMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithTarget добавляет цель очистки под именем name.
func WithTarget(name string, target Target) Option {
	return func(w *Worker) {
		if target != nil {
			w.targets = append(w.targets, namedTarget{name: name, target: target})
		}
	}
}

type namedTarget struct {
	name   string
	target Target
}

// Worker обходит цели по таймеру.
type Worker struct {
	targets   []namedTarget
	logger    *log.Entry
	metrics   *metrics.CleanupMetrics
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewWorker создаёт воркер очистки.
func NewWorker(options ...Option) *Worker {
	w := &Worker{
		logger:    log.WithField("component", "cleanup-worker"),
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run выполняет очистку сразу и затем каждые interval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if len(w.targets) == 0 {
		w.logger.Debug("cleanup worker has no targets")
		return
	}

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce проходит все цели один раз и возвращает суммарное число удалённых записей.
func (w *Worker) RunOnce(ctx context.Context) int {
	before := w.now()
	total := 0
	for _, t := range w.targets {
		deleted, err := w.drain(ctx, t.target, before)
		total += deleted
		if errors.Is(err, context.Canceled) {
			return total
		}
		w.metrics.RecordRun(t.name, deleted, err)
		if err != nil {
			w.logger.WithError(err).WithField("target", t.name).Warn("cleanup run failed")
			continue
		}
		if deleted > 0 {
			w.logger.WithFields(log.Fields{"target": t.name, "deleted": deleted}).Info("cleanup completed")
		}
	}
	return total
}

// drain удаляет порциями, пока цель возвращает полную порцию.
func (w *Worker) drain(ctx context.Context, target Target, before time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := target.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < w.batchSize {
			return total, nil
		}
	}
}
