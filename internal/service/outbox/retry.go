package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/vladislavdragonenkov/fluidstore/internal/domain"
	"github.com/vladislavdragonenkov/fluidstore/internal/metrics"
)

// retryPolicy описывает паузы между публикациями одного события.
type retryPolicy struct {
	base   time.Duration
	max    time.Duration
	jitter float64
}

func (p *retryPolicy) normalize() {
	if p.base < 0 {
		p.base = 0
	}
	if p.max < p.base {
		p.max = p.base
	}
	if p.jitter < 0 || p.jitter > 1 {
		p.jitter = 0
	}
}

// newBackOff возвращает свежую последовательность пауз: base, 2*base, 4*base и так до max.
func (p retryPolicy) newBackOff() backoff.BackOff {
	if p.base == 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.base
	b.Multiplier = 2
	b.RandomizationFactor = p.jitter
	b.MaxInterval = p.max
	b.Reset()
	return b
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := w.publisher.Publish(event); err != nil {
			w.metrics.RecordAttempt(metrics.PublishRetryError)
			return struct{}{}, err
		}
		w.metrics.RecordAttempt(metrics.PublishSent)
		return struct{}{}, nil
	},
		backoff.WithBackOff(w.retry.newBackOff()),
		backoff.WithMaxTries(uint(w.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, err)
	}
	return err
}
