package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const defaultBatchSize = 100

// Store is the slice of outbox persistence the worker needs.
type Store interface {
	FetchUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Worker drains the outbox on an interval. Delivery is at-least-once: a crash
// between Publish and MarkPublished redelivers, which the event keys make
// safe for consumers to dedupe.
type Worker struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewWorker(store Store, publisher Publisher, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: defaultBatchSize,
		logger:    logger,
	}
}

// Run blocks until ctx is done, draining on every tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drain(ctx); err != nil {
				w.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

func (w *Worker) drain(ctx context.Context) error {
	for {
		events, err := w.store.FetchUnpublished(ctx, w.batchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		if err := w.publisher.Publish(ctx, events); err != nil {
			return err
		}

		ids := make([]uuid.UUID, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		if err := w.store.MarkPublished(ctx, ids); err != nil {
			return err
		}
		w.logger.InfoContext(ctx, "outbox batch published", "count", len(events))

		if len(events) < w.batchSize {
			return nil
		}
	}
}
