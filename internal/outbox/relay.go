package outbox

import (
	"context"
	"log/slog"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

type source interface {
	Pending(ctx context.Context, limit int) ([]Message, error)
	MarkSent(ctx context.Context, id int64) error
}

// Relay forwards committed outbox rows to the broker. Delivery is
// at-least-once: a crash between publish and MarkSent resends the row.
type Relay struct {
	store     source
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(store *Store, publisher Publisher, logger *slog.Logger, interval time.Duration) *Relay {
	return &Relay{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: 100,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Flush(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("outbox flush failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch in order and stops at the first publish failure
// so later events for the same order are not sent ahead of it.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	messages, err := r.store.Pending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, m := range messages {
		if err := r.publisher.Publish(ctx, m.Topic, m.Key, m.Payload); err != nil {
			return sent, err
		}
		if err := r.store.MarkSent(ctx, m.ID); err != nil {
			return sent, err
		}
		sent++
	}

	if sent > 0 {
		r.logger.Info("outbox relayed", "count", sent)
	}
	return sent, nil
}
