package indexer

import (
	"context"
	"log/slog"
	"time"

	"parley/internal/database"
)

const (
	relayBatchSize  = 100
	outboxRetention = 24 * time.Hour
)

// Relay moves committed outbox rows onto the queue. Rows are marked dispatched
// only after a successful enqueue, so a crash in between is retried by the
// next sweep: indexing is at-least-once, never coupled to the send path.
// Enqueuer is the queue surface the relay needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

type Relay struct {
	db       *database.Database
	queue    Enqueuer
	interval time.Duration
}

func NewRelay(db *database.Database, queue Enqueuer, interval time.Duration) *Relay {
	return &Relay{db: db, queue: queue, interval: interval}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil {
				slog.Error("outbox sweep failed", "err", err)
			}
		}
	}
}

func (r *Relay) sweep(ctx context.Context) error {
	var entries []database.OutboxEntry
	err := r.db.WithContext(ctx).
		Where("dispatched_at IS NULL").
		Order("created_at ASC").
		Limit(relayBatchSize).
		Find(&entries).Error
	if err != nil {
		return err
	}

	for _, entry := range entries {
		job := Job{
			MessageID:   entry.MessageID,
			Content:     entry.Content,
			MessageType: entry.MessageType,
		}
		if err := r.queue.Enqueue(ctx, job); err != nil {
			// Leave the row undispatched; the next sweep retries it.
			slog.Error("failed to relay outbox entry", "message", entry.MessageID, "err", err)
			continue
		}
		now := time.Now().UTC()
		if err := r.db.WithContext(ctx).Model(&database.OutboxEntry{}).
			Where("id = ?", entry.ID).
			Update("dispatched_at", now).Error; err != nil {
			// Worst case the entry is enqueued twice; index upsert is
			// idempotent per message id.
			slog.Warn("failed to mark outbox entry dispatched", "message", entry.MessageID, "err", err)
		}
	}

	return r.prune(ctx)
}

func (r *Relay) prune(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-outboxRetention)
	return r.db.WithContext(ctx).
		Where("dispatched_at IS NOT NULL AND dispatched_at < ?", cutoff).
		Delete(&database.OutboxEntry{}).Error
}
