package indexer

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"parley/internal/database"
	"parley/internal/search"
)

const dequeueTimeout = time.Second

// MessageSource loads message metadata for index documents. Satisfied by the
// chat repository.
type MessageSource interface {
	GetMessage(ctx context.Context, messageID string) (*database.Message, error)
}

// Embedder is the provider-facing seam, satisfied by EmbeddingService.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// JobQueue is the queue surface a worker needs.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (Job, bool, error)
	Retry(ctx context.Context, job Job) (bool, error)
	Complete(ctx context.Context, job Job) error
}

// Worker consumes indexing jobs one at a time. Multiple workers may run in
// parallel; there is no ordering requirement between independent messages.
// Worker failures degrade searchability only; delivery already happened.
type Worker struct {
	queue    JobQueue
	messages MessageSource
	embedder Embedder
	index    search.Index
}

func NewWorker(queue JobQueue, messages MessageSource, embedder Embedder, index search.Index) *Worker {
	return &Worker{queue: queue, messages: messages, embedder: embedder, index: index}
}

func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("dequeue failed", "err", err)
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	// Non-text content is not embeddable; complete as a no-op.
	if job.MessageType != database.MessageTypeText {
		w.complete(ctx, job)
		return
	}

	message, err := w.messages.GetMessage(ctx, job.MessageID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			slog.Warn("indexing job references missing message", "message", job.MessageID)
			w.complete(ctx, job)
			return
		}
		w.retry(ctx, job, err)
		return
	}

	vector, err := w.embedder.Embed(ctx, job.Content)
	if err != nil {
		w.retry(ctx, job, err)
		return
	}

	doc := search.Document{
		MessageID:      message.ID,
		Content:        job.Content,
		SenderID:       message.SenderID,
		ConversationID: message.ConversationID,
		MessageType:    message.MessageType,
		CreatedAt:      message.CreatedAt.Unix(),
		Embedding:      vector,
	}
	if err := w.index.Upsert(ctx, doc); err != nil {
		w.retry(ctx, job, err)
		return
	}

	w.complete(ctx, job)
	slog.Info("message indexed", "message", job.MessageID, "dims", len(vector))
}

func (w *Worker) retry(ctx context.Context, job Job, cause error) {
	again, err := w.queue.Retry(ctx, job)
	if err != nil {
		slog.Error("failed to schedule retry", "message", job.MessageID, "err", err)
		return
	}
	if again {
		slog.Warn("indexing attempt failed, will retry", "message", job.MessageID, "attempt", job.Attempts+1, "err", cause)
	} else {
		slog.Error("indexing job exhausted retries", "message", job.MessageID, "err", cause)
	}
}

func (w *Worker) complete(ctx context.Context, job Job) {
	if err := w.queue.Complete(ctx, job); err != nil {
		slog.Warn("failed to record completed job", "message", job.MessageID, "err", err)
	}
}
