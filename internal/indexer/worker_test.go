package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"parley/internal/database"
	"parley/internal/search"
)

type fakeJobQueue struct {
	retried   []Job
	completed []Job
	again     bool
}

func (q *fakeJobQueue) Dequeue(ctx context.Context, timeout time.Duration) (Job, bool, error) {
	return Job{}, false, nil
}

func (q *fakeJobQueue) Retry(ctx context.Context, job Job) (bool, error) {
	q.retried = append(q.retried, job)
	return q.again, nil
}

func (q *fakeJobQueue) Complete(ctx context.Context, job Job) error {
	q.completed = append(q.completed, job)
	return nil
}

type fakeMessages struct {
	messages map[string]*database.Message
}

func (m *fakeMessages) GetMessage(ctx context.Context, messageID string) (*database.Message, error) {
	if msg, ok := m.messages[messageID]; ok {
		return msg, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type countingEmbedder struct {
	calls  int
	vector []float64
	err    error
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

type fakeIndex struct {
	docs []search.Document
	err  error
}

func (x *fakeIndex) Upsert(ctx context.Context, doc search.Document) error {
	if x.err != nil {
		return x.err
	}
	x.docs = append(x.docs, doc)
	return nil
}

func (x *fakeIndex) Query(ctx context.Context, vector []float64, conversationIDs []string, limit int) ([]search.Hit, error) {
	return nil, nil
}

func newWorkerFixture() (*Worker, *fakeJobQueue, *fakeMessages, *countingEmbedder, *fakeIndex) {
	queue := &fakeJobQueue{again: true}
	messages := &fakeMessages{messages: map[string]*database.Message{}}
	embedder := &countingEmbedder{vector: []float64{0.1, 0.2}}
	index := &fakeIndex{}
	return NewWorker(queue, messages, embedder, index), queue, messages, embedder, index
}

func TestProcessIndexesTextMessage(t *testing.T) {
	worker, queue, messages, embedder, index := newWorkerFixture()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	messages.messages["m1"] = &database.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "u1",
		Content:        "hello world",
		MessageType:    database.MessageTypeText,
		CreatedAt:      created,
	}

	worker.process(context.Background(), Job{
		MessageID:   "m1",
		Content:     "hello world",
		MessageType: database.MessageTypeText,
	})

	assert.Equal(t, 1, embedder.calls)
	require.Len(t, index.docs, 1)
	doc := index.docs[0]
	assert.Equal(t, "m1", doc.MessageID)
	assert.Equal(t, "c1", doc.ConversationID)
	assert.Equal(t, "u1", doc.SenderID)
	assert.Equal(t, created.Unix(), doc.CreatedAt)
	assert.Equal(t, []float64{0.1, 0.2}, doc.Embedding)

	assert.Len(t, queue.completed, 1)
	assert.Empty(t, queue.retried)
}

func TestProcessSkipsNonTextContent(t *testing.T) {
	worker, queue, _, embedder, index := newWorkerFixture()

	worker.process(context.Background(), Job{
		MessageID:   "m1",
		Content:     "https://example.com/cat.png",
		MessageType: database.MessageTypeImage,
	})

	assert.Equal(t, 0, embedder.calls)
	assert.Empty(t, index.docs)
	assert.Len(t, queue.completed, 1)
}

func TestProcessCompletesMissingMessage(t *testing.T) {
	worker, queue, _, embedder, _ := newWorkerFixture()

	// The message was deleted (or never committed); retrying cannot help.
	worker.process(context.Background(), Job{
		MessageID:   "gone",
		Content:     "orphan",
		MessageType: database.MessageTypeText,
	})

	assert.Equal(t, 0, embedder.calls)
	assert.Len(t, queue.completed, 1)
	assert.Empty(t, queue.retried)
}

func TestProcessRetriesOnEmbeddingFailure(t *testing.T) {
	worker, queue, messages, embedder, index := newWorkerFixture()
	messages.messages["m1"] = &database.Message{
		ID: "m1", ConversationID: "c1", SenderID: "u1",
		Content: "hello", MessageType: database.MessageTypeText,
	}
	embedder.err = context.DeadlineExceeded

	worker.process(context.Background(), Job{
		MessageID: "m1", Content: "hello", MessageType: database.MessageTypeText,
	})

	assert.Empty(t, index.docs)
	assert.Empty(t, queue.completed)
	require.Len(t, queue.retried, 1)
	assert.Equal(t, "m1", queue.retried[0].MessageID)
}

func TestProcessRetriesOnIndexFailure(t *testing.T) {
	worker, queue, messages, _, index := newWorkerFixture()
	messages.messages["m1"] = &database.Message{
		ID: "m1", ConversationID: "c1", SenderID: "u1",
		Content: "hello", MessageType: database.MessageTypeText,
	}
	index.err = context.DeadlineExceeded

	worker.process(context.Background(), Job{
		MessageID: "m1", Content: "hello", MessageType: database.MessageTypeText,
	})

	assert.Empty(t, queue.completed)
	assert.Len(t, queue.retried, 1)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	worker, _, _, _, _ := newWorkerFixture()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
