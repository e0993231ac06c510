package indexer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const popTimeout = 50 * time.Millisecond

func testQueue(t *testing.T, maxAttempts int, backoff time.Duration) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewQueue(client, "test", maxAttempts, backoff), client
}

func listLen(t *testing.T, client *redis.Client, key string) int64 {
	t.Helper()
	n, err := client.LLen(context.Background(), key).Result()
	require.NoError(t, err)
	return n
}

func TestEnqueueDequeueComplete(t *testing.T) {
	q, client := testQueue(t, 3, time.Second)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{MessageID: "m1", Content: "hello", MessageType: "text"}))

	job, ok, err := q.Dequeue(ctx, popTimeout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m1", job.MessageID)
	assert.Equal(t, 0, job.Attempts)

	// Claimed, not gone: the job sits on the active list until acknowledged.
	assert.EqualValues(t, 0, listLen(t, client, q.waitKey()))
	assert.EqualValues(t, 1, listLen(t, client, q.activeKey()))

	require.NoError(t, q.Complete(ctx, job))
	assert.EqualValues(t, 0, listLen(t, client, q.activeKey()))
	assert.EqualValues(t, 1, listLen(t, client, q.completedKey()))

	_, ok, err = q.Dequeue(ctx, popTimeout)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimedJobSurvivesCrash(t *testing.T) {
	q, client := testQueue(t, 3, time.Second)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{MessageID: "m1", Content: "hello", MessageType: "text"}))

	// Claim the job and then never acknowledge it, as a crashed worker would.
	_, ok, err := q.Dequeue(ctx, popTimeout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, listLen(t, client, q.activeKey()))

	requeued, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.EqualValues(t, 0, listLen(t, client, q.activeKey()))

	job, ok, err := q.Dequeue(ctx, popTimeout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m1", job.MessageID)
}

func TestRetryFailureLeavesJobClaimed(t *testing.T) {
	q, client := testQueue(t, 3, time.Second)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{MessageID: "m1", Content: "hello", MessageType: "text"}))
	job, ok, err := q.Dequeue(ctx, popTimeout)
	require.NoError(t, err)
	require.True(t, ok)

	// Rescheduling fails mid-flight; the claim must not be released.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = q.Retry(cancelled, job)
	require.Error(t, err)

	assert.EqualValues(t, 1, listLen(t, client, q.activeKey()))

	requeued, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
}

func TestRetryBackoffUntilCeiling(t *testing.T) {
	q, client := testQueue(t, 3, 5*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{MessageID: "m1", Content: "hello", MessageType: "text"}))

	job, ok, err := q.Dequeue(ctx, popTimeout)
	require.NoError(t, err)
	require.True(t, ok)

	// First failure: delayed, claim released.
	again, err := q.Retry(ctx, job)
	require.NoError(t, err)
	assert.True(t, again)
	assert.EqualValues(t, 0, listLen(t, client, q.activeKey()))

	delayed, err := client.ZCard(ctx, q.delayedKey()).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, delayed)

	// Backoff expires; the job comes back with its attempt count.
	time.Sleep(15 * time.Millisecond)
	job, ok, err = q.Dequeue(ctx, popTimeout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, job.Attempts)

	again, err = q.Retry(ctx, job)
	require.NoError(t, err)
	assert.True(t, again)

	time.Sleep(25 * time.Millisecond)
	job, ok, err = q.Dequeue(ctx, popTimeout)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, job.Attempts)

	// Third failure reaches the ceiling: parked on the failed list.
	again, err = q.Retry(ctx, job)
	require.NoError(t, err)
	assert.False(t, again)
	assert.EqualValues(t, 1, listLen(t, client, q.failedKey()))
	assert.EqualValues(t, 0, listLen(t, client, q.activeKey()))

	delayed, err = client.ZCard(ctx, q.delayedKey()).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, delayed)

	_, ok, err = q.Dequeue(ctx, popTimeout)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentPromotionDoesNotDuplicate(t *testing.T) {
	q, client := testQueue(t, 3, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{MessageID: "m1", Content: "hello", MessageType: "text"}))
	job, ok, err := q.Dequeue(ctx, popTimeout)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = q.Retry(ctx, job)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := q.promoteDue(ctx); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, listLen(t, client, q.waitKey()))
}

func TestBookkeepingRetention(t *testing.T) {
	q, client := testQueue(t, 1, time.Second)
	ctx := context.Background()

	for i := 0; i < keepCompleted+10; i++ {
		require.NoError(t, q.Complete(ctx, Job{MessageID: fmt.Sprintf("c%d", i)}))
	}
	assert.EqualValues(t, keepCompleted, listLen(t, client, q.completedKey()))

	// maxAttempts 1: every retry goes straight to the failed list.
	for i := 0; i < keepFailed+10; i++ {
		again, err := q.Retry(ctx, Job{MessageID: fmt.Sprintf("f%d", i)})
		require.NoError(t, err)
		assert.False(t, again)
	}
	assert.EqualValues(t, keepFailed, listLen(t, client, q.failedKey()))
}
