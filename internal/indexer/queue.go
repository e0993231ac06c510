package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keepCompleted = 100
	keepFailed    = 50
)

// promoteScript moves one delayed member onto the wait list only if this
// caller is the one that removed it, so concurrent promoters never duplicate
// a job.
var promoteScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 1 then
	redis.call("LPUSH", KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// Job is one unit of indexing work: embed a message's content and write the
// index document.
type Job struct {
	MessageID   string `json:"messageId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	Attempts    int    `json:"attempts"`
}

// Queue is a durable redis-backed job queue. Dequeued jobs sit on an active
// list until acknowledged by Complete or Retry, so a worker crash never loses
// a claimed job: Recover sweeps the active list back to wait on startup.
// Failed jobs are parked in a delayed set and promoted back to the wait list
// when their backoff expires; jobs that exhaust their attempts land on a
// capped failed list.
type Queue struct {
	client *redis.Client
	name   string

	maxAttempts int
	baseBackoff time.Duration
}

func NewQueue(client *redis.Client, name string, maxAttempts int, baseBackoff time.Duration) *Queue {
	return &Queue{
		client:      client,
		name:        name,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
	}
}

func (q *Queue) waitKey() string      { return "queue:" + q.name + ":wait" }
func (q *Queue) activeKey() string    { return "queue:" + q.name + ":active" }
func (q *Queue) delayedKey() string   { return "queue:" + q.name + ":delayed" }
func (q *Queue) completedKey() string { return "queue:" + q.name + ":completed" }
func (q *Queue) failedKey() string    { return "queue:" + q.name + ":failed" }

func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.waitKey(), raw).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Dequeue promotes any due delayed jobs, then blocks briefly for the next
// waiting job, moving it onto the active list in the same operation. ok is
// false when the timeout elapsed with nothing to do. The job stays active
// until Complete or Retry acknowledges it.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Job, bool, error) {
	if err := q.promoteDue(ctx); err != nil {
		return Job{}, false, err
	}

	res, err := q.client.BLMove(ctx, q.waitKey(), q.activeKey(), "RIGHT", "LEFT", timeout).Result()
	if err == redis.Nil {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("failed to dequeue job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(res), &job); err != nil {
		return Job{}, false, fmt.Errorf("failed to decode job: %w", err)
	}
	return job, true, nil
}

// Recover moves jobs a previous process left on the active list back to the
// wait list. Called once on startup, before workers begin claiming.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.activeKey(), q.waitKey(), "RIGHT", "LEFT").Err()
		if err == redis.Nil {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover stalled job: %w", err)
		}
		moved++
	}
}

// promoteDue moves delayed jobs whose backoff has expired back onto the wait
// list.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	for _, raw := range due {
		keys := []string{q.delayedKey(), q.waitKey()}
		if err := promoteScript.Run(ctx, q.client, keys, raw).Err(); err != nil {
			return fmt.Errorf("failed to promote delayed job: %w", err)
		}
	}
	return nil
}

// Retry reschedules the job with exponential backoff, or parks it on the
// failed list once the attempt ceiling is reached, then acknowledges the
// active entry. On error the job stays active and Recover requeues it, so a
// transient redis failure here cannot lose the job. Returns whether another
// attempt will happen.
func (q *Queue) Retry(ctx context.Context, job Job) (bool, error) {
	claimed, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to encode job: %w", err)
	}

	job.Attempts++
	if job.Attempts >= q.maxAttempts {
		if err := q.record(ctx, q.failedKey(), job, keepFailed); err != nil {
			return false, err
		}
		return false, q.ack(ctx, claimed)
	}

	// 2s, 4s, 8s, ... per Attempts
	delay := q.baseBackoff << (job.Attempts - 1)
	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to encode job: %w", err)
	}
	err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: raw,
	}).Err()
	if err != nil {
		return false, fmt.Errorf("failed to schedule retry: %w", err)
	}
	return true, q.ack(ctx, claimed)
}

// Complete records the job on the completed list and acknowledges the active
// entry.
func (q *Queue) Complete(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.record(ctx, q.completedKey(), job, keepCompleted); err != nil {
		return err
	}
	return q.ack(ctx, raw)
}

// ack drops the claimed entry from the active list. Job encoding is
// deterministic, so the claimed bytes match what Dequeue moved there.
func (q *Queue) ack(ctx context.Context, raw []byte) error {
	if err := q.client.LRem(ctx, q.activeKey(), 1, raw).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge job: %w", err)
	}
	return nil
}

// record appends the job to a bookkeeping list capped at keep entries.
func (q *Queue) record(ctx context.Context, key string, job Job, keep int64) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}
