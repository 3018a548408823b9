package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// opTimeout bounds individual queue admin operations.
const opTimeout = 5 * time.Second

// ErrDuplicate is returned when a job with the same id is already queued or
// in flight.
var ErrDuplicate = errors.New("duplicate job id")

// Options control retry behavior for a job.
type Options struct {
	// Attempts is the total number of tries (first run included).
	Attempts int
	// BackoffBase is the exponential backoff start: base × 2^(attempt-1).
	BackoffBase time.Duration
	// LockDuration is how long a claimed job may run before it is
	// considered stalled.
	LockDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = 1
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.LockDuration <= 0 {
		o.LockDuration = MonitorLockDuration
	}
	return o
}

// Job is one queued unit of work.
type Job struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`

	Attempt      int           `json:"attempt"`
	MaxAttempts  int           `json:"maxAttempts"`
	BackoffBase  time.Duration `json:"backoffBase"`
	LockDuration time.Duration `json:"lockDuration"`
	StalledCount int           `json:"stalledCount"`

	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Queue is one named Redis-backed queue. Jobs wait in a list, move to an
// active list while claimed, and park in a sorted set while backing off.
type Queue struct {
	name   string
	client *redis.Client
	now    func() time.Time
}

// New creates a handle on a named queue.
func New(name string, client *redis.Client) *Queue {
	return &Queue{name: name, client: client, now: time.Now}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) waitKey() string    { return "queue:" + q.name + ":wait" }
func (q *Queue) activeKey() string  { return "queue:" + q.name + ":active" }
func (q *Queue) delayedKey() string { return "queue:" + q.name + ":delayed" }
func (q *Queue) jobsKey() string    { return "queue:" + q.name + ":jobs" }
func (q *Queue) startedKey() string { return "queue:" + q.name + ":started" }
func (q *Queue) failedKey() string  { return "queue:" + q.name + ":failed" }

// Enqueue adds a job under a caller-chosen id. A job id already present
// (waiting, delayed, or active) dedups the enqueue with ErrDuplicate.
func (q *Queue) Enqueue(ctx context.Context, jobID string, payload any, opts Options) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}
	opts = opts.withDefaults()
	job := Job{
		ID:           jobID,
		Payload:      body,
		Attempt:      0,
		MaxAttempts:  opts.Attempts,
		BackoffBase:  opts.BackoffBase,
		LockDuration: opts.LockDuration,
		EnqueuedAt:   q.now().UTC(),
	}
	envelope, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	added, err := q.client.HSetNX(ctx, q.jobsKey(), jobID, envelope).Result()
	if err != nil {
		return fmt.Errorf("enqueue %s on %s: %w", jobID, q.name, err)
	}
	if !added {
		return fmt.Errorf("%w: %s", ErrDuplicate, jobID)
	}
	if err := q.client.LPush(ctx, q.waitKey(), jobID).Err(); err != nil {
		return fmt.Errorf("push %s on %s: %w", jobID, q.name, err)
	}
	return nil
}

// Claim blocks up to wait for the next job, moving it to the active list.
// A nil job with nil error means the wait timed out.
func (q *Queue) Claim(ctx context.Context, wait time.Duration) (*Job, error) {
	jobID, err := q.client.BRPopLPush(ctx, q.waitKey(), q.activeKey(), wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", q.name, err)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	envelope, err := q.client.HGet(opCtx, q.jobsKey(), jobID).Result()
	if errors.Is(err, redis.Nil) {
		// Envelope vanished (cleanup raced the claim); drop the marker.
		q.client.LRem(opCtx, q.activeKey(), 1, jobID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(envelope), &job); err != nil {
		q.discard(opCtx, jobID)
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	job.Attempt++

	updated, _ := json.Marshal(job)
	pipe := q.client.Pipeline()
	pipe.HSet(opCtx, q.jobsKey(), jobID, updated)
	pipe.HSet(opCtx, q.startedKey(), jobID, q.now().UnixMilli())
	if _, err := pipe.Exec(opCtx); err != nil {
		return nil, fmt.Errorf("mark job %s active: %w", jobID, err)
	}
	return &job, nil
}

// Complete acknowledges a finished job and removes all of its state.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return q.discard(ctx, jobID)
}

// Fail records a failed attempt. Retryable jobs park in the delayed set
// with exponential backoff; exhausted (or explicitly terminal) jobs move to
// the failed list.
func (q *Queue) Fail(ctx context.Context, job *Job, terminal bool) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if terminal || job.Attempt >= job.MaxAttempts {
		return q.moveToFailed(ctx, job)
	}

	backoff := time.Duration(float64(job.BackoffBase) * math.Pow(2, float64(job.Attempt-1)))
	readyAt := q.now().Add(backoff)

	envelope, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.activeKey(), 1, job.ID)
	pipe.HDel(ctx, q.startedKey(), job.ID)
	pipe.HSet(ctx, q.jobsKey(), job.ID, envelope)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("park job %s for retry: %w", job.ID, err)
	}
	return nil
}

// PromoteDelayed moves due delayed jobs back onto the wait list. Returns how
// many were promoted.
func (q *Queue) PromoteDelayed(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", q.now().UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed on %s: %w", q.name, err)
	}
	for _, jobID := range due {
		pipe := q.client.Pipeline()
		pipe.ZRem(ctx, q.delayedKey(), jobID)
		pipe.LPush(ctx, q.waitKey(), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("promote job %s: %w", jobID, err)
		}
	}
	return len(due), nil
}

// RequeueStalled returns jobs whose claim outlived its lock to the wait
// list. A job that stalls more than MaxStalledCount times moves to failed.
func (q *Queue) RequeueStalled(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	active, err := q.client.LRange(ctx, q.activeKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("scan active on %s: %w", q.name, err)
	}

	requeued := 0
	for _, jobID := range active {
		startedRaw, err := q.client.HGet(ctx, q.startedKey(), jobID).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return requeued, fmt.Errorf("read start time for %s: %w", jobID, err)
		}
		var startedMilli int64
		if _, err := fmt.Sscanf(startedRaw, "%d", &startedMilli); err != nil {
			continue
		}

		envelope, err := q.client.HGet(ctx, q.jobsKey(), jobID).Result()
		if err != nil {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(envelope), &job); err != nil {
			continue
		}

		if q.now().Sub(time.UnixMilli(startedMilli)) < job.LockDuration {
			continue
		}

		job.StalledCount++
		if job.StalledCount > MaxStalledCount {
			if err := q.moveToFailed(ctx, &job); err != nil {
				return requeued, err
			}
			continue
		}
		// The claim increments Attempt; rewind so the retry does not burn
		// an attempt the handler never finished.
		job.Attempt--
		updated, _ := json.Marshal(job)
		pipe := q.client.Pipeline()
		pipe.LRem(ctx, q.activeKey(), 1, jobID)
		pipe.HDel(ctx, q.startedKey(), jobID)
		pipe.HSet(ctx, q.jobsKey(), jobID, updated)
		pipe.LPush(ctx, q.waitKey(), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return requeued, fmt.Errorf("requeue stalled job %s: %w", jobID, err)
		}
		requeued++
	}
	return requeued, nil
}

// Depth returns the number of waiting jobs.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return q.client.LLen(ctx, q.waitKey()).Result()
}

func (q *Queue) moveToFailed(ctx context.Context, job *Job) error {
	envelope, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.activeKey(), 1, job.ID)
	pipe.HDel(ctx, q.startedKey(), job.ID)
	pipe.HDel(ctx, q.jobsKey(), job.ID)
	pipe.LPush(ctx, q.failedKey(), envelope)
	pipe.LTrim(ctx, q.failedKey(), 0, RemoveOnFailCount-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	return nil
}

func (q *Queue) discard(ctx context.Context, jobID string) error {
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, q.activeKey(), 1, jobID)
	pipe.HDel(ctx, q.startedKey(), jobID)
	pipe.HDel(ctx, q.jobsKey(), jobID)
	pipe.ZRem(ctx, q.delayedKey(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("discard job %s: %w", jobID, err)
	}
	return nil
}
