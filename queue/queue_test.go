package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New("monitor-eu-central", client), mr
}

type testPayload struct {
	MonitorID string `json:"monitorId"`
}

func TestQueue_EnqueueClaimComplete(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "job-1", testPayload{MonitorID: "m1"}, MonitorJobOptions()); err != nil {
		t.Fatal(err)
	}
	depth, err := q.Depth(ctx)
	if err != nil || depth != 1 {
		t.Fatalf("depth = %d, %v", depth, err)
	}

	job, err := q.Claim(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.ID != "job-1" {
		t.Fatalf("claimed %+v", job)
	}
	if job.Attempt != 1 || job.MaxAttempts != MonitorAttempts {
		t.Errorf("attempt bookkeeping = %d/%d", job.Attempt, job.MaxAttempts)
	}
	var payload testPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.MonitorID != "m1" {
		t.Errorf("payload = %+v, %v", payload, err)
	}

	if err := q.Complete(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if again, _ := q.Claim(ctx, 50*time.Millisecond); again != nil {
		t.Errorf("completed job reappeared: %+v", again)
	}
}

func TestQueue_DedupByJobID(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "m1:group:eu-central", testPayload{}, MonitorJobOptions()); err != nil {
		t.Fatal(err)
	}
	err := q.Enqueue(ctx, "m1:group:eu-central", testPayload{}, MonitorJobOptions())
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
	if depth, _ := q.Depth(ctx); depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}

	// A completed job frees its id for re-enqueue.
	job, _ := q.Claim(ctx, 100*time.Millisecond)
	if err := q.Complete(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, "m1:group:eu-central", testPayload{}, MonitorJobOptions()); err != nil {
		t.Errorf("re-enqueue after completion: %v", err)
	}
}

func TestQueue_FailParksForRetryWithBackoff(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "job-1", testPayload{}, Options{Attempts: 3, BackoffBase: 2 * time.Second}); err != nil {
		t.Fatal(err)
	}
	job, _ := q.Claim(ctx, 100*time.Millisecond)
	if err := q.Fail(ctx, job, false); err != nil {
		t.Fatal(err)
	}

	// Not ready yet: still parked in the delayed set.
	if n, err := q.PromoteDelayed(ctx); err != nil || n != 0 {
		t.Errorf("early promotion = %d, %v", n, err)
	}
	if depth, _ := q.Depth(ctx); depth != 0 {
		t.Errorf("depth = %d, want 0 while backing off", depth)
	}

	// After the backoff window the job promotes.
	q.now = func() time.Time { return time.Now().Add(3 * time.Second) }
	if n, err := q.PromoteDelayed(ctx); err != nil || n != 1 {
		t.Fatalf("promotion = %d, %v", n, err)
	}
	retried, err := q.Claim(ctx, 100*time.Millisecond)
	if err != nil || retried == nil {
		t.Fatalf("reclaim: %+v, %v", retried, err)
	}
	if retried.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", retried.Attempt)
	}
}

func TestQueue_ExponentialBackoffGrows(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	base := time.Now()
	q.now = func() time.Time { return base }

	if err := q.Enqueue(ctx, "job-1", testPayload{}, Options{Attempts: 5, BackoffBase: 2 * time.Second}); err != nil {
		t.Fatal(err)
	}

	job, err := q.Claim(ctx, 100*time.Millisecond)
	if err != nil || job == nil {
		t.Fatalf("claim: %+v, %v", job, err)
	}
	if err := q.Fail(ctx, job, false); err != nil {
		t.Fatal(err)
	}
	first := delayedReadyAt(t, q, ctx).Sub(base)

	q.now = func() time.Time { return base.Add(time.Minute) }
	if n, _ := q.PromoteDelayed(ctx); n != 1 {
		t.Fatal("promotion expected")
	}
	job, err = q.Claim(ctx, 100*time.Millisecond)
	if err != nil || job == nil {
		t.Fatalf("reclaim: %+v, %v", job, err)
	}
	q.now = func() time.Time { return base }
	if err := q.Fail(ctx, job, false); err != nil {
		t.Fatal(err)
	}
	second := delayedReadyAt(t, q, ctx).Sub(base)

	if second <= first {
		t.Errorf("backoff did not grow: %s then %s", first, second)
	}
}

// delayedReadyAt reads the single delayed job's promotion deadline.
func delayedReadyAt(t *testing.T, q *Queue, ctx context.Context) time.Time {
	t.Helper()
	members, err := q.client.ZRangeWithScores(ctx, q.delayedKey(), 0, -1).Result()
	if err != nil || len(members) != 1 {
		t.Fatalf("delayed set: %+v, %v", members, err)
	}
	return time.UnixMilli(int64(members[0].Score))
}

func TestQueue_TerminalFailureNeverRetries(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "job-1", testPayload{}, Options{Attempts: 3}); err != nil {
		t.Fatal(err)
	}
	job, _ := q.Claim(ctx, 100*time.Millisecond)
	if err := q.Fail(ctx, job, true); err != nil {
		t.Fatal(err)
	}

	q.now = func() time.Time { return time.Now().Add(time.Hour) }
	if n, _ := q.PromoteDelayed(ctx); n != 0 {
		t.Error("terminal job must not be promoted")
	}
	if again, _ := q.Claim(ctx, 50*time.Millisecond); again != nil {
		t.Errorf("terminal job reappeared: %+v", again)
	}
}

func TestQueue_AttemptsExhaustedMovesToFailed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "job-1", testPayload{}, Options{Attempts: 1}); err != nil {
		t.Fatal(err)
	}
	job, _ := q.Claim(ctx, 100*time.Millisecond)
	if err := q.Fail(ctx, job, false); err != nil {
		t.Fatal(err)
	}
	if failed, _ := q.client.LLen(ctx, q.failedKey()).Result(); failed != 1 {
		t.Errorf("failed list length = %d, want 1", failed)
	}
}

func TestQueue_RequeueStalled(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "job-1", testPayload{}, Options{Attempts: 2, LockDuration: time.Minute}); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Claim(ctx, 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	// Lock still fresh: nothing to recover.
	if n, err := q.RequeueStalled(ctx); err != nil || n != 0 {
		t.Errorf("fresh lock requeued %d, %v", n, err)
	}

	q.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n, err := q.RequeueStalled(ctx)
	if err != nil || n != 1 {
		t.Fatalf("stalled requeue = %d, %v", n, err)
	}

	job, err := q.Claim(ctx, 100*time.Millisecond)
	if err != nil || job == nil {
		t.Fatalf("reclaim: %+v, %v", job, err)
	}
	if job.StalledCount != 1 {
		t.Errorf("stalledCount = %d, want 1", job.StalledCount)
	}
	if job.Attempt != 1 {
		t.Errorf("stall must not burn an attempt: attempt = %d", job.Attempt)
	}
}

func TestQueue_StalledTooOftenFails(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "job-1", testPayload{}, Options{Attempts: 5, LockDuration: time.Minute}); err != nil {
		t.Fatal(err)
	}
	offset := 2 * time.Minute
	for i := 0; i < MaxStalledCount; i++ {
		if _, err := q.Claim(ctx, 100*time.Millisecond); err != nil {
			t.Fatal(err)
		}
		q.now = func() time.Time { return time.Now().Add(offset) }
		if n, err := q.RequeueStalled(ctx); err != nil || n != 1 {
			t.Fatalf("round %d: requeue = %d, %v", i, n, err)
		}
		q.now = time.Now
	}

	// One stall beyond the cap fails the job.
	if _, err := q.Claim(ctx, 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	q.now = func() time.Time { return time.Now().Add(offset) }
	if n, err := q.RequeueStalled(ctx); err != nil || n != 0 {
		t.Fatalf("final stall requeued %d, %v", n, err)
	}
	if failed, _ := q.client.LLen(ctx, q.failedKey()).Result(); failed != 1 {
		t.Errorf("failed list length = %d, want 1", failed)
	}
}

func TestQueueNames(t *testing.T) {
	if MonitorQueue("us-east") != "monitor-us-east" {
		t.Error("monitor queue name drifted")
	}
	if K6Queue("asia-pacific") != "k6-asia-pacific" {
		t.Error("k6 queue name drifted")
	}
	want := []string{"monitor-us-east", "monitor-eu-central", "monitor-asia-pacific"}
	got := AllMonitorQueues()
	if len(got) != len(want) {
		t.Fatalf("monitor queues = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queue[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	k6s := AllK6Queues()
	if k6s[0] != "k6-global" || len(k6s) != 4 {
		t.Errorf("k6 queues = %v", k6s)
	}
}
