package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/supercheck-io/fleet/log"
)

// claimWait is the blocking-pop window per claim attempt. Short enough that
// shutdown is responsive.
const claimWait = 2 * time.Second

// ErrTerminal wraps handler failures that must not be retried (cancelled
// runs, validation rejects).
var ErrTerminal = errors.New("terminal job failure")

// Handler processes one claimed job. A nil return acknowledges the job;
// an error parks it for retry unless it wraps ErrTerminal.
type Handler func(ctx context.Context, job *Job) error

// Consumer pulls jobs off one queue with bounded concurrency and runs the
// queue's maintenance loop (delayed promotion, stalled recovery).
type Consumer struct {
	queue       *Queue
	handler     Handler
	concurrency int
	logger      *log.Logger
	wg          sync.WaitGroup
}

// NewConsumer creates a consumer for one queue.
func NewConsumer(q *Queue, handler Handler, concurrency int, logger *log.Logger) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.NewLogger("")
	}
	return &Consumer{
		queue:       q,
		handler:     handler,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Start launches the worker goroutines. They run until ctx is cancelled;
// Wait blocks for their drain.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.consume(ctx)
		}()
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.maintain(ctx)
	}()
}

// Wait blocks until every worker goroutine has exited.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := c.queue.Claim(ctx, claimWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("claim failed", map[string]any{
				"queue": c.queue.Name(),
				"error": err.Error(),
			})
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		c.process(ctx, job)
	}
}

func (c *Consumer) process(ctx context.Context, job *Job) {
	err := c.handler(ctx, job)
	if err == nil {
		if err := c.queue.Complete(context.WithoutCancel(ctx), job.ID); err != nil {
			c.logger.Error("ack failed", map[string]any{
				"queue":  c.queue.Name(),
				"job_id": job.ID,
				"error":  err.Error(),
			})
		}
		return
	}

	terminal := errors.Is(err, ErrTerminal)
	c.logger.Warn("job failed", map[string]any{
		"queue":    c.queue.Name(),
		"job_id":   job.ID,
		"attempt":  job.Attempt,
		"terminal": terminal,
		"error":    err.Error(),
	})
	if err := c.queue.Fail(context.WithoutCancel(ctx), job, terminal); err != nil {
		c.logger.Error("park failed", map[string]any{
			"queue":  c.queue.Name(),
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
}

// maintain periodically promotes due delayed jobs and recovers stalled ones.
func (c *Consumer) maintain(ctx context.Context) {
	ticker := time.NewTicker(StallInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.queue.PromoteDelayed(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("delayed promotion failed", map[string]any{
					"queue": c.queue.Name(),
					"error": err.Error(),
				})
			}
			if _, err := c.queue.RequeueStalled(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("stalled recovery failed", map[string]any{
					"queue": c.queue.Name(),
					"error": err.Error(),
				})
			}
		}
	}
}
