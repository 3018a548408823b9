package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/supercheck-io/fleet/log"
	"github.com/supercheck-io/fleet/queue"
	"github.com/supercheck-io/fleet/types"
)

// ErrInvalidK6Job marks a k6 trigger whose test set is not exactly one
// performance test. The run is failed terminally, never enqueued.
var ErrInvalidK6Job = errors.New("k6 jobs require performance tests")

// RunStore is the persistence surface the job dispatcher needs.
type RunStore interface {
	CreateRun(ctx context.Context, run *types.RunRecord) error
	CompleteRun(ctx context.Context, run *types.RunRecord) error
}

// JobDispatcher routes playwright and k6 triggers to their queues, creating
// the run record before enqueue so workers always find it.
type JobDispatcher struct {
	queues Enqueuer
	runs   RunStore
	logger *log.Logger
	now    func() time.Time
}

// NewJobDispatcher creates a job dispatcher.
func NewJobDispatcher(queues Enqueuer, runs RunStore, logger *log.Logger) *JobDispatcher {
	if logger == nil {
		logger = log.NewLogger("")
	}
	return &JobDispatcher{queues: queues, runs: runs, logger: logger, now: time.Now}
}

// Dispatch validates the trigger, creates the run in running state, and
// enqueues the job on the queue its type and location select.
func (d *JobDispatcher) Dispatch(ctx context.Context, trigger *types.JobTrigger) error {
	if trigger.RunID == "" {
		return errors.New("trigger runId is required")
	}

	now := d.now().UTC()
	location := types.NormalizeLocation(trigger.Location)
	run := &types.RunRecord{
		RunID:     trigger.RunID,
		Location:  location,
		Status:    types.RunRunning,
		StartedAt: &now,
	}
	if trigger.JobID != "" {
		jobID := trigger.JobID
		run.JobID = &jobID
	}
	if err := d.runs.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run %s: %w", trigger.RunID, err)
	}

	if trigger.JobType == types.JobTypeK6 {
		if err := validateK6Trigger(trigger); err != nil {
			d.failRun(ctx, run, err.Error())
			return err
		}
	}

	queueName, err := queueFor(trigger)
	if err != nil {
		d.failRun(ctx, run, err.Error())
		return err
	}

	opts := queue.ExecutionJobOptions()
	if trigger.RetryLimit > 0 {
		opts.Attempts = trigger.RetryLimit
	}
	jobID := trigger.JobID
	if jobID == "" {
		jobID = trigger.RunID
	}
	if err := d.queues.Enqueue(ctx, queueName, jobID, trigger, opts); err != nil {
		if errors.Is(err, queue.ErrDuplicate) {
			d.logger.Warn("job already queued", map[string]any{
				"job_id": jobID,
				"queue":  queueName,
			})
			return nil
		}
		return fmt.Errorf("enqueue job %s on %s: %w", jobID, queueName, err)
	}

	d.logger.Info("job dispatched", map[string]any{
		"run_id":   trigger.RunID,
		"job_type": string(trigger.JobType),
		"queue":    queueName,
	})
	return nil
}

// validateK6Trigger enforces the single-performance-test shape.
func validateK6Trigger(trigger *types.JobTrigger) error {
	if len(trigger.TestScripts) != 1 || trigger.TestScripts[0].Type != types.TestTypePerformance {
		return ErrInvalidK6Job
	}
	return nil
}

// queueFor selects the queue by job type; a k6 trigger with an explicit
// valid location routes to its regional queue, otherwise to the global one.
func queueFor(trigger *types.JobTrigger) (string, error) {
	switch trigger.JobType {
	case types.JobTypePlaywright:
		return queue.PlaywrightGlobal, nil
	case types.JobTypeK6:
		if trigger.Location != "" && types.IsValidLocation(trigger.Location) {
			return queue.K6Queue(types.LocationCode(trigger.Location)), nil
		}
		return queue.K6Global, nil
	default:
		return "", fmt.Errorf("unknown job type %q", trigger.JobType)
	}
}

// failRun terminally fails the run; dispatch-time rejects are never retried.
func (d *JobDispatcher) failRun(ctx context.Context, run *types.RunRecord, details string) {
	now := d.now().UTC()
	run.Status = types.RunFailed
	run.CompletedAt = &now
	run.ErrorDetails = details
	if err := d.runs.CompleteRun(ctx, run); err != nil {
		d.logger.Error("failed to persist rejected run", map[string]any{
			"run_id": run.RunID,
			"error":  err.Error(),
		})
	}
}
