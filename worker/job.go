package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/supercheck-io/fleet/k6"
	"github.com/supercheck-io/fleet/log"
	"github.com/supercheck-io/fleet/metrics"
	"github.com/supercheck-io/fleet/queue"
	"github.com/supercheck-io/fleet/synthetic"
	"github.com/supercheck-io/fleet/types"
)

// RunStore is the slice of the run store the job worker mutates.
type RunStore interface {
	MarkRunRunning(ctx context.Context, runID string, startedAt time.Time) error
	CompleteRun(ctx context.Context, run *types.RunRecord) error
}

// PerformanceStore writes the derived reporting row for a k6 run.
type PerformanceStore interface {
	InsertPerformanceMetrics(ctx context.Context, runID string, at time.Time, h k6.HeadlineMetrics) error
}

// Canceller answers the pre-flight cancellation check.
type Canceller interface {
	IsCancelled(ctx context.Context, runID string) bool
	ClearCancellation(ctx context.Context, runID string)
}

// BillingGate approves executions before launch. AllowExecution errors fail
// open: an unreachable billing service must not stop the fleet.
type BillingGate interface {
	AllowExecution(ctx context.Context, organizationID string) (allowed bool, reason string, err error)
	NotifyBlocked(ctx context.Context, trigger *types.JobTrigger, reason string)
}

// K6Runner executes one load test.
type K6Runner interface {
	Run(ctx context.Context, task k6.Task) (*k6.Result, error)
}

// JobHandler processes playwright and k6 execution triggers.
type JobHandler struct {
	runs       RunStore
	perf       PerformanceStore
	cancels    Canceller
	billing    BillingGate
	k6         K6Runner
	playwright synthetic.Executor

	workerLocation  string
	filterLocations bool
	logger          *log.Logger
	metrics         *metrics.Collector
	now             func() time.Time
}

// JobHandlerConfig wires a JobHandler. Billing, Cancels and Perf may be nil;
// the corresponding step is then skipped.
type JobHandlerConfig struct {
	Runs            RunStore
	Perf            PerformanceStore
	Cancels         Canceller
	Billing         BillingGate
	K6              K6Runner
	Playwright      synthetic.Executor
	WorkerLocation  string
	FilterLocations bool
	Logger          *log.Logger
	Collector       *metrics.Collector
}

// NewJobHandler creates an execution-queue handler.
func NewJobHandler(cfg JobHandlerConfig) *JobHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger(cfg.WorkerLocation)
	}
	return &JobHandler{
		runs:            cfg.Runs,
		perf:            cfg.Perf,
		cancels:         cfg.Cancels,
		billing:         cfg.Billing,
		k6:              cfg.K6,
		playwright:      cfg.Playwright,
		workerLocation:  cfg.WorkerLocation,
		filterLocations: cfg.FilterLocations,
		logger:          logger,
		metrics:         cfg.Collector,
		now:             time.Now,
	}
}

// Handle runs one execution trigger through the pre-flight gates and the
// type-specific runner. Domain failures land in the run record; the error
// return drives the queue's retry decision only.
func (h *JobHandler) Handle(ctx context.Context, qjob *queue.Job) error {
	var trigger types.JobTrigger
	if err := json.Unmarshal(qjob.Payload, &trigger); err != nil {
		return fmt.Errorf("decode trigger %s: %v: %w", qjob.ID, err, queue.ErrTerminal)
	}
	if trigger.RunID == "" {
		return fmt.Errorf("trigger %s has no run id: %w", qjob.ID, queue.ErrTerminal)
	}
	logger := h.logger.WithRun(trigger.RunID)

	resolved := resolveJobLocation(trigger.Location, h.workerLocation)
	if h.filterLocations && !isLocationWildcard(trigger.Location) && !locationMatches(resolved, h.workerLocation) {
		logger.Warn("processing job for another location", map[string]any{
			"job_location":    string(resolved),
			"worker_location": h.workerLocation,
		})
	}

	if h.cancels != nil && h.cancels.IsCancelled(ctx, trigger.RunID) {
		h.finishCancelled(ctx, &trigger, resolved, 0, logger)
		return fmt.Errorf("run %s cancelled before launch: %w", trigger.RunID, queue.ErrTerminal)
	}

	if h.billing != nil {
		allowed, reason, err := h.billing.AllowExecution(ctx, trigger.OrganizationID)
		if err != nil {
			logger.Warn("billing gate unavailable, proceeding", map[string]any{
				"error": err.Error(),
			})
		} else if !allowed {
			h.metrics.IncRunBlocked()
			h.completeRun(ctx, &trigger, resolved, &types.RunRecord{
				Status:       types.RunBlocked,
				ErrorDetails: reason,
			}, logger)
			h.billing.NotifyBlocked(ctx, &trigger, reason)
			return nil
		}
	}

	if err := h.runs.MarkRunRunning(ctx, trigger.RunID, h.now().UTC()); err != nil {
		// The dispatcher already created the run as running; losing the
		// restamp is not worth failing the execution.
		logger.Warn("run start update failed", map[string]any{"error": err.Error()})
	}
	h.metrics.IncRunStarted()

	switch trigger.JobType {
	case types.JobTypePlaywright:
		return h.runPlaywright(ctx, &trigger, resolved, logger)
	case types.JobTypeK6:
		return h.runK6(ctx, &trigger, resolved, logger)
	default:
		h.completeRun(ctx, &trigger, resolved, &types.RunRecord{
			Status:       types.RunFailed,
			ErrorDetails: fmt.Sprintf("unknown job type %q", trigger.JobType),
		}, logger)
		return fmt.Errorf("trigger %s: unknown job type %q: %w", qjob.ID, trigger.JobType, queue.ErrTerminal)
	}
}

func (h *JobHandler) runPlaywright(ctx context.Context, trigger *types.JobTrigger, location types.LocationCode, logger *log.Logger) error {
	if h.playwright == nil {
		h.completeRun(ctx, trigger, location, &types.RunRecord{
			Status:       types.RunFailed,
			ErrorDetails: "no playwright executor on this worker",
		}, logger)
		return fmt.Errorf("run %s: no playwright executor: %w", trigger.RunID, queue.ErrTerminal)
	}
	if len(trigger.TestScripts) == 0 {
		h.completeRun(ctx, trigger, location, &types.RunRecord{
			Status:       types.RunFailed,
			ErrorDetails: "trigger carries no test scripts",
		}, logger)
		return fmt.Errorf("run %s has no test scripts: %w", trigger.RunID, queue.ErrTerminal)
	}

	started := h.now()
	script := trigger.TestScripts[0]
	res, err := h.playwright.ExecuteTest(ctx, synthetic.ExecutionRequest{
		RunID:          trigger.RunID,
		TestID:         script.ID,
		Script:         script.Script,
		OrganizationID: trigger.OrganizationID,
		ProjectID:      trigger.ProjectID,
		Variables:      trigger.Variables,
		Secrets:        revealSecrets(trigger.Secrets),
	})
	if err != nil {
		h.metrics.IncRunFailed()
		h.completeRun(ctx, trigger, location, &types.RunRecord{
			Status:       types.RunFailed,
			DurationMs:   types.Millis(h.now().Sub(started)),
			ErrorDetails: fmt.Sprintf("playwright execution: %v", err),
		}, logger)
		return nil
	}

	status := types.RunPassed
	if !res.Success {
		status = types.RunFailed
		h.metrics.IncRunFailed()
	} else {
		h.metrics.IncRunCompleted()
	}
	h.completeRun(ctx, trigger, location, &types.RunRecord{
		Status:       status,
		DurationMs:   res.DurationMs,
		ReportURL:    res.ReportURL,
		ErrorDetails: res.ErrorMessage,
	}, logger)
	return nil
}

func (h *JobHandler) runK6(ctx context.Context, trigger *types.JobTrigger, location types.LocationCode, logger *log.Logger) error {
	script, err := performanceScript(trigger)
	if err != nil {
		h.completeRun(ctx, trigger, location, &types.RunRecord{
			Status:       types.RunFailed,
			ErrorDetails: err.Error(),
		}, logger)
		return fmt.Errorf("run %s: %v: %w", trigger.RunID, err, queue.ErrTerminal)
	}

	res, err := h.k6.Run(ctx, k6.Task{
		RunID:          trigger.RunID,
		JobID:          trigger.JobID,
		TestID:         script.ID,
		Script:         script.Script,
		OrganizationID: trigger.OrganizationID,
		ProjectID:      trigger.ProjectID,
		Location:       string(location),
	})
	if err != nil {
		if errors.Is(err, k6.ErrConcurrencyLimit) {
			// The single slot is busy; park the job and let backoff find a
			// free worker.
			return fmt.Errorf("run %s: %w", trigger.RunID, err)
		}
		h.metrics.IncRunFailed()
		h.completeRun(ctx, trigger, location, &types.RunRecord{
			Status:       types.RunFailed,
			ErrorDetails: fmt.Sprintf("k6 execution: %v", err),
		}, logger)
		return nil
	}

	if res.Cancelled {
		h.finishCancelled(ctx, trigger, location, res.DurationMs, logger)
		return fmt.Errorf("run %s cancelled: %w", trigger.RunID, queue.ErrTerminal)
	}

	if h.perf != nil && res.Summary.HasMetrics() {
		if err := h.perf.InsertPerformanceMetrics(ctx, trigger.RunID, h.now().UTC(), res.Headline); err != nil {
			logger.Warn("performance row insert failed", map[string]any{"error": err.Error()})
		}
	}

	status := types.RunPassed
	if !res.Success {
		status = types.RunFailed
		h.metrics.IncRunFailed()
	} else {
		h.metrics.IncRunCompleted()
	}
	h.completeRun(ctx, trigger, location, &types.RunRecord{
		Status:       status,
		DurationMs:   res.DurationMs,
		ReportURL:    res.ReportURL,
		LogsURL:      res.ConsoleURL,
		ErrorDetails: res.Error,
	}, logger)
	return nil
}

// finishCancelled records the fixed cancellation outcome and clears the flag
// so a later run with a recycled id starts clean.
func (h *JobHandler) finishCancelled(ctx context.Context, trigger *types.JobTrigger, location types.LocationCode, durationMs int64, logger *log.Logger) {
	h.metrics.IncRunCancelled()
	h.completeRun(ctx, trigger, location, &types.RunRecord{
		Status:       types.RunError,
		DurationMs:   durationMs,
		ErrorDetails: types.ErrorDetailsCancelled,
	}, logger)
	if h.cancels != nil {
		h.cancels.ClearCancellation(ctx, trigger.RunID)
	}
}

// completeRun writes the terminal run state. Persistence failures are logged,
// not raised: the outcome is already decided and a retry would re-execute.
func (h *JobHandler) completeRun(ctx context.Context, trigger *types.JobTrigger, location types.LocationCode, final *types.RunRecord, logger *log.Logger) {
	final.RunID = trigger.RunID
	if trigger.JobID != "" {
		jobID := trigger.JobID
		final.JobID = &jobID
	}
	final.Location = location
	now := h.now().UTC()
	final.CompletedAt = &now
	if err := h.runs.CompleteRun(ctx, final); err != nil {
		logger.Error("run completion write failed", map[string]any{
			"status": string(final.Status),
			"error":  err.Error(),
		})
	}
}

// performanceScript extracts the single performance test a k6 trigger must
// carry. The dispatcher validates this before enqueue; the check here guards
// directly-injected messages.
func performanceScript(trigger *types.JobTrigger) (*types.TestScript, error) {
	var found *types.TestScript
	for i := range trigger.TestScripts {
		s := &trigger.TestScripts[i]
		if s.Type == types.TestTypePerformance {
			if found != nil {
				return nil, errors.New("k6 jobs require performance tests")
			}
			found = s
		}
	}
	if found == nil {
		return nil, errors.New("k6 jobs require performance tests")
	}
	return found, nil
}

// revealSecrets unmasks resolved secrets for the collaborator request. The
// masked form never leaves the trigger payload.
func revealSecrets(secrets map[string]types.Secret) map[string]string {
	if len(secrets) == 0 {
		return nil
	}
	out := make(map[string]string, len(secrets))
	for k, v := range secrets {
		out[k] = v.Reveal()
	}
	return out
}
