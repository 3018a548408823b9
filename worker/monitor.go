package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supercheck-io/fleet/log"
	"github.com/supercheck-io/fleet/queue"
	"github.com/supercheck-io/fleet/types"
)

// ProbeRunner executes one monitor check.
type ProbeRunner interface {
	Check(ctx context.Context, monitor *types.MonitorSpec) *types.ProbeResult
}

// ResultSink persists a per-location result and aggregates the execution
// group when this location completes it.
type ResultSink interface {
	SaveDistributedResult(ctx context.Context, job *types.MonitorJob, probe *types.ProbeResult) error
}

// MonitorHandler processes one regional monitor queue's jobs.
type MonitorHandler struct {
	prober    ProbeRunner
	synthetic ProbeRunner
	results   ResultSink

	workerLocation  string
	filterLocations bool
	logger          *log.Logger
}

// MonitorHandlerConfig wires a MonitorHandler. Synthetic may be nil when the
// worker has no Playwright collaborator; synthetic monitors then fail with a
// terminal error instead of spinning through retries.
type MonitorHandlerConfig struct {
	Prober          ProbeRunner
	Synthetic       ProbeRunner
	Results         ResultSink
	WorkerLocation  string
	FilterLocations bool
	Logger          *log.Logger
}

// NewMonitorHandler creates a monitor-queue handler.
func NewMonitorHandler(cfg MonitorHandlerConfig) *MonitorHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger(cfg.WorkerLocation)
	}
	return &MonitorHandler{
		prober:          cfg.Prober,
		synthetic:       cfg.Synthetic,
		results:         cfg.Results,
		workerLocation:  cfg.WorkerLocation,
		filterLocations: cfg.FilterLocations,
		logger:          logger,
	}
}

// Handle runs one monitor job: resolve the location, probe, persist. A
// location mismatch under filtering is logged and still processed — by the
// time a job reaches a worker its retries are the only delivery left, and
// dropping it would lose the tick permanently.
func (h *MonitorHandler) Handle(ctx context.Context, qjob *queue.Job) error {
	var job types.MonitorJob
	if err := json.Unmarshal(qjob.Payload, &job); err != nil {
		return fmt.Errorf("decode monitor job %s: %v: %w", qjob.ID, err, queue.ErrTerminal)
	}
	if job.MonitorID == "" {
		return fmt.Errorf("monitor job %s has no monitor id: %w", qjob.ID, queue.ErrTerminal)
	}

	resolved := resolveJobLocation(string(job.ExecutionLocation), h.workerLocation)
	if h.filterLocations && !isLocationWildcard(string(job.ExecutionLocation)) && !locationMatches(resolved, h.workerLocation) {
		h.logger.Warn("processing monitor job for another location", map[string]any{
			"monitor_id":      job.MonitorID,
			"job_location":    string(resolved),
			"worker_location": h.workerLocation,
		})
	}
	job.ExecutionLocation = resolved

	spec := job.Spec
	if spec.ID == "" {
		spec.ID = job.MonitorID
	}
	if spec.Kind == "" {
		spec.Kind = job.Kind
	}
	if spec.Target == "" {
		spec.Target = job.Target
	}

	runner := h.prober
	if spec.Kind == types.MonitorSynthetic {
		if h.synthetic == nil {
			return fmt.Errorf("monitor %s: no synthetic runner on this worker: %w", job.MonitorID, queue.ErrTerminal)
		}
		runner = h.synthetic
	}

	res := runner.Check(ctx, &spec)
	h.logger.Debug("probe finished", map[string]any{
		"monitor_id": job.MonitorID,
		"group_id":   job.ExecutionGroupID,
		"location":   string(job.ExecutionLocation),
		"status":     string(res.Status),
	})

	if err := h.results.SaveDistributedResult(ctx, &job, res); err != nil {
		return fmt.Errorf("monitor %s at %s: %w", job.MonitorID, job.ExecutionLocation, err)
	}
	return nil
}
