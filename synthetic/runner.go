// Package synthetic runs browser-based checks by delegating to the external
// Playwright execution collaborator.
package synthetic

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/supercheck-io/fleet/log"
	"github.com/supercheck-io/fleet/metrics"
	"github.com/supercheck-io/fleet/types"
)

// ExecutionRequest is one delegated Playwright execution.
type ExecutionRequest struct {
	RunID          string
	TestID         string
	Script         string
	OrganizationID string
	ProjectID      string
	Variables      map[string]string
	Secrets        map[string]string
	// BypassConcurrencyCheck lets monitor-driven executions skip the
	// scheduler's slot accounting; monitors are lightweight and frequent.
	BypassConcurrencyCheck bool
	// UniqueExecutionID forces a fresh execution identity per call so
	// repeated monitor ticks never collide.
	UniqueExecutionID bool
}

// ExecutionResult is the collaborator's outcome.
type ExecutionResult struct {
	Success      bool
	DurationMs   int64
	ReportURL    string
	ErrorMessage string
}

// Executor is the external Playwright execution collaborator.
type Executor interface {
	ExecuteTest(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// TestSource resolves a synthetic test id to its stored script.
type TestSource interface {
	// GetTestScript returns the base64-encoded script body.
	GetTestScript(ctx context.Context, testID string) (string, error)
}

// UsageMeter records billable Playwright execution time.
type UsageMeter interface {
	RecordExecution(ctx context.Context, organizationID string, duration time.Duration)
}

// Runner executes synthetic monitors.
type Runner struct {
	executor Executor
	tests    TestSource
	meter    UsageMeter
	logger   *log.Logger
	metrics  *metrics.Collector
}

// NewRunner creates a synthetic runner. meter may be nil.
func NewRunner(executor Executor, tests TestSource, meter UsageMeter, logger *log.Logger, collector *metrics.Collector) *Runner {
	if logger == nil {
		logger = log.NewLogger("")
	}
	return &Runner{
		executor: executor,
		tests:    tests,
		meter:    meter,
		logger:   logger,
		metrics:  collector,
	}
}

// Check runs a synthetic monitor: resolve the referenced test, decode its
// body, and delegate. Collaborator success maps to up, failure to down,
// delegation errors to error.
func (r *Runner) Check(ctx context.Context, monitor *types.MonitorSpec) *types.ProbeResult {
	if monitor.SyntheticTestID == "" {
		return probeError("synthetic monitor has no test reference")
	}

	encoded, err := r.tests.GetTestScript(ctx, monitor.SyntheticTestID)
	if err != nil {
		return probeError(fmt.Sprintf("resolve test %s: %v", monitor.SyntheticTestID, err))
	}
	script, err := decodeScript(encoded)
	if err != nil {
		return probeError(fmt.Sprintf("decode test %s: %v", monitor.SyntheticTestID, err))
	}

	res, err := r.executor.ExecuteTest(ctx, ExecutionRequest{
		TestID:                 monitor.SyntheticTestID,
		Script:                 script,
		OrganizationID:         monitor.OrganizationID,
		ProjectID:              monitor.ProjectID,
		BypassConcurrencyCheck: true,
		UniqueExecutionID:      true,
	})
	if err != nil {
		r.metrics.IncProbe(string(types.MonitorSynthetic), false)
		return probeError(fmt.Sprintf("playwright execution: %v", err))
	}

	if r.meter != nil {
		r.meter.RecordExecution(ctx, monitor.OrganizationID, time.Duration(res.DurationMs)*time.Millisecond)
	}

	elapsed := res.DurationMs
	details := types.ResultDetails{}
	if res.ReportURL != "" {
		details["reportUrl"] = res.ReportURL
	}
	status := types.ResultUp
	isUp := true
	if !res.Success {
		status = types.ResultDown
		isUp = false
		if res.ErrorMessage != "" {
			details["errorMessage"] = res.ErrorMessage
		}
	}
	r.metrics.IncProbe(string(types.MonitorSynthetic), isUp)
	return &types.ProbeResult{
		Status:         status,
		IsUp:           isUp,
		ResponseTimeMs: &elapsed,
		Details:        details,
	}
}

// decodeScript accepts the stored base64 body; a plain-text script passes
// through unchanged for older rows.
func decodeScript(encoded string) (string, error) {
	if encoded == "" {
		return "", fmt.Errorf("empty test script")
	}
	if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		return string(decoded), nil
	}
	return encoded, nil
}

func probeError(message string) *types.ProbeResult {
	return &types.ProbeResult{
		Status:  types.ResultError,
		IsUp:    false,
		Details: types.ResultDetails{"error": message},
	}
}
