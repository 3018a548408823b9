package types

import "time"

// RunStatus is the lifecycle status of an execution run.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunPassed  RunStatus = "passed"
	RunFailed  RunStatus = "failed"
	RunError   RunStatus = "error"
	// RunBlocked means the billing gate rejected the execution before
	// launch.
	RunBlocked RunStatus = "blocked"
)

// ErrorDetailsCancelled is the fixed errorDetails value for user
// cancellation. Cancelled runs are terminal and never retried.
const ErrorDetailsCancelled = "cancelled by user"

// RunRecord is the durable state of one execution run. The record is created
// by the dispatcher before enqueue and mutated only by the worker that owns
// the execution.
type RunRecord struct {
	RunID        string            `json:"runId"`
	JobID        *string           `json:"jobId,omitempty"`
	Location     LocationCode      `json:"location"`
	Status       RunStatus         `json:"status"`
	StartedAt    *time.Time        `json:"startedAt,omitempty"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
	DurationMs   int64             `json:"durationMs,omitempty"`
	ReportURL    string            `json:"reportUrl,omitempty"`
	LogsURL      string            `json:"logsUrl,omitempty"`
	ErrorDetails string            `json:"errorDetails,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Exit codes surfaced to callers across the whole fabric.
const (
	ExitCodeSuccess     = 0
	ExitCodeTimeout     = 124 // outer container timer fired
	ExitCodeCancelled   = 137 // external cancellation (SIGKILL)
	ExitCodeK6Threshold = 99  // k6 canonical threshold-failure signal
)
