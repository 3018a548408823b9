package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// JobType discriminates the execution pipeline for scheduled test jobs.
type JobType string

const (
	JobTypePlaywright JobType = "playwright"
	JobTypeK6         JobType = "k6"
)

// TriggerKind records how a job was initiated.
type TriggerKind string

const (
	TriggerSchedule TriggerKind = "schedule"
	TriggerManual   TriggerKind = "manual"
)

// TestScript is a single test body carried in a job payload.
type TestScript struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Script string `json:"script"`
	// Type labels the test kind; k6 jobs require exactly one "performance"
	// test.
	Type string `json:"type,omitempty"`
}

// TestTypePerformance is the test kind k6 jobs require.
const TestTypePerformance = "performance"

// JobTrigger is a pre-resolved execution request. Variables and secrets
// arrive resolved from the scheduler; the core never re-reads them.
type JobTrigger struct {
	JobID          string            `json:"jobId"`
	RunID          string            `json:"runId"`
	JobType        JobType           `json:"jobType"`
	Trigger        TriggerKind       `json:"trigger,omitempty"`
	OrganizationID string            `json:"organizationId"`
	ProjectID      string            `json:"projectId"`
	TestScripts    []TestScript      `json:"testScripts"`
	Variables      map[string]string `json:"variables,omitempty"`
	Secrets        map[string]Secret `json:"secrets,omitempty"`
	Location       string            `json:"location,omitempty"`
	RetryLimit     int               `json:"retryLimit,omitempty"`
}

// MonitorJob is the per-location queue message for one monitor tick.
type MonitorJob struct {
	MonitorID         string         `json:"monitorId"`
	Kind              MonitorKind    `json:"type"`
	Target            string         `json:"target"`
	Spec              MonitorSpec    `json:"config"`
	ExecutionLocation LocationCode   `json:"executionLocation"`
	ExecutionGroupID  string         `json:"executionGroupId"`
	ExpectedLocations []LocationCode `json:"expectedLocations"`
	RetryLimit        int            `json:"retryLimit,omitempty"`
}

// DedupID is the queue deduplication key for this monitor job.
func (j *MonitorJob) DedupID() string {
	return fmt.Sprintf("%s:%s:%s", j.MonitorID, j.ExecutionGroupID, j.ExecutionLocation)
}

// NewExecutionGroupID mints a group identifier unique across concurrent
// ticks of the same monitor: monitorId + epoch millis + random hex.
func NewExecutionGroupID(monitorID string, now time.Time) string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%s-%d-%s", monitorID, now.UnixMilli(), hex.EncodeToString(buf[:]))
}
