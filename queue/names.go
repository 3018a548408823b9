// Package queue implements the Redis-backed job queues: deduplicated
// enqueue, blocking consume with an active list, retry with exponential
// backoff, and stalled-job recovery.
package queue

import (
	"time"

	"github.com/supercheck-io/fleet/types"
)

// Queue names are part of the wire contract shared with producers and
// autoscalers. They must match verbatim and are never overridable by
// environment.
const (
	MonitorUSEast      = "monitor-us-east"
	MonitorEUCentral   = "monitor-eu-central"
	MonitorAsiaPacific = "monitor-asia-pacific"

	PlaywrightGlobal = "playwright-global"

	K6Global      = "k6-global"
	K6USEast      = "k6-us-east"
	K6EUCentral   = "k6-eu-central"
	K6AsiaPacific = "k6-asia-pacific"

	JobScheduler     = "job-scheduler"
	K6JobScheduler   = "k6-job-scheduler"
	MonitorScheduler = "monitor-scheduler"
)

// MonitorQueue returns the regional monitor queue for a location.
func MonitorQueue(location types.LocationCode) string {
	return "monitor-" + string(location)
}

// K6Queue returns the regional k6 queue for a location.
func K6Queue(location types.LocationCode) string {
	return "k6-" + string(location)
}

// AllMonitorQueues lists every regional monitor queue, for local workers
// that subscribe to all of them.
func AllMonitorQueues() []string {
	locations := types.AllLocations()
	queues := make([]string, 0, len(locations))
	for _, loc := range locations {
		queues = append(queues, MonitorQueue(loc))
	}
	return queues
}

// AllK6Queues lists the global k6 queue plus every regional one.
func AllK6Queues() []string {
	queues := []string{K6Global}
	for _, loc := range types.AllLocations() {
		queues = append(queues, K6Queue(loc))
	}
	return queues
}

// Job-option defaults shared with the scheduling side.
const (
	MonitorAttempts   = 2
	ExecutionAttempts = 3

	MonitorBackoffBase   = 2 * time.Second
	ExecutionBackoffBase = 5 * time.Second

	RemoveOnCompleteCount = 500
	RemoveOnCompleteAge   = 24 * time.Hour
	RemoveOnFailCount     = 1000
	RemoveOnFailAge       = 7 * 24 * time.Hour

	MonitorLockDuration   = 5 * time.Minute
	SchedulerLockDuration = 2 * time.Minute

	StallInterval   = 30 * time.Second
	MaxStalledCount = 2
)

// MonitorJobOptions is the default option set for monitor jobs.
func MonitorJobOptions() Options {
	return Options{
		Attempts:     MonitorAttempts,
		BackoffBase:  MonitorBackoffBase,
		LockDuration: MonitorLockDuration,
	}
}

// ExecutionJobOptions is the default option set for playwright and k6 jobs.
func ExecutionJobOptions() Options {
	return Options{
		Attempts:     ExecutionAttempts,
		BackoffBase:  ExecutionBackoffBase,
		LockDuration: MonitorLockDuration,
	}
}
