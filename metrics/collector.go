// Package metrics provides per-worker metrics collection.
//
// The Collector accumulates counters over the worker's lifetime. It is a leaf
// package with no internal dependencies. All increment methods are nil-receiver
// safe so optional wiring stays uncluttered.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all worker metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsCancelled int64
	RunsBlocked   int64

	// Probes
	ProbesExecuted map[string]int64
	ProbesUp       int64
	ProbesDown     int64

	// Container executions
	ContainersLaunched      int64
	ContainerLaunchFailures int64
	ContainerTimeouts       int64

	// Aggregation
	GroupsAggregated int64
	AlertsSent       int64

	// Artifact uploads (per-call, not per-object)
	UploadSuccess int64
	UploadFailure int64

	// Dimensions (informational, set at construction)
	WorkerLocation string
}

// Collector accumulates metrics for one worker process.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	runsStarted   int64
	runsCompleted int64
	runsFailed    int64
	runsCancelled int64
	runsBlocked   int64

	probesExecuted map[string]int64
	probesUp       int64
	probesDown     int64

	containersLaunched      int64
	containerLaunchFailures int64
	containerTimeouts       int64

	groupsAggregated int64
	alertsSent       int64

	uploadSuccess int64
	uploadFailure int64

	workerLocation string
}

// NewCollector creates a Collector labeled with the worker location.
func NewCollector(workerLocation string) *Collector {
	return &Collector{
		probesExecuted: make(map[string]int64),
		workerLocation: workerLocation,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// IncRunStarted records an execution start.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.inc(&c.runsStarted)
}

// IncRunCompleted records a successful execution.
func (c *Collector) IncRunCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.runsCompleted)
}

// IncRunFailed records a failed execution.
func (c *Collector) IncRunFailed() {
	if c == nil {
		return
	}
	c.inc(&c.runsFailed)
}

// IncRunCancelled records a user-cancelled execution.
func (c *Collector) IncRunCancelled() {
	if c == nil {
		return
	}
	c.inc(&c.runsCancelled)
}

// IncRunBlocked records an execution rejected by the billing gate.
func (c *Collector) IncRunBlocked() {
	if c == nil {
		return
	}
	c.inc(&c.runsBlocked)
}

// IncProbe records a probe execution by monitor kind and outcome.
func (c *Collector) IncProbe(kind string, isUp bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.probesExecuted[kind]++
	if isUp {
		c.probesUp++
	} else {
		c.probesDown++
	}
	c.mu.Unlock()
}

// IncContainerLaunched records a successful container launch.
func (c *Collector) IncContainerLaunched() {
	if c == nil {
		return
	}
	c.inc(&c.containersLaunched)
}

// IncContainerLaunchFailure records a failed container launch.
func (c *Collector) IncContainerLaunchFailure() {
	if c == nil {
		return
	}
	c.inc(&c.containerLaunchFailures)
}

// IncContainerTimeout records an outer-timer expiry.
func (c *Collector) IncContainerTimeout() {
	if c == nil {
		return
	}
	c.inc(&c.containerTimeouts)
}

// IncGroupAggregated records one completed execution-group aggregation.
func (c *Collector) IncGroupAggregated() {
	if c == nil {
		return
	}
	c.inc(&c.groupsAggregated)
}

// IncAlertSent records one emitted alert notification.
func (c *Collector) IncAlertSent() {
	if c == nil {
		return
	}
	c.inc(&c.alertsSent)
}

// IncUploadSuccess records a successful artifact upload call.
func (c *Collector) IncUploadSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.uploadSuccess)
}

// IncUploadFailure records a failed artifact upload call.
func (c *Collector) IncUploadFailure() {
	if c == nil {
		return
	}
	c.inc(&c.uploadFailure)
}

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	probes := make(map[string]int64, len(c.probesExecuted))
	for k, v := range c.probesExecuted {
		probes[k] = v
	}

	return Snapshot{
		RunsStarted:   c.runsStarted,
		RunsCompleted: c.runsCompleted,
		RunsFailed:    c.runsFailed,
		RunsCancelled: c.runsCancelled,
		RunsBlocked:   c.runsBlocked,

		ProbesExecuted: probes,
		ProbesUp:       c.probesUp,
		ProbesDown:     c.probesDown,

		ContainersLaunched:      c.containersLaunched,
		ContainerLaunchFailures: c.containerLaunchFailures,
		ContainerTimeouts:       c.containerTimeouts,

		GroupsAggregated: c.groupsAggregated,
		AlertsSent:       c.alertsSent,

		UploadSuccess: c.uploadSuccess,
		UploadFailure: c.uploadFailure,

		WorkerLocation: c.workerLocation,
	}
}
