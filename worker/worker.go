// Package worker runs the regional consumption loops: it subscribes to the
// queues its location owns, routes monitor jobs to the probe runners and the
// aggregator, and routes execution triggers to the Playwright and k6 paths.
package worker

import (
	"context"
	"strings"

	"github.com/supercheck-io/fleet/log"
	"github.com/supercheck-io/fleet/queue"
	"github.com/supercheck-io/fleet/types"
)

// Config wires a Worker.
type Config struct {
	Broker *queue.Broker
	// WorkerLocation is us-east, eu-central, asia-pacific or "local".
	// A local worker subscribes to every regional queue.
	WorkerLocation string
	Monitors       *MonitorHandler
	Jobs           *JobHandler
	Logger         *log.Logger

	MonitorConcurrency    int
	PlaywrightConcurrency int
}

// Worker owns the consumer set for one process.
type Worker struct {
	broker   *queue.Broker
	location string
	monitors *MonitorHandler
	jobs     *JobHandler
	logger   *log.Logger

	monitorConcurrency    int
	playwrightConcurrency int

	consumers []*queue.Consumer
}

// New creates a worker. Start launches the consumers; Wait drains them.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger(cfg.WorkerLocation)
	}
	monitorConc := cfg.MonitorConcurrency
	if monitorConc <= 0 {
		monitorConc = 10
	}
	playwrightConc := cfg.PlaywrightConcurrency
	if playwrightConc <= 0 {
		playwrightConc = 2
	}
	return &Worker{
		broker:                cfg.Broker,
		location:              cfg.WorkerLocation,
		monitors:              cfg.Monitors,
		jobs:                  cfg.Jobs,
		logger:                logger,
		monitorConcurrency:    monitorConc,
		playwrightConcurrency: playwrightConc,
	}
}

// Start launches one consumer per subscribed queue. The k6 queues run with
// concurrency 1: the runner holds a single slot per process and a wider
// consumer would only spin on the limit.
func (w *Worker) Start(ctx context.Context) {
	for _, name := range w.monitorQueues() {
		w.startConsumer(ctx, name, w.monitors.Handle, w.monitorConcurrency)
	}
	w.startConsumer(ctx, queue.PlaywrightGlobal, w.jobs.Handle, w.playwrightConcurrency)
	for _, name := range w.k6Queues() {
		w.startConsumer(ctx, name, w.jobs.Handle, 1)
	}
	w.logger.Info("worker started", map[string]any{
		"worker_location": w.location,
		"queues":          len(w.consumers),
	})
}

// Wait blocks until every consumer has drained after ctx cancellation.
func (w *Worker) Wait() {
	for _, c := range w.consumers {
		c.Wait()
	}
}

func (w *Worker) startConsumer(ctx context.Context, name string, handler queue.Handler, concurrency int) {
	c := queue.NewConsumer(w.broker.Get(name), handler, concurrency, w.logger)
	c.Start(ctx)
	w.consumers = append(w.consumers, c)
}

func (w *Worker) monitorQueues() []string {
	if w.location == types.WorkerLocationLocal {
		return queue.AllMonitorQueues()
	}
	return []string{queue.MonitorQueue(types.LocationCode(w.location))}
}

func (w *Worker) k6Queues() []string {
	if w.location == types.WorkerLocationLocal {
		return queue.AllK6Queues()
	}
	return []string{queue.K6Global, queue.K6Queue(types.LocationCode(w.location))}
}

// isLocationWildcard reports whether a job's location means "wherever it
// lands": empty, "*" or "any".
func isLocationWildcard(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "*", "any":
		return true
	}
	return false
}

// resolveJobLocation maps a job's location onto a concrete LocationCode from
// this worker's perspective. Wildcards take the worker's own location; a
// local worker reports the default primary.
func resolveJobLocation(raw, workerLocation string) types.LocationCode {
	if isLocationWildcard(raw) {
		if types.IsValidLocation(workerLocation) {
			return types.LocationCode(workerLocation)
		}
		return types.DefaultLocation
	}
	return types.NormalizeLocation(raw)
}

// locationMatches reports whether a resolved job location belongs on this
// worker. A local worker accepts everything.
func locationMatches(job types.LocationCode, workerLocation string) bool {
	if workerLocation == types.WorkerLocationLocal {
		return true
	}
	return string(job) == workerLocation
}
