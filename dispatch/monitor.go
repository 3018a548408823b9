// Package dispatch fans scheduler triggers out to the regional queues: one
// execution group per monitor tick, one run record per test job.
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

// monitorBackoffBase is the fan-out retry backoff start.
const monitorBackoffBase = 5 * time.Second

// Enqueuer is the queue surface the dispatchers use.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobID string, payload any, opts queue.Options) error
}

// MonitorDispatcher fans one monitor tick out to its effective locations
// under a single execution group.
type MonitorDispatcher struct {
	queues Enqueuer
	logger *log.Logger
	now    func() time.Time
}

// NewMonitorDispatcher creates a monitor dispatcher.
func NewMonitorDispatcher(queues Enqueuer, logger *log.Logger) *MonitorDispatcher {
	if logger == nil {
		logger = log.NewLogger("")
	}
	return &MonitorDispatcher{queues: queues, logger: logger, now: time.Now}
}

// Dispatch enqueues one job per effective location, all stamped with the
// same execution group and the full expected-location set. A location whose
// previous tick is still queued dedups silently; other enqueue failures
// abort so the scheduler retries the tick.
func (d *MonitorDispatcher) Dispatch(ctx context.Context, monitor *types.MonitorSpec) (string, []types.LocationCode, error) {
	if monitor.ID == "" {
		return "", nil, errors.New("monitor id is required")
	}

	locations := monitor.Locations.EffectiveLocations()
	groupID := types.NewExecutionGroupID(monitor.ID, d.now())

	opts := queue.MonitorJobOptions()
	opts.BackoffBase = monitorBackoffBase

	for _, location := range locations {
		job := types.MonitorJob{
			MonitorID:         monitor.ID,
			Kind:              monitor.Kind,
			Target:            monitor.Target,
			Spec:              *monitor,
			ExecutionLocation: location,
			ExecutionGroupID:  groupID,
			ExpectedLocations: locations,
		}
		err := d.queues.Enqueue(ctx, queue.MonitorQueue(location), job.DedupID(), &job, opts)
		if errors.Is(err, queue.ErrDuplicate) {
			d.logger.Debug("monitor job deduplicated", map[string]any{
				"monitor_id": monitor.ID,
				"location":   string(location),
			})
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("dispatch monitor %s to %s: %w", monitor.ID, location, err)
		}
	}

	d.logger.Info("monitor tick dispatched", map[string]any{
		"monitor_id":         monitor.ID,
		"execution_group_id": groupID,
		"locations":          len(locations),
	})
	return groupID, locations, nil
}
