package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/supercheck-io/fleet/log"
	"github.com/supercheck-io/fleet/metrics"
	"github.com/supercheck-io/fleet/store"
	"github.com/supercheck-io/fleet/types"
)

// settleDelay gives in-flight inserts from other locations time to commit
// before the elected aggregator reads the group.
const settleDelay = 200 * time.Millisecond

// ResultStore is the slice of the result store the aggregator writes and
// reads.
type ResultStore interface {
	InsertMonitorResult(ctx context.Context, rec *types.MonitorResultRecord) (int64, error)
	LatestResult(ctx context.Context, monitorID string, location types.LocationCode) (*types.MonitorResultRecord, error)
	LatestResultsForGroup(ctx context.Context, monitorID, executionGroupID string) ([]types.MonitorResultRecord, error)
}

// MonitorStore reads and updates the monitor's aggregate status.
type MonitorStore interface {
	GetMonitor(ctx context.Context, monitorID string) (*types.MonitorSpec, error)
	UpdateMonitorStatus(ctx context.Context, monitorID string, status types.MonitorStatus, changed bool, checkedAt time.Time) error
}

// Aggregator persists per-location results and, when a location turns out to
// be the last reporter of its execution group, folds the group into the
// monitor's aggregate status.
type Aggregator struct {
	results  ResultStore
	monitors MonitorStore
	barrier  *Barrier
	gate     *Gate
	logger   *log.Logger
	metrics  *metrics.Collector

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

// New creates an aggregator. gate may be nil when alerting is disabled.
func New(results ResultStore, monitors MonitorStore, barrier *Barrier, gate *Gate, logger *log.Logger, collector *metrics.Collector) *Aggregator {
	if logger == nil {
		logger = log.NewLogger("")
	}
	return &Aggregator{
		results:  results,
		monitors: monitors,
		barrier:  barrier,
		gate:     gate,
		logger:   logger,
		metrics:  collector,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// SaveDistributedResult writes one location's probe outcome and runs group
// aggregation when this location completes the barrier. The row is inserted
// before barrier registration so the elected aggregator always sees it.
func (a *Aggregator) SaveDistributedResult(ctx context.Context, job *types.MonitorJob, probe *types.ProbeResult) error {
	rec := a.buildRecord(ctx, job, probe)
	if _, err := a.results.InsertMonitorResult(ctx, rec); err != nil {
		return fmt.Errorf("save result for %s at %s: %w", job.MonitorID, job.ExecutionLocation, err)
	}

	a.checkSSLExpiry(ctx, job, probe)

	expected := len(job.ExpectedLocations)
	if expected == 0 {
		expected = 1
	}
	count, err := a.barrier.Register(ctx, job.ExecutionGroupID, job.ExecutionLocation)
	if err != nil {
		// The row is saved; re-running the job would duplicate it. The
		// barrier key expires on its own and the next tick aggregates.
		a.logger.Error("barrier registration failed, skipping aggregation", map[string]any{
			"monitor_id": job.MonitorID,
			"group_id":   job.ExecutionGroupID,
			"error":      err.Error(),
		})
		return nil
	}
	if count < int64(expected) {
		a.logger.Debug("waiting for remaining locations", map[string]any{
			"monitor_id": job.MonitorID,
			"group_id":   job.ExecutionGroupID,
			"reported":   count,
			"expected":   expected,
		})
		return nil
	}

	return a.aggregateGroup(ctx, job, rec)
}

// buildRecord continues the location's consecutive counters from its latest
// row. Counters reset when is_up flips; alert counters carry only within an
// unbroken streak.
func (a *Aggregator) buildRecord(ctx context.Context, job *types.MonitorJob, probe *types.ProbeResult) *types.MonitorResultRecord {
	rec := &types.MonitorResultRecord{
		MonitorID:        job.MonitorID,
		Location:         job.ExecutionLocation,
		CheckedAt:        a.now().UTC(),
		Status:           probe.Status,
		IsUp:             probe.IsUp,
		ResponseTimeMs:   probe.ResponseTimeMs,
		Details:          probe.Details,
		ExecutionGroupID: job.ExecutionGroupID,
		IsStatusChange:   true,
	}
	if rec.Details == nil {
		rec.Details = types.ResultDetails{}
	}
	rec.Details["expectedLocations"] = job.ExpectedLocations

	prev, err := a.results.LatestResult(ctx, job.MonitorID, job.ExecutionLocation)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("previous result unavailable, counters restart", map[string]any{
				"monitor_id": job.MonitorID,
				"location":   string(job.ExecutionLocation),
				"error":      err.Error(),
			})
		}
		prev = nil
	}

	switch {
	case probe.IsUp:
		rec.ConsecutiveSuccessCount = 1
		if prev != nil && prev.IsUp {
			rec.ConsecutiveSuccessCount = prev.ConsecutiveSuccessCount + 1
			rec.AlertsSentForRecovery = prev.AlertsSentForRecovery
			rec.IsStatusChange = false
		}
	default:
		rec.ConsecutiveFailureCount = 1
		if prev != nil && !prev.IsUp {
			rec.ConsecutiveFailureCount = prev.ConsecutiveFailureCount + 1
			rec.AlertsSentForFailure = prev.AlertsSentForFailure
			rec.IsStatusChange = false
		}
	}
	return rec
}

// aggregateGroup runs on the location that completed the barrier: read every
// location's row, fold them by the monitor's strategy and publish the status.
func (a *Aggregator) aggregateGroup(ctx context.Context, job *types.MonitorJob, rec *types.MonitorResultRecord) error {
	// Barrier registration races the other locations' inserts by a hair;
	// a short settle keeps the group read complete.
	a.sleep(ctx, settleDelay)

	rows, err := a.results.LatestResultsForGroup(ctx, job.MonitorID, job.ExecutionGroupID)
	if err != nil {
		return fmt.Errorf("aggregate group %s: %w", job.ExecutionGroupID, err)
	}
	a.barrier.Delete(ctx, job.ExecutionGroupID)

	statuses := make(map[types.LocationCode]bool, len(rows))
	for _, row := range rows {
		statuses[row.Location] = row.IsUp
	}

	cfg := job.Spec.Locations
	status := Combine(statuses, cfg.EffectiveStrategy(), cfg.EffectiveThreshold())

	monitor, err := a.monitors.GetMonitor(ctx, job.MonitorID)
	if err != nil {
		a.logger.Warn("monitor reload failed, using job snapshot", map[string]any{
			"monitor_id": job.MonitorID,
			"error":      err.Error(),
		})
		snapshot := job.Spec
		monitor = &snapshot
	}
	previous := monitor.Status
	changed := previous != status

	if err := a.monitors.UpdateMonitorStatus(ctx, job.MonitorID, status, changed, a.now().UTC()); err != nil {
		return fmt.Errorf("publish status for %s: %w", job.MonitorID, err)
	}
	a.metrics.IncGroupAggregated()
	a.logger.Info("group aggregated", map[string]any{
		"monitor_id": job.MonitorID,
		"group_id":   job.ExecutionGroupID,
		"locations":  len(statuses),
		"status":     string(status),
		"changed":    changed,
	})

	if a.gate != nil {
		a.gate.OnAggregate(ctx, monitor, rec, previous, status)
	}
	return nil
}

// checkSSLExpiry feeds certificate freshness into the gate's separate SSL
// warning path when the probe surfaced certificate details.
func (a *Aggregator) checkSSLExpiry(ctx context.Context, job *types.MonitorJob, probe *types.ProbeResult) {
	if a.gate == nil || probe.Details == nil {
		return
	}
	cert := sslCertificate(probe.Details)
	if cert == nil {
		return
	}
	expired := cert.DaysRemaining <= 0
	a.gate.CheckSSLExpiry(ctx, &job.Spec, cert.DaysRemaining, expired)
}

// sslCertificate finds certificate details on a probe result. Dedicated SSL
// monitors put them at the top level; website monitors fold the certificate
// check into the same cycle and nest its details under "ssl".
func sslCertificate(details types.ResultDetails) *types.SSLCertificateDetails {
	if cert, ok := details["sslCertificate"].(*types.SSLCertificateDetails); ok {
		return cert
	}
	if nested, ok := details["ssl"].(types.ResultDetails); ok {
		if cert, ok := nested["sslCertificate"].(*types.SSLCertificateDetails); ok {
			return cert
		}
	}
	return nil
}
