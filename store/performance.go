package store

import (
	"context"
	"fmt"
	"time"

	"github.com/supercheck-io/fleet/k6"
)

// InsertPerformanceMetrics writes the derived reporting row for a k6 run.
func (d *DB) InsertPerformanceMetrics(ctx context.Context, runID string, at time.Time, h k6.HeadlineMetrics) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO performance_metrics (
			run_id, recorded_at, total_requests, failed_requests, request_rate,
			avg_response_time_ms, p95_response_time_ms, p99_response_time_ms, max_vus
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		runID, at, h.TotalRequests, h.FailedRequests, h.RequestRateX100,
		h.AvgResponseTimeMs, h.P95ResponseTimeMs, h.P99ResponseTimeMs, h.MaxVUs,
	)
	if err != nil {
		return fmt.Errorf("insert performance metrics for %s: %w", runID, err)
	}
	return nil
}
