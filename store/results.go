package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/supercheck-io/fleet/types"
)

// InsertMonitorResult appends one per-location result row and returns its id.
// The caller has already computed the consecutive counters.
func (d *DB) InsertMonitorResult(ctx context.Context, rec *types.MonitorResultRecord) (int64, error) {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return 0, fmt.Errorf("marshal result details: %w", err)
	}

	var id int64
	err = d.pool.QueryRow(ctx, `
		INSERT INTO monitor_results (
			monitor_id, location, checked_at, status, is_up, response_time_ms,
			details, execution_group_id,
			consecutive_failure_count, consecutive_success_count,
			alerts_sent_for_failure, alerts_sent_for_recovery, is_status_change
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		rec.MonitorID, string(rec.Location), rec.CheckedAt, string(rec.Status),
		rec.IsUp, rec.ResponseTimeMs, details, rec.ExecutionGroupID,
		rec.ConsecutiveFailureCount, rec.ConsecutiveSuccessCount,
		rec.AlertsSentForFailure, rec.AlertsSentForRecovery, rec.IsStatusChange,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert result for monitor %s: %w", rec.MonitorID, err)
	}
	rec.ID = id
	return id, nil
}

// LatestResult returns the newest result row for a monitor at one location,
// used to continue the consecutive counters.
func (d *DB) LatestResult(ctx context.Context, monitorID string, location types.LocationCode) (*types.MonitorResultRecord, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, monitor_id, location, checked_at, status, is_up,
		       response_time_ms, execution_group_id,
		       consecutive_failure_count, consecutive_success_count,
		       alerts_sent_for_failure, alerts_sent_for_recovery, is_status_change
		FROM monitor_results
		WHERE monitor_id = $1 AND location = $2
		ORDER BY checked_at DESC
		LIMIT 1`, monitorID, string(location))

	rec, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("latest result for %s at %s: %w", monitorID, location, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest result for %s at %s: %w", monitorID, location, err)
	}
	return rec, nil
}

// LatestResultsForGroup returns the newest row per location for one
// execution group, the aggregator's read after the barrier completes.
func (d *DB) LatestResultsForGroup(ctx context.Context, monitorID, executionGroupID string) ([]types.MonitorResultRecord, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT DISTINCT ON (location)
		       id, monitor_id, location, checked_at, status, is_up,
		       response_time_ms, execution_group_id,
		       consecutive_failure_count, consecutive_success_count,
		       alerts_sent_for_failure, alerts_sent_for_recovery, is_status_change
		FROM monitor_results
		WHERE monitor_id = $1 AND execution_group_id = $2
		ORDER BY location, checked_at DESC`, monitorID, executionGroupID)
	if err != nil {
		return nil, fmt.Errorf("group results for %s/%s: %w", monitorID, executionGroupID, err)
	}
	defer rows.Close()

	var out []types.MonitorResultRecord
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("group results for %s/%s: %w", monitorID, executionGroupID, err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// IncrementFailureAlerts bumps the failure-alert counter on a result row.
func (d *DB) IncrementFailureAlerts(ctx context.Context, resultID int64) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE monitor_results
		SET alerts_sent_for_failure = alerts_sent_for_failure + 1
		WHERE id = $1`, resultID)
	if err != nil {
		return fmt.Errorf("increment failure alerts on %d: %w", resultID, err)
	}
	return nil
}

// IncrementRecoveryAlerts bumps the recovery-alert counter on a result row.
func (d *DB) IncrementRecoveryAlerts(ctx context.Context, resultID int64) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE monitor_results
		SET alerts_sent_for_recovery = alerts_sent_for_recovery + 1
		WHERE id = $1`, resultID)
	if err != nil {
		return fmt.Errorf("increment recovery alerts on %d: %w", resultID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*types.MonitorResultRecord, error) {
	var rec types.MonitorResultRecord
	var location, status string
	err := row.Scan(&rec.ID, &rec.MonitorID, &location, &rec.CheckedAt, &status,
		&rec.IsUp, &rec.ResponseTimeMs, &rec.ExecutionGroupID,
		&rec.ConsecutiveFailureCount, &rec.ConsecutiveSuccessCount,
		&rec.AlertsSentForFailure, &rec.AlertsSentForRecovery, &rec.IsStatusChange)
	if err != nil {
		return nil, err
	}
	rec.Location = types.LocationCode(location)
	rec.Status = types.ResultStatus(status)
	return &rec, nil
}
