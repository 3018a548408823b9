package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/supercheck-io/fleet/types"
)

// GetMonitor loads a monitor spec. The spec column carries the JSON shape
// owned by the REST surface; status and check timestamps live in their own
// columns because the fabric mutates them.
func (d *DB) GetMonitor(ctx context.Context, monitorID string) (*types.MonitorSpec, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT spec, status, last_check_at, last_status_change_at
		FROM monitors WHERE id = $1`, monitorID)

	var specJSON []byte
	var status string
	var lastCheckAt, lastStatusChangeAt *time.Time
	err := row.Scan(&specJSON, &status, &lastCheckAt, &lastStatusChangeAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("monitor %s: %w", monitorID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load monitor %s: %w", monitorID, err)
	}

	var spec types.MonitorSpec
	if err := json.Unmarshal(specJSON, &spec); err != nil {
		return nil, fmt.Errorf("decode monitor %s spec: %w", monitorID, err)
	}
	spec.ID = monitorID
	spec.Status = types.MonitorStatus(status)
	spec.LastCheckAt = lastCheckAt
	spec.LastStatusChangeAt = lastStatusChangeAt
	return &spec, nil
}

// UpdateMonitorStatus writes the aggregate status. lastStatusChangeAt moves
// only on a real transition; lastCheckAt always advances (last-write-wins
// across concurrent groups).
func (d *DB) UpdateMonitorStatus(ctx context.Context, monitorID string, status types.MonitorStatus, changed bool, checkedAt time.Time) error {
	var err error
	if changed {
		_, err = d.pool.Exec(ctx, `
			UPDATE monitors
			SET status = $2, last_check_at = $3, last_status_change_at = $3
			WHERE id = $1`, monitorID, string(status), checkedAt)
	} else {
		_, err = d.pool.Exec(ctx, `
			UPDATE monitors
			SET status = $2, last_check_at = $3
			WHERE id = $1`, monitorID, string(status), checkedAt)
	}
	if err != nil {
		return fmt.Errorf("update monitor %s status: %w", monitorID, err)
	}
	return nil
}

// TouchMonitorLastRun stamps a job-owning monitor's last run time.
func (d *DB) TouchMonitorLastRun(ctx context.Context, monitorID string, at time.Time) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE monitors SET last_run_at = $2 WHERE id = $1`, monitorID, at)
	if err != nil {
		return fmt.Errorf("touch monitor %s last run: %w", monitorID, err)
	}
	return nil
}
