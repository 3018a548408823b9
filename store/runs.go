package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/supercheck-io/fleet/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// CreateRun inserts a new run record. The dispatcher creates runs in the
// running state before enqueueing the job.
func (d *DB) CreateRun(ctx context.Context, run *types.RunRecord) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO runs (run_id, job_id, location, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		run.RunID, run.JobID, string(run.Location), string(run.Status), run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	return nil
}

// GetRun loads one run record.
func (d *DB) GetRun(ctx context.Context, runID string) (*types.RunRecord, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT run_id, job_id, location, status, started_at, completed_at,
		       duration_ms, report_url, logs_url, error_details
		FROM runs WHERE run_id = $1`, runID)

	var run types.RunRecord
	var location, status string
	var durationMs *int64
	var reportURL, logsURL, errorDetails *string
	err := row.Scan(&run.RunID, &run.JobID, &location, &status, &run.StartedAt,
		&run.CompletedAt, &durationMs, &reportURL, &logsURL, &errorDetails)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	run.Location = types.LocationCode(location)
	run.Status = types.RunStatus(status)
	if durationMs != nil {
		run.DurationMs = *durationMs
	}
	if reportURL != nil {
		run.ReportURL = *reportURL
	}
	if logsURL != nil {
		run.LogsURL = *logsURL
	}
	if errorDetails != nil {
		run.ErrorDetails = *errorDetails
	}
	return &run, nil
}

// MarkRunRunning flips a run to running and stamps its start time.
func (d *DB) MarkRunRunning(ctx context.Context, runID string, startedAt time.Time) error {
	tag, err := d.pool.Exec(ctx, `
		UPDATE runs SET status = $2, started_at = $3 WHERE run_id = $1`,
		runID, string(types.RunRunning), startedAt,
	)
	if err != nil {
		return fmt.Errorf("mark run %s running: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// CompleteRun writes a run's terminal state: status, completion time,
// duration, artifact URLs, and error details.
func (d *DB) CompleteRun(ctx context.Context, run *types.RunRecord) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE runs
		SET status = $2, completed_at = $3, duration_ms = $4,
		    report_url = NULLIF($5, ''), logs_url = NULLIF($6, ''),
		    error_details = NULLIF($7, '')
		WHERE run_id = $1`,
		run.RunID, string(run.Status), run.CompletedAt, run.DurationMs,
		run.ReportURL, run.LogsURL, run.ErrorDetails,
	)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", run.RunID, err)
	}
	return nil
}
