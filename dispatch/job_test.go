package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/supercheck-io/fleet/types"
)

type fakeRuns struct {
	created   []*types.RunRecord
	completed []*types.RunRecord
	createErr error
}

func (f *fakeRuns) CreateRun(_ context.Context, run *types.RunRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	copied := *run
	f.created = append(f.created, &copied)
	return nil
}

func (f *fakeRuns) CompleteRun(_ context.Context, run *types.RunRecord) error {
	copied := *run
	f.completed = append(f.completed, &copied)
	return nil
}

func k6Trigger() *types.JobTrigger {
	return &types.JobTrigger{
		JobID:   "job-1",
		RunID:   "run-1",
		JobType: types.JobTypeK6,
		TestScripts: []types.TestScript{
			{ID: "t1", Script: "export default function(){}", Type: types.TestTypePerformance},
		},
	}
}

func TestJobDispatch_PlaywrightRoutesToGlobalQueue(t *testing.T) {
	q := &fakeEnqueuer{}
	runs := &fakeRuns{}
	d := NewJobDispatcher(q, runs, nil)

	trigger := &types.JobTrigger{
		JobID:       "job-2",
		RunID:       "run-2",
		JobType:     types.JobTypePlaywright,
		TestScripts: []types.TestScript{{ID: "t1", Script: "x"}},
	}
	if err := d.Dispatch(context.Background(), trigger); err != nil {
		t.Fatal(err)
	}
	if len(q.calls) != 1 || q.calls[0].queueName != "playwright-global" {
		t.Fatalf("calls = %+v", q.calls)
	}
	if len(runs.created) != 1 || runs.created[0].Status != types.RunRunning {
		t.Errorf("run = %+v", runs.created)
	}
	if runs.created[0].StartedAt == nil {
		t.Error("run must be created with a start time")
	}
}

func TestJobDispatch_K6RoutesGlobalOrRegional(t *testing.T) {
	q := &fakeEnqueuer{}
	d := NewJobDispatcher(q, &fakeRuns{}, nil)

	if err := d.Dispatch(context.Background(), k6Trigger()); err != nil {
		t.Fatal(err)
	}
	if q.calls[0].queueName != "k6-global" {
		t.Errorf("queue = %q", q.calls[0].queueName)
	}

	regional := k6Trigger()
	regional.RunID = "run-3"
	regional.JobID = "job-3"
	regional.Location = "us-east"
	if err := d.Dispatch(context.Background(), regional); err != nil {
		t.Fatal(err)
	}
	if q.calls[1].queueName != "k6-us-east" {
		t.Errorf("queue = %q", q.calls[1].queueName)
	}
}

func TestJobDispatch_K6RequiresSinglePerformanceTest(t *testing.T) {
	cases := []struct {
		name    string
		scripts []types.TestScript
	}{
		{"no tests", nil},
		{"wrong kind", []types.TestScript{{ID: "t1", Script: "x", Type: "browser"}}},
		{"multiple tests", []types.TestScript{
			{ID: "t1", Script: "x", Type: types.TestTypePerformance},
			{ID: "t2", Script: "y", Type: types.TestTypePerformance},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := &fakeEnqueuer{}
			runs := &fakeRuns{}
			d := NewJobDispatcher(q, runs, nil)

			trigger := k6Trigger()
			trigger.TestScripts = tc.scripts
			err := d.Dispatch(context.Background(), trigger)
			if !errors.Is(err, ErrInvalidK6Job) {
				t.Fatalf("err = %v", err)
			}
			if len(q.calls) != 0 {
				t.Error("invalid trigger must not enqueue")
			}
			if len(runs.completed) != 1 {
				t.Fatal("run must be terminally failed")
			}
			final := runs.completed[0]
			if final.Status != types.RunFailed || final.ErrorDetails != "k6 jobs require performance tests" {
				t.Errorf("final run = %+v", final)
			}
		})
	}
}

func TestJobDispatch_RetryLimitOverridesAttempts(t *testing.T) {
	q := &fakeEnqueuer{}
	d := NewJobDispatcher(q, &fakeRuns{}, nil)

	trigger := k6Trigger()
	trigger.RetryLimit = 5
	if err := d.Dispatch(context.Background(), trigger); err != nil {
		t.Fatal(err)
	}
	if q.calls[0].opts.Attempts != 5 {
		t.Errorf("attempts = %d", q.calls[0].opts.Attempts)
	}
}

func TestJobDispatch_CreateRunFailureAborts(t *testing.T) {
	q := &fakeEnqueuer{}
	d := NewJobDispatcher(q, &fakeRuns{createErr: errors.New("db down")}, nil)

	if err := d.Dispatch(context.Background(), k6Trigger()); err == nil {
		t.Fatal("expected error")
	}
	if len(q.calls) != 0 {
		t.Error("run creation failure must not enqueue")
	}
}

func TestJobDispatch_UnknownTypeFailsRun(t *testing.T) {
	runs := &fakeRuns{}
	d := NewJobDispatcher(&fakeEnqueuer{}, runs, nil)

	trigger := &types.JobTrigger{RunID: "run-9", JobType: "cypress"}
	if err := d.Dispatch(context.Background(), trigger); err == nil {
		t.Fatal("unknown type should error")
	}
	if len(runs.completed) != 1 || runs.completed[0].Status != types.RunFailed {
		t.Errorf("run should be failed: %+v", runs.completed)
	}
}
