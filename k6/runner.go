package k6

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/supercheck-io/fleet/container"
	"github.com/supercheck-io/fleet/log"
	"github.com/supercheck-io/fleet/metrics"
)

// Execution resource profile. Load generation is memory- and CPU-hungry but
// bounded; the dashboard exporter needs bridge networking.
const (
	memoryMB    = 1536
	cpuFraction = 1.0

	scriptFileName = "test.js"
	summaryPath    = "/tmp/summary.json"
	metricsPath    = "/tmp/metrics.json"
	reportExport   = "/tmp/report/report.html"

	defaultTimeout     = 30 * time.Minute
	defaultMaxAttempts = 5
)

// ErrConcurrencyLimit is returned when the per-process run slot is taken.
// Horizontal scale-out is by worker replicas, not per-worker parallelism.
var ErrConcurrencyLimit = errors.New("k6 concurrency limit reached: one run per worker")

// ContainerExecutor is the sandbox the runner launches k6 in.
type ContainerExecutor interface {
	Execute(ctx context.Context, job *container.Job, sinks container.StreamSinks) (*container.Result, error)
	Registry() *container.Registry
}

// ArtifactStore persists report files and returns their public URLs.
type ArtifactStore interface {
	UploadFile(ctx context.Context, key, localPath, contentType string) (string, error)
	UploadBytes(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// LiveLogPublisher streams console chunks to subscribers during the run.
type LiveLogPublisher interface {
	NewSink(ctx context.Context, runID string, onError func(error)) io.Writer
}

// Task is one load-test execution request.
type Task struct {
	RunID          string
	JobID          string
	TestID         string
	Script         string
	OrganizationID string
	ProjectID      string
	Location       string
	Timeout        time.Duration
}

// Result is the outcome of one load-test run.
type Result struct {
	Success          bool
	TimedOut         bool
	Cancelled        bool
	RunID            string
	DurationMs       int64
	Summary          *Summary
	Headline         HeadlineMetrics
	ThresholdsPassed bool
	ReportURL        string
	SummaryURL       string
	ConsoleURL       string
	Error            string
	ConsoleOutput    string
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Executor ContainerExecutor
	// Store may be nil; runs then complete without published artifacts.
	Store ArtifactStore
	// LiveLogs may be nil; console streaming is then disabled.
	LiveLogs      LiveLogPublisher
	Ports         *PortPool
	Logger        *log.Logger
	Collector     *metrics.Collector
	Image         string
	DashboardAddr string
	MaxAttempts   int
}

// Runner executes k6 scripts through the container executor, one at a time.
type Runner struct {
	executor      ContainerExecutor
	store         ArtifactStore
	liveLogs      LiveLogPublisher
	ports         *PortPool
	logger        *log.Logger
	collector     *metrics.Collector
	image         string
	dashboardAddr string
	maxAttempts   int

	slot chan struct{}
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger("")
	}
	ports := cfg.Ports
	if ports == nil {
		ports = NewPortPool(0, 0, cfg.DashboardAddr)
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	addr := cfg.DashboardAddr
	if addr == "" {
		addr = "127.0.0.1"
	}
	slot := make(chan struct{}, 1)
	slot <- struct{}{}
	return &Runner{
		executor:      cfg.Executor,
		store:         cfg.Store,
		liveLogs:      cfg.LiveLogs,
		ports:         ports,
		logger:        logger,
		collector:     cfg.Collector,
		image:         cfg.Image,
		dashboardAddr: addr,
		maxAttempts:   attempts,
		slot:          slot,
	}
}

// Run executes the task and reports the verdict. Domain failures land in the
// Result; the error return covers the concurrency slot and invalid tasks.
func (r *Runner) Run(ctx context.Context, task Task) (*Result, error) {
	if task.RunID == "" || task.Script == "" {
		return nil, errors.New("k6 task requires runId and script")
	}

	select {
	case <-r.slot:
	default:
		return nil, ErrConcurrencyLimit
	}
	defer func() { r.slot <- struct{}{} }()

	logger := r.logger.WithRun(task.RunID)

	var lastResult *Result
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		res, retry, err := r.runOnce(ctx, task, logger)
		if err != nil {
			return nil, err
		}
		if !retry {
			return res, nil
		}
		lastResult = res
		logger.Warn("dashboard port collision, retrying", map[string]any{
			"attempt": attempt,
		})
	}
	lastResult.Error = fmt.Sprintf("dashboard port exhausted after %d attempts", r.maxAttempts)
	return lastResult, nil
}

// runOnce performs a single launch attempt. retry is true only for dashboard
// port collisions, which allocate a fresh port on the next attempt.
func (r *Runner) runOnce(ctx context.Context, task Task, logger *log.Logger) (res *Result, retry bool, err error) {
	port, release, err := r.ports.Allocate()
	if err != nil {
		return nil, false, fmt.Errorf("allocate dashboard port: %w", err)
	}
	defer release()

	extractDir, err := os.MkdirTemp("", "k6-run-")
	if err != nil {
		return nil, false, fmt.Errorf("create extraction dir: %w", err)
	}
	defer os.RemoveAll(extractDir)

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	job := &container.Job{
		Image: r.image,
		Cmd: []string{
			"k6", "run",
			"--summary-export", summaryPath,
			"--summary-trend-stats", "avg,min,med,max,p(90),p(95),p(99)",
			"--out", "web-dashboard",
			"--out", "json=" + metricsPath,
			"/tmp/" + scriptFileName,
		},
		Env: map[string]string{
			"K6_WEB_DASHBOARD":        "true",
			"K6_WEB_DASHBOARD_EXPORT": reportExport,
			"K6_WEB_DASHBOARD_PORT":   strconv.Itoa(port),
			"K6_WEB_DASHBOARD_ADDR":   r.dashboardAddr,
			"K6_NO_COLOR":             "1",
		},
		MemoryMB:             memoryMB,
		CPUFraction:          cpuFraction,
		Network:              container.NetworkBridge,
		Timeout:              timeout,
		InlineScriptContent:  []byte(task.Script),
		InlineScriptFileName: scriptFileName,
		EnsureDirs:           []string{"/tmp/report"},
		ExtractFromContainer: "/tmp",
		ExtractToHost:        extractDir,
		RunID:                task.RunID,
	}

	var console strings.Builder
	sinks := container.StreamSinks{Stdout: &console, Stderr: &console}
	if r.liveLogs != nil {
		live := r.liveLogs.NewSink(ctx, task.RunID, func(err error) {
			logger.Warn("live log publish failed", map[string]any{"error": err.Error()})
		})
		sinks.Stdout = io.MultiWriter(&console, live)
		sinks.Stderr = io.MultiWriter(&console, live)
	}

	if port > 0 {
		go r.attachDashboardPort(task.RunID, port)
	}

	exec, err := r.executor.Execute(ctx, job, sinks)
	if err != nil {
		return nil, false, err
	}

	if port > 0 && isPortCollision(exec) {
		return &Result{RunID: task.RunID, DurationMs: exec.DurationMs}, true, nil
	}

	res = &Result{
		RunID:         task.RunID,
		TimedOut:      exec.TimedOut,
		Cancelled:     exec.Cancelled,
		DurationMs:    exec.DurationMs,
		ConsoleOutput: console.String(),
	}
	if exec.Cancelled {
		res.Error = "cancelled"
		return res, false, nil
	}

	summary := r.loadSummary(extractDir, logger)
	verdict := ComputeVerdict(exec.TimedOut, exec.ExitCode, summary)
	res.Summary = summary
	res.Headline = summary.Headline()
	res.Success = verdict.Success
	res.ThresholdsPassed = verdict.ThresholdsPassed
	if !verdict.Success {
		res.Error = verdict.Reason
	}
	if res.Error == "" && exec.Error != "" {
		res.Error = exec.Error
	}

	r.publishArtifacts(ctx, task.RunID, extractDir, res, logger)
	return res, false, nil
}

// attachDashboardPort records the dashboard port on the active-run entry
// once the executor has registered it.
func (r *Runner) attachDashboardPort(runID string, port int) {
	registry := r.executor.Registry()
	for i := 0; i < 20; i++ {
		if _, ok := registry.Lookup(runID); ok {
			registry.SetDashboardPort(runID, port)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// loadSummary reads the extracted summary export; a missing or malformed
// file degrades to nil and the exit code decides the verdict.
func (r *Runner) loadSummary(extractDir string, logger *log.Logger) *Summary {
	summary, err := ParseSummaryFile(filepath.Join(extractDir, "summary.json"))
	if err != nil {
		logger.Warn("summary export unavailable", map[string]any{"error": err.Error()})
		return nil
	}
	return summary
}

// publishArtifacts repackages the extraction directory into the report
// layout and uploads it: report.html becomes index.html, the summary and
// console log sit beside it, metrics.json is kept raw. Upload failures are
// logged and leave the URLs empty.
func (r *Runner) publishArtifacts(ctx context.Context, runID, extractDir string, res *Result, logger *log.Logger) {
	if r.store == nil {
		return
	}

	upload := func(key, path, contentType string) string {
		url, err := r.store.UploadFile(ctx, runID+"/"+key, path, contentType)
		if err != nil {
			r.collector.IncUploadFailure()
			logger.Warn("artifact upload failed", map[string]any{
				"artifact": key,
				"error":    err.Error(),
			})
			return ""
		}
		r.collector.IncUploadSuccess()
		return url
	}

	if report := filepath.Join(extractDir, "report", "report.html"); fileExists(report) {
		res.ReportURL = upload("index.html", report, "text/html")
	}
	if summary := filepath.Join(extractDir, "summary.json"); fileExists(summary) {
		res.SummaryURL = upload("summary.json", summary, "application/json")
	}
	if metricsFile := filepath.Join(extractDir, "metrics.json"); fileExists(metricsFile) {
		upload("metrics.json", metricsFile, "application/json")
	}
	if res.ConsoleOutput != "" {
		url, err := r.store.UploadBytes(ctx, runID+"/console.log", []byte(res.ConsoleOutput), "text/plain")
		if err != nil {
			r.collector.IncUploadFailure()
			logger.Warn("console log upload failed", map[string]any{"error": err.Error()})
		} else {
			r.collector.IncUploadSuccess()
			res.ConsoleURL = url
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// isPortCollision detects the dashboard exporter losing the bind race.
func isPortCollision(res *container.Result) bool {
	if res.Success {
		return false
	}
	stderr := res.Stderr
	return strings.Contains(stderr, "address already in use") ||
		strings.Contains(stderr, "EADDRINUSE")
}
