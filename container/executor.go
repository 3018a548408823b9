package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/supercheck-io/fleet/log"
	"github.com/supercheck-io/fleet/metrics"
)

// cancellationPollInterval is how often an executing run checks the
// external cancellation flag.
const cancellationPollInterval = time.Second

// removalTimeout bounds container kill/remove/copy admin operations.
const removalTimeout = 10 * time.Second

// CancellationStore is the external cancellation flag contract.
// Implementations must degrade to "not cancelled" on connectivity loss.
type CancellationStore interface {
	IsCancelled(ctx context.Context, runID string) bool
	ClearCancellation(ctx context.Context, runID string)
}

// StreamSinks receive stdout and stderr chunks as they arrive. Either may
// be nil.
type StreamSinks struct {
	Stdout io.Writer
	Stderr io.Writer
}

// ExecutorConfig configures the container executor.
type ExecutorConfig struct {
	// Engine is the container CLI binary (default "docker").
	Engine string
	// SeccompProfilePath, when set, is passed as the seccomp security
	// option. The profile must allow user-namespace syscalls so browsers
	// can run their own sandbox inside the container.
	SeccompProfilePath string
	// User is the uid:gid containers run as (default "1000:1000").
	User string
	// Cancellations enables external kill; nil disables polling.
	Cancellations CancellationStore
	Registry      *Registry
	Logger        *log.Logger
	Collector     *metrics.Collector
}

// Executor launches constrained containers through the engine CLI.
type Executor struct {
	engine         string
	seccompProfile string
	user           string
	cancels        CancellationStore
	registry       *Registry
	logger         *log.Logger
	collector      *metrics.Collector
}

// NewExecutor creates a container executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	engine := cfg.Engine
	if engine == "" {
		engine = "docker"
	}
	user := cfg.User
	if user == "" {
		user = "1000:1000"
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger("unknown")
	}
	return &Executor{
		engine:         engine,
		seccompProfile: cfg.SeccompProfilePath,
		user:           user,
		cancels:        cfg.Cancellations,
		registry:       registry,
		logger:         logger,
		collector:      cfg.Collector,
	}
}

// Registry exposes the active-run registry for callers that attach
// dashboard ports.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs the job to completion and reports the outcome. Domain
// failures (engine unavailable, timeout, non-zero exit, cancellation) are
// packaged into the Result; the error return is reserved for validation.
func (e *Executor) Execute(ctx context.Context, job *Job, sinks StreamSinks) (*Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	env, dropped := FilterEnv(job.Env)
	if len(dropped) > 0 {
		e.logger.Warn("dropping env vars with invalid names", map[string]any{
			"dropped": dropped,
		})
	}

	name := "exec-" + uuid.New().String()
	wrapper := buildWrapperScript(job)
	args := e.buildRunArgs(name, job, env, wrapper)

	start := time.Now()
	cmd := exec.Command(e.engine, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		e.collector.IncContainerLaunchFailure()
		e.logger.Error("container launch failed", map[string]any{
			"error": err.Error(),
			"image": job.Image,
		})
		return &Result{
			Success:    false,
			ExitCode:   -1,
			DurationMs: time.Since(start).Milliseconds(),
			Error:      ErrEngineUnavailable.Error(),
		}, nil
	}
	e.collector.IncContainerLaunched()

	if job.RunID != "" {
		e.registry.Register(ActiveRun{RunID: job.RunID, ContainerName: name})
		defer e.registry.Deregister(job.RunID)
	}

	var stdoutBuf, stderrBuf strings.Builder
	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		streamCopy(stdout, &stdoutBuf, sinks.Stdout)
	}()
	go func() {
		defer streams.Done()
		streamCopy(stderr, &stderrBuf, sinks.Stderr)
	}()

	// Wait closes the pipes, so it must not run until both readers have hit
	// EOF or trailing output is lost mid-read.
	waitCh := make(chan error, 1)
	go func() {
		streams.Wait()
		waitCh <- cmd.Wait()
	}()

	timer := time.NewTimer(job.Timeout)
	defer timer.Stop()
	ticker := time.NewTicker(cancellationPollInterval)
	defer ticker.Stop()

	result := &Result{}
	var waitErr error

wait:
	for {
		select {
		case waitErr = <-waitCh:
			break wait

		case <-timer.C:
			result.TimedOut = true
			e.collector.IncContainerTimeout()
			e.logger.Warn("container timed out", map[string]any{
				"container": name,
				"timeout":   job.Timeout.String(),
			})
			e.killContainer(name)
			_ = cmd.Process.Kill()
			<-waitCh
			break wait

		case <-ticker.C:
			if job.RunID == "" || e.cancels == nil {
				continue
			}
			if !e.cancels.IsCancelled(ctx, job.RunID) {
				continue
			}
			result.Cancelled = true
			e.logger.Info("run cancelled externally", map[string]any{
				"run_id":    job.RunID,
				"container": name,
			})
			e.killContainer(name)
			_ = cmd.Process.Kill()
			<-waitCh
			e.cancels.ClearCancellation(ctx, job.RunID)
			break wait

		case <-ctx.Done():
			e.killContainer(name)
			_ = cmd.Process.Kill()
			<-waitCh
			result.Error = "context cancelled"
			break wait
		}
	}

	// Every exit from the wait loop has received from waitCh, so the stream
	// goroutines are done and the buffers are complete.
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	result.DurationMs = time.Since(start).Milliseconds()

	switch {
	case result.TimedOut:
		result.ExitCode = 124
	case result.Cancelled:
		result.ExitCode = 137
		result.Error = "cancelled"
	case result.Error != "":
		result.ExitCode = -1
	default:
		result.ExitCode = exitCodeFromWait(waitErr)
		result.Success = result.ExitCode == 0
	}

	// Extraction runs only on the normal completion path; a failed copy is
	// logged and does not fail the primary result.
	if !result.TimedOut && !result.Cancelled && job.ExtractFromContainer != "" {
		if err := e.copyFromContainer(name, job.ExtractFromContainer, job.ExtractToHost); err != nil {
			e.logger.Warn("artifact extraction failed", map[string]any{
				"container": name,
				"from":      job.ExtractFromContainer,
				"error":     err.Error(),
			})
		}
	}

	// Removal is always attempted; --rm already covers the no-extraction
	// happy path, so errors here are expected noise.
	if job.ExtractFromContainer != "" || result.TimedOut || result.Cancelled || result.ExitCode != 0 {
		e.removeContainer(name)
	}

	return result, nil
}

// buildRunArgs assembles the engine CLI invocation under the fixed
// isolation contract: non-root user, seccomp profile, no privilege
// escalation, all capabilities dropped, init reaper, host IPC, no swap,
// bounded pids and shm.
func (e *Executor) buildRunArgs(name string, job *Job, env map[string]string, wrapper string) []string {
	args := []string{
		"run",
		"--name", name,
		"--user", e.user,
	}
	if e.seccompProfile != "" {
		args = append(args, "--security-opt", "seccomp="+e.seccompProfile)
	}
	args = append(args,
		"--init",
		"--ipc=host",
		"--security-opt=no-new-privileges",
		"--cap-drop=ALL",
		fmt.Sprintf("--memory=%dm", job.MemoryMB),
		fmt.Sprintf("--memory-swap=%dm", job.MemoryMB),
		fmt.Sprintf("--cpus=%g", job.CPUFraction),
		fmt.Sprintf("--pids-limit=%d", PidsLimit),
		"--shm-size="+ShmSize,
		"--network", string(job.Network),
	)
	if job.ExtractFromContainer == "" {
		args = append(args, "--rm")
	}
	if job.WorkingDir != "" {
		args = append(args, "-w", job.WorkingDir)
	}

	names := make([]string, 0, len(env))
	for n := range env {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		args = append(args, "-e", n+"="+env[n])
	}

	args = append(args, "--entrypoint", "/bin/sh", job.Image, "-c", wrapper)
	return args
}

// killContainer signals then force-removes the container.
func (e *Executor) killContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), removalTimeout)
	defer cancel()
	_ = exec.CommandContext(ctx, e.engine, "kill", name).Run()
	e.removeContainer(name)
}

// removeContainer force-removes the container, best-effort.
func (e *Executor) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), removalTimeout)
	defer cancel()
	_ = exec.CommandContext(ctx, e.engine, "rm", "-f", name).Run()
}

// copyFromContainer copies the contents of a container directory to the
// host (directory-contents semantics, matching `cp src/. dst`).
func (e *Executor) copyFromContainer(name, from, to string) error {
	ctx, cancel := context.WithTimeout(context.Background(), removalTimeout)
	defer cancel()
	src := name + ":" + strings.TrimSuffix(from, "/") + "/."
	out, err := exec.CommandContext(ctx, e.engine, "cp", src, to).CombinedOutput()
	if err != nil {
		return fmt.Errorf("cp %s -> %s: %w: %s", src, to, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// streamCopy forwards every chunk to the capture buffer and the optional
// live sink.
func streamCopy(r io.Reader, capture *strings.Builder, sink io.Writer) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			capture.Write(buf[:n])
			if sink != nil {
				_, _ = sink.Write(buf[:n])
			}
		}
		if err != nil {
			return
		}
	}
}

// exitCodeFromWait extracts the process exit code from cmd.Wait's error.
func exitCodeFromWait(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
