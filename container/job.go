// Package container implements the sandboxed container executor.
//
// A Job is "build once, run once": every execution launches a fresh
// container under a strict isolation profile, injects the script inline,
// streams output to caller-provided sinks, and optionally extracts
// artifacts before removal. There is no container reuse across runs.
package container

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Resource limit bounds. Out-of-range values reject before launch.
const (
	MinMemoryMB = 128
	MaxMemoryMB = 8192

	MinCPUFraction = 0.1
	MaxCPUFraction = 4.0

	MinTimeout = 5 * time.Second
	MaxTimeout = time.Hour
)

// PidsLimit caps processes inside the container.
const PidsLimit = 256

// ShmSize is the fixed /dev/shm size (browsers need a large one).
const ShmSize = "512m"

// ErrValidation marks pre-launch validation failures. Never retried.
var ErrValidation = errors.New("container job validation failed")

// ErrEngineUnavailable marks container-engine failures (daemon down, image
// missing). Returned as a non-success result, not retried locally.
var ErrEngineUnavailable = errors.New("docker unavailable")

// NetworkMode is the container network attachment.
type NetworkMode string

const (
	NetworkNone   NetworkMode = "none"
	NetworkBridge NetworkMode = "bridge"
	NetworkHost   NetworkMode = "host"
)

// envNamePattern is the accepted environment variable name shape.
var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// InlineFile is an extra file written inside the container before the
// command runs.
type InlineFile struct {
	// TargetPath is the absolute in-container destination.
	TargetPath string
	// Content is the raw file content; it is base64-transported into the
	// container.
	Content []byte
}

// Job describes one containerized execution.
type Job struct {
	Image      string
	Cmd        []string
	Env        map[string]string
	WorkingDir string

	MemoryMB    int
	CPUFraction float64
	Network     NetworkMode
	Timeout     time.Duration

	// InlineScriptContent and InlineScriptFileName must both be present;
	// the legacy host-path mode is a fixed error. Occurrences of the file
	// name in Cmd are rewritten to the in-container path.
	InlineScriptContent  []byte
	InlineScriptFileName string

	AdditionalFiles []InlineFile
	EnsureDirs      []string

	// ExtractFromContainer/ExtractToHost copy a container path's contents
	// to the host after a normal completion. Both or neither.
	ExtractFromContainer string
	ExtractToHost        string

	// RunID enables external cancellation; when set, the executor polls
	// the cancellation store every second during the run.
	RunID string
}

// Validate checks the job and clamps nothing: out-of-range limits are
// rejected, in-range limits pass through unchanged.
func (j *Job) Validate() error {
	if j.Image == "" {
		return fmt.Errorf("%w: image is required", ErrValidation)
	}
	if len(j.Cmd) == 0 {
		return fmt.Errorf("%w: command is required", ErrValidation)
	}
	if len(j.InlineScriptContent) == 0 || j.InlineScriptFileName == "" {
		return fmt.Errorf("%w: inline script content and file name are both required (host script paths are not supported)", ErrValidation)
	}
	if j.MemoryMB < MinMemoryMB || j.MemoryMB > MaxMemoryMB {
		return fmt.Errorf("%w: memoryMB %d outside [%d, %d]", ErrValidation, j.MemoryMB, MinMemoryMB, MaxMemoryMB)
	}
	if j.CPUFraction < MinCPUFraction || j.CPUFraction > MaxCPUFraction {
		return fmt.Errorf("%w: cpuFraction %.2f outside [%.1f, %.1f]", ErrValidation, j.CPUFraction, MinCPUFraction, MaxCPUFraction)
	}
	if j.Timeout < MinTimeout || j.Timeout > MaxTimeout {
		return fmt.Errorf("%w: timeout %s outside [%s, %s]", ErrValidation, j.Timeout, MinTimeout, MaxTimeout)
	}
	switch j.Network {
	case NetworkNone, NetworkBridge, NetworkHost:
	default:
		return fmt.Errorf("%w: invalid network mode %q", ErrValidation, j.Network)
	}
	if (j.ExtractFromContainer == "") != (j.ExtractToHost == "") {
		return fmt.Errorf("%w: extractFromContainer and extractToHost must be set together", ErrValidation)
	}
	return nil
}

// FilterEnv drops environment entries with invalid names, returning the kept
// set and the dropped names for warning logs.
func FilterEnv(env map[string]string) (kept map[string]string, dropped []string) {
	if len(env) == 0 {
		return nil, nil
	}
	kept = make(map[string]string, len(env))
	for name, value := range env {
		if !envNamePattern.MatchString(name) {
			dropped = append(dropped, name)
			continue
		}
		kept[name] = value
	}
	return kept, dropped
}

// Result is the outcome of one containerized execution.
type Result struct {
	Success    bool
	ExitCode   int
	Stdout     string
	Stderr     string
	DurationMs int64
	// TimedOut is true when the outer timer fired; exit code is then 124.
	TimedOut bool
	// Cancelled is true when an external cancellation killed the run;
	// exit code is then 137 and Error is "cancelled".
	Cancelled bool
	Error     string
}
