package container

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validJob() *Job {
	return &Job{
		Image:                "supercheck/worker:latest",
		Cmd:                  []string{"node", "test.js"},
		MemoryMB:             512,
		CPUFraction:          1.0,
		Network:              NetworkBridge,
		Timeout:              30 * time.Second,
		InlineScriptContent:  []byte("console.log('hi')"),
		InlineScriptFileName: "test.js",
	}
}

func TestValidate_InRangePassesUnchanged(t *testing.T) {
	j := validJob()
	if err := j.Validate(); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}
	if j.MemoryMB != 512 || j.CPUFraction != 1.0 || j.Timeout != 30*time.Second {
		t.Error("validation must not mutate in-range limits")
	}
}

func TestValidate_ResourceBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Job)
	}{
		{"memory too low", func(j *Job) { j.MemoryMB = 64 }},
		{"memory too high", func(j *Job) { j.MemoryMB = 16384 }},
		{"cpu too low", func(j *Job) { j.CPUFraction = 0.05 }},
		{"cpu too high", func(j *Job) { j.CPUFraction = 8 }},
		{"timeout too short", func(j *Job) { j.Timeout = time.Second }},
		{"timeout too long", func(j *Job) { j.Timeout = 2 * time.Hour }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := validJob()
			tc.mutate(j)
			err := j.Validate()
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestValidate_InlineScriptRequired(t *testing.T) {
	j := validJob()
	j.InlineScriptContent = nil
	if err := j.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("missing inline content should reject, got %v", err)
	}

	j = validJob()
	j.InlineScriptFileName = ""
	if err := j.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("missing inline file name should reject, got %v", err)
	}
}

func TestValidate_ExtractionPairing(t *testing.T) {
	j := validJob()
	j.ExtractFromContainer = "/tmp/report"
	if err := j.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("extractFrom without extractTo should reject, got %v", err)
	}
	j.ExtractToHost = t.TempDir()
	if err := j.Validate(); err != nil {
		t.Errorf("paired extraction should pass: %v", err)
	}
}

func TestValidate_NetworkMode(t *testing.T) {
	j := validJob()
	j.Network = "overlay"
	if err := j.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("invalid network mode should reject, got %v", err)
	}
}

func TestFilterEnv(t *testing.T) {
	kept, dropped := FilterEnv(map[string]string{
		"GOOD_NAME":  "a",
		"_ALSO_GOOD": "b",
		"9BAD":       "c",
		"BAD-DASH":   "d",
		"BAD SPACE":  "e",
	})
	if len(kept) != 2 {
		t.Errorf("kept = %v", kept)
	}
	if len(dropped) != 3 {
		t.Errorf("dropped = %v", dropped)
	}
	for _, name := range dropped {
		if name == "GOOD_NAME" || name == "_ALSO_GOOD" {
			t.Errorf("valid name %q dropped", name)
		}
	}
}

func TestFilterEnv_Empty(t *testing.T) {
	kept, dropped := FilterEnv(nil)
	if kept != nil || dropped != nil {
		t.Error("empty env should return nils")
	}
}

func TestBuildRunArgs_IsolationContract(t *testing.T) {
	e := NewExecutor(ExecutorConfig{SeccompProfilePath: "/etc/seccomp.json"})
	j := validJob()
	args := e.buildRunArgs("exec-test", j, map[string]string{"K6_NO_COLOR": "1"}, "exec true")
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"--user 1000:1000",
		"--security-opt seccomp=/etc/seccomp.json",
		"--init",
		"--ipc=host",
		"--security-opt=no-new-privileges",
		"--cap-drop=ALL",
		"--memory=512m",
		"--memory-swap=512m",
		"--cpus=1",
		"--pids-limit=256",
		"--shm-size=512m",
		"--network bridge",
		"--rm",
		"-e K6_NO_COLOR=1",
		"--entrypoint /bin/sh",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("run args missing %q:\n%s", want, joined)
		}
	}
}

func TestBuildRunArgs_NoRmWhenExtracting(t *testing.T) {
	e := NewExecutor(ExecutorConfig{})
	j := validJob()
	j.ExtractFromContainer = "/tmp/report"
	j.ExtractToHost = "/var/tmp/out"
	args := e.buildRunArgs("exec-test", j, nil, "exec true")
	for _, a := range args {
		if a == "--rm" {
			t.Error("--rm must not be set when extraction is requested")
		}
	}
}
