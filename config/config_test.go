package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
worker_location: us-east
redis:
  url: redis://localhost:6379/0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WorkerLocation != "us-east" {
		t.Errorf("worker_location = %q", cfg.WorkerLocation)
	}
	if cfg.Container.Engine != "docker" {
		t.Errorf("default engine = %q, want docker", cfg.Container.Engine)
	}
	if cfg.K6.MaxDashboardAttempts != 5 {
		t.Errorf("default max attempts = %d, want 5", cfg.K6.MaxDashboardAttempts)
	}
	if cfg.K6.DashboardAddr != "127.0.0.1" {
		t.Errorf("default dashboard addr = %q", cfg.K6.DashboardAddr)
	}
	if cfg.Probe.MaxResponseMB != 5 {
		t.Errorf("default max response MB = %d, want 5", cfg.Probe.MaxResponseMB)
	}
	if cfg.Queues.MonitorConcurrency != 10 {
		t.Errorf("default monitor concurrency = %d, want 10", cfg.Queues.MonitorConcurrency)
	}
}

func TestLoad_MissingRedisURL(t *testing.T) {
	path := writeConfig(t, "worker_location: us-east\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing redis.url")
	}
}

func TestValidate_InvalidLocationProduction(t *testing.T) {
	cfg := &Config{
		WorkerLocation: "us-west",
		Environment:    "production",
		Redis:          RedisConfig{URL: "redis://localhost:6379"},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("invalid worker_location in production should be fatal")
	}
}

func TestValidate_InvalidLocationDevelopmentFallsBack(t *testing.T) {
	cfg := &Config{
		WorkerLocation: "us-west",
		Redis:          RedisConfig{URL: "redis://localhost:6379"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.WorkerLocation != "local" {
		t.Errorf("development fallback should be local, got %q", cfg.WorkerLocation)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WORKER_LOCATION", "eu-central")
	t.Setenv("ENABLE_LOCATION_FILTERING", "true")
	t.Setenv("K6_WEB_DASHBOARD_START_PORT", "6100")
	t.Setenv("ALLOW_INTERNAL_TARGETS", "1")

	path := writeConfig(t, `
worker_location: us-east
redis:
  url: redis://localhost:6379/0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WorkerLocation != "eu-central" {
		t.Errorf("env should override worker_location, got %q", cfg.WorkerLocation)
	}
	if !cfg.EnableLocationFiltering {
		t.Error("ENABLE_LOCATION_FILTERING=true should enable filtering")
	}
	if cfg.K6.DashboardStartPort != 6100 {
		t.Errorf("dashboard start port = %d, want 6100", cfg.K6.DashboardStartPort)
	}
	if !cfg.Probe.AllowInternalTargets {
		t.Error("ALLOW_INTERNAL_TARGETS=1 should enable internal targets")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FLEET_TEST_REDIS", "redis://example:6379")
	in := "url: ${FLEET_TEST_REDIS}\nother: ${FLEET_TEST_UNSET:-fallback}\nempty: ${FLEET_TEST_NOPE}"
	out := ExpandEnv(in)
	want := "url: redis://example:6379\nother: fallback\nempty: "
	if out != want {
		t.Errorf("ExpandEnv = %q, want %q", out, want)
	}
}
