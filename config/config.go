// Package config handles YAML config loading for the fleet worker.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/supercheck-io/fleet/types"
)

// Config represents a fleet.yaml configuration file.
// Environment variables override file values for the contract-defined
// variables (WORKER_LOCATION, ENABLE_LOCATION_FILTERING, WORKER_IMAGE,
// SECCOMP_PROFILE_PATH, K6_WEB_DASHBOARD_*, ALLOW_INTERNAL_TARGETS,
// NODE_ENV).
type Config struct {
	// WorkerLocation is the region this worker serves: us-east,
	// eu-central, asia-pacific, or "local" (development, subscribes to all
	// regional queues).
	WorkerLocation string `yaml:"worker_location"`
	// EnableLocationFiltering makes the worker check job locations against
	// its own. Mismatches are logged and still processed.
	EnableLocationFiltering bool `yaml:"enable_location_filtering"`
	// Environment is the deployment environment; "production" enables
	// strict validation (invalid worker_location is fatal).
	Environment string `yaml:"environment"`

	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Container ContainerConfig `yaml:"container"`
	K6        K6Config        `yaml:"k6"`
	Probe     ProbeConfig     `yaml:"probe"`
	Queues    QueueConfig     `yaml:"queues"`
}

// RedisConfig holds the shared key-value service connection.
type RedisConfig struct {
	// URL format: redis://[:password@]host:port[/db]
	URL string `yaml:"url"`
}

// DatabaseConfig holds the Postgres connection.
type DatabaseConfig struct {
	// URL is a pgx connection string.
	URL string `yaml:"url"`
}

// StorageConfig holds the artifact object-storage settings.
type StorageConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string `yaml:"endpoint"`
	// S3PathStyle forces path-style addressing, required by most
	// S3-compatible providers.
	S3PathStyle bool `yaml:"s3_path_style"`
	// PublicBaseURL is the URL prefix reported to users for uploaded
	// artifacts.
	PublicBaseURL string `yaml:"public_base_url"`
}

// ContainerConfig holds the sandbox executor settings.
type ContainerConfig struct {
	// Engine is the container CLI binary (default "docker").
	Engine string `yaml:"engine"`
	// Image is the worker image used for script executions.
	Image string `yaml:"image"`
	// SeccompProfilePath points at the seccomp profile allowing
	// user-namespace syscalls for in-container browser sandboxes.
	SeccompProfilePath string `yaml:"seccomp_profile_path"`
	// User is the non-root uid:gid containers run as (default
	// "1000:1000").
	User string `yaml:"user"`
}

// K6Config holds the k6 dashboard and retry settings.
type K6Config struct {
	// DashboardStartPort is the first port of the dashboard pool.
	// Zero disables the pool; runs bind an ephemeral port.
	DashboardStartPort int `yaml:"dashboard_start_port"`
	// DashboardPortRange is the pool size starting at DashboardStartPort.
	DashboardPortRange int `yaml:"dashboard_port_range"`
	// DashboardAddr is the bind address for dashboards (default
	// "127.0.0.1").
	DashboardAddr string `yaml:"dashboard_addr"`
	// MaxDashboardAttempts caps whole-launch retries on port clashes
	// (default 5).
	MaxDashboardAttempts int `yaml:"max_dashboard_attempts"`
}

// ProbeConfig holds monitor-probe settings.
type ProbeConfig struct {
	// AllowInternalTargets disables the SSRF guard for private ranges.
	// Development only.
	AllowInternalTargets bool `yaml:"allow_internal_targets"`
	// MaxResponseMB caps HTTP probe response bodies (default 5).
	MaxResponseMB int `yaml:"max_response_mb"`
}

// QueueConfig holds per-queue-kind worker concurrency.
type QueueConfig struct {
	// MonitorConcurrency is the in-flight monitor job cap (default 10).
	MonitorConcurrency int `yaml:"monitor_concurrency"`
	// PlaywrightConcurrency is the in-flight Playwright job cap
	// (default 2).
	PlaywrightConcurrency int `yaml:"playwright_concurrency"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ApplyEnvOverrides overlays the contract environment variables onto the
// loaded config.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("WORKER_LOCATION"); v != "" {
		c.WorkerLocation = v
	}
	if v := os.Getenv("ENABLE_LOCATION_FILTERING"); v != "" {
		c.EnableLocationFiltering = parseBool(v)
	}
	if v := os.Getenv("NODE_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("WORKER_IMAGE"); v != "" {
		c.Container.Image = v
	}
	if v := os.Getenv("SECCOMP_PROFILE_PATH"); v != "" {
		c.Container.SeccompProfilePath = v
	}
	if v := os.Getenv("K6_WEB_DASHBOARD_START_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.K6.DashboardStartPort = n
		}
	}
	if v := os.Getenv("K6_WEB_DASHBOARD_PORT_RANGE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.K6.DashboardPortRange = n
		}
	}
	if v := os.Getenv("K6_WEB_DASHBOARD_ADDR"); v != "" {
		c.K6.DashboardAddr = v
	}
	if v := os.Getenv("K6_WEB_DASHBOARD_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.K6.MaxDashboardAttempts = n
		}
	}
	if v := os.Getenv("ALLOW_INTERNAL_TARGETS"); v != "" {
		c.Probe.AllowInternalTargets = parseBool(v)
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// IsProduction reports whether strict validation applies.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate checks the configuration, applying defaults in place.
// Invalid worker_location is fatal in production; in development it falls
// back to "local" so a bare checkout still runs.
func (c *Config) Validate() error {
	loc := strings.ToLower(strings.TrimSpace(c.WorkerLocation))
	if loc == "" {
		loc = types.WorkerLocationLocal
	}
	if loc != types.WorkerLocationLocal && !types.IsValidLocation(loc) {
		if c.IsProduction() {
			return fmt.Errorf("invalid worker_location %q: must be local, us-east, eu-central, or asia-pacific", c.WorkerLocation)
		}
		loc = types.WorkerLocationLocal
	}
	c.WorkerLocation = loc

	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if c.Container.Engine == "" {
		c.Container.Engine = "docker"
	}
	if c.Container.User == "" {
		c.Container.User = "1000:1000"
	}
	if c.K6.DashboardAddr == "" {
		c.K6.DashboardAddr = "127.0.0.1"
	}
	if c.K6.MaxDashboardAttempts <= 0 {
		c.K6.MaxDashboardAttempts = 5
	}
	if c.Probe.MaxResponseMB <= 0 {
		c.Probe.MaxResponseMB = 5
	}
	if c.Queues.MonitorConcurrency <= 0 {
		c.Queues.MonitorConcurrency = 10
	}
	if c.Queues.PlaywrightConcurrency <= 0 {
		c.Queues.PlaywrightConcurrency = 2
	}
	return nil
}
