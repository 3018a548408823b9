package types

import "time"

// MonitorKind is the check action a monitor performs.
type MonitorKind string

const (
	MonitorHTTP      MonitorKind = "http"
	MonitorWebsite   MonitorKind = "website"
	MonitorPing      MonitorKind = "ping"
	MonitorPort      MonitorKind = "port"
	MonitorSSL       MonitorKind = "ssl"
	MonitorSynthetic MonitorKind = "synthetic"
)

// MonitorStatus is the user-visible aggregate status of a monitor.
type MonitorStatus string

const (
	MonitorPending MonitorStatus = "pending"
	MonitorPaused  MonitorStatus = "paused"
	MonitorUp      MonitorStatus = "up"
	MonitorDown    MonitorStatus = "down"
	MonitorError   MonitorStatus = "error"
)

// AlertConfig controls alert emission for a monitor.
type AlertConfig struct {
	Enabled              bool `json:"enabled" yaml:"enabled"`
	AlertOnFailure       bool `json:"alertOnFailure" yaml:"alert_on_failure"`
	AlertOnRecovery      bool `json:"alertOnRecovery" yaml:"alert_on_recovery"`
	AlertOnSslExpiration bool `json:"alertOnSslExpiration" yaml:"alert_on_ssl_expiration"`
	// FailureThreshold is the number of consecutive failures required
	// before the first failure alert (default 1).
	FailureThreshold int `json:"failureThreshold" yaml:"failure_threshold"`
	// RecoveryThreshold is the number of consecutive successes required
	// before the first recovery alert (default 1).
	RecoveryThreshold int `json:"recoveryThreshold" yaml:"recovery_threshold"`
}

// EffectiveFailureThreshold returns FailureThreshold with a floor of 1.
func (a AlertConfig) EffectiveFailureThreshold() int {
	if a.FailureThreshold < 1 {
		return 1
	}
	return a.FailureThreshold
}

// EffectiveRecoveryThreshold returns RecoveryThreshold with a floor of 1.
func (a AlertConfig) EffectiveRecoveryThreshold() int {
	if a.RecoveryThreshold < 1 {
		return 1
	}
	return a.RecoveryThreshold
}

// HTTPConfig holds the http/website kind-specific parameters.
type HTTPConfig struct {
	Method string `json:"method,omitempty"`
	// ExpectedStatus is a status expression: wildcards ("2xx"), ranges
	// ("200-204") and comma-separated exact codes. Empty means 200-299.
	ExpectedStatus string            `json:"expectedStatus,omitempty"`
	Body           string            `json:"body,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	AuthUser       string            `json:"authUser,omitempty"`
	AuthPass       Secret            `json:"authPass,omitempty"`
	// KeywordInBody, when set, must be present (or absent, when
	// KeywordShouldBePresent is false) in the response body.
	KeywordInBody          string `json:"keywordInBody,omitempty"`
	KeywordShouldBePresent *bool  `json:"keywordInBodyShouldBePresent,omitempty"`
	MaxRedirects           int    `json:"maxRedirects,omitempty"`
	TimeoutSeconds         int    `json:"timeoutSeconds,omitempty"`
	// EnableSslCheck chains the SSL probe after a website check on https
	// targets.
	EnableSslCheck bool `json:"enableSslCheck,omitempty"`
}

// PortConfig holds the port kind-specific parameters.
type PortConfig struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"` // tcp or udp
	// ExpectClosed inverts the up/down mapping: a refused connection
	// is up, a successful connect is down.
	ExpectClosed bool `json:"expectClosed,omitempty"`
}

// SSLConfig holds the ssl kind-specific parameters.
type SSLConfig struct {
	// WarningThresholdDays triggers a warning status when the certificate
	// expires within this many days (default 30).
	WarningThresholdDays int `json:"warningThresholdDays,omitempty"`
	// CheckFrequencyHours is the baseline frequency for full probes when
	// the certificate is far from expiry (default 24).
	CheckFrequencyHours int `json:"checkFrequencyHours,omitempty"`
}

// MonitorSpec is the read-only view of a monitor the fabric executes.
// The REST surface owns the spec; the core reads it and mutates only
// Status, LastCheckAt and LastStatusChangeAt through the monitor store.
type MonitorSpec struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	ProjectID      string         `json:"projectId"`
	Name           string         `json:"name"`
	Kind           MonitorKind    `json:"kind"`
	Target         string         `json:"target"`
	Status         MonitorStatus  `json:"status"`
	HTTP           *HTTPConfig    `json:"http,omitempty"`
	Port           *PortConfig    `json:"port,omitempty"`
	SSL            *SSLConfig     `json:"ssl,omitempty"`
	// SyntheticTestID references the Playwright test executed by
	// synthetic monitors.
	SyntheticTestID    string         `json:"syntheticTestId,omitempty"`
	Locations          LocationConfig `json:"locations"`
	Alerts             AlertConfig    `json:"alerts"`
	IntervalSeconds    int            `json:"intervalSeconds"`
	LastCheckAt        *time.Time     `json:"lastCheckAt,omitempty"`
	LastStatusChangeAt *time.Time     `json:"lastStatusChangeAt,omitempty"`
}

// WarningThresholdDays returns the SSL warning threshold with its default.
func (m *MonitorSpec) WarningThresholdDays() int {
	if m.SSL == nil || m.SSL.WarningThresholdDays <= 0 {
		return 30
	}
	return m.SSL.WarningThresholdDays
}
