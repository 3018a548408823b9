package types

import "time"

// ResultStatus is the outcome of one probe or execution at one location.
type ResultStatus string

const (
	ResultUp      ResultStatus = "up"
	ResultDown    ResultStatus = "down"
	ResultTimeout ResultStatus = "timeout"
	ResultError   ResultStatus = "error"
)

// SSLCertificateDetails carries the parsed certificate fields surfaced in
// result details.
type SSLCertificateDetails struct {
	Subject            string    `json:"subjectCN,omitempty"`
	Issuer             string    `json:"issuerCN,omitempty"`
	SerialNumber       string    `json:"serialNumber,omitempty"`
	Fingerprint        string    `json:"fingerprint,omitempty"`
	SubjectAltNames    []string  `json:"subjectaltname,omitempty"`
	ValidFrom          time.Time `json:"validFrom"`
	ValidTo            time.Time `json:"validTo"`
	DaysRemaining      int       `json:"daysRemaining"`
	Authorized         bool      `json:"authorized"`
	AuthorizationError string    `json:"authorizationError,omitempty"`
}

// ResultDetails is the loosely structured detail payload on a result row.
// Keys are probe-specific; well-known ones have typed accessors on the
// producing probes.
type ResultDetails map[string]any

// MonitorResultRecord is one row of the append-only per (monitorId, location)
// result series. The producing location's worker is the only writer.
type MonitorResultRecord struct {
	ID               int64          `json:"id,omitempty"`
	MonitorID        string         `json:"monitorId"`
	Location         LocationCode   `json:"location"`
	CheckedAt        time.Time      `json:"checkedAt"`
	Status           ResultStatus   `json:"status"`
	IsUp             bool           `json:"isUp"`
	ResponseTimeMs   *int64         `json:"responseTimeMs,omitempty"`
	Details          ResultDetails  `json:"details,omitempty"`
	ExecutionGroupID string         `json:"executionGroupId,omitempty"`

	// Consecutive-run counters reset when IsUp flips; each alert counter
	// resets when the opposite streak starts.
	ConsecutiveFailureCount int  `json:"consecutiveFailureCount"`
	ConsecutiveSuccessCount int  `json:"consecutiveSuccessCount"`
	AlertsSentForFailure    int  `json:"alertsSentForFailure"`
	AlertsSentForRecovery   int  `json:"alertsSentForRecovery"`
	IsStatusChange          bool `json:"isStatusChange"`
}

// ProbeResult is the in-memory outcome of a single probe execution, before
// the worker attaches counters and group identity.
type ProbeResult struct {
	Status         ResultStatus  `json:"status"`
	IsUp           bool          `json:"isUp"`
	ResponseTimeMs *int64        `json:"responseTimeMs,omitempty"`
	Details        ResultDetails `json:"details,omitempty"`
}

// Millis converts a duration to the integer milliseconds reported on result
// rows. Timing uses monotonic clock subtraction at the call sites.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}
