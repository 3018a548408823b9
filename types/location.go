// Package types defines core domain types for the fleet runtime.
package types

import "strings"

// LocationCode is a supported execution region.
// The set is closed: every worker, queue, and barrier entry uses one of these.
type LocationCode string

const (
	LocationUSEast      LocationCode = "us-east"
	LocationEUCentral   LocationCode = "eu-central"
	LocationAsiaPacific LocationCode = "asia-pacific"
)

// DefaultLocation is the implicit primary location used when a monitor's
// location config is disabled, and the fallback for unknown legacy codes.
const DefaultLocation = LocationEUCentral

// WorkerLocationLocal is the development worker location. A local worker
// subscribes to every regional queue.
const WorkerLocationLocal = "local"

// AllLocations returns every supported location code in stable order.
func AllLocations() []LocationCode {
	return []LocationCode{LocationUSEast, LocationEUCentral, LocationAsiaPacific}
}

// legacyAliases maps historical location spellings onto the closed set.
// Keys are pre-normalized: lowercase, spaces and underscores collapsed to "-".
var legacyAliases = map[string]LocationCode{
	"us":           LocationUSEast,
	"us-east":      LocationUSEast,
	"us-east-1":    LocationUSEast,
	"useast":       LocationUSEast,
	"eu":           LocationEUCentral,
	"eu-central":   LocationEUCentral,
	"eu-central-1": LocationEUCentral,
	"eucentral":    LocationEUCentral,
	"europe":       LocationEUCentral,
	"ap":           LocationAsiaPacific,
	"asia":         LocationAsiaPacific,
	"asia-pacific": LocationAsiaPacific,
	"apac":         LocationAsiaPacific,
	"ap-southeast": LocationAsiaPacific,
}

// NormalizeLocation maps a location string (including legacy inputs such as
// "US", "US_EAST", "us east") into the closed LocationCode set.
// Unknown codes fall back to DefaultLocation. Normalization is idempotent.
func NormalizeLocation(raw string) LocationCode {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	if code, ok := legacyAliases[s]; ok {
		return code
	}
	return DefaultLocation
}

// IsValidLocation reports whether raw is exactly one of the closed set codes.
// Unlike NormalizeLocation it does not accept legacy aliases.
func IsValidLocation(raw string) bool {
	switch LocationCode(raw) {
	case LocationUSEast, LocationEUCentral, LocationAsiaPacific:
		return true
	}
	return false
}

// IsLocationWildcard reports whether the job location means
// "this worker's location".
func IsLocationWildcard(raw string) bool {
	return raw == "*" || raw == "any"
}

// LocationStrategy determines how per-location results combine into an
// aggregate verdict.
type LocationStrategy string

const (
	StrategyAll      LocationStrategy = "all"
	StrategyAny      LocationStrategy = "any"
	StrategyMajority LocationStrategy = "majority"
)

// LocationConfig selects where a monitor executes and how results aggregate.
type LocationConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Locations must be non-empty when Enabled.
	Locations []LocationCode `json:"locations" yaml:"locations"`
	// Threshold is the percentage of up locations required by the
	// majority strategy (0-100, default 50).
	Threshold int              `json:"threshold" yaml:"threshold"`
	Strategy  LocationStrategy `json:"strategy" yaml:"strategy"`
}

// EffectiveLocations resolves the set of locations a monitor tick executes in.
// A disabled config uses the single implicit primary location.
// Duplicate and legacy entries are normalized and de-duplicated, preserving
// first-seen order.
func (c LocationConfig) EffectiveLocations() []LocationCode {
	if !c.Enabled || len(c.Locations) == 0 {
		return []LocationCode{DefaultLocation}
	}
	seen := make(map[LocationCode]struct{}, len(c.Locations))
	out := make([]LocationCode, 0, len(c.Locations))
	for _, l := range c.Locations {
		code := NormalizeLocation(string(l))
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

// EffectiveStrategy returns the configured strategy, defaulting to majority.
func (c LocationConfig) EffectiveStrategy() LocationStrategy {
	switch c.Strategy {
	case StrategyAll, StrategyAny, StrategyMajority:
		return c.Strategy
	}
	return StrategyMajority
}

// EffectiveThreshold returns the majority threshold, defaulting to 50.
func (c LocationConfig) EffectiveThreshold() int {
	if c.Threshold <= 0 || c.Threshold > 100 {
		return 50
	}
	return c.Threshold
}
