package k6

import (
	"fmt"

	"github.com/supercheck-io/fleet/types"
)

// Verdict is the authoritative pass/fail outcome of one load-test run.
type Verdict struct {
	Success          bool
	ThresholdsPassed bool
	Reason           string
}

// ComputeVerdict folds the timeout flag, the process exit code, and the
// parsed summary into one outcome. Priority order:
//
//  1. timed out → failed
//  2. exit code 99 → thresholds failed (k6's canonical signal)
//  3. no metrics → the exit code decides
//  4. any threshold with ok=false → failed
//  5. checks.fails > 0 → failed even when all thresholds pass
func ComputeVerdict(timedOut bool, exitCode int, summary *Summary) Verdict {
	if timedOut {
		return Verdict{ThresholdsPassed: false, Reason: "execution timed out"}
	}
	if exitCode == types.ExitCodeK6Threshold {
		return Verdict{ThresholdsPassed: false, Reason: "thresholds failed"}
	}
	if !summary.HasMetrics() {
		ok := exitCode == types.ExitCodeSuccess
		v := Verdict{Success: ok, ThresholdsPassed: ok}
		if !ok {
			v.Reason = fmt.Sprintf("exit code %d with no summary metrics", exitCode)
		}
		return v
	}

	for name, metric := range summary.Metrics {
		for expr, threshold := range metric.Thresholds {
			if !threshold.OK {
				return Verdict{
					ThresholdsPassed: false,
					Reason:           fmt.Sprintf("threshold %q on metric %q failed", expr, name),
				}
			}
		}
	}

	if checks, ok := summary.Metrics["checks"]; ok && checks.Value("fails") > 0 {
		return Verdict{
			ThresholdsPassed: true,
			Reason:           fmt.Sprintf("%d checks failed", int64(checks.Value("fails"))),
		}
	}
	return Verdict{Success: true, ThresholdsPassed: true}
}
