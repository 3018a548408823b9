package aggregate

import "github.com/supercheck-io/fleet/types"

// Combine folds per-location outcomes into the monitor status. A mixed
// outcome ("partial") collapses to down: the monitor is not fully healthy
// and status is binary for users.
func Combine(statuses map[types.LocationCode]bool, strategy types.LocationStrategy, threshold int) types.MonitorStatus {
	if len(statuses) == 0 {
		return types.MonitorError
	}

	up := 0
	for _, isUp := range statuses {
		if isUp {
			up++
		}
	}

	switch strategy {
	case types.StrategyAll:
		if up == len(statuses) {
			return types.MonitorUp
		}
		return types.MonitorDown
	case types.StrategyAny:
		if up > 0 {
			return types.MonitorUp
		}
		return types.MonitorDown
	default: // majority
		if up*100 >= threshold*len(statuses) {
			return types.MonitorUp
		}
		return types.MonitorDown
	}
}
