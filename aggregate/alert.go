package aggregate

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/supercheck-io/fleet/log"
	"github.com/supercheck-io/fleet/metrics"
	"github.com/supercheck-io/fleet/types"
)

// maxAlertsPerStreak caps notifications for one failure or recovery run.
const maxAlertsPerStreak = 3

// sslAlertDebounce is the minimum gap between SSL expiry warnings for one
// monitor.
const sslAlertDebounce = 24 * time.Hour

// Notifier delivers alert notifications. Implementations are external
// (email, webhooks); failures are logged, never fatal.
type Notifier interface {
	SendFailureAlert(ctx context.Context, monitor *types.MonitorSpec, result *types.MonitorResultRecord) error
	SendRecoveryAlert(ctx context.Context, monitor *types.MonitorSpec, result *types.MonitorResultRecord) error
	SendSSLExpiryAlert(ctx context.Context, monitor *types.MonitorSpec, daysRemaining int) error
}

// AlertCounters persists how many alerts a result row has accumulated.
type AlertCounters interface {
	IncrementFailureAlerts(ctx context.Context, resultID int64) error
	IncrementRecoveryAlerts(ctx context.Context, resultID int64) error
}

// Gate decides which aggregated outcomes become notifications.
type Gate struct {
	notifier Notifier
	counters AlertCounters
	// debounce tracks the SSL warning window; nil disables SSL alerts.
	debounce *redis.Client
	logger   *log.Logger
	metrics  *metrics.Collector
}

// NewGate creates an alert gate.
func NewGate(notifier Notifier, counters AlertCounters, debounce *redis.Client, logger *log.Logger, collector *metrics.Collector) *Gate {
	if logger == nil {
		logger = log.NewLogger("")
	}
	return &Gate{
		notifier: notifier,
		counters: counters,
		debounce: debounce,
		logger:   logger,
		metrics:  collector,
	}
}

// OnAggregate evaluates one aggregated result against the alert policy.
// previous is the monitor status before this aggregation wrote it.
func (g *Gate) OnAggregate(ctx context.Context, monitor *types.MonitorSpec, result *types.MonitorResultRecord, previous, current types.MonitorStatus) {
	if g.notifier == nil || !monitor.Alerts.Enabled {
		return
	}
	// A monitor leaving pending or paused is establishing its baseline, not
	// transitioning.
	if previous == types.MonitorPending || previous == types.MonitorPaused {
		return
	}

	switch current {
	case types.MonitorDown:
		g.evaluateFailure(ctx, monitor, result)
	case types.MonitorUp:
		g.evaluateRecovery(ctx, monitor, result)
	}
}

// evaluateFailure alerts on the first failure at the threshold, then at
// widening intervals, capped per streak.
func (g *Gate) evaluateFailure(ctx context.Context, monitor *types.MonitorSpec, result *types.MonitorResultRecord) {
	if !monitor.Alerts.AlertOnFailure {
		return
	}
	if result.AlertsSentForFailure >= maxAlertsPerStreak {
		return
	}
	threshold := monitor.Alerts.EffectiveFailureThreshold()
	if !shouldAlert(result.ConsecutiveFailureCount, threshold) {
		return
	}

	if err := g.notifier.SendFailureAlert(ctx, monitor, result); err != nil {
		g.logger.Error("failure alert delivery failed", map[string]any{
			"monitor_id": monitor.ID,
			"error":      err.Error(),
		})
		return
	}
	g.metrics.IncAlertSent()
	if g.counters != nil {
		if err := g.counters.IncrementFailureAlerts(ctx, result.ID); err != nil {
			g.logger.Warn("failure alert counter update failed", map[string]any{
				"monitor_id": monitor.ID,
				"error":      err.Error(),
			})
		}
	}
}

// evaluateRecovery mirrors the failure policy over the success streak.
func (g *Gate) evaluateRecovery(ctx context.Context, monitor *types.MonitorSpec, result *types.MonitorResultRecord) {
	if !monitor.Alerts.AlertOnRecovery {
		return
	}
	if result.AlertsSentForRecovery >= maxAlertsPerStreak {
		return
	}
	threshold := monitor.Alerts.EffectiveRecoveryThreshold()
	if !shouldAlert(result.ConsecutiveSuccessCount, threshold) {
		return
	}

	if err := g.notifier.SendRecoveryAlert(ctx, monitor, result); err != nil {
		g.logger.Error("recovery alert delivery failed", map[string]any{
			"monitor_id": monitor.ID,
			"error":      err.Error(),
		})
		return
	}
	g.metrics.IncAlertSent()
	if g.counters != nil {
		if err := g.counters.IncrementRecoveryAlerts(ctx, result.ID); err != nil {
			g.logger.Warn("recovery alert counter update failed", map[string]any{
				"monitor_id": monitor.ID,
				"error":      err.Error(),
			})
		}
	}
}

// shouldAlert fires at the threshold, then every max(5, 2×threshold) runs.
func shouldAlert(streak, threshold int) bool {
	if streak < threshold {
		return false
	}
	if streak == threshold {
		return true
	}
	interval := 2 * threshold
	if interval < 5 {
		interval = 5
	}
	return (streak-threshold)%interval == 0
}

// CheckSSLExpiry runs the separate SSL warning path: one alert per monitor
// per 24 h while the certificate is inside the warning window or expired,
// independent of up/down transitions.
func (g *Gate) CheckSSLExpiry(ctx context.Context, monitor *types.MonitorSpec, daysRemaining int, expired bool) {
	if g.notifier == nil || g.debounce == nil {
		return
	}
	if !monitor.Alerts.Enabled || !monitor.Alerts.AlertOnSslExpiration {
		return
	}
	if !expired && daysRemaining > monitor.WarningThresholdDays() {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	acquired, err := g.debounce.SetNX(opCtx, "sslalert:"+monitor.ID, "1", sslAlertDebounce).Result()
	if err != nil {
		g.logger.Warn("ssl alert debounce unavailable", map[string]any{
			"monitor_id": monitor.ID,
			"error":      err.Error(),
		})
		return
	}
	if !acquired {
		return
	}

	if err := g.notifier.SendSSLExpiryAlert(ctx, monitor, daysRemaining); err != nil {
		g.logger.Error("ssl alert delivery failed", map[string]any{
			"monitor_id": monitor.ID,
			"error":      err.Error(),
		})
		return
	}
	g.metrics.IncAlertSent()
}
