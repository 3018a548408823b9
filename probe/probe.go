package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/supercheck-io/fleet/log"
	"github.com/supercheck-io/fleet/metrics"
	"github.com/supercheck-io/fleet/types"
)

const defaultDialTimeout = 10 * time.Second

// Prober runs the lightweight monitor checks that execute in-process, as
// opposed to the container-backed synthetic and k6 kinds.
type Prober struct {
	logger        *log.Logger
	metrics       *metrics.Collector
	allowInternal bool
	dialTimeout   time.Duration
	maxResponseMB int
}

// Config tunes a Prober. Zero values get sensible defaults.
type Config struct {
	Logger *log.Logger
	// Metrics may be nil; all collector methods tolerate a nil receiver.
	Metrics *metrics.Collector
	// AllowInternalTargets disables the private-address guard. Development
	// only.
	AllowInternalTargets bool
	DialTimeout          time.Duration
	// MaxResponseMB caps how much response body the http probe reads.
	MaxResponseMB int
}

func New(cfg Config) *Prober {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger("")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	maxMB := cfg.MaxResponseMB
	if maxMB <= 0 {
		maxMB = 5
	}
	return &Prober{
		logger:        logger,
		metrics:       cfg.Metrics,
		allowInternal: cfg.AllowInternalTargets,
		dialTimeout:   dialTimeout,
		maxResponseMB: maxMB,
	}
}

// Check dispatches a monitor to its kind's probe. Synthetic monitors run
// through the container path, not here.
func (p *Prober) Check(ctx context.Context, monitor *types.MonitorSpec) *types.ProbeResult {
	var res *types.ProbeResult
	switch monitor.Kind {
	case types.MonitorHTTP, types.MonitorWebsite:
		res = p.CheckHTTP(ctx, monitor)
	case types.MonitorPing:
		res = p.CheckPing(ctx, monitor)
	case types.MonitorPort:
		res = p.CheckPort(ctx, monitor)
	case types.MonitorSSL:
		res = p.CheckSSL(ctx, monitor)
	default:
		res = errorResult(fmt.Sprintf("unsupported monitor kind %q", monitor.Kind))
	}
	p.metrics.IncProbe(string(monitor.Kind), res.IsUp)
	return res
}
