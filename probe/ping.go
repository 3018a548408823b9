package probe

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/supercheck-io/fleet/types"
)

// pingPorts are tried in order; reachability on either counts as up. Raw
// ICMP needs privileges the worker container does not have, so ping
// monitors measure TCP reachability instead.
var pingPorts = []string{"443", "80"}

// CheckPing measures reachability of a host by opening a TCP connection.
func (p *Prober) CheckPing(ctx context.Context, monitor *types.MonitorSpec) *types.ProbeResult {
	host := pingHost(monitor.Target)
	if host == "" {
		return errorResult("ping target is required")
	}
	if !p.allowInternal {
		if err := RejectInternalHost(host); err != nil {
			return errorResult(err.Error())
		}
	}

	dialer := &net.Dialer{Timeout: p.dialTimeout}
	start := time.Now()
	var lastErr error
	for _, port := range pingPorts {
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
		if err == nil {
			conn.Close()
			elapsed := types.Millis(time.Since(start))
			return &types.ProbeResult{
				Status:         types.ResultUp,
				IsUp:           true,
				ResponseTimeMs: &elapsed,
				Details:        types.ResultDetails{"port": port},
			}
		}
		lastErr = err
	}

	elapsed := types.Millis(time.Since(start))
	status := types.ResultDown
	if isTimeout(lastErr) {
		status = types.ResultTimeout
	}
	return &types.ProbeResult{
		Status:         status,
		IsUp:           false,
		ResponseTimeMs: &elapsed,
		Details:        types.ResultDetails{"error": fmt.Sprintf("host unreachable: %v", lastErr)},
	}
}

// pingHost tolerates URL-shaped targets and strips scheme, path, and port.
func pingHost(target string) string {
	target = strings.TrimSpace(target)
	if strings.Contains(target, "://") {
		if u, err := url.Parse(target); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	if host, _, err := net.SplitHostPort(target); err == nil {
		return host
	}
	return target
}
