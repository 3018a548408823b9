package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/supercheck-io/fleet/types"
)

// CheckPort checks TCP or UDP reachability of a specific port. With
// expectClosed set the mapping inverts: a refused connection is up and a
// successful connect is down. Timeouts stay timeouts in both modes since
// they distinguish "actively refused" from "silently dropped".
func (p *Prober) CheckPort(ctx context.Context, monitor *types.MonitorSpec) *types.ProbeResult {
	cfg := monitor.Port
	if cfg == nil {
		return errorResult("port configuration is required")
	}
	host := pingHost(monitor.Target)
	if err := ValidateHostPort(host, cfg.Port, p.allowInternal); err != nil {
		return errorResult(err.Error())
	}

	proto := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	if proto == "" {
		proto = "tcp"
	}
	if proto != "tcp" && proto != "udp" {
		return errorResult(fmt.Sprintf("unsupported protocol %q: must be tcp or udp", proto))
	}

	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	start := time.Now()
	var err error
	if proto == "tcp" {
		err = p.dialTCP(ctx, addr)
	} else {
		err = p.dialUDP(ctx, addr)
	}
	elapsed := types.Millis(time.Since(start))

	details := types.ResultDetails{"port": cfg.Port, "protocol": proto}
	if proto == "udp" && err == nil {
		// Connectionless: a sent datagram proves nothing about a listener.
		details["note"] = "udp check confirms the datagram was sent, not that a service answered"
	}

	switch {
	case err == nil:
		if cfg.ExpectClosed {
			details["error"] = fmt.Sprintf("port %d is open, expected closed", cfg.Port)
			return &types.ProbeResult{Status: types.ResultDown, IsUp: false, ResponseTimeMs: &elapsed, Details: details}
		}
		return &types.ProbeResult{Status: types.ResultUp, IsUp: true, ResponseTimeMs: &elapsed, Details: details}
	case isTimeout(err):
		details["error"] = fmt.Sprintf("connection to %s timed out", addr)
		return &types.ProbeResult{Status: types.ResultTimeout, IsUp: false, ResponseTimeMs: &elapsed, Details: details}
	case errors.Is(err, syscall.ECONNREFUSED):
		details["connectionRefused"] = true
		if cfg.ExpectClosed {
			return &types.ProbeResult{Status: types.ResultUp, IsUp: true, ResponseTimeMs: &elapsed, Details: details}
		}
		details["error"] = err.Error()
		return &types.ProbeResult{Status: types.ResultDown, IsUp: false, ResponseTimeMs: &elapsed, Details: details}
	default:
		details["error"] = err.Error()
		return &types.ProbeResult{Status: types.ResultDown, IsUp: false, ResponseTimeMs: &elapsed, Details: details}
	}
}

func (p *Prober) dialTCP(ctx context.Context, addr string) error {
	dialer := &net.Dialer{Timeout: p.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// dialUDP sends a single empty datagram. With no listener the kernel may
// return ECONNREFUSED on a follow-up write after an ICMP port-unreachable,
// which expectClosed monitors rely on.
func (p *Prober) dialUDP(ctx context.Context, addr string) error {
	dialer := &net.Dialer{Timeout: p.dialTimeout}
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{}); err != nil {
		return err
	}
	// Brief second write gives a port-unreachable response time to land.
	time.Sleep(100 * time.Millisecond)
	_, err = conn.Write([]byte{})
	return err
}
