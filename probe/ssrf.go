package probe

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrInternalAddress is returned for targets inside private, loopback,
// link-local, CGNAT, documentation, or current-network ranges.
var ErrInternalAddress = errors.New("internal address")

// internalCIDRs are the IPv4 ranges the guard rejects. The link-local block
// covers the cloud metadata endpoint.
var internalCIDRs = func() []*net.IPNet {
	blocks := []string{
		"0.0.0.0/8",       // current network
		"10.0.0.0/8",      // RFC1918
		"100.64.0.0/10",   // CGNAT
		"127.0.0.0/8",     // loopback
		"169.254.0.0/16",  // link-local / metadata
		"172.16.0.0/12",   // RFC1918
		"192.0.2.0/24",    // RFC5737 TEST-NET-1
		"192.168.0.0/16",  // RFC1918
		"198.18.0.0/15",   // benchmarking
		"198.51.100.0/24", // RFC5737 TEST-NET-2
		"203.0.113.0/24",  // RFC5737 TEST-NET-3
	}
	nets := make([]*net.IPNet, 0, len(blocks))
	for _, b := range blocks {
		_, n, err := net.ParseCIDR(b)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}()

// ValidateTargetURL applies the SSRF guard to a monitor target URL.
// allowInternal (development only) skips the address-range checks but keeps
// the structural ones.
func ValidateTargetURL(raw string, allowInternal bool) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)
	for _, scheme := range []string{"javascript:", "data:", "file:"} {
		if strings.HasPrefix(lower, scheme) {
			return nil, fmt.Errorf("unsupported scheme in target %q", raw)
		}
	}
	if strings.Count(trimmed, "@") > 1 {
		return nil, fmt.Errorf("malformed target %q: multiple @", raw)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported protocol %q: only http and https", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("target %q has no host", raw)
	}
	if strings.Contains(host, "..") {
		return nil, fmt.Errorf("malformed host %q", host)
	}

	if !allowInternal {
		if err := RejectInternalHost(host); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// RejectInternalHost rejects hostnames and IP literals that point inside
// the guarded ranges. Hostnames are checked literally (localhost and
// friends); IP literals are matched against the range table.
func RejectInternalHost(host string) error {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || lower == "metadata.google.internal" {
		return fmt.Errorf("%w: %s", ErrInternalAddress, host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("%w: %s", ErrInternalAddress, host)
	}
	if v4 := ip.To4(); v4 != nil {
		for _, block := range internalCIDRs {
			if block.Contains(v4) {
				return fmt.Errorf("%w: %s", ErrInternalAddress, host)
			}
		}
	} else if ip.IsPrivate() {
		return fmt.Errorf("%w: %s", ErrInternalAddress, host)
	}
	return nil
}

// ValidateHostPort applies the guard to a bare host for port/ping checks.
func ValidateHostPort(host string, port int, allowInternal bool) error {
	if host == "" {
		return errors.New("host is required")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", port)
	}
	if !allowInternal {
		return RejectInternalHost(host)
	}
	return nil
}
