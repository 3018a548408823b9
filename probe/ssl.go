package probe

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/supercheck-io/fleet/types"
)

const defaultSSLPort = "443"

// CheckSSL connects to the target, captures the leaf certificate, and maps
// its validity window onto a probe result. The handshake itself never
// verifies the chain; verification runs separately so an untrusted chain
// still yields certificate details.
func (p *Prober) CheckSSL(ctx context.Context, monitor *types.MonitorSpec) *types.ProbeResult {
	host, port, err := sslHostPort(monitor.Target)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid ssl target: %v", err))
	}
	if !p.allowInternal {
		if err := RejectInternalHost(host); err != nil {
			return errorResult(err.Error())
		}
	}

	start := time.Now()
	details, err := p.fetchCertificate(ctx, host, port)
	elapsed := types.Millis(time.Since(start))
	if err != nil {
		return &types.ProbeResult{
			Status:         types.ResultDown,
			IsUp:           false,
			ResponseTimeMs: &elapsed,
			Details:        types.ResultDetails{"error": err.Error()},
		}
	}

	res := evaluateCertificate(details, monitor.WarningThresholdDays(), time.Now())
	res.ResponseTimeMs = &elapsed
	return res
}

// fetchCertificate performs the handshake and parses the leaf. Chain trust is
// evaluated after the fact against the system pool so the result records both
// the certificate and whether it verifies.
func (p *Prober) fetchCertificate(ctx context.Context, host, port string) (*types.SSLCertificateDetails, error) {
	dialer := &net.Dialer{Timeout: p.dialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(host, port), &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("tls handshake failed: %w", err)
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no certificate presented by %s", host)
	}
	leaf := state.PeerCertificates[0]

	sum := sha256.Sum256(leaf.Raw)
	details := &types.SSLCertificateDetails{
		Subject:         leaf.Subject.CommonName,
		Issuer:          leaf.Issuer.CommonName,
		SerialNumber:    leaf.SerialNumber.String(),
		Fingerprint:     hex.EncodeToString(sum[:]),
		SubjectAltNames: leaf.DNSNames,
		ValidFrom:       leaf.NotBefore,
		ValidTo:         leaf.NotAfter,
		DaysRemaining:   daysRemaining(leaf.NotAfter, time.Now()),
		Authorized:      true,
	}

	opts := x509.VerifyOptions{DNSName: host, Intermediates: x509.NewCertPool()}
	for _, cert := range state.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	if _, err := leaf.Verify(opts); err != nil {
		details.Authorized = false
		details.AuthorizationError = err.Error()
	}
	return details, nil
}

// evaluateCertificate maps a certificate's validity window onto status:
// not-yet-valid is an error, expired is down, expiring within the warning
// threshold stays up but carries a warning message.
func evaluateCertificate(cert *types.SSLCertificateDetails, warningDays int, now time.Time) *types.ProbeResult {
	details := types.ResultDetails{"sslCertificate": cert}

	switch {
	case now.Before(cert.ValidFrom):
		details["error"] = fmt.Sprintf("certificate not valid until %s", cert.ValidFrom.Format(time.RFC3339))
		return &types.ProbeResult{Status: types.ResultError, IsUp: false, Details: details}
	case now.After(cert.ValidTo):
		details["error"] = fmt.Sprintf("certificate expired on %s", cert.ValidTo.Format(time.RFC3339))
		return &types.ProbeResult{Status: types.ResultDown, IsUp: false, Details: details}
	case cert.DaysRemaining <= warningDays:
		details["warningMessage"] = fmt.Sprintf("certificate expires in %d days", cert.DaysRemaining)
		return &types.ProbeResult{Status: types.ResultUp, IsUp: true, Details: details}
	default:
		return &types.ProbeResult{Status: types.ResultUp, IsUp: true, Details: details}
	}
}

// daysRemaining rounds partial days up so "23 hours left" reads as 1 day,
// not 0.
func daysRemaining(validTo, now time.Time) int {
	remaining := validTo.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// NextSSLCheckInterval tightens the probe cadence as expiry approaches:
// hourly inside the warning window, every six hours inside twice the window,
// otherwise the configured baseline.
func NextSSLCheckInterval(daysRemaining, warningDays, baselineHours int) time.Duration {
	if baselineHours <= 0 {
		baselineHours = 24
	}
	switch {
	case daysRemaining <= warningDays:
		return time.Hour
	case daysRemaining <= 2*warningDays:
		return 6 * time.Hour
	default:
		return time.Duration(baselineHours) * time.Hour
	}
}

// sslHostPort accepts either a bare host, host:port, or a URL and returns
// the pair to dial, defaulting to 443.
func sslHostPort(target string) (string, string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", "", fmt.Errorf("target is required")
	}
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", "", err
		}
		host := u.Hostname()
		if host == "" {
			return "", "", fmt.Errorf("no host in %q", target)
		}
		port := u.Port()
		if port == "" {
			port = defaultSSLPort
		}
		return host, port, nil
	}
	if host, port, err := net.SplitHostPort(target); err == nil {
		return host, port, nil
	}
	return target, defaultSSLPort, nil
}

func errorResult(message string) *types.ProbeResult {
	return &types.ProbeResult{
		Status:  types.ResultError,
		IsUp:    false,
		Details: types.ResultDetails{"error": message},
	}
}
