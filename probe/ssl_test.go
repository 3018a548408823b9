package probe

import (
	"testing"
	"time"

	"github.com/supercheck-io/fleet/types"
)

func certWindow(from, to time.Time, days int) *types.SSLCertificateDetails {
	return &types.SSLCertificateDetails{
		Subject:       "example.com",
		ValidFrom:     from,
		ValidTo:       to,
		DaysRemaining: days,
		Authorized:    true,
	}
}

func TestEvaluateCertificate(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	t.Run("not yet valid is error", func(t *testing.T) {
		cert := certWindow(now.Add(time.Hour), now.Add(90*24*time.Hour), 90)
		res := evaluateCertificate(cert, 30, now)
		if res.Status != types.ResultError || res.IsUp {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("expired is down", func(t *testing.T) {
		cert := certWindow(now.Add(-90*24*time.Hour), now.Add(-time.Hour), 0)
		res := evaluateCertificate(cert, 30, now)
		if res.Status != types.ResultDown || res.IsUp {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("inside warning window is up with warning", func(t *testing.T) {
		cert := certWindow(now.Add(-60*24*time.Hour), now.Add(10*24*time.Hour), 10)
		res := evaluateCertificate(cert, 30, now)
		if res.Status != types.ResultUp || !res.IsUp {
			t.Fatalf("got %+v", res)
		}
		if _, ok := res.Details["warningMessage"]; !ok {
			t.Error("warning message missing")
		}
	})

	t.Run("healthy is up without warning", func(t *testing.T) {
		cert := certWindow(now.Add(-60*24*time.Hour), now.Add(200*24*time.Hour), 200)
		res := evaluateCertificate(cert, 30, now)
		if res.Status != types.ResultUp || !res.IsUp {
			t.Fatalf("got %+v", res)
		}
		if _, ok := res.Details["warningMessage"]; ok {
			t.Error("unexpected warning message")
		}
	})
}

func TestDaysRemaining_RoundsUp(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		until time.Duration
		want  int
	}{
		{23 * time.Hour, 1},
		{24 * time.Hour, 1},
		{25 * time.Hour, 2},
		{0, 0},
		{-time.Hour, 0},
		{30 * 24 * time.Hour, 30},
	}
	for _, tc := range cases {
		if got := daysRemaining(now.Add(tc.until), now); got != tc.want {
			t.Errorf("daysRemaining(+%s) = %d, want %d", tc.until, got, tc.want)
		}
	}
}

func TestNextSSLCheckInterval(t *testing.T) {
	cases := []struct {
		days, warning, baseline int
		want                    time.Duration
	}{
		{10, 30, 24, time.Hour},
		{30, 30, 24, time.Hour},
		{45, 30, 24, 6 * time.Hour},
		{60, 30, 24, 6 * time.Hour},
		{61, 30, 24, 24 * time.Hour},
		{200, 30, 12, 12 * time.Hour},
		{200, 30, 0, 24 * time.Hour},
	}
	for _, tc := range cases {
		if got := NextSSLCheckInterval(tc.days, tc.warning, tc.baseline); got != tc.want {
			t.Errorf("NextSSLCheckInterval(%d, %d, %d) = %s, want %s", tc.days, tc.warning, tc.baseline, got, tc.want)
		}
	}
}

func TestSSLHostPort(t *testing.T) {
	cases := []struct {
		in, host, port string
		wantErr        bool
	}{
		{"example.com", "example.com", "443", false},
		{"example.com:8443", "example.com", "8443", false},
		{"https://example.com/path", "example.com", "443", false},
		{"https://example.com:444/", "example.com", "444", false},
		{"", "", "", true},
	}
	for _, tc := range cases {
		host, port, err := sslHostPort(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("sslHostPort(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || host != tc.host || port != tc.port {
			t.Errorf("sslHostPort(%q) = %q, %q, %v", tc.in, host, port, err)
		}
	}
}
