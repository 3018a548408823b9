package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/supercheck-io/fleet/types"
)

const defaultHTTPTimeout = 30 * time.Second

// CheckHTTP runs an http or website monitor: request the target, evaluate
// the expected-status expression and optional body keyword, and chain the
// certificate check for https website monitors that ask for it.
func (p *Prober) CheckHTTP(ctx context.Context, monitor *types.MonitorSpec) *types.ProbeResult {
	target, err := ValidateTargetURL(monitor.Target, p.allowInternal)
	if err != nil {
		return errorResult(err.Error())
	}

	cfg := monitor.HTTP
	if cfg == nil {
		cfg = &types.HTTPConfig{}
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target.String(), body)
	if err != nil {
		return errorResult(fmt.Sprintf("building request: %v", err))
	}
	for name, value := range cfg.Headers {
		req.Header.Set(name, value)
	}
	if cfg.AuthUser != "" {
		req.SetBasicAuth(cfg.AuthUser, cfg.AuthPass.Reveal())
	}

	client := p.httpClient(cfg.MaxRedirects)
	start := time.Now()
	resp, err := client.Do(req)
	elapsed := types.Millis(time.Since(start))
	if err != nil {
		status := types.ResultError
		if isTimeout(err) {
			status = types.ResultTimeout
		}
		return &types.ProbeResult{
			Status:         status,
			IsUp:           false,
			ResponseTimeMs: &elapsed,
			Details:        types.ResultDetails{"error": err.Error()},
		}
	}
	defer resp.Body.Close()

	limit := int64(p.maxResponseMB) << 20
	bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, limit))
	elapsed = types.Millis(time.Since(start))

	details := types.ResultDetails{
		"statusCode": resp.StatusCode,
	}
	isUp := IsExpectedStatus(resp.StatusCode, cfg.ExpectedStatus)
	if !isUp {
		details["error"] = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	if readErr != nil {
		details["bodyError"] = readErr.Error()
	}

	if isUp && cfg.KeywordInBody != "" {
		found := strings.Contains(strings.ToLower(string(bodyBytes)), strings.ToLower(cfg.KeywordInBody))
		wantPresent := cfg.KeywordShouldBePresent == nil || *cfg.KeywordShouldBePresent
		details["keywordFound"] = found
		if found != wantPresent {
			isUp = false
			if wantPresent {
				details["error"] = fmt.Sprintf("keyword %q not found in response body", cfg.KeywordInBody)
			} else {
				details["error"] = fmt.Sprintf("keyword %q unexpectedly present in response body", cfg.KeywordInBody)
			}
			details["bodySnippet"] = SanitizeSnippet(string(bodyBytes))
		}
	}

	status := types.ResultDown
	if isUp {
		status = types.ResultUp
	}
	res := &types.ProbeResult{
		Status:         status,
		IsUp:           isUp,
		ResponseTimeMs: &elapsed,
		Details:        details,
	}

	// Website monitors can fold a certificate check into the same cycle.
	if monitor.Kind == types.MonitorWebsite && cfg.EnableSslCheck && target.Scheme == "https" {
		sslRes := p.CheckSSL(ctx, monitor)
		details["ssl"] = sslRes.Details
		if res.IsUp && !sslRes.IsUp {
			res.IsUp = false
			res.Status = sslRes.Status
			if msg, ok := sslRes.Details["error"]; ok {
				details["error"] = msg
			}
		}
	}
	return res
}

// httpClient builds a client whose redirect policy honors the monitor's
// limit. A negative limit disables following entirely.
func (p *Prober) httpClient(maxRedirects int) *http.Client {
	if maxRedirects == 0 {
		maxRedirects = 10
	}
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if maxRedirects < 0 {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			// Redirects can land on internal hosts even when the entry
			// URL was external.
			if !p.allowInternal {
				if err := RejectInternalHost(req.URL.Hostname()); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
