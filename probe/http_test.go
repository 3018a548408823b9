package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/supercheck-io/fleet/types"
)

func httpMonitor(target string, cfg *types.HTTPConfig) *types.MonitorSpec {
	return &types.MonitorSpec{Kind: types.MonitorHTTP, Target: target, HTTP: cfg}
}

func TestCheckHTTP_UpOnExpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res := testProber().CheckHTTP(context.Background(), httpMonitor(srv.URL, nil))
	if !res.IsUp || res.Status != types.ResultUp {
		t.Errorf("got %+v", res)
	}
	if res.Details["statusCode"] != 204 {
		t.Errorf("statusCode = %v", res.Details["statusCode"])
	}
}

func TestCheckHTTP_DownOnUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res := testProber().CheckHTTP(context.Background(), httpMonitor(srv.URL, nil))
	if res.IsUp || res.Status != types.ResultDown {
		t.Errorf("got %+v", res)
	}
}

func TestCheckHTTP_CustomStatusExpression(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	res := testProber().CheckHTTP(context.Background(), httpMonitor(srv.URL, &types.HTTPConfig{ExpectedStatus: "418"}))
	if !res.IsUp {
		t.Errorf("418 accepted by expression, got %+v", res)
	}
}

func TestCheckHTTP_MethodHeadersAndBasicAuth(t *testing.T) {
	var gotMethod, gotHeader, gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Check")
		gotUser, gotPass, _ = r.BasicAuth()
	}))
	defer srv.Close()

	cfg := &types.HTTPConfig{
		Method:   "POST",
		Body:     `{"ping":true}`,
		Headers:  map[string]string{"X-Check": "fleet"},
		AuthUser: "monitor",
		AuthPass: types.Secret("s3cret"),
	}
	res := testProber().CheckHTTP(context.Background(), httpMonitor(srv.URL, cfg))
	if !res.IsUp {
		t.Fatalf("got %+v", res)
	}
	if gotMethod != "POST" || gotHeader != "fleet" {
		t.Errorf("method=%q header=%q", gotMethod, gotHeader)
	}
	if gotUser != "monitor" || gotPass != "s3cret" {
		t.Errorf("auth = %q/%q", gotUser, gotPass)
	}
}

func TestCheckHTTP_KeywordPresence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>Service HEALTHY</html>")
	}))
	defer srv.Close()

	t.Run("present match is case-insensitive", func(t *testing.T) {
		cfg := &types.HTTPConfig{KeywordInBody: "healthy"}
		res := testProber().CheckHTTP(context.Background(), httpMonitor(srv.URL, cfg))
		if !res.IsUp {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("missing keyword is down", func(t *testing.T) {
		cfg := &types.HTTPConfig{KeywordInBody: "maintenance-ok"}
		res := testProber().CheckHTTP(context.Background(), httpMonitor(srv.URL, cfg))
		if res.IsUp || res.Status != types.ResultDown {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("unwanted keyword present is down", func(t *testing.T) {
		absent := false
		cfg := &types.HTTPConfig{KeywordInBody: "healthy", KeywordShouldBePresent: &absent}
		res := testProber().CheckHTTP(context.Background(), httpMonitor(srv.URL, cfg))
		if res.IsUp {
			t.Errorf("got %+v", res)
		}
	})
}

func TestCheckHTTP_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	cfg := &types.HTTPConfig{TimeoutSeconds: 1}
	res := testProber().CheckHTTP(context.Background(), httpMonitor(srv.URL, cfg))
	if res.Status != types.ResultTimeout || res.IsUp {
		t.Errorf("got %+v", res)
	}
}

func TestCheckHTTP_RedirectLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	cfg := &types.HTTPConfig{MaxRedirects: 2}
	res := testProber().CheckHTTP(context.Background(), httpMonitor(srv.URL, cfg))
	if res.IsUp {
		t.Errorf("redirect loop should not be up, got %+v", res)
	}
}

func TestCheckHTTP_RejectsInternalTarget(t *testing.T) {
	guarded := New(Config{DialTimeout: time.Second})
	res := guarded.CheckHTTP(context.Background(), httpMonitor("http://127.0.0.1:1/", nil))
	if res.Status != types.ResultError {
		t.Errorf("got %+v", res)
	}
}
