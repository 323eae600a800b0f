package datadog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// rewriteTransport forces requests onto a test server regardless of the
// host the client derived from its site.
type rewriteTransport struct {
	host string
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(req)
}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("api-key", "app-key", "datadoghq.com")
	c.HTTP = &http.Client{Transport: rewriteTransport{host: srv.Listener.Addr().String()}}
	return c
}

func TestParseTime(t *testing.T) {
	c := NewClient("k", "a", "")
	fixed := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return fixed }
	now := fixed.Unix()

	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", now, false},
		{"now", now, false},
		{"now-15m", now - 15*60, false},
		{"now-4h", now - 4*3600, false},
		{"now-2d", now - 2*86400, false},
		{"1699990000", 1699990000, false},
		{"now-", 0, true},
		{"now-15x", 0, true},
		{"yesterday", 0, true},
	}
	for _, tc := range cases {
		got, err := c.parseTime(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseTime(%q): want error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseTime(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseTime(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestScopeService(t *testing.T) {
	cases := map[string]string{
		"service:api,env:production": "api",
		"env:production,service:web": "web",
		"service:checkout":           "checkout",
		"env:production":             "",
		"":                           "",
	}
	for in, want := range cases {
		if got := scopeService(in); got != want {
			t.Errorf("scopeService(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalEnv(t *testing.T) {
	cases := map[string]string{
		"prod":        "production",
		"PRD":         "production",
		"stage":       "stg",
		"staging":     "stg",
		"development": "dev",
		"production":  "production",
		"qa":          "qa",
	}
	for in, want := range cases {
		if got := canonicalEnv(in); got != want {
			t.Errorf("canonicalEnv(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClipRuneSafe(t *testing.T) {
	if got := clip("short", 10); got != "short" {
		t.Errorf("clip(short) = %q", got)
	}
	long := strings.Repeat("日", 10)
	got := clip(long, 4)
	if got != strings.Repeat("日", 4) {
		t.Errorf("clip multibyte = %q", got)
	}
	for _, r := range got {
		if r == '�' {
			t.Fatal("clip split a rune mid-sequence")
		}
	}
}

func TestDoSendsAuthHeaders(t *testing.T) {
	var gotAPI, gotApp string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAPI = r.Header.Get("DD-API-KEY")
		gotApp = r.Header.Get("DD-APPLICATION-KEY")
		w.Write([]byte(`[]`))
	})

	if _, err := c.listMonitors(context.Background(), "", 10); err != nil {
		t.Fatal(err)
	}
	if gotAPI != "api-key" || gotApp != "app-key" {
		t.Errorf("auth headers = %q / %q", gotAPI, gotApp)
	}
}

func TestDoAuthFailureMessage(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.getMonitor(context.Background(), 42)
	if err == nil || !strings.Contains(err.Error(), "DATADOG_API_KEY") {
		t.Errorf("want credential hint, got %v", err)
	}
}

func TestQueryMetricsSurfacesAPIError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "error", "error": "rate limit exceeded"}`))
	})

	_, err := c.queryMetrics(context.Background(), 0, 100, "avg:system.cpu.user{*}")
	if err == nil || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Errorf("want query error surfaced, got %v", err)
	}
}

func TestSearchSpans(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v2/spans/events/search" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"data": [
			{"id": "s1", "attributes": {"service": "api", "resource_name": "GET /users", "attributes": {"duration": 1500000, "trace_id": "t1"}}},
			{"id": "s2", "attributes": {"service": "db", "attributes": {}}}
		]}`))
	})

	spans, err := c.searchSpans(context.Background(), "service:api", "now-1h", "now", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(spans) != 2 {
		t.Fatalf("got %d spans", len(spans))
	}
	if spans[0].Attributes.Service != "api" || spans[0].attrString("trace_id") != "t1" {
		t.Errorf("span[0] = %+v", spans[0])
	}
	if spans[0].durationNS() != 1500000 {
		t.Errorf("durationNS = %v", spans[0].durationNS())
	}
	if spans[1].durationNS() != 0 {
		t.Errorf("missing duration should be 0, got %v", spans[1].durationNS())
	}
}
