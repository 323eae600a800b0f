package pagerduty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("pd-token")
	c.BaseURL = srv.URL
	return c
}

func TestListIncidentsQueryAndAuth(t *testing.T) {
	var got *http.Request
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Write([]byte(`{"incidents": [
			{"id": "P1", "incident_number": 7, "title": "API latency", "status": "triggered", "urgency": "high"},
			{"id": "P2", "incident_number": 8, "title": "Disk full", "status": "acknowledged", "urgency": "low"}
		]}`))
	})

	incs, err := c.listIncidents(context.Background(), []string{"triggered", "acknowledged"}, "high", nil, 25)
	if err != nil {
		t.Fatal(err)
	}
	if len(incs) != 2 || incs[0].ID != "P1" || incs[1].IncidentNumber != 8 {
		t.Errorf("incidents = %+v", incs)
	}

	if got.Header.Get("Authorization") != "Token token=pd-token" {
		t.Errorf("Authorization = %q", got.Header.Get("Authorization"))
	}
	if !strings.Contains(got.Header.Get("Accept"), "version=2") {
		t.Errorf("Accept = %q", got.Header.Get("Accept"))
	}
	if got.Header.Get("From") != "" {
		t.Error("GET should not carry a From header")
	}
	q := got.URL.Query()
	if want := []string{"triggered", "acknowledged"}; len(q["statuses[]"]) != 2 || q["statuses[]"][0] != want[0] {
		t.Errorf("statuses[] = %v", q["statuses[]"])
	}
	if q.Get("urgencies[]") != "high" || q.Get("sort_by") != "created_at:desc" || q.Get("limit") != "25" {
		t.Errorf("query = %v", q)
	}
}

func TestSetIncidentStatusSendsFromHeader(t *testing.T) {
	var gotFrom string
	var gotBody map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		gotFrom = r.Header.Get("From")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"incident": {"id": "P1", "status": "resolved"}}`))
	})

	inc, err := c.setIncidentStatus(context.Background(), "P1", "resolved", "fixed by restart")
	if err != nil {
		t.Fatal(err)
	}
	if inc.Status != "resolved" {
		t.Errorf("status = %q", inc.Status)
	}
	if gotFrom != defaultFrom {
		t.Errorf("From = %q", gotFrom)
	}
	body, _ := gotBody["incident"].(map[string]any)
	if body["status"] != "resolved" || body["resolution"] != "fixed by restart" {
		t.Errorf("payload = %v", gotBody)
	}
}

func TestLogEntriesOverviewVsService(t *testing.T) {
	var paths []string
	var overview []string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		overview = append(overview, r.URL.Query().Get("is_overview"))
		w.Write([]byte(`{"log_entries": []}`))
	})

	if _, err := c.logEntries(context.Background(), "", "2026-08-29T00:00:00Z", 50); err != nil {
		t.Fatal(err)
	}
	if _, err := c.logEntries(context.Background(), "SVC1", "2026-08-29T00:00:00Z", 50); err != nil {
		t.Fatal(err)
	}

	if paths[0] != "/log_entries" || overview[0] != "true" {
		t.Errorf("account-wide call: path %q is_overview %q", paths[0], overview[0])
	}
	if paths[1] != "/services/SVC1/log_entries" || overview[1] != "" {
		t.Errorf("service call: path %q is_overview %q", paths[1], overview[1])
	}
}

func TestAuthErrors(t *testing.T) {
	for _, tc := range []struct {
		code int
		want string
	}{
		{http.StatusUnauthorized, "authentication failed"},
		{http.StatusForbidden, "permission denied"},
	} {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.code)
		})
		_, err := c.getIncident(context.Background(), "P1")
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("HTTP %d: got %v, want %q", tc.code, err, tc.want)
		}
	}
}
