// Package pagerduty is a thin REST v2 client covering the incident,
// on-call, and service surfaces the assistant queries.
package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultBaseURL = "https://api.pagerduty.com"

// From header used on write calls. PagerDuty requires a requester email
// when updating incidents through a general-access token.
const defaultFrom = "sre-copilot@example.com"

type Client struct {
	APIKey  string
	BaseURL string
	From    string
	HTTP    *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:  apiKey,
		BaseURL: defaultBaseURL,
		From:    defaultFrom,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Token token="+c.APIKey)
	req.Header.Set("Accept", "application/vnd.pagerduty+json;version=2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("From", c.From)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("pagerduty request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("pagerduty authentication failed: check that the API key is valid")
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("pagerduty permission denied: the API key lacks the required access")
	case resp.StatusCode >= 300:
		return fmt.Errorf("pagerduty HTTP %d: %s", resp.StatusCode, snippet(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func snippet(b []byte) string {
	const max = 300
	s := string(b)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

// ref is the common id/summary shape PagerDuty embeds everywhere.
type ref struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Email   string `json:"email,omitempty"`
}

type incident struct {
	ID               string `json:"id"`
	IncidentNumber   int    `json:"incident_number"`
	Title            string `json:"title"`
	Status           string `json:"status"`
	Urgency          string `json:"urgency"`
	CreatedAt        string `json:"created_at"`
	ResolvedAt       string `json:"resolved_at"`
	Description      string `json:"description"`
	Service          ref    `json:"service"`
	EscalationPolicy ref    `json:"escalation_policy"`
	HTMLURL          string `json:"html_url"`
	Assignments      []struct {
		Assignee ref `json:"assignee"`
	} `json:"assignments"`
}

func (c *Client) listIncidents(ctx context.Context, statuses []string, urgency string, serviceIDs []string, limit int) ([]incident, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort_by", "created_at:desc")
	for _, s := range statuses {
		q.Add("statuses[]", s)
	}
	if urgency != "" {
		q.Add("urgencies[]", urgency)
	}
	for _, id := range serviceIDs {
		q.Add("service_ids[]", id)
	}

	var out struct {
		Incidents []incident `json:"incidents"`
	}
	if err := c.do(ctx, http.MethodGet, "/incidents", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Incidents, nil
}

func (c *Client) getIncident(ctx context.Context, id string) (*incident, error) {
	var out struct {
		Incident incident `json:"incident"`
	}
	if err := c.do(ctx, http.MethodGet, "/incidents/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Incident, nil
}

type note struct {
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	User      ref    `json:"user"`
}

func (c *Client) incidentNotes(ctx context.Context, id string) ([]note, error) {
	var out struct {
		Notes []note `json:"notes"`
	}
	if err := c.do(ctx, http.MethodGet, "/incidents/"+url.PathEscape(id)+"/notes", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Notes, nil
}

type logEntry struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Summary   string `json:"summary"`
	Agent     ref    `json:"agent"`
	Service   ref    `json:"service"`
	Incident  *ref   `json:"incident"`
}

func (c *Client) incidentLogEntries(ctx context.Context, id string, limit int) ([]logEntry, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	var out struct {
		LogEntries []logEntry `json:"log_entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/incidents/"+url.PathEscape(id)+"/log_entries", q, nil, &out); err != nil {
		return nil, err
	}
	return out.LogEntries, nil
}

func (c *Client) logEntries(ctx context.Context, serviceID, since string, limit int) ([]logEntry, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("since", since)
	path := "/log_entries"
	if serviceID != "" {
		path = "/services/" + url.PathEscape(serviceID) + "/log_entries"
	} else {
		q.Set("is_overview", "true")
	}
	var out struct {
		LogEntries []logEntry `json:"log_entries"`
	}
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out.LogEntries, nil
}

type oncall struct {
	User             ref    `json:"user"`
	Schedule         *ref   `json:"schedule"`
	EscalationPolicy *ref   `json:"escalation_policy"`
	EscalationLevel  int    `json:"escalation_level"`
	Start            string `json:"start"`
	End              string `json:"end"`
}

func (c *Client) listOncalls(ctx context.Context, scheduleIDs, policyIDs []string) ([]oncall, error) {
	q := url.Values{}
	for _, id := range scheduleIDs {
		q.Add("schedule_ids[]", id)
	}
	for _, id := range policyIDs {
		q.Add("escalation_policy_ids[]", id)
	}
	var out struct {
		Oncalls []oncall `json:"oncalls"`
	}
	if err := c.do(ctx, http.MethodGet, "/oncalls", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Oncalls, nil
}

type service struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	Status             string `json:"status"`
	CreatedAt          string `json:"created_at"`
	HTMLURL            string `json:"html_url"`
	EscalationPolicy   ref    `json:"escalation_policy"`
	IncidentUrgencyRul struct {
		Type string `json:"type"`
	} `json:"incident_urgency_rule"`
}

func (c *Client) listServices(ctx context.Context, query string, limit int) ([]service, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if query != "" {
		q.Set("query", query)
	}
	var out struct {
		Services []service `json:"services"`
	}
	if err := c.do(ctx, http.MethodGet, "/services", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Services, nil
}

func (c *Client) setIncidentStatus(ctx context.Context, id, status, resolution string) (*incident, error) {
	payload := map[string]any{
		"incident": map[string]any{
			"type":   "incident_reference",
			"status": status,
		},
	}
	if resolution != "" {
		payload["incident"].(map[string]any)["resolution"] = resolution
	}
	var out struct {
		Incident incident `json:"incident"`
	}
	if err := c.do(ctx, http.MethodPut, "/incidents/"+url.PathEscape(id), nil, payload, &out); err != nil {
		return nil, err
	}
	return &out.Incident, nil
}
