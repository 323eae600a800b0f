// Package datadog is a thin client over the Datadog v1 metrics/monitor
// APIs and the v2 spans search API.
package datadog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	APIKey string
	AppKey string
	// Site is the Datadog site domain, e.g. "datadoghq.com" or
	// "datadoghq.eu". The API host is derived as api.<site>.
	Site string
	HTTP *http.Client

	now func() time.Time
}

func NewClient(apiKey, appKey, site string) *Client {
	if site == "" {
		site = "datadoghq.com"
	}
	return &Client{
		APIKey: apiKey,
		AppKey: appKey,
		Site:   site,
		HTTP:   &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}
}

func (c *Client) baseURL() string {
	return "https://api." + c.Site
}

// AppURL returns the browser-facing URL for a path like "/apm/trace/abc".
func (c *Client) AppURL(path string) string {
	return "https://app." + c.Site + path
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL() + path
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
	req.Header.Set("DD-API-KEY", c.APIKey)
	req.Header.Set("DD-APPLICATION-KEY", c.AppKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("datadog request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("datadog authentication failed: check DATADOG_API_KEY and DATADOG_APP_KEY")
	case resp.StatusCode >= 300:
		return fmt.Errorf("datadog HTTP %d: %s", resp.StatusCode, snippet(raw))
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

// parseTime resolves "now", "now-15m"/"now-4h"/"now-2d", or an epoch
// string into unix seconds.
func (c *Client) parseTime(t string) (int64, error) {
	now := c.now().Unix()
	if t == "" || t == "now" {
		return now, nil
	}
	if rest, ok := strings.CutPrefix(t, "now-"); ok {
		if len(rest) < 2 {
			return 0, fmt.Errorf("invalid time %q", t)
		}
		n, err := strconv.Atoi(rest[:len(rest)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid time %q", t)
		}
		switch rest[len(rest)-1] {
		case 'm':
			return now - int64(n)*60, nil
		case 'h':
			return now - int64(n)*3600, nil
		case 'd':
			return now - int64(n)*86400, nil
		}
		return 0, fmt.Errorf("invalid time %q", t)
	}
	sec, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", t)
	}
	return sec, nil
}

type monitor struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Query        string   `json:"query"`
	Message      string   `json:"message"`
	OverallState string   `json:"overall_state"`
	Tags         []string `json:"tags"`
	Created      string   `json:"created"`
	Modified     string   `json:"modified"`
	Options      *struct {
		Thresholds      map[string]float64 `json:"thresholds"`
		NotifyNoData    bool               `json:"notify_no_data"`
		EvaluationDelay *int64             `json:"evaluation_delay"`
	} `json:"options"`
}

func (c *Client) listMonitors(ctx context.Context, name string, pageSize int) ([]monitor, error) {
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(pageSize))
	if name != "" {
		q.Set("name", name)
	}
	var out []monitor
	if err := c.do(ctx, http.MethodGet, "/api/v1/monitor", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getMonitor(ctx context.Context, id int64) (*monitor, error) {
	var out monitor
	if err := c.do(ctx, http.MethodGet, "/api/v1/monitor/"+strconv.FormatInt(id, 10), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// point is the [timestamp, value] pair of a v1 query series. Values may
// be null for gaps.
type point [2]*float64

type series struct {
	Metric    string  `json:"metric"`
	Scope     string  `json:"scope"`
	Pointlist []point `json:"pointlist"`
	Unit      []struct {
		Name string `json:"name"`
	} `json:"unit"`
}

func (c *Client) queryMetrics(ctx context.Context, from, to int64, query string) ([]series, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatInt(from, 10))
	q.Set("to", strconv.FormatInt(to, 10))
	q.Set("query", query)
	var out struct {
		Series []series `json:"series"`
		Error  string   `json:"error"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/query", q, nil, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("datadog query error: %s", out.Error)
	}
	return out.Series, nil
}

type span struct {
	ID         string `json:"id"`
	Attributes struct {
		Service      string         `json:"service"`
		ResourceName string         `json:"resource_name"`
		Host         string         `json:"host"`
		StartTime    string         `json:"start_timestamp"`
		Custom       map[string]any `json:"attributes"`
	} `json:"attributes"`
}

func (s span) attr(key string) any {
	if s.Attributes.Custom == nil {
		return nil
	}
	return s.Attributes.Custom[key]
}

func (s span) attrString(key string) string {
	v, _ := s.attr(key).(string)
	return v
}

// durationNS returns the span duration in nanoseconds, 0 when absent.
func (s span) durationNS() float64 {
	v, _ := s.attr("duration").(float64)
	return v
}

func (c *Client) searchSpans(ctx context.Context, query, from, to string, limit int) ([]span, error) {
	body := map[string]any{
		"data": map[string]any{
			"type": "search_request",
			"attributes": map[string]any{
				"filter": map[string]any{
					"query": query,
					"from":  from,
					"to":    to,
				},
				"sort": "-timestamp",
				"page": map[string]any{"limit": limit},
			},
		},
	}
	var out struct {
		Data []span `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v2/spans/events/search", nil, body, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}
