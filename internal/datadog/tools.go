package datadog

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/opspilot/opspilot/internal/core"
	"github.com/opspilot/opspilot/internal/tools"
)

// spanTypes are the trace metric prefixes probed when discovering
// instrumented services.
var spanTypes = []string{
	"web.request",
	"servlet.request",
	"http.request",
	"flask.request",
	"grpc.request",
	"graphql.request",
}

// canonicalEnv maps common aliases onto the env tags used in Datadog.
func canonicalEnv(env string) string {
	switch strings.ToLower(env) {
	case "prod", "prd":
		return "production"
	case "stage", "staging":
		return "stg"
	case "development":
		return "dev"
	}
	return env
}

type getMonitorsArgs struct {
	StatusFilter []string `json:"status_filter,omitempty" jsonschema:"description=Filter by status such as Alert or Warn or OK or No Data"`
	NameFilter   string   `json:"name_filter,omitempty" jsonschema:"description=Filter monitors by name"`
	Limit        int      `json:"limit,omitempty" jsonschema:"description=Maximum monitors to return (default 50)"`
}

type getMonitorDetailsArgs struct {
	MonitorID int64 `json:"monitor_id" jsonschema:"required,description=The Datadog monitor ID"`
}

type queryMetricsArgs struct {
	Query    string `json:"query" jsonschema:"required,description=Datadog metrics query such as avg:system.cpu.user{*}"`
	FromTime string `json:"from_time,omitempty" jsonschema:"description=Start time such as now-1h (default now-1h)"`
	ToTime   string `json:"to_time,omitempty" jsonschema:"description=End time (default now)"`
}

type getAPMServicesArgs struct {
	Env   string `json:"env,omitempty" jsonschema:"description=Filter by environment such as prod"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum services to return (default 50)"`
}

type getServiceStatsArgs struct {
	Service  string `json:"service" jsonschema:"required,description=Service name"`
	Env      string `json:"env,omitempty" jsonschema:"description=Environment filter"`
	FromTime string `json:"from_time,omitempty" jsonschema:"description=Start time (default now-1h)"`
	ToTime   string `json:"to_time,omitempty" jsonschema:"description=End time (default now)"`
}

type searchTracesArgs struct {
	Query    string `json:"query" jsonschema:"required,description=Trace search query such as service:api @duration:>1s"`
	FromTime string `json:"from_time,omitempty" jsonschema:"description=Start time (default now-15m)"`
	ToTime   string `json:"to_time,omitempty" jsonschema:"description=End time (default now)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Maximum traces to return (default 50)"`
}

type getTraceDetailsArgs struct {
	TraceID string `json:"trace_id" jsonschema:"required,description=The trace ID"`
}

// Tools returns the metrics-family tool set backed by c.
func Tools(c *Client) []tools.Tool {
	return []tools.Tool{
		tools.NewFunc("datadog_get_monitors", core.FamilyMetrics, true,
			"List Datadog monitors and their alert status. Check what is currently alerting.",
			func(ctx context.Context, a getMonitorsArgs) (string, error) {
				return getMonitors(ctx, c, a)
			}),
		tools.NewFunc("datadog_get_monitor_details", core.FamilyMetrics, true,
			"Get detailed information about a specific monitor including its query and thresholds.",
			func(ctx context.Context, a getMonitorDetailsArgs) (string, error) {
				return getMonitorDetails(ctx, c, a)
			}),
		tools.NewFunc("datadog_query_metrics", core.FamilyMetrics, true,
			"Query timeseries metrics from Datadog. Use for CPU, memory, request rates, and custom metrics.",
			func(ctx context.Context, a queryMetricsArgs) (string, error) {
				return queryMetrics(ctx, c, a)
			}),
		tools.NewFunc("datadog_get_apm_services", core.FamilyMetrics, true,
			"List APM services with request counts. See all instrumented services and traffic levels.",
			func(ctx context.Context, a getAPMServicesArgs) (string, error) {
				return getAPMServices(ctx, c, a)
			}),
		tools.NewFunc("datadog_get_service_stats", core.FamilyMetrics, true,
			"Get APM statistics for a service: latency (avg/p95/p99), throughput, error rate. Use for performance investigation.",
			func(ctx context.Context, a getServiceStatsArgs) (string, error) {
				return getServiceStats(ctx, c, a)
			}),
		tools.NewFunc("datadog_search_traces", core.FamilyMetrics, true,
			"Search APM traces by service, duration, or errors. Find slow requests or investigate endpoints.",
			func(ctx context.Context, a searchTracesArgs) (string, error) {
				return searchTraces(ctx, c, a)
			}),
		tools.NewFunc("datadog_get_trace_details", core.FamilyMetrics, true,
			"Get detailed trace information including all spans. Drill down to identify bottlenecks.",
			func(ctx context.Context, a getTraceDetailsArgs) (string, error) {
				return getTraceDetails(ctx, c, a)
			}),
	}
}

func getMonitors(ctx context.Context, c *Client, a getMonitorsArgs) (string, error) {
	limit := a.Limit
	if limit <= 0 {
		limit = 50
	}
	monitors, err := c.listMonitors(ctx, a.NameFilter, limit)
	if err != nil {
		return "", err
	}

	wanted := map[string]bool{}
	for _, s := range a.StatusFilter {
		wanted[s] = true
	}

	type row struct {
		ID     int64    `json:"id"`
		Name   string   `json:"name"`
		Type   string   `json:"type"`
		Status string   `json:"status"`
		Msg    string   `json:"message,omitempty"`
		Tags   []string `json:"tags,omitempty"`
		Query  string   `json:"query,omitempty"`
	}

	var rows []row
	counts := map[string]int{"Alert": 0, "Warn": 0, "OK": 0, "No Data": 0, "Other": 0}
	for _, m := range monitors {
		status := m.OverallState
		if status == "" {
			status = "Unknown"
		}
		if len(wanted) > 0 && !wanted[status] {
			continue
		}
		if _, known := counts[status]; known {
			counts[status]++
		} else {
			counts["Other"]++
		}
		rows = append(rows, row{
			ID:     m.ID,
			Name:   m.Name,
			Type:   m.Type,
			Status: status,
			Msg:    clip(m.Message, 200),
			Tags:   m.Tags,
			Query:  clip(m.Query, 200),
		})
		if len(rows) >= limit {
			break
		}
	}

	return tools.RenderJSON(map[string]any{
		"monitors":       rows,
		"total_count":    len(rows),
		"status_summary": counts,
	})
}

func getMonitorDetails(ctx context.Context, c *Client, a getMonitorDetailsArgs) (string, error) {
	m, err := c.getMonitor(ctx, a.MonitorID)
	if err != nil {
		return "", err
	}
	out := map[string]any{
		"id":       m.ID,
		"name":     m.Name,
		"type":     m.Type,
		"status":   m.OverallState,
		"query":    m.Query,
		"message":  m.Message,
		"tags":     m.Tags,
		"created":  m.Created,
		"modified": m.Modified,
	}
	if m.Options != nil {
		out["options"] = map[string]any{
			"thresholds":       m.Options.Thresholds,
			"notify_no_data":   m.Options.NotifyNoData,
			"evaluation_delay": m.Options.EvaluationDelay,
		}
	}
	return tools.RenderJSON(out)
}

func queryMetrics(ctx context.Context, c *Client, a queryMetricsArgs) (string, error) {
	from, err := c.parseTime(orDefault(a.FromTime, "now-1h"))
	if err != nil {
		return "", err
	}
	to, err := c.parseTime(orDefault(a.ToTime, "now"))
	if err != nil {
		return "", err
	}

	result, err := c.queryMetrics(ctx, from, to, a.Query)
	if err != nil {
		return "", err
	}

	type samplePoint struct {
		Timestamp float64 `json:"timestamp"`
		Value     float64 `json:"value"`
	}
	type seriesOut struct {
		Metric string        `json:"metric"`
		Scope  string        `json:"scope"`
		Points []samplePoint `json:"points"`
		Unit   string        `json:"unit,omitempty"`
		Avg    *float64      `json:"avg,omitempty"`
	}

	var out []seriesOut
	for _, s := range result {
		// Thin dense series down to ~20 samples.
		step := len(s.Pointlist) / 20
		if step < 1 {
			step = 1
		}
		var points []samplePoint
		var sum float64
		for i, p := range s.Pointlist {
			if i%step != 0 || p[0] == nil || p[1] == nil {
				continue
			}
			points = append(points, samplePoint{Timestamp: *p[0], Value: *p[1]})
			sum += *p[1]
		}
		so := seriesOut{Metric: s.Metric, Scope: s.Scope, Points: points}
		if len(s.Unit) > 0 {
			so.Unit = s.Unit[0].Name
		}
		if len(points) > 0 {
			avg := sum / float64(len(points))
			so.Avg = &avg
		}
		out = append(out, so)
	}

	return tools.RenderJSON(map[string]any{
		"query":  a.Query,
		"from":   orDefault(a.FromTime, "now-1h"),
		"to":     orDefault(a.ToTime, "now"),
		"series": out,
	})
}

func getAPMServices(ctx context.Context, c *Client, a getAPMServicesArgs) (string, error) {
	limit := a.Limit
	if limit <= 0 {
		limit = 50
	}
	to := c.now().Unix()
	from := to - 3600

	envFilter := ""
	if a.Env != "" {
		envFilter = ",env:" + canonicalEnv(a.Env)
	}

	type svc struct {
		Service   string   `json:"service"`
		Requests  int64    `json:"requests_last_hour"`
		SpanTypes []string `json:"span_types"`
	}
	found := map[string]*svc{}

	for _, st := range spanTypes {
		query := fmt.Sprintf("sum:trace.%s.hits{*%s} by {service}.as_count()", st, envFilter)
		result, err := c.queryMetrics(ctx, from, to, query)
		if err != nil {
			// Individual span types with no data are expected.
			continue
		}
		for _, s := range result {
			name := scopeService(s.Scope)
			if name == "" {
				continue
			}
			var total float64
			for _, p := range s.Pointlist {
				if p[1] != nil {
					total += *p[1]
				}
			}
			if total <= 0 {
				continue
			}
			entry := found[name]
			if entry == nil {
				entry = &svc{Service: name}
				found[name] = entry
			}
			entry.Requests += int64(total)
			entry.SpanTypes = append(entry.SpanTypes, st)
		}
	}

	services := make([]svc, 0, len(found))
	for _, s := range found {
		services = append(services, *s)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Requests > services[j].Requests })
	discovered := len(services)
	if len(services) > limit {
		services = services[:limit]
	}

	return tools.RenderJSON(map[string]any{
		"services":         services,
		"count":            len(services),
		"total_discovered": discovered,
		"env_filter":       a.Env,
	})
}

// scopeService pulls the service tag out of a scope like
// "service:api,env:production".
func scopeService(scope string) string {
	for _, part := range strings.Split(scope, ",") {
		if name, ok := strings.CutPrefix(part, "service:"); ok {
			return name
		}
	}
	return ""
}

func getServiceStats(ctx context.Context, c *Client, a getServiceStatsArgs) (string, error) {
	fromStr := orDefault(a.FromTime, "now-1h")
	toStr := orDefault(a.ToTime, "now")
	from, err := c.parseTime(fromStr)
	if err != nil {
		return "", err
	}
	to, err := c.parseTime(toStr)
	if err != nil {
		return "", err
	}

	env := ""
	envFilter := ""
	if a.Env != "" {
		env = canonicalEnv(a.Env)
		envFilter = ",env:" + env
	}

	avgOf := func(query string) (avg, max, latest float64, ok bool) {
		result, qerr := c.queryMetrics(ctx, from, to, query)
		if qerr != nil || len(result) == 0 {
			return 0, 0, 0, false
		}
		var values []float64
		for _, p := range result[0].Pointlist {
			if p[1] != nil {
				values = append(values, *p[1])
			}
		}
		if len(values) == 0 {
			return 0, 0, 0, false
		}
		var sum float64
		max = values[0]
		for _, v := range values {
			sum += v
			if v > max {
				max = v
			}
		}
		return sum / float64(len(values)), max, values[len(values)-1], true
	}

	tags := fmt.Sprintf("{service:%s%s}", a.Service, envFilter)
	var (
		spanType               string
		latAvg, latP95, latP99 *float64
		reqAvg, reqMax, errAvg *float64
	)
	for _, st := range spanTypes {
		req, reqPeak, _, ok := avgOf(fmt.Sprintf("sum:trace.%s.hits%s.as_rate()", st, tags))
		if !ok {
			continue
		}
		spanType = st
		reqAvg, reqMax = &req, &reqPeak

		if v, _, _, ok := avgOf(fmt.Sprintf("avg:trace.%s.duration%s", st, tags)); ok {
			latAvg = &v
		}
		// Percentile series report seconds while the plain duration
		// series reports milliseconds.
		if v, _, _, ok := avgOf(fmt.Sprintf("avg:trace.%s.duration.by.service.95p%s", st, tags)); ok {
			ms := v * 1000
			latP95 = &ms
		}
		if v, _, _, ok := avgOf(fmt.Sprintf("avg:trace.%s.duration.by.service.99p%s", st, tags)); ok {
			ms := v * 1000
			latP99 = &ms
		}
		if v, _, _, ok := avgOf(fmt.Sprintf("sum:trace.%s.errors%s.as_rate()", st, tags)); ok {
			errAvg = &v
		}
		break
	}

	out := map[string]any{
		"service": a.Service,
		"env":     orDefault(env, a.Env),
		"from":    fromStr,
		"to":      toStr,
		"latency": map[string]any{
			"avg_ms": round3(latAvg),
			"p95_ms": round3(latP95),
			"p99_ms": round3(latP99),
		},
		"throughput": map[string]any{
			"requests_per_sec":      reqAvg,
			"peak_requests_per_sec": reqMax,
		},
		"errors": map[string]any{
			"errors_per_sec": errAvg,
		},
		"url": c.AppURL("/apm/service/" + a.Service),
	}
	if reqAvg != nil && errAvg != nil && *reqAvg > 0 {
		out["errors"].(map[string]any)["error_rate_percent"] = (*errAvg / *reqAvg) * 100
	}
	if spanType != "" {
		out["span_type"] = spanType
		out["metric_prefix"] = "trace." + spanType
	} else {
		out["warning"] = fmt.Sprintf("No APM data found for service %q. It may not be instrumented, may use a different name in Datadog, or may have no recent traffic.", a.Service)
	}
	return tools.RenderJSON(out)
}

func round3(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := math.Round(*v*1000) / 1000
	return &r
}

func searchTraces(ctx context.Context, c *Client, a searchTracesArgs) (string, error) {
	limit := a.Limit
	if limit <= 0 {
		limit = 50
	}
	fromStr := orDefault(a.FromTime, "now-15m")
	toStr := orDefault(a.ToTime, "now")

	spans, err := c.searchSpans(ctx, a.Query, fromStr, toStr, limit)
	if err != nil {
		return "", err
	}

	type trace struct {
		SpanID     string   `json:"span_id"`
		TraceID    string   `json:"trace_id,omitempty"`
		Service    string   `json:"service"`
		Resource   string   `json:"resource"`
		Operation  string   `json:"operation,omitempty"`
		DurationMS *float64 `json:"duration_ms,omitempty"`
		Status     string   `json:"status,omitempty"`
		Error      any      `json:"error,omitempty"`
		Timestamp  string   `json:"timestamp,omitempty"`
		Host       string   `json:"host,omitempty"`
	}

	var traces []trace
	seen := map[string]bool{}
	for _, s := range spans {
		traceID := s.attrString("trace_id")
		if traceID != "" {
			if seen[traceID] {
				continue
			}
			seen[traceID] = true
		}
		t := trace{
			SpanID:    s.ID,
			TraceID:   traceID,
			Service:   s.Attributes.Service,
			Resource:  s.Attributes.ResourceName,
			Operation: s.attrString("operation_name"),
			Status:    s.attrString("status"),
			Error:     s.attr("error"),
			Timestamp: s.Attributes.StartTime,
			Host:      s.Attributes.Host,
		}
		if d := s.durationNS(); d > 0 {
			ms := d / 1e6
			t.DurationMS = &ms
		}
		traces = append(traces, t)
	}

	return tools.RenderJSON(map[string]any{
		"query":  a.Query,
		"from":   fromStr,
		"to":     toStr,
		"traces": traces,
		"count":  len(traces),
	})
}

func getTraceDetails(ctx context.Context, c *Client, a getTraceDetailsArgs) (string, error) {
	spans, err := c.searchSpans(ctx, "trace_id:"+a.TraceID, "now-24h", "now", 100)
	if err != nil {
		return "", err
	}

	type spanOut struct {
		SpanID     string   `json:"span_id"`
		ParentID   string   `json:"parent_id,omitempty"`
		Service    string   `json:"service"`
		Resource   string   `json:"resource"`
		Operation  string   `json:"operation,omitempty"`
		DurationMS *float64 `json:"duration_ms,omitempty"`
		Status     string   `json:"status,omitempty"`
		Error      any      `json:"error,omitempty"`
		ErrorMsg   string   `json:"error_message,omitempty"`
		HTTPMethod string   `json:"http_method,omitempty"`
		HTTPURL    string   `json:"http_url,omitempty"`
		HTTPStatus any      `json:"http_status,omitempty"`
	}

	var (
		out         []spanOut
		services    []string
		seenService = map[string]bool{}
		totalNS     float64
		hasError    bool
	)
	for _, s := range spans {
		if svc := s.Attributes.Service; svc != "" && !seenService[svc] {
			seenService[svc] = true
			services = append(services, svc)
		}
		if s.attr("error") != nil {
			hasError = true
		}
		so := spanOut{
			SpanID:     s.ID,
			ParentID:   s.attrString("parent_id"),
			Service:    s.Attributes.Service,
			Resource:   s.Attributes.ResourceName,
			Operation:  s.attrString("operation_name"),
			Status:     s.attrString("status"),
			Error:      s.attr("error"),
			ErrorMsg:   s.attrString("error.message"),
			HTTPMethod: s.attrString("http.method"),
			HTTPURL:    s.attrString("http.url"),
			HTTPStatus: s.attr("http.status_code"),
		}
		if d := s.durationNS(); d > 0 {
			ms := d / 1e6
			so.DurationMS = &ms
			if d > totalNS {
				totalNS = d
			}
		}
		out = append(out, so)
	}

	// Slowest spans first.
	sort.Slice(out, func(i, j int) bool {
		di, dj := 0.0, 0.0
		if out[i].DurationMS != nil {
			di = *out[i].DurationMS
		}
		if out[j].DurationMS != nil {
			dj = *out[j].DurationMS
		}
		return di > dj
	})

	result := map[string]any{
		"trace_id":   a.TraceID,
		"span_count": len(out),
		"services":   services,
		"has_error":  hasError,
		"spans":      out,
		"url":        c.AppURL("/apm/trace/" + a.TraceID),
	}
	if totalNS > 0 {
		result["total_duration_ms"] = totalNS / 1e6
	}
	return tools.RenderJSON(result)
}

// clip truncates on rune boundaries so multibyte text is never split
// mid-sequence.
func clip(s string, max int) string {
	r := []rune(s)
	if len(r) > max {
		return string(r[:max])
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
