package pagerduty

import (
	"context"
	"fmt"
	"time"

	"github.com/opspilot/opspilot/internal/core"
	"github.com/opspilot/opspilot/internal/tools"
)

type getIncidentsArgs struct {
	Statuses []string `json:"statuses,omitempty" jsonschema:"description=Filter by status: triggered or acknowledged or resolved"`
	Urgency  string   `json:"urgency,omitempty" jsonschema:"description=Filter by urgency: high or low"`
	Limit    int      `json:"limit,omitempty" jsonschema:"description=Maximum incidents to return (default 25)"`
}

type getIncidentDetailsArgs struct {
	IncidentID string `json:"incident_id" jsonschema:"required,description=PagerDuty incident ID"`
}

type getOncallArgs struct {
	ScheduleIDs         []string `json:"schedule_ids,omitempty" jsonschema:"description=Filter by schedule IDs"`
	EscalationPolicyIDs []string `json:"escalation_policy_ids,omitempty" jsonschema:"description=Filter by escalation policy IDs"`
}

type getServicesArgs struct {
	NameFilter string `json:"name_filter,omitempty" jsonschema:"description=Filter services by name"`
	Limit      int    `json:"limit,omitempty" jsonschema:"description=Maximum services to return (default 50)"`
}

type acknowledgeArgs struct {
	IncidentID string `json:"incident_id" jsonschema:"required,description=PagerDuty incident ID to acknowledge"`
}

type resolveArgs struct {
	IncidentID string `json:"incident_id" jsonschema:"required,description=PagerDuty incident ID to resolve"`
	Resolution string `json:"resolution,omitempty" jsonschema:"description=Resolution note"`
}

type recentAlertsArgs struct {
	ServiceID  string `json:"service_id,omitempty" jsonschema:"description=Filter by service ID"`
	SinceHours int    `json:"since_hours,omitempty" jsonschema:"description=Look back this many hours (default 24)"`
	Limit      int    `json:"limit,omitempty" jsonschema:"description=Maximum alerts to return (default 50)"`
}

// Tools returns the incidents-family tool set backed by c.
func Tools(c *Client) []tools.Tool {
	return []tools.Tool{
		tools.NewFunc("pagerduty_get_incidents", core.FamilyIncidents, true,
			"List PagerDuty incidents. Check active incidents, urgency, and assignments.",
			func(ctx context.Context, a getIncidentsArgs) (string, error) {
				return getIncidents(ctx, c, a)
			}),
		tools.NewFunc("pagerduty_get_incident_details", core.FamilyIncidents, true,
			"Get detailed PagerDuty incident info including timeline and notes.",
			func(ctx context.Context, a getIncidentDetailsArgs) (string, error) {
				return getIncidentDetails(ctx, c, a)
			}),
		tools.NewFunc("pagerduty_get_oncall", core.FamilyIncidents, true,
			"Get current on-call users. Find who is responsible for incidents or services.",
			func(ctx context.Context, a getOncallArgs) (string, error) {
				return getOncall(ctx, c, a)
			}),
		tools.NewFunc("pagerduty_get_services", core.FamilyIncidents, true,
			"List PagerDuty services and their status.",
			func(ctx context.Context, a getServicesArgs) (string, error) {
				return getServices(ctx, c, a)
			}),
		tools.NewFunc("pagerduty_acknowledge_incident", core.FamilyIncidents, false,
			"Acknowledge a PagerDuty incident. Use when starting to work on an incident.",
			func(ctx context.Context, a acknowledgeArgs) (string, error) {
				return acknowledgeIncident(ctx, c, a)
			}),
		tools.NewFunc("pagerduty_resolve_incident", core.FamilyIncidents, false,
			"Resolve a PagerDuty incident. Use when an incident is fixed.",
			func(ctx context.Context, a resolveArgs) (string, error) {
				return resolveIncident(ctx, c, a)
			}),
		tools.NewFunc("pagerduty_get_recent_alerts", core.FamilyIncidents, true,
			"Get recent alerts/triggers from PagerDuty. See what alerts have fired recently.",
			func(ctx context.Context, a recentAlertsArgs) (string, error) {
				return recentAlerts(ctx, c, a)
			}),
	}
}

type incidentRow struct {
	ID               string   `json:"id"`
	IncidentNumber   int      `json:"incident_number"`
	Title            string   `json:"title"`
	Status           string   `json:"status"`
	Urgency          string   `json:"urgency"`
	CreatedAt        string   `json:"created_at"`
	Service          any      `json:"service"`
	AssignedTo       []string `json:"assigned_to"`
	EscalationPolicy string   `json:"escalation_policy,omitempty"`
	HTMLURL          string   `json:"html_url,omitempty"`
}

func incidentToRow(in incident) incidentRow {
	var assigned []string
	for _, a := range in.Assignments {
		assigned = append(assigned, a.Assignee.Summary)
	}
	return incidentRow{
		ID:               in.ID,
		IncidentNumber:   in.IncidentNumber,
		Title:            in.Title,
		Status:           in.Status,
		Urgency:          in.Urgency,
		CreatedAt:        in.CreatedAt,
		Service:          map[string]string{"id": in.Service.ID, "name": in.Service.Summary},
		AssignedTo:       assigned,
		EscalationPolicy: in.EscalationPolicy.Summary,
		HTMLURL:          in.HTMLURL,
	}
}

func getIncidents(ctx context.Context, c *Client, a getIncidentsArgs) (string, error) {
	limit := a.Limit
	if limit <= 0 {
		limit = 25
	}
	statuses := a.Statuses
	if len(statuses) == 0 {
		// Active incidents by default.
		statuses = []string{"triggered", "acknowledged"}
	}

	incidents, err := c.listIncidents(ctx, statuses, a.Urgency, nil, limit)
	if err != nil {
		return "", err
	}

	var rows []incidentRow
	counts := map[string]int{"triggered": 0, "acknowledged": 0, "resolved": 0}
	for _, in := range incidents {
		if _, known := counts[in.Status]; known {
			counts[in.Status]++
		}
		rows = append(rows, incidentToRow(in))
		if len(rows) >= limit {
			break
		}
	}

	return tools.RenderJSON(map[string]any{
		"incidents":      rows,
		"total_count":    len(rows),
		"status_summary": counts,
	})
}

func getIncidentDetails(ctx context.Context, c *Client, a getIncidentDetailsArgs) (string, error) {
	in, err := c.getIncident(ctx, a.IncidentID)
	if err != nil {
		return "", err
	}

	// Notes and timeline are best-effort extras.
	type noteOut struct {
		Content   string `json:"content"`
		CreatedAt string `json:"created_at"`
		User      string `json:"user,omitempty"`
	}
	var notes []noteOut
	if ns, err := c.incidentNotes(ctx, a.IncidentID); err == nil {
		for i, n := range ns {
			if i >= 10 {
				break
			}
			notes = append(notes, noteOut{Content: n.Content, CreatedAt: n.CreatedAt, User: n.User.Summary})
		}
	}

	type timelineOut struct {
		Type      string `json:"type"`
		CreatedAt string `json:"created_at"`
		Summary   string `json:"summary"`
		Agent     string `json:"agent,omitempty"`
	}
	var timeline []timelineOut
	if entries, err := c.incidentLogEntries(ctx, a.IncidentID, 20); err == nil {
		for _, e := range entries {
			timeline = append(timeline, timelineOut{Type: e.Type, CreatedAt: e.CreatedAt, Summary: e.Summary, Agent: e.Agent.Summary})
		}
	}

	row := incidentToRow(*in)
	return tools.RenderJSON(map[string]any{
		"id":                row.ID,
		"incident_number":   row.IncidentNumber,
		"title":             row.Title,
		"status":            row.Status,
		"urgency":           row.Urgency,
		"created_at":        row.CreatedAt,
		"resolved_at":       in.ResolvedAt,
		"description":       in.Description,
		"service":           row.Service,
		"assigned_to":       row.AssignedTo,
		"escalation_policy": row.EscalationPolicy,
		"html_url":          row.HTMLURL,
		"notes":             notes,
		"timeline":          timeline,
	})
}

func getOncall(ctx context.Context, c *Client, a getOncallArgs) (string, error) {
	oncalls, err := c.listOncalls(ctx, a.ScheduleIDs, a.EscalationPolicyIDs)
	if err != nil {
		return "", err
	}

	type oncallOut struct {
		User             map[string]string `json:"user"`
		Schedule         map[string]string `json:"schedule,omitempty"`
		EscalationPolicy map[string]string `json:"escalation_policy,omitempty"`
		EscalationLevel  int               `json:"escalation_level"`
		Start            string            `json:"start,omitempty"`
		End              string            `json:"end,omitempty"`
	}

	var rows []oncallOut
	seen := map[string]bool{}
	for _, oc := range oncalls {
		var scheduleID string
		if oc.Schedule != nil {
			scheduleID = oc.Schedule.ID
		}
		key := fmt.Sprintf("%s:%s:%d", oc.User.ID, scheduleID, oc.EscalationLevel)
		if seen[key] {
			continue
		}
		seen[key] = true

		row := oncallOut{
			User: map[string]string{
				"id":    oc.User.ID,
				"name":  oc.User.Summary,
				"email": oc.User.Email,
			},
			EscalationLevel: oc.EscalationLevel,
			Start:           oc.Start,
			End:             oc.End,
		}
		if oc.Schedule != nil {
			row.Schedule = map[string]string{"id": oc.Schedule.ID, "name": oc.Schedule.Summary}
		}
		if oc.EscalationPolicy != nil {
			row.EscalationPolicy = map[string]string{"id": oc.EscalationPolicy.ID, "name": oc.EscalationPolicy.Summary}
		}
		rows = append(rows, row)
	}

	return tools.RenderJSON(map[string]any{
		"oncalls": rows,
		"count":   len(rows),
	})
}

func getServices(ctx context.Context, c *Client, a getServicesArgs) (string, error) {
	limit := a.Limit
	if limit <= 0 {
		limit = 50
	}
	services, err := c.listServices(ctx, a.NameFilter, limit)
	if err != nil {
		return "", err
	}

	type svcOut struct {
		ID               string `json:"id"`
		Name             string `json:"name"`
		Description      string `json:"description,omitempty"`
		Status           string `json:"status"`
		EscalationPolicy string `json:"escalation_policy,omitempty"`
		CreatedAt        string `json:"created_at,omitempty"`
		HTMLURL          string `json:"html_url,omitempty"`
		UrgencyRule      string `json:"incident_urgency_rule,omitempty"`
	}

	var rows []svcOut
	counts := map[string]int{"active": 0, "warning": 0, "critical": 0, "maintenance": 0, "disabled": 0}
	for _, s := range services {
		if _, known := counts[s.Status]; known {
			counts[s.Status]++
		}
		desc := s.Description
		if r := []rune(desc); len(r) > 200 {
			desc = string(r[:200])
		}
		rows = append(rows, svcOut{
			ID:               s.ID,
			Name:             s.Name,
			Description:      desc,
			Status:           s.Status,
			EscalationPolicy: s.EscalationPolicy.Summary,
			CreatedAt:        s.CreatedAt,
			HTMLURL:          s.HTMLURL,
			UrgencyRule:      s.IncidentUrgencyRul.Type,
		})
		if len(rows) >= limit {
			break
		}
	}

	return tools.RenderJSON(map[string]any{
		"services":       rows,
		"total_count":    len(rows),
		"status_summary": counts,
	})
}

func acknowledgeIncident(ctx context.Context, c *Client, a acknowledgeArgs) (string, error) {
	in, err := c.setIncidentStatus(ctx, a.IncidentID, "acknowledged", "")
	if err != nil {
		return "", err
	}
	return tools.RenderJSON(map[string]any{
		"success":     true,
		"incident_id": a.IncidentID,
		"new_status":  in.Status,
		"message":     fmt.Sprintf("Incident %s acknowledged", a.IncidentID),
	})
}

func resolveIncident(ctx context.Context, c *Client, a resolveArgs) (string, error) {
	in, err := c.setIncidentStatus(ctx, a.IncidentID, "resolved", a.Resolution)
	if err != nil {
		return "", err
	}
	return tools.RenderJSON(map[string]any{
		"success":     true,
		"incident_id": a.IncidentID,
		"new_status":  in.Status,
		"message":     fmt.Sprintf("Incident %s resolved", a.IncidentID),
	})
}

func recentAlerts(ctx context.Context, c *Client, a recentAlertsArgs) (string, error) {
	sinceHours := a.SinceHours
	if sinceHours <= 0 {
		sinceHours = 24
	}
	limit := a.Limit
	if limit <= 0 {
		limit = 50
	}
	since := time.Now().UTC().Add(-time.Duration(sinceHours) * time.Hour).Format(time.RFC3339)

	entries, err := c.logEntries(ctx, a.ServiceID, since, limit)
	if err != nil {
		return "", err
	}

	type alertOut struct {
		ID        string         `json:"id"`
		Type      string         `json:"type"`
		CreatedAt string         `json:"created_at"`
		Summary   string         `json:"summary"`
		Service   string         `json:"service,omitempty"`
		Incident  map[string]any `json:"incident,omitempty"`
	}

	var alerts []alertOut
	for _, e := range entries {
		if e.Type != "trigger_log_entry" && e.Type != "alert_log_entry" {
			continue
		}
		row := alertOut{
			ID:        e.ID,
			Type:      e.Type,
			CreatedAt: e.CreatedAt,
			Summary:   e.Summary,
			Service:   e.Service.Summary,
		}
		if e.Incident != nil {
			row.Incident = map[string]any{"id": e.Incident.ID, "summary": e.Incident.Summary}
		}
		alerts = append(alerts, row)
		if len(alerts) >= limit {
			break
		}
	}

	return tools.RenderJSON(map[string]any{
		"alerts":      alerts,
		"count":       len(alerts),
		"since_hours": sinceHours,
	})
}
