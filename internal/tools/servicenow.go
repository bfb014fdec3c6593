package tools

import "context"

type changeRequest struct {
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Status           string `json:"status"`
	Priority         string `json:"priority"`
	AssignedTo       string `json:"assigned_to"`
}

type incident struct {
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Status           string `json:"status"`
	Severity         string `json:"severity"`
	AssignedTo       string `json:"assigned_to"`
}

var changeRequests = []changeRequest{
	{"CHG0012345", "Database migration to Azure", "approved", "high", "John Smith"},
	{"CHG0012346", "Network firewall rule update", "open", "medium", "Jane Doe"},
	{"CHG0012347", "SSL certificate renewal", "closed", "low", "Bob Wilson"},
}

var incidents = []incident{
	{"INC0054321", "Production API returning 500 errors", "in_progress", "critical", "On-Call Team"},
	{"INC0054322", "Slow query performance on reporting DB", "new", "high", "DBA Team"},
	{"INC0054323", "User unable to login to portal", "resolved", "medium", "Support Team"},
}

// ServiceNowTools returns the change request and incident lookups.
func ServiceNowTools() []Tool {
	return []Tool{
		&funcTool{
			name:        "list_change_requests",
			description: "List change requests from ServiceNow.",
			params:      stringParams(nil, [2]string{"status", "Filter by status: 'open', 'approved', 'closed', or 'all'"}),
			handler: func(_ context.Context, args map[string]string) (any, error) {
				status := withDefault(args, "status", "all")
				var out []changeRequest
				for _, c := range changeRequests {
					if status == "all" || c.Status == status {
						out = append(out, c)
					}
				}
				return map[string]any{"change_requests": out, "total_count": len(out), "filter_applied": status}, nil
			},
		},
		&funcTool{
			name:        "get_change_request",
			description: "Get details of a specific change request.",
			params:      stringParams([]string{"ticket_number"}, [2]string{"ticket_number", "The change request ticket number (e.g., CHG0012345)"}),
			handler: func(_ context.Context, args map[string]string) (any, error) {
				return map[string]any{
					"number":            args["ticket_number"],
					"short_description": "Database migration to Azure",
					"description":       "Migrate production database from on-prem SQL Server to Azure SQL Database",
					"status":            "approved",
					"priority":          "high",
					"assigned_to":       "John Smith",
					"created_on":        "2024-01-10T09:00:00Z",
					"planned_start":     "2024-01-20T02:00:00Z",
					"planned_end":       "2024-01-20T06:00:00Z",
					"approval_status":   "approved",
					"risk":              "medium",
				}, nil
			},
		},
		&funcTool{
			name:        "list_incidents",
			description: "List incidents from ServiceNow.",
			params:      stringParams(nil, [2]string{"status", "Filter by status: 'new', 'in_progress', 'resolved', 'closed', or 'all'"}),
			handler: func(_ context.Context, args map[string]string) (any, error) {
				status := withDefault(args, "status", "all")
				var out []incident
				for _, i := range incidents {
					if status == "all" || i.Status == status {
						out = append(out, i)
					}
				}
				return map[string]any{"incidents": out, "total_count": len(out), "filter_applied": status}, nil
			},
		},
		&funcTool{
			name:        "get_incident",
			description: "Get details of a specific incident.",
			params:      stringParams([]string{"ticket_number"}, [2]string{"ticket_number", "The incident ticket number (e.g., INC0054321)"}),
			handler: func(_ context.Context, args map[string]string) (any, error) {
				return map[string]any{
					"number":            args["ticket_number"],
					"short_description": "Production API returning 500 errors",
					"description":       "Multiple users reporting 500 Internal Server Error when accessing /api/v1/orders endpoint",
					"status":            "in_progress",
					"severity":          "critical",
					"impact":            "high",
					"assigned_to":       "On-Call Team",
					"created_on":        "2024-01-15T14:30:00Z",
					"updated_on":        "2024-01-15T15:00:00Z",
					"resolution_notes":  nil,
					"related_changes":   []string{"CHG0012345"},
				}, nil
			},
		},
	}
}
