package tools

import "context"

// LogAnalyticsTools returns the Data Factory pipeline lookups.
func LogAnalyticsTools() []Tool {
	return []Tool{
		&funcTool{
			name:        "query_pipeline_status",
			description: "Query the execution status of an ADF pipeline.",
			params:      stringParams([]string{"pipeline_name"}, [2]string{"pipeline_name", "Name of the ADF pipeline to query"}),
			handler: func(_ context.Context, args map[string]string) (any, error) {
				return map[string]any{
					"pipeline_name": args["pipeline_name"],
					"last_runs": []map[string]any{
						{
							"run_id":           "abc-123-def",
							"start_time":       "2024-01-15T08:00:00Z",
							"end_time":         "2024-01-15T08:45:00Z",
							"status":           "Succeeded",
							"duration_minutes": 45,
						},
						{
							"run_id":           "abc-124-def",
							"start_time":       "2024-01-14T08:00:00Z",
							"end_time":         "2024-01-14T08:30:00Z",
							"status":           "Failed",
							"duration_minutes": 30,
							"error":            "Timeout connecting to source database",
						},
					},
					"total_runs_returned": 2,
				}, nil
			},
		},
		&funcTool{
			name:        "get_pipeline_run_details",
			description: "Get detailed information about a specific pipeline run.",
			params:      stringParams([]string{"run_id"}, [2]string{"run_id", "The pipeline run ID to get details for"}),
			handler: func(_ context.Context, args map[string]string) (any, error) {
				return map[string]any{
					"run_id":           args["run_id"],
					"pipeline_name":    "daily-etl-pipeline",
					"start_time":       "2024-01-15T08:00:00Z",
					"end_time":         "2024-01-15T08:45:00Z",
					"status":           "Succeeded",
					"duration_minutes": 45,
					"activities": []map[string]any{
						{"name": "CopyFromSource", "status": "Succeeded", "duration_seconds": 1200},
						{"name": "TransformData", "status": "Succeeded", "duration_seconds": 900},
						{"name": "LoadToTarget", "status": "Succeeded", "duration_seconds": 600},
					},
					"trigger_type": "ScheduleTrigger",
					"parameters":   map[string]string{"date": "2024-01-15", "mode": "full"},
				}, nil
			},
		},
		&funcTool{
			name:        "list_failed_pipelines",
			description: "List all failed pipeline runs in the specified time range.",
			params:      stringParams(nil, [2]string{"time_range", "Time range: 'last_hour', 'last_24h', 'last_7d'"}),
			handler: func(_ context.Context, args map[string]string) (any, error) {
				return map[string]any{
					"time_range": withDefault(args, "time_range", "last_24h"),
					"failed_runs": []map[string]string{
						{
							"pipeline_name": "daily-etl-pipeline",
							"run_id":        "abc-124-def",
							"failed_at":     "2024-01-14T08:30:00Z",
							"error":         "Timeout connecting to source database",
						},
						{
							"pipeline_name": "hourly-sync",
							"run_id":        "xyz-789-abc",
							"failed_at":     "2024-01-14T12:15:00Z",
							"error":         "Authentication failed for target storage",
						},
					},
					"total_failed": 2,
				}, nil
			},
		},
	}
}
