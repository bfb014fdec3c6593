package tools

import (
	"context"
	"strings"
	"time"
)

// Now is the clock used for checked_at timestamps.
var Now = func() time.Time { return time.Now().UTC() }

// ServiceHealthTools returns the platform health probes.
func ServiceHealthTools() []Tool {
	return []Tool{
		&funcTool{
			name:        "check_databricks_health",
			description: "Check Databricks workspace health status.",
			params:      stringParams(nil, [2]string{"workspace", "Databricks workspace name"}),
			handler: func(_ context.Context, args map[string]string) (any, error) {
				return map[string]any{
					"service":    "databricks",
					"workspace":  withDefault(args, "workspace", "default"),
					"status":     "HEALTHY",
					"checked_at": Now().Format(time.RFC3339),
				}, nil
			},
		},
		&funcTool{
			name:        "check_snowflake_health",
			description: "Check Snowflake warehouse health status.",
			params:      stringParams(nil, [2]string{"warehouse", "Snowflake warehouse name"}),
			handler: func(_ context.Context, args map[string]string) (any, error) {
				return map[string]any{
					"service":    "snowflake",
					"warehouse":  withDefault(args, "warehouse", "default"),
					"status":     "HEALTHY",
					"checked_at": Now().Format(time.RFC3339),
				}, nil
			},
		},
		&funcTool{
			name:        "check_azure_service_health",
			description: "Check Azure service health status.",
			params:      stringParams([]string{"service"}, [2]string{"service", "Azure service name: 'ADF', 'Storage', 'SQL', 'KeyVault'"}),
			handler: func(_ context.Context, args map[string]string) (any, error) {
				service := args["service"]
				out := map[string]any{
					"service":    "azure-" + strings.ToLower(service),
					"status":     "HEALTHY",
					"checked_at": Now().Format(time.RFC3339),
				}
				// ADF is reported degraded.
				if strings.EqualFold(service, "adf") {
					out["status"] = "UNHEALTHY"
					out["reason"] = "Degraded performance in East US region"
				}
				return out, nil
			},
		},
	}
}
