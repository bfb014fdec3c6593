package health

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/opsagent/orchestrator/internal/circuitbreaker"
	"github.com/opsagent/orchestrator/internal/plan"
)

// RedisChecker checks Redis connectivity through its breaker.
type RedisChecker struct {
	wrapper  *circuitbreaker.RedisWrapper
	critical bool
	timeout  time.Duration
}

// NewRedisChecker creates a Redis health checker
func NewRedisChecker(wrapper *circuitbreaker.RedisWrapper, critical bool) *RedisChecker {
	return &RedisChecker{wrapper: wrapper, critical: critical, timeout: 5 * time.Second}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return r.critical }
func (r *RedisChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	if r.wrapper.IsOpen() {
		return CheckResult{Status: StatusUnhealthy, Error: "circuit breaker open", Message: "Redis circuit breaker is open"}
	}

	start := time.Now()
	err := r.wrapper.Ping(ctx)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Redis ping failed",
			Details: map[string]any{"latency_ms": latency.Milliseconds()},
		}
	}

	result := CheckResult{Status: StatusHealthy, Message: "Redis healthy"}
	if latency > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
	}
	result.Details = map[string]any{"latency_ms": latency.Milliseconds()}
	return result
}

// BreakerChecker reports degraded while any breaker of a set is open.
type BreakerChecker struct {
	name string
	set  *circuitbreaker.Set
}

// NewBreakerChecker watches the breakers guarding a downstream service.
func NewBreakerChecker(name string, set *circuitbreaker.Set) *BreakerChecker {
	return &BreakerChecker{name: name, set: set}
}

func (b *BreakerChecker) Name() string           { return b.name }
func (b *BreakerChecker) IsCritical() bool       { return false }
func (b *BreakerChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerChecker) Check(context.Context) CheckResult {
	states := b.set.States()
	details := make(map[string]any, len(states))
	var open []string
	for key, s := range states {
		details[key] = s.String()
		if s == circuitbreaker.StateOpen {
			open = append(open, key)
		}
	}
	if len(open) == 0 {
		return CheckResult{Status: StatusHealthy, Message: "No open circuit breakers", Details: details}
	}
	sort.Strings(open)
	return CheckResult{
		Status:  StatusDegraded,
		Message: "Circuit breakers open: " + strings.Join(open, ", "),
		Details: details,
	}
}

// CatalogChecker fails when no responders are configured.
type CatalogChecker struct {
	catalog *plan.Catalog
}

// NewCatalogChecker creates a checker for the responder catalog.
func NewCatalogChecker(catalog *plan.Catalog) *CatalogChecker {
	return &CatalogChecker{catalog: catalog}
}

func (c *CatalogChecker) Name() string           { return "catalog" }
func (c *CatalogChecker) IsCritical() bool       { return true }
func (c *CatalogChecker) Timeout() time.Duration { return time.Second }

func (c *CatalogChecker) Check(context.Context) CheckResult {
	responders := c.catalog.Responders()
	if len(responders) == 0 {
		return CheckResult{Status: StatusUnhealthy, Message: "No responders configured"}
	}
	names := make([]string, 0, len(responders))
	for _, r := range responders {
		names = append(names, string(r.Capability))
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "Catalog loaded",
		Details: map[string]any{"responders": names},
	}
}
