package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/opsagent/orchestrator/internal/circuitbreaker"
	"github.com/opsagent/orchestrator/internal/plan"
)

type staticChecker struct {
	name     string
	status   CheckStatus
	critical bool
}

func (s staticChecker) Name() string           { return s.name }
func (s staticChecker) IsCritical() bool       { return s.critical }
func (s staticChecker) Timeout() time.Duration { return time.Second }
func (s staticChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: s.status}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name      string
		checkers  []Checker
		want      CheckStatus
		wantReady bool
	}{
		{"none", nil, StatusHealthy, true},
		{"all healthy", []Checker{staticChecker{"a", StatusHealthy, true}}, StatusHealthy, true},
		{"critical down", []Checker{
			staticChecker{"a", StatusUnhealthy, true},
			staticChecker{"b", StatusHealthy, false},
		}, StatusUnhealthy, false},
		{"non-critical down", []Checker{
			staticChecker{"a", StatusHealthy, true},
			staticChecker{"b", StatusUnhealthy, false},
		}, StatusDegraded, true},
		{"degraded", []Checker{staticChecker{"a", StatusDegraded, true}}, StatusDegraded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(zaptest.NewLogger(t))
			for _, c := range tt.checkers {
				require.NoError(t, m.RegisterChecker(c))
			}
			h := m.GetDetailedHealth(context.Background())
			assert.Equal(t, tt.want, h.Overall.Status)
			assert.Equal(t, tt.wantReady, h.Overall.Ready)
			assert.Len(t, h.Components, len(tt.checkers))
			assert.Len(t, m.GetLastResults(), len(tt.checkers))
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(staticChecker{name: "a"}))
	assert.Error(t, m.RegisterChecker(staticChecker{name: "a"}))
	assert.Equal(t, []string{"a"}, m.Names())
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	wrapper := circuitbreaker.NewRedisWrapper(client, "test", zaptest.NewLogger(t))

	c := NewRedisChecker(wrapper, true)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	mr.Close()
	res := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestBreakerChecker(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig()
	cfg.FailureThreshold = 1
	set := circuitbreaker.NewSet("capability", cfg, zaptest.NewLogger(t))
	c := NewBreakerChecker("capability_service", set)

	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	_ = set.Get("plan").Execute(context.Background(), func() error { return assert.AnError })
	res := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Contains(t, res.Message, "plan")
}

func TestCatalogChecker(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewCatalogChecker(plan.DefaultCatalog()).Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, NewCatalogChecker(plan.NewCatalog()).Check(context.Background()).Status)
}

func TestHTTPHandler(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(staticChecker{"catalog", StatusUnhealthy, true}))

	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusServiceUnavailable},
		{"/health/ready", http.StatusServiceUnavailable},
		{"/health/live", http.StatusOK},
		{"/health/detailed", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	var body struct {
		Components map[string]struct {
			Status string `json:"status"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Components["catalog"].Status)
}
