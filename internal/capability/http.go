package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/opsagent/orchestrator/internal/circuitbreaker"
	"github.com/opsagent/orchestrator/internal/plan"
	"github.com/opsagent/orchestrator/internal/tracing"
)

// HTTPOptions tunes HTTPPort.
type HTTPOptions struct {
	Timeout      time.Duration
	RateLimitRPM int // per responder; 0 disables limiting
	RateBurst    int
}

// HTTPPort implements Port against a remote capability service exposing
// /v1/plan, /v1/respond, /v1/review and /v1/clarify. Each endpoint and each
// responder has its own circuit breaker.
type HTTPPort struct {
	baseURL string
	client  *circuitbreaker.HTTPWrapper
	catalog *plan.Catalog
	opts    HTTPOptions
	logger  *zap.Logger

	mu       sync.Mutex
	limiters map[plan.Capability]*rate.Limiter
}

// NewHTTPPort creates the adapter for the service at baseURL.
func NewHTTPPort(baseURL string, catalog *plan.Catalog, opts HTTPOptions, logger *zap.Logger) *HTTPPort {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	return &HTTPPort{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: opts.Timeout}, "capability-service", logger),
		catalog:  catalog,
		opts:     opts,
		logger:   logger,
		limiters: make(map[plan.Capability]*rate.Limiter),
	}
}

// Breakers exposes breaker state for health reporting.
func (p *HTTPPort) Breakers() *circuitbreaker.Set { return p.client.Breakers() }

type planPayload struct {
	Query   string              `json:"query"`
	History []plan.Turn         `json:"history,omitempty"`
	Mode    plan.Mode           `json:"mode"`
	Verdict *plan.ReviewVerdict `json:"verdict,omitempty"`
	Results string              `json:"results,omitempty"`
	Agents  []string            `json:"agents"`
}

type respondPayload struct {
	Agent    string `json:"agent"`
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

type respondResult struct {
	Response  string   `json:"response"`
	ToolCalls []string `json:"tool_calls,omitempty"`
}

type reviewPayload struct {
	Query   string `json:"query"`
	Results string `json:"results"`
}

type clarifyPayload struct {
	Query   string      `json:"query"`
	History []plan.Turn `json:"history,omitempty"`
}

// post sends body to path under the breaker named key and returns the raw
// response body.
func (p *HTTPPort) post(ctx context.Context, key, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := p.client.Do(key, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := truncateRunes(strings.TrimSpace(string(data)), errorSnippetRunes)
		return nil, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, snippet)
	}
	return data, nil
}

const errorSnippetRunes = 200

// truncateRunes returns s cut to at most max runes.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func (p *HTTPPort) limiter(c plan.Capability) *rate.Limiter {
	if p.opts.RateLimitRPM <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[c]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(p.opts.RateLimitRPM)/60.0), p.opts.RateBurst)
		p.limiters[c] = l
	}
	return l
}

// Plan implements Planner.
func (p *HTTPPort) Plan(ctx context.Context, req PlanRequest) (plan.Output, error) {
	ctx, span := tracing.StartCapabilitySpan(ctx, "plan", string(req.Mode))
	defer span.End()

	var agents []string
	for _, r := range p.catalog.Responders() {
		agents = append(agents, string(r.Capability))
	}
	body := planPayload{Query: req.Query, History: req.History, Mode: req.Mode, Verdict: req.Verdict, Agents: agents}
	if req.Mode == plan.ModeReview {
		body.Results = FormatTrace(req.Trace)
	}
	raw, err := p.post(ctx, "planner", "/v1/plan", body)
	if err != nil {
		return nil, &PlanningError{Mode: req.Mode, Err: err}
	}
	return DecodePlan(string(raw), req.Mode, p.catalog)
}

// Respond implements Responder. Tool calls reported by the service are
// replayed as notices.
func (p *HTTPPort) Respond(ctx context.Context, req RespondRequest) (string, error) {
	ctx, span := tracing.StartCapabilitySpan(ctx, "respond", string(req.Capability))
	defer span.End()

	fail := func(err error) (string, error) {
		return "", &CapabilityError{Capability: req.Capability, Err: err}
	}
	if _, ok := p.catalog.Lookup(req.Capability); !ok {
		return fail(fmt.Errorf("unknown responder"))
	}
	if l := p.limiter(req.Capability); l != nil {
		if err := l.Wait(ctx); err != nil {
			return fail(fmt.Errorf("rate limit: %w", err))
		}
	}

	raw, err := p.post(ctx, string(req.Capability), "/v1/respond", respondPayload{
		Agent:    string(req.Capability),
		Question: req.Question,
		Context:  req.Context,
	})
	if err != nil {
		return fail(err)
	}
	var out respondResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return fail(fmt.Errorf("decode response: %w", err))
	}
	for _, tool := range out.ToolCalls {
		req.Notices.ToolCall(tool)
		req.Notices.ToolFinished(tool)
	}
	return out.Response, nil
}

// Review implements Reviewer.
func (p *HTTPPort) Review(ctx context.Context, query string, trace plan.ExecutionTrace) (plan.ReviewVerdict, error) {
	ctx, span := tracing.StartCapabilitySpan(ctx, "review", "reviewer")
	defer span.End()

	raw, err := p.post(ctx, "reviewer", "/v1/review", reviewPayload{Query: query, Results: FormatTrace(trace)})
	if err != nil {
		return plan.ReviewVerdict{}, &ReviewError{Err: err}
	}
	return DecodeVerdict(string(raw))
}

// Clarify implements Clarifier.
func (p *HTTPPort) Clarify(ctx context.Context, query string, history []plan.Turn) (string, error) {
	ctx, span := tracing.StartCapabilitySpan(ctx, "clarify", "clarifier")
	defer span.End()

	raw, err := p.post(ctx, "clarifier", "/v1/clarify", clarifyPayload{Query: query, History: history})
	if err != nil {
		return "", err
	}
	return DecodeClarification(string(raw))
}
