package workflows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/opsagent/orchestrator/internal/capability"
	"github.com/opsagent/orchestrator/internal/plan"
	"github.com/opsagent/orchestrator/internal/streaming"
)

// stubPort scripts every capability call and counts invocations.
type stubPort struct {
	mu sync.Mutex

	planFn    func(req capability.PlanRequest) (plan.Output, error)
	reviewFn  func(trace plan.ExecutionTrace) (plan.ReviewVerdict, error)
	clarifyFn func() (string, error)
	answers   map[plan.Capability]string
	failures  map[plan.Capability]error
	delays    map[plan.Capability]time.Duration

	planCalls   []capability.PlanRequest
	respondLog  []capability.RespondRequest
	reviewCalls int
	spans       map[plan.Capability][2]time.Time
}

func (s *stubPort) Plan(_ context.Context, req capability.PlanRequest) (plan.Output, error) {
	s.mu.Lock()
	s.planCalls = append(s.planCalls, req)
	s.mu.Unlock()
	return s.planFn(req)
}

func (s *stubPort) Respond(_ context.Context, req capability.RespondRequest) (string, error) {
	started := time.Now()
	s.mu.Lock()
	s.respondLog = append(s.respondLog, req)
	s.mu.Unlock()

	if d := s.delays[req.Capability]; d > 0 {
		time.Sleep(d)
	}

	s.mu.Lock()
	if s.spans == nil {
		s.spans = make(map[plan.Capability][2]time.Time)
	}
	s.spans[req.Capability] = [2]time.Time{started, time.Now()}
	s.mu.Unlock()

	if err := s.failures[req.Capability]; err != nil {
		return "", err
	}
	if a, ok := s.answers[req.Capability]; ok {
		return a, nil
	}
	return "answer for " + req.Question, nil
}

func (s *stubPort) Review(_ context.Context, _ string, trace plan.ExecutionTrace) (plan.ReviewVerdict, error) {
	s.mu.Lock()
	s.reviewCalls++
	s.mu.Unlock()
	if s.reviewFn == nil {
		return plan.ReviewVerdict{IsComplete: true}, nil
	}
	return s.reviewFn(trace)
}

func (s *stubPort) Clarify(context.Context, string, []plan.Turn) (string, error) {
	if s.clarifyFn == nil {
		return "Which service do you mean?", nil
	}
	return s.clarifyFn()
}

func userPlan(tasks ...plan.Task) func(capability.PlanRequest) (plan.Output, error) {
	return func(capability.PlanRequest) (plan.Output, error) {
		return plan.UserPlan{Plan: plan.Plan{Tasks: tasks}}, nil
	}
}

func drain(c *streaming.Consumer) []streaming.Notice {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var out []streaming.Notice
	for {
		n, ok := c.Next(ctx)
		if !ok {
			return out
		}
		out = append(out, n)
	}
}

func newTestOrchestrator(t *testing.T, port *stubPort, review bool) *Orchestrator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return NewOrchestrator(streaming.NewBus(logger), port, plan.DefaultCatalog(), Options{ReviewEnabled: review}, logger)
}

func TestExecuteSingleTaskReturnsRawResponse(t *testing.T) {
	port := &stubPort{
		planFn:  userPlan(plan.Task{Capability: plan.ServiceHealth, Question: "Is ADF healthy?", Step: 1}),
		answers: map[plan.Capability]string{plan.ServiceHealth: "ADF is UNHEALTHY in East US."},
	}
	o := newTestOrchestrator(t, port, true)

	got := o.Execute(context.Background(), "s1", "Is ADF healthy?", nil)

	assert.Equal(t, "ADF is UNHEALTHY in East US.", got)
	assert.Equal(t, 1, port.reviewCalls)
}

func TestExecuteParallelSectionsInDeclaredOrder(t *testing.T) {
	port := &stubPort{
		planFn: userPlan(
			plan.Task{Capability: plan.ServiceNow, Question: "open incidents?", Step: 1},
			plan.Task{Capability: plan.LogAnalytics, Question: "failed pipelines?", Step: 1},
		),
		answers: map[plan.Capability]string{
			plan.ServiceNow:   "INC0010001",
			plan.LogAnalytics: "pl_ingest failed",
		},
		delays: map[plan.Capability]time.Duration{
			plan.ServiceNow:   60 * time.Millisecond,
			plan.LogAnalytics: 20 * time.Millisecond,
		},
	}
	o := newTestOrchestrator(t, port, false)

	got := o.Execute(context.Background(), "s1", "what's broken?", nil)

	assert.Equal(t, "## ServiceNow\n\nINC0010001\n\n---\n\n## Log Analytics\n\npl_ingest failed", got)

	sn, la := port.spans[plan.ServiceNow], port.spans[plan.LogAnalytics]
	assert.True(t, sn[0].Before(la[1]) && la[0].Before(sn[1]), "invocations should overlap")
}

func TestExecuteThreadsContextBetweenSteps(t *testing.T) {
	port := &stubPort{
		planFn: userPlan(
			plan.Task{Capability: plan.ServiceNow, Question: "Which incidents mention ADF?", Step: 1},
			plan.Task{Capability: plan.LogAnalytics, Question: "Check those pipelines", Step: 2},
		),
		answers: map[plan.Capability]string{plan.ServiceNow: "INC0010002: ADF copy activity timeouts"},
	}
	o := newTestOrchestrator(t, port, false)

	res := o.Run(context.Background(), "s1", "incidents and logs", nil)

	require.Len(t, port.respondLog, 2)
	ctxText := port.respondLog[1].Context
	assert.Contains(t, ctxText, "Which incidents mention ADF?")
	assert.Contains(t, ctxText, "INC0010002: ADF copy activity timeouts")
	assert.Equal(t, 2, res.Trace.Len())
}

func TestExecuteRejectSkipsScheduler(t *testing.T) {
	port := &stubPort{planFn: func(capability.PlanRequest) (plan.Output, error) {
		return plan.UserPlan{Plan: plan.Plan{Rejected: true, RejectReason: "Recipes are out of scope."}}, nil
	}}
	o := newTestOrchestrator(t, port, true)
	consumer := o.Bus().Open("s1")

	got := o.Execute(context.Background(), "s1", "how do I bake bread?", nil)

	assert.True(t, strings.HasPrefix(got, "I don't have knowledge about that topic. Recipes are out of scope."))
	assert.Contains(t, got, "- ServiceNow:")
	assert.Empty(t, port.respondLog)
	assert.Zero(t, port.reviewCalls)

	for _, n := range drain(consumer) {
		assert.Equal(t, "planner", n.Source, "unexpected notice %q", n.Message)
	}
}

func TestExecuteClarify(t *testing.T) {
	port := &stubPort{planFn: func(capability.PlanRequest) (plan.Output, error) {
		return plan.UserPlan{Plan: plan.Plan{Rejected: true, Clarify: true}}, nil
	}}
	o := newTestOrchestrator(t, port, true)

	res := o.Run(context.Background(), "s1", "is it down?", nil)
	assert.Equal(t, plan.BranchClarify, res.Branch)
	assert.Equal(t, "Which service do you mean?", res.Text)
	assert.Empty(t, port.respondLog)

	port.clarifyFn = func() (string, error) { return "", errors.New("timeout") }
	res = o.Run(context.Background(), "s1", "is it down?", nil)
	assert.Equal(t, clarifyFallback, res.Text)
}

func TestExecuteRetriesOnceAfterIncompleteReview(t *testing.T) {
	port := &stubPort{
		reviewFn: func(plan.ExecutionTrace) (plan.ReviewVerdict, error) {
			return plan.ReviewVerdict{IsComplete: false, MissingAspects: []string{"logs"}}, nil
		},
	}
	port.planFn = func(req capability.PlanRequest) (plan.Output, error) {
		if req.Mode == plan.ModeReview {
			return plan.ReviewDecision{Decision: plan.RetryDecision{
				Accept: true,
				Supplemental: &plan.Plan{Tasks: []plan.Task{
					{Capability: plan.LogAnalytics, Question: "pipeline failures?", Step: 1},
				}},
			}}, nil
		}
		return plan.UserPlan{Plan: plan.Plan{Tasks: []plan.Task{
			{Capability: plan.ServiceHealth, Question: "ADF health?", Step: 1},
		}}}, nil
	}
	o := newTestOrchestrator(t, port, true)

	res := o.Run(context.Background(), "s1", "why is ADF slow?", nil)

	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, 1, port.reviewCalls)
	require.Len(t, port.respondLog, 2)
	assert.Contains(t, port.respondLog[1].Context, "ADF health?")
	require.Equal(t, 2, res.Trace.Len())
	assert.Equal(t, 2, res.Trace.Groups[1].Step)
	assert.Contains(t, res.Text, "## Service Health")
	assert.Contains(t, res.Text, "## Log Analytics")

	require.Len(t, port.planCalls, 2)
	review := port.planCalls[1]
	assert.Equal(t, plan.ModeReview, review.Mode)
	require.NotNil(t, review.Verdict)
	assert.Equal(t, []string{"logs"}, review.Verdict.MissingAspects)
}

func TestExecuteRejectedReviewKeepsOriginalTrace(t *testing.T) {
	port := &stubPort{
		reviewFn: func(plan.ExecutionTrace) (plan.ReviewVerdict, error) {
			return plan.ReviewVerdict{IsComplete: false}, nil
		},
		answers: map[plan.Capability]string{plan.ServiceHealth: "ADF degraded"},
	}
	port.planFn = func(req capability.PlanRequest) (plan.Output, error) {
		if req.Mode == plan.ModeReview {
			return plan.ReviewDecision{Decision: plan.RetryDecision{
				Accept:          false,
				RejectionReason: "the answer already covers it",
			}}, nil
		}
		return plan.UserPlan{Plan: plan.Plan{Tasks: []plan.Task{
			{Capability: plan.ServiceHealth, Question: "ADF health?", Step: 1},
		}}}, nil
	}
	o := newTestOrchestrator(t, port, true)

	res := o.Run(context.Background(), "s1", "ADF?", nil)

	assert.Zero(t, res.Retries)
	assert.Equal(t, "ADF degraded", res.Text)
	assert.NotContains(t, res.Text, "already covers")
	assert.Len(t, port.respondLog, 1)
}

func TestExecuteReviewErrorFinalizes(t *testing.T) {
	port := &stubPort{
		planFn:  userPlan(plan.Task{Capability: plan.ServiceNow, Question: "q", Step: 1}),
		answers: map[plan.Capability]string{plan.ServiceNow: "done"},
		reviewFn: func(plan.ExecutionTrace) (plan.ReviewVerdict, error) {
			return plan.ReviewVerdict{}, errors.New("reviewer unavailable")
		},
	}
	o := newTestOrchestrator(t, port, true)

	res := o.Run(context.Background(), "s1", "q", nil)
	assert.Equal(t, "done", res.Text)
	assert.Zero(t, res.Retries)
	assert.Len(t, port.planCalls, 1)
}

func TestExecutePlanningErrorReturnsRejection(t *testing.T) {
	port := &stubPort{planFn: func(capability.PlanRequest) (plan.Output, error) {
		return nil, &capability.PlanningError{Mode: plan.ModeUser, Raw: "not json", Err: errors.New("no JSON object")}
	}}
	o := newTestOrchestrator(t, port, true)

	res := o.Run(context.Background(), "s1", "q", nil)
	assert.Equal(t, plan.BranchReject, res.Branch)
	assert.Equal(t, RejectionText(plan.DefaultCatalog(), unplannableReason), res.Text)
	assert.Empty(t, port.respondLog)
}

func TestExecuteRecoversPanicAndClosesSession(t *testing.T) {
	port := &stubPort{planFn: func(capability.PlanRequest) (plan.Output, error) {
		panic("planner exploded")
	}}
	o := newTestOrchestrator(t, port, true)
	consumer := o.Bus().Open("s1")

	var got string
	require.NotPanics(t, func() {
		got = o.Execute(context.Background(), "s1", "q", nil)
	})
	assert.Contains(t, got, "planner exploded")
	assert.False(t, o.Bus().IsOpen("s1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		if _, ok := consumer.Next(ctx); !ok {
			break
		}
	}
	assert.NoError(t, ctx.Err(), "stream should end when the query returns")
}

func TestExecuteNoticeOrder(t *testing.T) {
	port := &stubPort{planFn: userPlan(plan.Task{Capability: plan.ServiceHealth, Question: "q", Step: 1})}
	o := newTestOrchestrator(t, port, true)
	consumer := o.Bus().Open("s1")

	o.Execute(context.Background(), "s1", "q", nil)

	var msgs []string
	var seqs []uint64
	for _, n := range drain(consumer) {
		msgs = append(msgs, n.Message)
		seqs = append(seqs, n.Seq)
	}
	assert.Equal(t, []string{
		"planner invoked", "planner finished",
		"service_health invoked", "service_health finished",
		"reviewer invoked", "reviewer finished",
	}, msgs)
	for i := 1; i < len(seqs); i++ {
		assert.Less(t, seqs[i-1], seqs[i])
	}
}

func TestExecuteUsesHistoryWhenQueryEmpty(t *testing.T) {
	port := &stubPort{planFn: userPlan(plan.Task{Capability: plan.ServiceNow, Question: "q", Step: 1})}
	o := newTestOrchestrator(t, port, false)

	o.Execute(context.Background(), "s1", "", []plan.Turn{
		{Role: "user", Text: "list incidents"},
		{Role: "assistant", Text: "here you go"},
	})
	require.Len(t, port.planCalls, 1)
	assert.Equal(t, "list incidents", port.planCalls[0].Query)
}

func TestExecuteLogsWhetherAStreamIsAttached(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	port := &stubPort{
		planFn:  userPlan(plan.Task{Capability: plan.ServiceHealth, Question: "q", Step: 1}),
		answers: map[plan.Capability]string{plan.ServiceHealth: "ok"},
	}
	o := NewOrchestrator(streaming.NewBus(logger), port, plan.DefaultCatalog(), Options{}, logger)

	o.Bus().Open("watched")
	o.Execute(context.Background(), "watched", "q", nil)
	o.Execute(context.Background(), "unwatched", "q", nil)

	starts := logs.FilterMessage("Starting query").All()
	require.Len(t, starts, 2)
	assert.Equal(t, true, starts[0].ContextMap()["stream_attached"])
	assert.Equal(t, false, starts[1].ContextMap()["stream_attached"])
}
