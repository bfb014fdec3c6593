package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opsagent/orchestrator/internal/capability"
	"github.com/opsagent/orchestrator/internal/metrics"
	"github.com/opsagent/orchestrator/internal/plan"
	"github.com/opsagent/orchestrator/internal/streaming"
	"github.com/opsagent/orchestrator/internal/tracing"
	"github.com/opsagent/orchestrator/internal/workflows/execution"
)

// Options configures an Orchestrator.
type Options struct {
	ReviewEnabled  bool
	MaxConcurrency int
}

// Result is the full outcome of one query.
type Result struct {
	Text     string
	Branch   plan.Branch
	Trace    plan.ExecutionTrace
	Retries  int
	Duration time.Duration
}

// Orchestrator answers one query at a time per session: plan, dispatch,
// execute, review, aggregate.
type Orchestrator struct {
	bus       *streaming.Bus
	port      capability.Port
	catalog   *plan.Catalog
	scheduler *execution.StepScheduler
	review    *ReviewController
	opts      Options
	logger    *zap.Logger
}

// NewOrchestrator builds an orchestrator publishing progress on bus.
func NewOrchestrator(bus *streaming.Bus, port capability.Port, catalog *plan.Catalog, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = streaming.NewBus(logger)
	}
	scheduler := execution.NewStepScheduler(port, execution.Options{MaxConcurrency: opts.MaxConcurrency}, logger)
	return &Orchestrator{
		bus:       bus,
		port:      port,
		catalog:   catalog,
		scheduler: scheduler,
		review:    NewReviewController(port, port, scheduler, logger),
		opts:      opts,
		logger:    logger,
	}
}

// Bus returns the event bus the orchestrator publishes to.
func (o *Orchestrator) Bus() *streaming.Bus { return o.bus }

// Execute answers query and returns the text for the user. It never panics
// and always closes the session's stream.
func (o *Orchestrator) Execute(ctx context.Context, sessionID, query string, history []plan.Turn) string {
	return o.Run(ctx, sessionID, query, history).Text
}

// Run is Execute with the trace and branch attached.
func (o *Orchestrator) Run(ctx context.Context, sessionID, query string, history []plan.Turn) (res Result) {
	start := time.Now()
	notices := o.bus.Emitter(sessionID)

	ctx, span := tracing.StartQuerySpan(ctx, sessionID)
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Query panicked",
				zap.String("session_id", sessionID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			res = Result{Text: fmt.Sprintf("Sorry, something went wrong while answering: %v", r)}
		}
		res.Duration = time.Since(start)
		metrics.RecordQueryMetrics(res.Branch.String(), res.Duration.Seconds())
		span.End()
		o.bus.Close(sessionID)
	}()

	if strings.TrimSpace(query) == "" {
		query = plan.LatestUserQuery(history)
	}
	o.logger.Info("Starting query",
		zap.String("session_id", sessionID),
		zap.String("query", query),
		zap.Int("history", len(history)),
		zap.Bool("stream_attached", o.bus.IsOpen(sessionID)),
	)

	// 1) Plan
	p, err := o.planUser(ctx, notices, query, history)
	if err != nil {
		metrics.PlanningErrors.Inc()
		o.logger.Warn("Planning failed", zap.String("session_id", sessionID), zap.Error(err))
		return Result{Text: RejectionText(o.catalog, unplannableReason), Branch: plan.BranchReject}
	}

	// 2) Dispatch
	branch := Branch(p)
	o.logger.Info("Routing decision",
		zap.String("session_id", sessionID),
		zap.Stringer("branch", branch),
		zap.Int("tasks", len(p.Tasks)),
		zap.String("reason", p.Reason),
	)
	switch branch {
	case plan.BranchReject:
		return Result{Text: RejectionText(o.catalog, p.RejectReason), Branch: branch}
	case plan.BranchClarify:
		return Result{Text: o.clarify(ctx, notices, query, history), Branch: branch}
	}

	// 3) Execute
	trace := o.scheduler.Run(ctx, notices, p, plan.ExecutionTrace{})

	// 4) Review, at most one supplemental run
	retries := 0
	if o.opts.ReviewEnabled {
		out := o.review.Run(ctx, ReviewRequest{Query: query, History: history, Trace: trace, Notices: notices})
		trace, retries = out.Trace, out.Retries
	}

	// 5) Aggregate
	return Result{
		Text:    Aggregate(o.catalog, trace),
		Branch:  branch,
		Trace:   trace,
		Retries: retries,
	}
}

func (o *Orchestrator) planUser(ctx context.Context, notices streaming.Emitter, query string, history []plan.Turn) (plan.Plan, error) {
	notices.Invoked("planner")
	out, err := o.port.Plan(ctx, capability.PlanRequest{Query: query, History: history, Mode: plan.ModeUser})
	notices.Finished("planner")
	if err != nil {
		var pe *capability.PlanningError
		if !errors.As(err, &pe) {
			err = &capability.PlanningError{Mode: plan.ModeUser, Err: err}
		}
		return plan.Plan{}, err
	}

	switch v := out.(type) {
	case plan.UserPlan:
		if v.Plan.Empty() && !v.Plan.Rejected {
			return plan.Plan{}, &capability.PlanningError{Mode: plan.ModeUser, Err: errors.New("plan has no tasks")}
		}
		return v.Plan, nil
	default:
		return plan.Plan{}, &capability.PlanningError{Mode: plan.ModeUser, Err: fmt.Errorf("unexpected planner output %T", out)}
	}
}

func (o *Orchestrator) clarify(ctx context.Context, notices streaming.Emitter, query string, history []plan.Turn) string {
	notices.Invoked("clarifier")
	text, err := o.port.Clarify(ctx, query, history)
	notices.Finished("clarifier")
	if err != nil || strings.TrimSpace(text) == "" {
		o.logger.Warn("Clarifier failed, using fallback", zap.String("session_id", notices.SessionID()), zap.Error(err))
		return clarifyFallback
	}
	return text
}
