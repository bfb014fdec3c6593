package workflows

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/opsagent/orchestrator/internal/capability"
	"github.com/opsagent/orchestrator/internal/metrics"
	"github.com/opsagent/orchestrator/internal/plan"
	"github.com/opsagent/orchestrator/internal/streaming"
	"github.com/opsagent/orchestrator/internal/workflows/execution"
)

// MaxReviewRetries bounds supplemental runs per query.
const MaxReviewRetries = 1

// ReviewRequest carries one query's state into the review loop.
type ReviewRequest struct {
	Query   string
	History []plan.Turn
	Trace   plan.ExecutionTrace
	Notices streaming.Emitter
}

// ReviewOutcome is the trace to finalize and how many supplemental runs
// produced it.
type ReviewOutcome struct {
	Trace   plan.ExecutionTrace
	Retries int
}

// ReviewController asks the reviewer whether a trace answers the query and,
// at most once, runs the planner's supplemental plan.
type ReviewController struct {
	planner   capability.Planner
	reviewer  capability.Reviewer
	scheduler *execution.StepScheduler
	logger    *zap.Logger
}

// NewReviewController wires the controller to its collaborators.
func NewReviewController(planner capability.Planner, reviewer capability.Reviewer, scheduler *execution.StepScheduler, logger *zap.Logger) *ReviewController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewController{planner: planner, reviewer: reviewer, scheduler: scheduler, logger: logger}
}

// Run drives MaybeRetry until it asks to finalize.
func (c *ReviewController) Run(ctx context.Context, req ReviewRequest) ReviewOutcome {
	out := ReviewOutcome{Trace: req.Trace}
	for {
		supplemental := c.MaybeRetry(ctx, req, out.Trace, out.Retries)
		if supplemental == nil {
			return out
		}
		extra := c.scheduler.Run(ctx, req.Notices, *supplemental, out.Trace)
		out.Trace = out.Trace.Extend(extra)
		out.Retries++
		metrics.ReviewRetries.WithLabelValues("retried").Inc()
	}
}

// MaybeRetry returns a supplemental plan to run, or nil when trace should
// be finalized. Once retryCount reaches MaxReviewRetries the reviewer is not
// consulted again.
func (c *ReviewController) MaybeRetry(ctx context.Context, req ReviewRequest, trace plan.ExecutionTrace, retryCount int) *plan.Plan {
	if retryCount >= MaxReviewRetries {
		return nil
	}

	// 1) Review
	req.Notices.Invoked("reviewer")
	verdict, err := c.reviewer.Review(ctx, req.Query, trace)
	req.Notices.Finished("reviewer")
	if err != nil {
		var re *capability.ReviewError
		if !errors.As(err, &re) {
			err = &capability.ReviewError{Err: err}
		}
		c.logger.Warn("Review failed, finalizing", zap.String("session_id", req.Notices.SessionID()), zap.Error(err))
		metrics.ReviewRetries.WithLabelValues("review_error").Inc()
		return nil
	}
	if verdict.IsComplete {
		metrics.ReviewRetries.WithLabelValues("complete").Inc()
		return nil
	}

	c.logger.Info("Answer judged incomplete",
		zap.String("session_id", req.Notices.SessionID()),
		zap.Strings("missing_aspects", verdict.MissingAspects),
		zap.Float64("confidence", verdict.Confidence),
	)

	// 2) Ask the planner whether it agrees
	req.Notices.Invoked("planner")
	out, err := c.planner.Plan(ctx, capability.PlanRequest{
		Query:   req.Query,
		History: req.History,
		Mode:    plan.ModeReview,
		Verdict: &verdict,
		Trace:   trace,
	})
	req.Notices.Finished("planner")
	if err != nil {
		metrics.PlanningErrors.Inc()
		c.logger.Warn("Review-mode planning failed, keeping original answer", zap.Error(err))
		return nil
	}

	switch o := out.(type) {
	case plan.ReviewDecision:
		d := o.Decision
		if !d.Accept {
			c.logger.Info("Planner rejected review",
				zap.String("session_id", req.Notices.SessionID()),
				zap.String("rejection_reason", d.RejectionReason),
			)
			metrics.ReviewRetries.WithLabelValues("rejected").Inc()
			return nil
		}
		if d.Supplemental == nil || d.Supplemental.Empty() {
			metrics.ReviewRetries.WithLabelValues("empty_plan").Inc()
			return nil
		}
		return d.Supplemental
	case plan.UserPlan:
		metrics.PlanningErrors.Inc()
		c.logger.Warn("Planner answered review with a user-mode plan")
		return nil
	default:
		c.logger.Warn("Unknown planner output", zap.Any("output", out))
		return nil
	}
}
