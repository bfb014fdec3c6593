// Package capability defines how the orchestrator talks to the language
// model backed planner, responders, reviewer and clarifier, and provides the
// adapters that implement those calls.
package capability

import (
	"context"

	"github.com/opsagent/orchestrator/internal/plan"
	"github.com/opsagent/orchestrator/internal/streaming"
)

// PlanRequest asks the planner for a user-mode Plan or, with Mode set to
// review, for a RetryDecision against Verdict and Trace.
type PlanRequest struct {
	Query   string
	History []plan.Turn
	Mode    plan.Mode
	Verdict *plan.ReviewVerdict
	Trace   plan.ExecutionTrace
}

// RespondRequest asks one responder a question. Context carries the
// previous step's results and may be empty. Tool calls made while answering
// are announced on Notices.
type RespondRequest struct {
	Capability plan.Capability
	Question   string
	Context    string
	Notices    streaming.Emitter
}

// Planner turns a query into a routing plan, or into a retry decision when
// asked in review mode. Failures are returned as *PlanningError.
type Planner interface {
	// Plan returns a plan.UserPlan or plan.ReviewDecision matching req.Mode.
	Plan(ctx context.Context, req PlanRequest) (plan.Output, error)
}

// Responder answers one question as the requested capability. Failures,
// including unknown capabilities, are returned as *CapabilityError.
type Responder interface {
	// Respond returns the responder's answer text.
	Respond(ctx context.Context, req RespondRequest) (string, error)
}

// Reviewer judges whether the collected trace answers the query.
// Failures are returned as *ReviewError.
type Reviewer interface {
	// Review returns the verdict on trace as an answer to query.
	Review(ctx context.Context, query string, trace plan.ExecutionTrace) (plan.ReviewVerdict, error)
}

// Clarifier phrases a follow-up question for an ambiguous query and returns
// it ready for display.
type Clarifier interface {
	// Clarify returns the clarification text shown to the user.
	Clarify(ctx context.Context, query string, history []plan.Turn) (string, error)
}

// Port bundles every capability the orchestrator needs.
type Port interface {
	Planner
	Responder
	Reviewer
	Clarifier
}
