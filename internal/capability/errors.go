package capability

import (
	"fmt"

	"github.com/opsagent/orchestrator/internal/plan"
)

// CapabilityError reports a failed responder call.
type CapabilityError struct {
	Capability plan.Capability
	Err        error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s: %v", e.Capability, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// PlanningError reports planner output that could not be turned into a
// Plan or RetryDecision, or a planner call that failed outright.
type PlanningError struct {
	Mode plan.Mode
	Raw  string
	Err  error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning (%s mode): %v", e.Mode, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// ReviewError reports a failed reviewer call or unreadable verdict.
type ReviewError struct {
	Raw string
	Err error
}

func (e *ReviewError) Error() string {
	return fmt.Sprintf("review: %v", e.Err)
}

func (e *ReviewError) Unwrap() error { return e.Err }
