package plan

// Mode selects which shape of output the planner produces.
type Mode string

const (
	ModeUser   Mode = "user"
	ModeReview Mode = "review"
)

// Output is what a planning call yields. It is either a UserPlan or a
// ReviewDecision; the set is closed.
type Output interface {
	Mode() Mode
	isOutput()
}

// UserPlan is the planner's answer to a fresh user query.
type UserPlan struct {
	Plan Plan
}

// ReviewDecision is the planner's answer to a reviewer verdict.
type ReviewDecision struct {
	Decision RetryDecision
}

func (UserPlan) Mode() Mode       { return ModeUser }
func (ReviewDecision) Mode() Mode { return ModeReview }

func (UserPlan) isOutput()       {}
func (ReviewDecision) isOutput() {}
