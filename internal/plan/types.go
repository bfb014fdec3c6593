package plan

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Capability identifies a responder that can be asked a question.
type Capability string

const (
	ServiceNow    Capability = "servicenow"
	LogAnalytics  Capability = "log_analytics"
	ServiceHealth Capability = "service_health"
)

// Title renders the identity for section headers ("log_analytics" -> "Log Analytics").
func (c Capability) Title() string {
	words := strings.Fields(strings.ReplaceAll(string(c), "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToTitle(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// Task is one question routed to one capability within a step.
type Task struct {
	Capability Capability `json:"agent"`
	Question   string     `json:"question"`
	Step       int        `json:"step"`
}

// Plan is the planner's routing decision for a query.
type Plan struct {
	Tasks        []Task `json:"plan"`
	Rejected     bool   `json:"should_reject"`
	Clarify      bool   `json:"clarify"`
	Reason       string `json:"plan_reason,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`
}

// Group is the set of tasks sharing one step number, in declaration order.
type Group struct {
	Step  int
	Tasks []Task
}

// Groups buckets the plan's tasks by step in ascending order.
func (p Plan) Groups() []Group {
	byStep := make(map[int][]Task)
	for _, t := range p.Tasks {
		byStep[t.Step] = append(byStep[t.Step], t)
	}
	steps := make([]int, 0, len(byStep))
	for s := range byStep {
		steps = append(steps, s)
	}
	sort.Ints(steps)

	groups := make([]Group, 0, len(steps))
	for _, s := range steps {
		groups = append(groups, Group{Step: s, Tasks: byStep[s]})
	}
	return groups
}

// Empty reports whether the plan has nothing to run.
func (p Plan) Empty() bool { return len(p.Tasks) == 0 }

// Branch is the dispatcher's decision for a user-mode plan.
type Branch int

const (
	BranchExecute Branch = iota
	BranchReject
	BranchClarify
)

func (b Branch) String() string {
	switch b {
	case BranchReject:
		return "reject"
	case BranchClarify:
		return "clarify"
	default:
		return "execute"
	}
}

// StepResult is the outcome of one task invocation. Err is set on failure and
// Response is empty in that case.
type StepResult struct {
	Capability Capability
	Question   string
	Response   string
	Err        error
}

// Failed reports whether the invocation errored.
func (r StepResult) Failed() bool { return r.Err != nil }

// StepGroup holds the results of one executed step, in declaration order.
type StepGroup struct {
	Step    int
	Results []StepResult
}

// ExecutionTrace accumulates step groups for one query. Steps are numbered 1..N
// without gaps.
type ExecutionTrace struct {
	Groups []StepGroup
}

// Len returns the number of step groups.
func (t ExecutionTrace) Len() int { return len(t.Groups) }

// Append adds results as the next step group.
func (t *ExecutionTrace) Append(results []StepResult) {
	t.Groups = append(t.Groups, StepGroup{Step: len(t.Groups) + 1, Results: results})
}

// Extend returns a new trace with other's groups renumbered after t's last step.
func (t ExecutionTrace) Extend(other ExecutionTrace) ExecutionTrace {
	out := ExecutionTrace{Groups: make([]StepGroup, 0, len(t.Groups)+len(other.Groups))}
	for _, g := range t.Groups {
		out.Append(g.Results)
	}
	for _, g := range other.Groups {
		out.Append(g.Results)
	}
	return out
}

// Last returns the results of the final step, or nil for an empty trace.
func (t ExecutionTrace) Last() []StepResult {
	if len(t.Groups) == 0 {
		return nil
	}
	return t.Groups[len(t.Groups)-1].Results
}

// Flatten lists every result in step order, then declaration order.
func (t ExecutionTrace) Flatten() []StepResult {
	var out []StepResult
	for _, g := range t.Groups {
		out = append(out, g.Results...)
	}
	return out
}

// ReviewVerdict is the reviewer's judgement on a trace.
type ReviewVerdict struct {
	IsComplete        bool     `json:"is_complete"`
	Summary           string   `json:"summary,omitempty"`
	MissingAspects    []string `json:"missing_aspects,omitempty"`
	SuggestedApproach string   `json:"suggested_approach,omitempty"`
	Confidence        float64  `json:"confidence,omitempty"`
}

// RetryDecision is the planner's answer to an incomplete verdict.
type RetryDecision struct {
	Accept          bool   `json:"accept_review"`
	Supplemental    *Plan  `json:"-"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// Turn is one prior conversation message.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// LatestUserQuery returns the text of the last user turn, or "".
func LatestUserQuery(history []Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return history[i].Text
		}
	}
	return ""
}
