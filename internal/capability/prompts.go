package capability

import (
	"fmt"
	"strings"

	"github.com/opsagent/orchestrator/internal/plan"
)

const plannerInstructions = `You are the triage planner for an operations assistant.
Route the user's request to the specialist agents listed below.

Rules:
- Tasks with the same step number run in parallel; later steps see the results of the previous step.
- Only use the agents listed. If the request is outside their scope set should_reject to true and explain in reject_reason.
- If the request is ambiguous but might be in scope, set should_reject and clarify to true.
- Reply with a single JSON object and nothing else.`

const userModeSchema = `{"should_reject": bool, "reject_reason": string, "clarify": bool, "plan": [{"step": int, "agent": string, "question": string}], "plan_reason": string}`

const reviewModeSchema = `{"accept_review": bool, "new_plan": [{"step": int, "agent": string, "question": string}], "rejection_reason": string}`

const reviewerInstructions = `You review whether the collected results fully answer the user's question.
Reply with a single JSON object and nothing else:
{"is_complete": bool, "summary": string, "missing_aspects": [string], "suggested_approach": string, "confidence": number between 0 and 1}`

const clarifierInstructions = `The user's request is ambiguous. Ask politely for clarification and offer 2-4 interpretations
that the available agents could handle. Reply with a single JSON object and nothing else:
{"clarification_request": string, "possible_interpretations": [string]}`

// PlannerPrompt renders the system and user messages for a planning call.
func PlannerPrompt(catalog *plan.Catalog, req PlanRequest) (system, user string) {
	var sb strings.Builder
	sb.WriteString(plannerInstructions)
	sb.WriteString("\n\n## Available agents\n")
	sb.WriteString(describeCatalog(catalog))

	var ub strings.Builder
	switch req.Mode {
	case plan.ModeReview:
		sb.WriteString("\n\n## Output format\n")
		sb.WriteString(reviewModeSchema)

		ub.WriteString("## Mode: REVIEW_MODE\n\n")
		fmt.Fprintf(&ub, "## Original query\n%s\n\n", req.Query)
		if req.Verdict != nil {
			ub.WriteString("## Reviewer feedback\n")
			for _, m := range req.Verdict.MissingAspects {
				fmt.Fprintf(&ub, "- Missing: %s\n", m)
			}
			if req.Verdict.SuggestedApproach != "" {
				fmt.Fprintf(&ub, "Suggested approach: %s\n", req.Verdict.SuggestedApproach)
			}
			ub.WriteString("\n")
		}
		ub.WriteString("## Current results\n")
		ub.WriteString(FormatTrace(req.Trace))
		ub.WriteString("\n\nDecide whether to accept the feedback. If you accept, new_plan holds only the additional tasks.")
	default:
		sb.WriteString("\n\n## Output format\n")
		sb.WriteString(userModeSchema)

		ub.WriteString("## Mode: USER_MODE\n\n")
		if h := FormatHistory(req.History); h != "" {
			ub.WriteString("## Conversation so far\n")
			ub.WriteString(h)
			ub.WriteString("\n\n")
		}
		fmt.Fprintf(&ub, "## Current query\n%s", req.Query)
	}
	return sb.String(), ub.String()
}

// ReviewPrompt renders the messages for a review call.
func ReviewPrompt(query string, trace plan.ExecutionTrace) (system, user string) {
	return reviewerInstructions, fmt.Sprintf("## User query\n%s\n\n## Results\n%s", query, FormatTrace(trace))
}

// ClarifyPrompt renders the messages for a clarification call.
func ClarifyPrompt(catalog *plan.Catalog, query string, history []plan.Turn) (system, user string) {
	system = clarifierInstructions + "\n\n## Available agents\n" + describeCatalog(catalog)
	if h := FormatHistory(history); h != "" {
		return system, fmt.Sprintf("## Conversation so far\n%s\n\n## Ambiguous query\n%s", h, query)
	}
	return system, fmt.Sprintf("## Ambiguous query\n%s", query)
}

// TaskMessage is what a responder receives for one task.
func TaskMessage(taskContext, question string) string {
	if taskContext == "" {
		return question
	}
	return taskContext + "\n\nYour task: " + question
}

// FormatTrace lists every result with its step for planner and reviewer
// prompts.
func FormatTrace(trace plan.ExecutionTrace) string {
	if trace.Len() == 0 {
		return "(no results)"
	}
	var b strings.Builder
	for _, g := range trace.Groups {
		for _, r := range g.Results {
			fmt.Fprintf(&b, "---\nStep %d | Agent: %s\nQuestion: %s\n", g.Step, r.Capability, r.Question)
			if r.Err != nil {
				fmt.Fprintf(&b, "Error: %v\n", r.Err)
			} else {
				fmt.Fprintf(&b, "Response: %s\n", r.Response)
			}
		}
	}
	b.WriteString("---")
	return b.String()
}

// FormatHistory renders prior turns one per line.
func FormatHistory(history []plan.Turn) string {
	lines := make([]string, 0, len(history))
	for _, t := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Text))
	}
	return strings.Join(lines, "\n")
}

func describeCatalog(catalog *plan.Catalog) string {
	var b strings.Builder
	for _, r := range catalog.Responders() {
		fmt.Fprintf(&b, "- %s: %s\n", r.Capability, r.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
