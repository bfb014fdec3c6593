package capability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsagent/orchestrator/internal/plan"
)

func sampleTrace() plan.ExecutionTrace {
	var tr plan.ExecutionTrace
	tr.Append([]plan.StepResult{{Capability: plan.ServiceNow, Question: "Open incidents?", Response: "INC0054321"}})
	tr.Append([]plan.StepResult{{Capability: plan.LogAnalytics, Question: "Failures?", Err: errors.New("timeout")}})
	return tr
}

func TestFormatTrace(t *testing.T) {
	assert.Equal(t,
		"---\nStep 1 | Agent: servicenow\nQuestion: Open incidents?\nResponse: INC0054321\n"+
			"---\nStep 2 | Agent: log_analytics\nQuestion: Failures?\nError: timeout\n---",
		FormatTrace(sampleTrace()))
	assert.Equal(t, "(no results)", FormatTrace(plan.ExecutionTrace{}))
}

func TestPlannerPromptModes(t *testing.T) {
	catalog := plan.DefaultCatalog()

	system, user := PlannerPrompt(catalog, PlanRequest{
		Query:   "Any incidents?",
		History: []plan.Turn{{Role: "user", Text: "hi"}, {Role: "assistant", Text: "hello"}},
		Mode:    plan.ModeUser,
	})
	assert.Contains(t, system, "- servicenow: ServiceNow operations (change requests, incidents)")
	assert.Contains(t, system, `"should_reject"`)
	assert.Contains(t, user, "## Mode: USER_MODE")
	assert.Contains(t, user, "assistant: hello")
	assert.Contains(t, user, "Any incidents?")

	system, user = PlannerPrompt(catalog, PlanRequest{
		Query:   "Any incidents?",
		Mode:    plan.ModeReview,
		Verdict: &plan.ReviewVerdict{MissingAspects: []string{"pipeline status"}, SuggestedApproach: "ask log_analytics"},
		Trace:   sampleTrace(),
	})
	assert.Contains(t, system, `"accept_review"`)
	assert.Contains(t, user, "## Mode: REVIEW_MODE")
	assert.Contains(t, user, "- Missing: pipeline status")
	assert.Contains(t, user, "Step 1 | Agent: servicenow")
}

func TestTaskMessage(t *testing.T) {
	assert.Equal(t, "Who is on call?", TaskMessage("", "Who is on call?"))
	assert.Equal(t, "ctx\n\nYour task: Who is on call?", TaskMessage("ctx", "Who is on call?"))
}
