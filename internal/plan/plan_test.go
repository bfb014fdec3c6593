package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupsOrdersStepsAndKeepsDeclarationOrder(t *testing.T) {
	p := Plan{Tasks: []Task{
		{Capability: ServiceHealth, Question: "c", Step: 3},
		{Capability: ServiceNow, Question: "a", Step: 1},
		{Capability: LogAnalytics, Question: "b", Step: 1},
	}}

	groups := p.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, 1, groups[0].Step)
	assert.Equal(t, []Capability{ServiceNow, LogAnalytics}, []Capability{groups[0].Tasks[0].Capability, groups[0].Tasks[1].Capability})
	assert.Equal(t, 3, groups[1].Step)
	assert.Empty(t, Plan{}.Groups())
}

func TestTraceExtendRenumbers(t *testing.T) {
	var a ExecutionTrace
	a.Append([]StepResult{{Capability: ServiceNow, Response: "x"}})
	a.Append([]StepResult{{Capability: LogAnalytics, Response: "y"}})

	var b ExecutionTrace
	b.Append([]StepResult{{Capability: ServiceHealth, Response: "z"}})

	merged := a.Extend(b)
	require.Equal(t, 3, merged.Len())
	for i, g := range merged.Groups {
		assert.Equal(t, i+1, g.Step)
	}
	assert.Equal(t, ServiceHealth, merged.Last()[0].Capability)
	assert.Equal(t, 2, a.Len(), "receiver must not be mutated")

	flat := merged.Flatten()
	require.Len(t, flat, 3)
	assert.Equal(t, "x", flat[0].Response)
	assert.Equal(t, "z", flat[2].Response)
}

func TestCapabilityTitle(t *testing.T) {
	assert.Equal(t, "Log Analytics", LogAnalytics.Title())
	assert.Equal(t, "Servicenow", ServiceNow.Title())
	assert.Equal(t, "Élan Vital", Capability("élan_vital").Title())
	assert.Equal(t, "Ärzte Dienst", Capability("ärzte__dienst").Title())
}

func TestCatalogValidate(t *testing.T) {
	c := DefaultCatalog()

	require.NoError(t, c.Validate(Plan{Tasks: []Task{{Capability: ServiceNow, Question: "q", Step: 1}}}))

	err := c.Validate(Plan{Tasks: []Task{{Capability: "billing", Question: "q", Step: 1}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing")

	assert.Error(t, c.Validate(Plan{Tasks: []Task{{Capability: ServiceNow, Question: "q", Step: 0}}}))
	assert.Error(t, c.Validate(Plan{Tasks: []Task{{Capability: ServiceNow, Step: 1}}}))
}

func TestCatalogReplace(t *testing.T) {
	c := DefaultCatalog()
	c.Replace([]Responder{{Capability: "billing", Description: "Billing"}})

	_, ok := c.Lookup(ServiceNow)
	assert.False(t, ok)
	assert.Equal(t, "Billing", c.Title("billing"))
	assert.Len(t, c.Responders(), 1)
}

func TestLatestUserQuery(t *testing.T) {
	h := []Turn{{Role: "user", Text: "first"}, {Role: "assistant", Text: "ok"}, {Role: "user", Text: "second"}, {Role: "assistant", Text: "done"}}
	assert.Equal(t, "second", LatestUserQuery(h))
	assert.Equal(t, "", LatestUserQuery(nil))
}

func TestStepResultFailed(t *testing.T) {
	assert.True(t, StepResult{Err: errors.New("boom")}.Failed())
	assert.False(t, StepResult{Response: "ok"}.Failed())
}

func TestOutputVariants(t *testing.T) {
	outs := []Output{UserPlan{}, ReviewDecision{}}
	assert.Equal(t, ModeUser, outs[0].Mode())
	assert.Equal(t, ModeReview, outs[1].Mode())
}
