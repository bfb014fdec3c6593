package capability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap/zaptest"

	"github.com/opsagent/orchestrator/internal/plan"
	"github.com/opsagent/orchestrator/internal/streaming"
	"github.com/opsagent/orchestrator/internal/tools"
)

// scriptedModel replays canned responses and records what it was sent.
type scriptedModel struct {
	mu      sync.Mutex
	replies []*llms.ContentResponse
	calls   [][]llms.MessageContent
	err     error
}

func text(s string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}
}

func toolCall(id, name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{ID: id, Type: "function", FunctionCall: &llms.FunctionCall{Name: name, Arguments: args}}},
	}}}
}

func (m *scriptedModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msgs)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	r, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, opts...)
	if err != nil {
		return "", err
	}
	return r.Choices[0].Content, nil
}

func collect(t *testing.T, c *streaming.Consumer) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var out []string
	for {
		n, ok := c.Next(ctx)
		if !ok {
			return out
		}
		out = append(out, n.Message)
	}
}

func TestLLMPortRespondRunsTools(t *testing.T) {
	model := &scriptedModel{replies: []*llms.ContentResponse{
		toolCall("c1", "check_azure_service_health", `{"service":"ADF"}`),
		text("ADF is degraded in East US."),
	}}
	port := NewLLMPort(model, plan.DefaultCatalog(), tools.Default(), 0, zaptest.NewLogger(t))

	bus := streaming.NewBus(nil)
	consumer := bus.Open("s1")

	out, err := port.Respond(context.Background(), RespondRequest{
		Capability: plan.ServiceHealth,
		Question:   "Is ADF healthy?",
		Context:    "Previous step results:",
		Notices:    bus.Emitter("s1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ADF is degraded in East US.", out)
	bus.Close("s1")

	assert.Equal(t, []string{"Calling check_azure_service_health...", "check_azure_service_health finished"}, collect(t, consumer))

	require.Len(t, model.calls, 2)
	first := model.calls[0]
	require.Len(t, first, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, first[0].Role)
	assert.Equal(t, llms.TextContent{Text: "Previous step results:\n\nYour task: Is ADF healthy?"}, first[1].Parts[0])

	// Second round carries the assistant tool call and the tool result.
	second := model.calls[1]
	require.Len(t, second, 4)
	assert.Equal(t, llms.ChatMessageTypeTool, second[3].Role)
	resp, ok := second[3].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Contains(t, resp.Content, "UNHEALTHY")
}

func TestLLMPortRespondErrors(t *testing.T) {
	catalog := plan.DefaultCatalog()

	port := NewLLMPort(&scriptedModel{err: errors.New("429")}, catalog, tools.Default(), 0, nil)
	_, err := port.Respond(context.Background(), RespondRequest{Capability: plan.ServiceNow, Question: "q"})
	var ce *CapabilityError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, plan.ServiceNow, ce.Capability)

	_, err = port.Respond(context.Background(), RespondRequest{Capability: "billing", Question: "q"})
	assert.True(t, errors.As(err, &ce))

	looping := &scriptedModel{replies: []*llms.ContentResponse{
		toolCall("1", "list_incidents", `{}`),
		toolCall("2", "list_incidents", `{}`),
	}}
	port = NewLLMPort(looping, catalog, tools.Default(), 2, nil)
	_, err = port.Respond(context.Background(), RespondRequest{Capability: plan.ServiceNow, Question: "q"})
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "2 tool rounds")
}

func TestLLMPortPlanAndReview(t *testing.T) {
	model := &scriptedModel{replies: []*llms.ContentResponse{
		text("```json\n{\"plan\":[{\"step\":1,\"agent\":\"servicenow\",\"question\":\"List incidents\"}]}\n```"),
		text(`{"is_complete": true, "summary": "done", "confidence": 0.9}`),
		text(`not json`),
	}}
	port := NewLLMPort(model, plan.DefaultCatalog(), nil, 0, nil)
	ctx := context.Background()

	out, err := port.Plan(ctx, PlanRequest{Query: "incidents?", Mode: plan.ModeUser})
	require.NoError(t, err)
	assert.Len(t, out.(plan.UserPlan).Plan.Tasks, 1)

	v, err := port.Review(ctx, "incidents?", plan.ExecutionTrace{})
	require.NoError(t, err)
	assert.True(t, v.IsComplete)

	_, err = port.Clarify(ctx, "it", nil)
	assert.Error(t, err)
}
