package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/opsagent/orchestrator/internal/metrics"
	"github.com/opsagent/orchestrator/internal/plan"
	"github.com/opsagent/orchestrator/internal/tools"
	"github.com/opsagent/orchestrator/internal/tracing"
)

// DefaultMaxToolRounds bounds the tool-calling loop of one responder call.
const DefaultMaxToolRounds = 8

// LLMPort implements Port on top of a langchaingo chat model. Responders get
// their catalog instructions as the system message and may call the tools
// the catalog assigns them.
type LLMPort struct {
	model         llms.Model
	catalog       *plan.Catalog
	registry      *tools.Registry
	maxToolRounds int
	logger        *zap.Logger
}

// NewLLMPort builds the adapter. maxToolRounds <= 0 selects the default.
func NewLLMPort(model llms.Model, catalog *plan.Catalog, registry *tools.Registry, maxToolRounds int, logger *zap.Logger) *LLMPort {
	if maxToolRounds <= 0 {
		maxToolRounds = DefaultMaxToolRounds
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMPort{
		model:         model,
		catalog:       catalog,
		registry:      registry,
		maxToolRounds: maxToolRounds,
		logger:        logger,
	}
}

func (p *LLMPort) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := p.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}, llms.WithTemperature(0))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// Plan implements Planner.
func (p *LLMPort) Plan(ctx context.Context, req PlanRequest) (plan.Output, error) {
	ctx, span := tracing.StartCapabilitySpan(ctx, "plan", string(req.Mode))
	defer span.End()

	system, user := PlannerPrompt(p.catalog, req)
	raw, err := p.complete(ctx, system, user)
	if err != nil {
		return nil, &PlanningError{Mode: req.Mode, Err: err}
	}
	return DecodePlan(raw, req.Mode, p.catalog)
}

// Review implements Reviewer.
func (p *LLMPort) Review(ctx context.Context, query string, trace plan.ExecutionTrace) (plan.ReviewVerdict, error) {
	ctx, span := tracing.StartCapabilitySpan(ctx, "review", "reviewer")
	defer span.End()

	system, user := ReviewPrompt(query, trace)
	raw, err := p.complete(ctx, system, user)
	if err != nil {
		return plan.ReviewVerdict{}, &ReviewError{Err: err}
	}
	return DecodeVerdict(raw)
}

// Clarify implements Clarifier.
func (p *LLMPort) Clarify(ctx context.Context, query string, history []plan.Turn) (string, error) {
	ctx, span := tracing.StartCapabilitySpan(ctx, "clarify", "clarifier")
	defer span.End()

	system, user := ClarifyPrompt(p.catalog, query, history)
	raw, err := p.complete(ctx, system, user)
	if err != nil {
		return "", err
	}
	return DecodeClarification(raw)
}

// Respond implements Responder with a bounded tool-calling loop.
func (p *LLMPort) Respond(ctx context.Context, req RespondRequest) (string, error) {
	ctx, span := tracing.StartCapabilitySpan(ctx, "respond", string(req.Capability))
	defer span.End()

	fail := func(err error) (string, error) {
		return "", &CapabilityError{Capability: req.Capability, Err: err}
	}

	responder, ok := p.catalog.Lookup(req.Capability)
	if !ok {
		return fail(errors.New("unknown responder"))
	}

	available := p.registry.Select(responder.Tools)
	var opts []llms.CallOption
	if len(available) > 0 {
		defs := make([]llms.Tool, 0, len(available))
		for _, t := range available {
			defs = append(defs, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        t.Name(),
					Description: t.Description(),
					Parameters:  t.Parameters(),
				},
			})
		}
		opts = append(opts, llms.WithTools(defs))
	}

	var messages []llms.MessageContent
	if responder.Instructions != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, responder.Instructions))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, TaskMessage(req.Context, req.Question)))

	for round := 0; round < p.maxToolRounds; round++ {
		resp, err := p.model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return fail(err)
		}
		if len(resp.Choices) == 0 {
			return fail(errors.New("model returned no choices"))
		}
		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 {
			return choice.Content, nil
		}

		var assistant []llms.ContentPart
		if choice.Content != "" {
			assistant = append(assistant, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			assistant = append(assistant, tc)
		}
		messages = append(messages, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: assistant})

		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			result := p.runTool(ctx, req, tc.FunctionCall.Name, tc.FunctionCall.Arguments)
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       tc.FunctionCall.Name,
						Content:    result,
					},
				},
			})
		}
	}
	return fail(fmt.Errorf("no answer after %d tool rounds", p.maxToolRounds))
}

// runTool executes one tool call. Tool failures are reported back to the
// model as text rather than failing the task.
func (p *LLMPort) runTool(ctx context.Context, req RespondRequest, name, args string) string {
	tool := p.registry.Get(name)
	if tool == nil {
		metrics.ToolCalls.WithLabelValues(name, "unknown").Inc()
		return fmt.Sprintf("Error: tool %s not found", name)
	}

	req.Notices.ToolCall(name)
	start := time.Now()
	out, err := tool.Execute(ctx, args)
	req.Notices.ToolFinished(name)

	status := "success"
	if err != nil {
		status = "error"
		out = fmt.Sprintf("Error: %v", err)
	}
	metrics.ToolCalls.WithLabelValues(name, status).Inc()
	p.logger.Debug("Tool executed",
		zap.String("capability", string(req.Capability)),
		zap.String("tool", name),
		zap.String("status", status),
		zap.Duration("duration", time.Since(start)),
	)
	return out
}
