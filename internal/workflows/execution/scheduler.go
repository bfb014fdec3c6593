package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opsagent/orchestrator/internal/capability"
	"github.com/opsagent/orchestrator/internal/metrics"
	"github.com/opsagent/orchestrator/internal/plan"
	"github.com/opsagent/orchestrator/internal/streaming"
	"github.com/opsagent/orchestrator/internal/tracing"
)

// Options controls step execution
type Options struct {
	// MaxConcurrency caps tasks in flight within one step; 0 starts every
	// task of the step at once.
	MaxConcurrency int
}

// StepScheduler runs a plan's steps in ascending order and the tasks of
// each step concurrently, waiting for the whole step before the next.
type StepScheduler struct {
	responder capability.Responder
	opts      Options
	logger    *zap.Logger
}

// NewStepScheduler creates a scheduler that asks responder for every task.
func NewStepScheduler(responder capability.Responder, opts Options, logger *zap.Logger) *StepScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StepScheduler{responder: responder, opts: opts, logger: logger}
}

// Run executes p and returns its trace, numbered from 1. The first step
// receives the last step of prior as context. Task failures are recorded in
// the trace and never stop the run.
func (s *StepScheduler) Run(ctx context.Context, notices streaming.Emitter, p plan.Plan, prior plan.ExecutionTrace) plan.ExecutionTrace {
	var trace plan.ExecutionTrace
	previous := prior.Last()

	groups := p.Groups()
	for _, g := range groups {
		stepCtx, span := tracing.StartStepSpan(ctx, trace.Len()+1, len(g.Tasks))
		s.logger.Debug("Starting step",
			zap.String("session_id", notices.SessionID()),
			zap.Int("declared_step", g.Step),
			zap.Int("tasks", len(g.Tasks)),
		)

		results := s.runGroup(stepCtx, notices, g.Tasks, BuildContext(previous))
		span.End()

		trace.Append(results)
		previous = results
	}
	metrics.StepsExecuted.Observe(float64(len(groups)))
	return trace
}

func (s *StepScheduler) runGroup(ctx context.Context, notices streaming.Emitter, tasks []plan.Task, taskContext string) []plan.StepResult {
	results := make([]plan.StepResult, len(tasks))

	var g errgroup.Group
	if s.opts.MaxConcurrency > 0 {
		g.SetLimit(s.opts.MaxConcurrency)
	}
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			results[i] = s.runTask(ctx, notices, task, taskContext)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *StepScheduler) runTask(ctx context.Context, notices streaming.Emitter, task plan.Task, taskContext string) (res plan.StepResult) {
	res = plan.StepResult{Capability: task.Capability, Question: task.Question}
	source := string(task.Capability)

	notices.Invoked(source)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Response = ""
			res.Err = &capability.CapabilityError{Capability: task.Capability, Err: fmt.Errorf("panic: %v", r)}
			s.logger.Error("Responder panicked", zap.String("capability", source), zap.Any("panic", r))
		}
		notices.Finished(source)
		metrics.RecordTaskMetrics(source, res.Err != nil, time.Since(start).Seconds())
	}()

	resp, err := s.responder.Respond(ctx, capability.RespondRequest{
		Capability: task.Capability,
		Question:   task.Question,
		Context:    taskContext,
		Notices:    notices,
	})
	if err != nil {
		var ce *capability.CapabilityError
		if !errors.As(err, &ce) {
			err = &capability.CapabilityError{Capability: task.Capability, Err: err}
		}
		s.logger.Warn("Task failed",
			zap.String("session_id", notices.SessionID()),
			zap.String("capability", source),
			zap.Error(err),
		)
		res.Err = err
		return res
	}
	res.Response = resp
	return res
}

// BuildContext serializes one step's results for the tasks of the next
// step. It returns "" when there is nothing to pass on.
func BuildContext(results []plan.StepResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous step results:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "---\nAgent: %s\nQuestion: %s\n", r.Capability, r.Question)
		if r.Err != nil {
			fmt.Fprintf(&b, "Error: %v\n", r.Err)
		} else {
			fmt.Fprintf(&b, "Response: %s\n", r.Response)
		}
	}
	b.WriteString("---")
	return b.String()
}
