package capability

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opsagent/orchestrator/internal/plan"
)

type planStep struct {
	Step     int    `json:"step"`
	Agent    string `json:"agent"`
	Question string `json:"question"`
}

type userModeOutput struct {
	ShouldReject bool       `json:"should_reject"`
	RejectReason string     `json:"reject_reason"`
	Clarify      bool       `json:"clarify"`
	Plan         []planStep `json:"plan"`
	PlanReason   string     `json:"plan_reason"`
}

type reviewModeOutput struct {
	AcceptReview    *bool      `json:"accept_review"`
	NewPlan         []planStep `json:"new_plan"`
	RejectionReason string     `json:"rejection_reason"`
}

type reviewOutput struct {
	IsComplete        *bool    `json:"is_complete"`
	Summary           string   `json:"summary"`
	MissingAspects    []string `json:"missing_aspects"`
	SuggestedApproach string   `json:"suggested_approach"`
	Confidence        float64  `json:"confidence"`
}

type clarifyOutput struct {
	ClarificationRequest    string   `json:"clarification_request"`
	PossibleInterpretations []string `json:"possible_interpretations"`
}

// ExtractJSON returns the outermost JSON object in raw model output,
// tolerating Markdown code fences and surrounding prose.
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", errors.New("no JSON object in output")
	}
	return s[start : end+1], nil
}

func unmarshalObject(raw string, v any) error {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(obj), v)
}

func toTasks(steps []planStep) []plan.Task {
	tasks := make([]plan.Task, 0, len(steps))
	for _, s := range steps {
		tasks = append(tasks, plan.Task{
			Capability: plan.Capability(strings.TrimSpace(s.Agent)),
			Question:   strings.TrimSpace(s.Question),
			Step:       s.Step,
		})
	}
	return tasks
}

// DecodePlan turns planner output for mode into a plan.Output. Failures are
// returned as *PlanningError.
func DecodePlan(raw string, mode plan.Mode, catalog *plan.Catalog) (plan.Output, error) {
	fail := func(err error) (plan.Output, error) {
		return nil, &PlanningError{Mode: mode, Raw: raw, Err: err}
	}

	switch mode {
	case plan.ModeUser:
		var out userModeOutput
		if err := unmarshalObject(raw, &out); err != nil {
			return fail(err)
		}
		p := plan.Plan{
			Tasks:        toTasks(out.Plan),
			Rejected:     out.ShouldReject,
			Clarify:      out.Clarify,
			Reason:       out.PlanReason,
			RejectReason: out.RejectReason,
		}
		if !p.Rejected {
			if err := catalog.Validate(p); err != nil {
				return fail(err)
			}
		}
		return plan.UserPlan{Plan: p}, nil

	case plan.ModeReview:
		var out reviewModeOutput
		if err := unmarshalObject(raw, &out); err != nil {
			return fail(err)
		}
		if out.AcceptReview == nil {
			return fail(errors.New("accept_review is required"))
		}
		d := plan.RetryDecision{Accept: *out.AcceptReview, RejectionReason: out.RejectionReason}
		if d.Accept && len(out.NewPlan) > 0 {
			p := plan.Plan{Tasks: toTasks(out.NewPlan)}
			if err := catalog.Validate(p); err != nil {
				return fail(err)
			}
			d.Supplemental = &p
		}
		return plan.ReviewDecision{Decision: d}, nil

	default:
		return fail(fmt.Errorf("unknown mode %q", mode))
	}
}

// DecodeVerdict parses reviewer output. Failures are *ReviewError.
func DecodeVerdict(raw string) (plan.ReviewVerdict, error) {
	var out reviewOutput
	if err := unmarshalObject(raw, &out); err != nil {
		return plan.ReviewVerdict{}, &ReviewError{Raw: raw, Err: err}
	}
	if out.IsComplete == nil {
		return plan.ReviewVerdict{}, &ReviewError{Raw: raw, Err: errors.New("is_complete is required")}
	}
	conf := out.Confidence
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}
	return plan.ReviewVerdict{
		IsComplete:        *out.IsComplete,
		Summary:           out.Summary,
		MissingAspects:    out.MissingAspects,
		SuggestedApproach: out.SuggestedApproach,
		Confidence:        conf,
	}, nil
}

// DecodeClarification parses clarifier output into user-facing text.
func DecodeClarification(raw string) (string, error) {
	var out clarifyOutput
	if err := unmarshalObject(raw, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ClarificationRequest) == "" {
		return "", errors.New("empty clarification_request")
	}
	return FormatClarification(out.ClarificationRequest, out.PossibleInterpretations), nil
}

// FormatClarification renders a request followed by its interpretations.
func FormatClarification(request string, interpretations []string) string {
	if len(interpretations) == 0 {
		return request
	}
	var b strings.Builder
	b.WriteString(request)
	b.WriteString("\n\nPossible interpretations:")
	for _, i := range interpretations {
		b.WriteString("\n  - ")
		b.WriteString(i)
	}
	return b.String()
}
