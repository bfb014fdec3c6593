package workflows

import (
	"fmt"
	"strings"

	"github.com/opsagent/orchestrator/internal/plan"
)

// Branch picks the dispatcher path for a user-mode plan.
func Branch(p plan.Plan) plan.Branch {
	switch {
	case p.Rejected && p.Clarify:
		return plan.BranchClarify
	case p.Rejected:
		return plan.BranchReject
	default:
		return plan.BranchExecute
	}
}

const (
	// unplannableReason replaces the planner's reason when its output was unusable.
	unplannableReason = "I wasn't able to work out how to handle that request."

	// clarifyFallback is returned when the clarifier itself fails.
	clarifyFallback = "Could you tell me a bit more about what you're looking for? For example, which service, pipeline or incident you mean and the time window you care about."

	noResultsText = "No results were returned for this query."
)

// RejectionText renders the out-of-scope reply, listing what the catalog
// can help with.
func RejectionText(catalog *plan.Catalog, reason string) string {
	var b strings.Builder
	b.WriteString("I don't have knowledge about that topic.")
	if r := strings.TrimSpace(reason); r != "" {
		b.WriteString(" ")
		b.WriteString(r)
	}
	b.WriteString("\n\nI can only help with:")
	for _, r := range catalog.Responders() {
		fmt.Fprintf(&b, "\n- %s: %s", r.Title, r.Description)
	}
	return b.String()
}
