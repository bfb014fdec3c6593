package workflows

import (
	"fmt"
	"strings"

	"github.com/opsagent/orchestrator/internal/plan"
)

const sectionSeparator = "\n\n---\n\n"

// Aggregate merges a trace into the final answer. Results are taken in step
// order and then declaration order. Empty successful results are dropped and
// failures keep a visible marker. A lone successful result is returned as-is.
func Aggregate(catalog *plan.Catalog, trace plan.ExecutionTrace) string {
	type section struct {
		title  string
		body   string
		failed bool
	}

	var sections []section
	for _, r := range trace.Flatten() {
		title := catalog.Title(r.Capability)
		switch {
		case r.Failed():
			sections = append(sections, section{
				title:  title,
				body:   fmt.Sprintf("> %s failed: %v", title, r.Err),
				failed: true,
			})
		case strings.TrimSpace(r.Response) == "":
			continue
		default:
			sections = append(sections, section{title: title, body: r.Response})
		}
	}

	switch {
	case len(sections) == 0:
		return noResultsText
	case len(sections) == 1 && !sections[0].failed:
		return sections[0].body
	}

	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = "## " + s.title + "\n\n" + s.body
	}
	return strings.Join(parts, sectionSeparator)
}
