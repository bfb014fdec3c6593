package plan

import (
	"fmt"
	"sort"
	"sync"
)

// Responder describes one capability known to the system.
type Responder struct {
	Capability   Capability
	Title        string
	Description  string
	Instructions string
	Tools        []string
}

// Catalog is the set of responder identities a plan may reference. It is safe
// for concurrent use and may be replaced wholesale on reload.
type Catalog struct {
	mu         sync.RWMutex
	responders map[Capability]Responder
	order      []Capability
}

// NewCatalog builds a catalog preserving the given order for listing.
func NewCatalog(responders ...Responder) *Catalog {
	c := &Catalog{}
	c.Replace(responders)
	return c
}

// DefaultCatalog returns the built-in operations responders.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Responder{
			Capability:  ServiceNow,
			Title:       "ServiceNow",
			Description: "ServiceNow operations (change requests, incidents)",
			Instructions: "You are a ServiceNow operations assistant. Use the available tools to look up " +
				"change requests and incidents and answer precisely with ticket numbers.",
			Tools: []string{"list_change_requests", "get_change_request", "list_incidents", "get_incident"},
		},
		Responder{
			Capability:  LogAnalytics,
			Title:       "Log Analytics",
			Description: "Azure Data Factory pipeline monitoring",
			Instructions: "You are an Azure Data Factory monitoring assistant. Use the available tools to " +
				"inspect pipeline runs and failures and report run IDs, times and errors.",
			Tools: []string{"query_pipeline_status", "get_pipeline_run_details", "list_failed_pipelines"},
		},
		Responder{
			Capability:  ServiceHealth,
			Title:       "Service Health",
			Description: "Service health checks (Databricks, Snowflake, Azure)",
			Instructions: "You are a platform health assistant. Use the available tools to check the " +
				"health of Databricks, Snowflake and Azure services and summarize any degradation.",
			Tools: []string{"check_databricks_health", "check_snowflake_health", "check_azure_service_health"},
		},
	)
}

// Replace swaps the catalog contents.
func (c *Catalog) Replace(responders []Responder) {
	m := make(map[Capability]Responder, len(responders))
	order := make([]Capability, 0, len(responders))
	for _, r := range responders {
		if r.Title == "" {
			r.Title = r.Capability.Title()
		}
		if _, dup := m[r.Capability]; !dup {
			order = append(order, r.Capability)
		}
		m[r.Capability] = r
	}
	c.mu.Lock()
	c.responders = m
	c.order = order
	c.mu.Unlock()
}

// Lookup returns the responder for an identity.
func (c *Catalog) Lookup(id Capability) (Responder, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.responders[id]
	return r, ok
}

// Title returns the display title for an identity, falling back to a
// title-cased key for unknown identities.
func (c *Catalog) Title(id Capability) string {
	if r, ok := c.Lookup(id); ok {
		return r.Title
	}
	return id.Title()
}

// Responders lists responders in catalog order.
func (c *Catalog) Responders() []Responder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Responder, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.responders[id])
	}
	return out
}

// Validate checks that every task references a known identity with a
// positive step and a question.
func (c *Catalog) Validate(p Plan) error {
	var unknown []string
	for i, t := range p.Tasks {
		if t.Step < 1 {
			return fmt.Errorf("task %d: step must be >= 1, got %d", i, t.Step)
		}
		if t.Question == "" {
			return fmt.Errorf("task %d: empty question", i)
		}
		if _, ok := c.Lookup(t.Capability); !ok {
			unknown = append(unknown, string(t.Capability))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown responder identities: %v", unknown)
	}
	return nil
}
