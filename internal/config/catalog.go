package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opsagent/orchestrator/internal/plan"
)

type catalogFile struct {
	Responders []struct {
		Name         string   `yaml:"name"`
		Title        string   `yaml:"title"`
		Description  string   `yaml:"description"`
		Instructions string   `yaml:"instructions"`
		Tools        []string `yaml:"tools"`
	} `yaml:"responders"`
}

// ParseCatalog decodes a responder catalog document.
func ParseCatalog(data []byte) ([]plan.Responder, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Responders) == 0 {
		return nil, fmt.Errorf("catalog defines no responders")
	}
	seen := make(map[string]bool, len(f.Responders))
	out := make([]plan.Responder, 0, len(f.Responders))
	for i, r := range f.Responders {
		if r.Name == "" {
			return nil, fmt.Errorf("responder %d: name is required", i)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("responder %q defined twice", r.Name)
		}
		seen[r.Name] = true
		out = append(out, plan.Responder{
			Capability:   plan.Capability(r.Name),
			Title:        r.Title,
			Description:  r.Description,
			Instructions: r.Instructions,
			Tools:        r.Tools,
		})
	}
	return out, nil
}

// LoadCatalog reads the catalog at path. A missing file yields the built-in
// catalog.
func LoadCatalog(path string) (*plan.Catalog, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return plan.DefaultCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	responders, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	return plan.NewCatalog(responders...), nil
}
