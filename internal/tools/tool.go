package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Tool is a function a responder may call while answering.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema for the tool's inputs
	Execute(ctx context.Context, input string) (string, error)
}

// Registry maps tool names to tools.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Select returns the named tools in the given order, skipping unknown names.
func (r *Registry) Select(names []string) []Tool {
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Names lists registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Default returns a registry with every operations tool registered.
func Default() *Registry {
	r := NewRegistry()
	for _, t := range ServiceNowTools() {
		r.Register(t)
	}
	for _, t := range LogAnalyticsTools() {
		r.Register(t)
	}
	for _, t := range ServiceHealthTools() {
		r.Register(t)
	}
	return r
}

// funcTool adapts a typed handler to Tool.
type funcTool struct {
	name        string
	description string
	params      map[string]any
	handler     func(ctx context.Context, args map[string]string) (any, error)
}

func (f *funcTool) Name() string               { return f.name }
func (f *funcTool) Description() string        { return f.description }
func (f *funcTool) Parameters() map[string]any { return f.params }

func (f *funcTool) Execute(ctx context.Context, input string) (string, error) {
	args := map[string]string{}
	if input != "" {
		var raw map[string]any
		if err := json.Unmarshal([]byte(input), &raw); err != nil {
			return "", fmt.Errorf("%s: invalid arguments: %w", f.name, err)
		}
		for k, v := range raw {
			args[k] = fmt.Sprint(v)
		}
	}
	for _, req := range required(f.params) {
		if args[req] == "" {
			return "", fmt.Errorf("%s: missing required argument %q", f.name, req)
		}
	}
	out, err := f.handler(ctx, args)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func required(schema map[string]any) []string {
	r, _ := schema["required"].([]string)
	return r
}

// stringParams builds an object schema of string properties.
func stringParams(required []string, props ...[2]string) map[string]any {
	p := make(map[string]any, len(props))
	for _, kv := range props {
		p[kv[0]] = map[string]any{"type": "string", "description": kv[1]}
	}
	schema := map[string]any{"type": "object", "properties": p}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func withDefault(args map[string]string, key, def string) string {
	if v := args[key]; v != "" {
		return v
	}
	return def
}
