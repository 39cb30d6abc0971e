// Package tools implements the fixed set of clinical data tools the
// agent can call. Every tool takes JSON-object arguments validated
// against its declared schema and returns a JSON-encodable map.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is one callable capability.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON Schema for the tool's arguments object.
	Schema() string
	Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// Registry holds the fixed tool set. Tools are registered at
// construction; there is no dynamic loading.
type Registry struct {
	logger  *log.Logger
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	order   []string
}

// NewRegistry compiles each tool's argument schema and indexes the set.
func NewRegistry(logger *log.Logger, toolset ...Tool) (*Registry, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	r := &Registry{
		logger:  logger,
		tools:   make(map[string]Tool, len(toolset)),
		schemas: make(map[string]*jsonschema.Schema, len(toolset)),
	}
	for _, t := range toolset {
		name := t.Name()
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		compiler := jsonschema.NewCompiler()
		resource := name + ".json"
		if err := compiler.AddResource(resource, strings.NewReader(t.Schema())); err != nil {
			return nil, fmt.Errorf("add schema resource for %s: %w", name, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", name, err)
		}
		r.tools[name] = t
		r.schemas[name] = schema
		r.order = append(r.order, name)
	}
	sort.Strings(r.order)
	return r, nil
}

// Names lists registered tool names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Catalog renders a textual tool catalog for LLM prompts: one block per
// tool with its description and argument schema.
func (r *Registry) Catalog() string {
	var b strings.Builder
	for _, name := range r.order {
		t := r.tools[name]
		fmt.Fprintf(&b, "- %s: %s\n  arguments schema: %s\n", name, t.Description(), compactJSON(t.Schema()))
	}
	return b.String()
}

// Execute validates args against the tool's schema and runs it. Tool
// failures come back as an error; the caller decides how to surface
// them to the model.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q (available: %s)", name, strings.Join(r.order, ", "))
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := r.validate(name, args); err != nil {
		return nil, fmt.Errorf("arguments for %s: %w", name, err)
	}

	start := time.Now()
	result, err := t.Execute(ctx, args)
	if err != nil {
		r.logger.Printf("tool %s failed after %v: %v", name, time.Since(start), err)
		return nil, err
	}
	r.logger.Printf("tool %s completed in %v", name, time.Since(start))
	return result, nil
}

func (r *Registry) validate(name string, args map[string]interface{}) error {
	schema, ok := r.schemas[name]
	if !ok {
		return nil
	}
	// Round-trip through JSON so numeric types normalize the way the
	// validator expects.
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

func compactJSON(s string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}
