package core

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Planner decomposes a query into an ordered task list with exactly one
// model call. Planning failures never surface to the caller: the fallback
// is a single task wrapping the original query.
type Planner struct {
	gateway *Gateway
	logger  *log.Logger
}

// NewPlanner creates a planner bound to the given gateway.
func NewPlanner(gateway *Gateway, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	return &Planner{gateway: gateway, logger: logger}
}

const planPrompt = `You are planning how to answer a clinical data question using the tools below.

QUESTION:
%s

AVAILABLE TOOLS (for context only):
%s

Break the question into the smallest ordered list of concrete data-gathering tasks.
If the question needs no tool-driven work at all, return an empty task list.
Respond ONLY as strict JSON:
{"tasks": [{"id": 1, "description": "...", "done": false}]}`

// Plan returns the task list for a query. An empty (non-nil) result means
// the model decided the query needs no tool-driven tasks.
func (p *Planner) Plan(ctx context.Context, query string, toolCatalog string) []Task {
	prompt := fmt.Sprintf(planPrompt, query, toolCatalog)

	doc, err := p.gateway.AskStructured(ctx, StagePlanning, prompt, map[string]interface{}{"temperature": 0.2})
	if err != nil {
		p.logger.Printf("planning failed, falling back to single task: %v", err)
		return []Task{{ID: 1, Description: query}}
	}

	tasks, ok := parseTasks(doc)
	if !ok {
		p.logger.Printf("plan did not match schema, falling back to single task")
		return []Task{{ID: 1, Description: query}}
	}

	p.logger.Printf("planned %d task(s)", len(tasks))
	for _, t := range tasks {
		p.logger.Printf("  task %d: %s", t.ID, t.Description)
	}
	return tasks
}

const replanPrompt = `A clinical data question was partially worked, but the collected data is not yet sufficient.

QUESTION:
%s

TASKS ALREADY COMPLETED:
%s

AVAILABLE TOOLS (for context only):
%s

Plan the additional data-gathering tasks still needed. Do not repeat completed tasks.
If nothing further would help, return an empty task list.
Respond ONLY as strict JSON:
{"tasks": [{"id": 1, "description": "...", "done": false}]}`

// Replan asks for additional tasks after the goal check found the data
// insufficient. Unlike Plan there is no single-task fallback: a failed
// replan returns no tasks and the run proceeds to synthesis.
func (p *Planner) Replan(ctx context.Context, query string, doneTasks []Task, toolCatalog string) []Task {
	var completed strings.Builder
	for _, t := range doneTasks {
		fmt.Fprintf(&completed, "- %s\n", t.Description)
	}

	doc, err := p.gateway.AskStructured(ctx, StagePlanning, fmt.Sprintf(replanPrompt, query, completed.String(), toolCatalog), map[string]interface{}{"temperature": 0.2})
	if err != nil {
		p.logger.Printf("replanning failed, keeping existing plan: %v", err)
		return nil
	}
	tasks, ok := parseTasks(doc)
	if !ok {
		p.logger.Printf("replan did not match schema, keeping existing plan")
		return nil
	}
	p.logger.Printf("replanned %d additional task(s)", len(tasks))
	return tasks
}

// parseTasks reads {"tasks": [...]} out of a structured response. A
// present-but-empty list is a valid empty plan; a missing or malformed
// list is a schema violation.
func parseTasks(doc map[string]interface{}) ([]Task, bool) {
	raw, ok := doc["tasks"].([]interface{})
	if !ok {
		return nil, false
	}

	tasks := make([]Task, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			return nil, false
		}
		desc, _ := m["description"].(string)
		if desc == "" {
			return nil, false
		}
		id := i + 1
		if f, ok := m["id"].(float64); ok && int(f) > 0 {
			id = int(f)
		}
		done, _ := m["done"].(bool)
		tasks = append(tasks, Task{ID: id, Description: desc, Done: done})
	}
	return tasks, true
}
